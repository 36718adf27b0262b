package serve

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	// Time allowed to write message to the client
	writeWait  = 10 * time.Second
	pingPeriod = 10 * time.Second

	DefaultUpdatePeriod = time.Second
)

// StatsUpdater pushes stats snapshots to websocket clients every Period.
type StatsUpdater struct {
	Stats  StatsFunc
	Period time.Duration

	upgrader websocket.Upgrader
}

func NewStatsUpdater(stats StatsFunc) *StatsUpdater {
	return &StatsUpdater{
		Stats:  stats,
		Period: DefaultUpdatePeriod,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func (m *StatsUpdater) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if _, ok := err.(websocket.HandshakeError); !ok {
			log.WithField("addr", r.RemoteAddr).Errorf("Websocket handshake failed for stats stream: %v", err)
		}
		return
	}
	go m.serve(ws)
}

func (m *StatsUpdater) serve(ws *websocket.Conn) {
	clog := log.WithField("addr", ws.RemoteAddr())
	clog.Info("connected to stats update socket")
	defer func() {
		ws.Close()
		clog.Info("disconnected from stats update socket")
	}()
	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()
	updateTicker := time.NewTicker(m.Period)
	defer updateTicker.Stop()

	// Even though we don't care about incoming messages, we need to read from
	// the socket in order to process control messages.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	send := func() error {
		ws.SetWriteDeadline(time.Now().Add(writeWait))
		return ws.WriteJSON(BuildResponse(m.Stats))
	}
	if err := send(); err != nil {
		return
	}

	for {
		select {
		case <-closed:
			return
		case <-updateTicker.C:
			if err := send(); err != nil {
				return
			}
		case <-pingTicker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		}
	}
}
