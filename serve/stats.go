package serve

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"framegrab/acquire"
	"framegrab/queue"
)

// StatsFunc reports the current state of every acquisition session.
type StatsFunc func() []acquire.Stats

type SessionEntry struct {
	Name    string
	Running bool

	Delivered uint64
	Dropped   uint64
	Queued    int
	QueueMax  int `json:",omitempty"`
}

type StatsResponse struct {
	Timestamp int64
	Sessions  []*SessionEntry
}

func toSessionEntry(s acquire.Stats) *SessionEntry {
	e := &SessionEntry{
		Name:      s.Name,
		Running:   s.Running,
		Delivered: s.Delivered,
		Dropped:   s.Dropped,
		Queued:    s.Queued,
	}
	// An unbounded queue reports its ceiling; leave it out of the JSON.
	if s.QueueMax != queue.Unbounded {
		e.QueueMax = s.QueueMax
	}
	return e
}

func BuildResponse(stats StatsFunc) *StatsResponse {
	resp := &StatsResponse{Timestamp: time.Now().Unix()}
	for _, s := range stats() {
		resp.Sessions = append(resp.Sessions, toSessionEntry(s))
	}
	sort.Slice(resp.Sessions, func(i, j int) bool {
		return resp.Sessions[i].Name < resp.Sessions[j].Name
	})
	return resp
}

// StatsServer serves a JSON snapshot of acquisition stats.
type StatsServer struct {
	Stats StatsFunc
}

func (s *StatsServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	js, err := json.Marshal(BuildResponse(s.Stats))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(js)
}
