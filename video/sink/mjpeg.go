// Package sink publishes acquired frames for viewing.
package sink

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

const boundaryWord = "MJPEGBOUNDARY"
const headerf = "\r\n" +
	"--" + boundaryWord + "\r\n" +
	"Content-Type: image/jpeg\r\n" +
	"Content-Length: %d\r\n" +
	"X-Timestamp: %.6f\r\n" +
	"\r\n"

const DefaultQuality = 80

// MJPEGServer serves named multipart JPEG streams, selected with ?name=.
type MJPEGServer struct {
	// Quality is the JPEG quality, 1 to 100, used by streams created after
	// it is set.
	Quality int

	m    map[string]*MJPEGStream
	lock sync.Mutex
}

func NewMJPEGServer() *MJPEGServer {
	return &MJPEGServer{
		Quality: DefaultQuality,
		m:       make(map[string]*MJPEGStream),
	}
}

func (s *MJPEGServer) NewStream(name string) *MJPEGStream {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.m[name]; ok {
		log.Panicf("A stream named %q already exists", name)
	}

	ms := &MJPEGStream{
		name:      name,
		quality:   s.Quality,
		listeners: make(map[chan []byte]bool),
		parent:    s,
	}
	s.m[name] = ms
	return ms
}

func (s *MJPEGServer) getStream(name string) *MJPEGStream {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.m[name]
}

// ServeHTTP implements http.Handler interface, serving MJPEG.
func (s *MJPEGServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	name := r.Form.Get("name")
	if name == "" {
		http.Error(w, "missing name", http.StatusBadRequest)
		return
	}

	stream := s.getStream(name)
	if stream == nil {
		http.Error(w, "unknown stream", http.StatusNotFound)
		return
	}

	clog := log.WithField("addr", r.RemoteAddr)
	clog.Infof("MJPEG stream connected to %v", name)
	defer clog.Infof("MJPEG stream disconnected from %v", name)
	w.Header().Add("Content-Type", "multipart/x-mixed-replace;boundary="+boundaryWord)

	c := stream.listen()
	defer stream.unlisten(c)

	for {
		select {
		case b := <-c:
			if _, err := w.Write(b); err != nil {
				return
			}
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}

// MJPEGStream encodes frames for the clients of one stream name.
type MJPEGStream struct {
	name    string
	quality int

	listeners map[chan []byte]bool
	parent    *MJPEGServer
	lock      sync.Mutex
}

func (s *MJPEGStream) listen() chan []byte {
	c := make(chan []byte, 1)
	s.lock.Lock()
	s.listeners[c] = true
	s.lock.Unlock()
	return c
}

func (s *MJPEGStream) unlisten(c chan []byte) {
	s.lock.Lock()
	delete(s.listeners, c)
	s.lock.Unlock()
}

// Listeners returns the number of connected clients.
func (s *MJPEGStream) Listeners() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.listeners)
}

// Put encodes and publishes a frame. The Mat is only read during the call.
func (s *MJPEGStream) Put(input gocv.Mat, t time.Time) {
	if s.Listeners() == 0 {
		// Nobody is listening; don't bother encoding.
		return
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, input, []int{int(gocv.IMWriteJpegQuality), s.quality})
	if err != nil {
		log.Errorf("Error encoding to JPG for MJPEG stream %v: %v", s.name, err)
		return
	}
	defer buf.Close()
	jpeg := buf.GetBytes()

	header := fmt.Sprintf(headerf, len(jpeg), float64(t.UnixNano())/1e9)
	// Clients may still be writing the previous frame, so each frame gets
	// its own slice.
	frame := make([]byte, len(header)+len(jpeg))
	copy(frame, header)
	copy(frame[len(header):], jpeg)

	s.lock.Lock()
	defer s.lock.Unlock()
	for c := range s.listeners {
		select {
		case c <- frame:
		default:
			// Skip listeners not ready for next frame.
		}
	}
}

func (s *MJPEGStream) Close() {
	s.parent.lock.Lock()
	defer s.parent.lock.Unlock()
	delete(s.parent.m, s.name)
}
