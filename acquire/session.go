// Package acquire runs continuous buffer acquisition from a capture Source on
// a single background goroutine.
//
// Ready buffers are delivered either to a Handler called on the acquisition
// goroutine (StartFunc) or into a bounded result queue drained with
// WaitForNext (Start). Every delivered buffer is wrapped in a Request that
// hands it back to the source, and queues a replacement request, once the
// last reference is released.
package acquire

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	goutils "go.viam.com/utils"

	"framegrab/queue"
)

const DefaultPollInterval = 200 * time.Millisecond

// Handler receives each ready buffer in direct mode. The session releases its
// reference when the handler returns; a handler that keeps the request must
// call Ref first. Handlers run on the acquisition goroutine and delay every
// following request, so they should be fast.
type Handler[B any] func(r *Request[B])

type Options struct {
	// Name labels log entries and metrics.
	Name string

	// QueueSizeMax bounds the result queue used by Start. Zero is unbounded.
	QueueSizeMax int

	// PollInterval bounds each wait for a ready buffer, and so how long Stop
	// may take to be noticed.
	PollInterval time.Duration
}

// Stats is a snapshot of session counters.
type Stats struct {
	Name      string
	Running   bool
	Delivered uint64
	Dropped   uint64
	Queued    int
	QueueMax  int
}

type Session[B any] struct {
	src     Source[B]
	opts    Options
	results *queue.Queue[*Request[B]]
	log     *log.Entry

	run atomic.Bool

	delivered atomic.Uint64
	dropped   atomic.Uint64

	// l serializes Start and Stop; done is closed when the acquisition
	// goroutine returns and is nil while idle.
	l    sync.Mutex
	done chan struct{}
}

func NewSession[B any](src Source[B], opts Options) *Session[B] {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Name == "" {
		opts.Name = "default"
	}
	return &Session[B]{
		src:     src,
		opts:    opts,
		results: queue.New[*Request[B]](opts.QueueSizeMax),
		log:     log.WithField("session", opts.Name),
	}
}

// StartFunc starts acquisition in direct mode, calling h for every ready
// buffer.
func (s *Session[B]) StartFunc(h Handler[B]) error {
	s.l.Lock()
	defer s.l.Unlock()
	if s.active() {
		return ErrAlreadyRunning
	}
	s.start(func(r *Request[B]) {
		defer r.Release()
		s.delivered.Add(1)
		deliveredTotal.WithLabelValues(s.opts.Name).Inc()
		h(r)
	})
	return nil
}

// Start starts acquisition in buffered mode. Results left over from a
// previous run are released unread and the source's requests are reset
// first.
func (s *Session[B]) Start() error {
	s.l.Lock()
	defer s.l.Unlock()
	if s.active() {
		return ErrAlreadyRunning
	}
	s.drain()
	s.src.ResetPendingRequests()
	s.start(s.enqueue)
	return nil
}

// start primes the source and spawns the acquisition goroutine. Caller holds
// s.l.
func (s *Session[B]) start(dispatch func(*Request[B])) {
	s.prime()
	if s.src.ManualStartStop() {
		if err := s.src.ManualStart(); err != nil {
			s.log.Errorf("Manual acquisition start failed: %v", err)
		}
	}

	done := make(chan struct{})
	s.done = done
	s.run.Store(true)
	runningGauge.WithLabelValues(s.opts.Name).Set(1)
	goutils.PanicCapturingGoWithCallback(func() {
		defer close(done)
		s.loop(dispatch)
	}, func(err interface{}) {
		s.log.Errorf("Acquisition goroutine panicked: %v", err)
	})
	s.log.Infof("Acquisition started")
}

// active reports whether the acquisition goroutine is still alive. A
// goroutine that exited on its own, after a handler panic, is forgotten so
// the session can be started again. Caller holds s.l.
func (s *Session[B]) active() bool {
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		s.done = nil
		return false
	default:
		return true
	}
}

// prime queues as many requests as the source accepts.
func (s *Session[B]) prime() {
	n := 0
	var err error
	for err = s.src.RequestBuffer(); err == nil; err = s.src.RequestBuffer() {
		n++
	}
	if !errors.Is(err, ErrNoFreeBuffer) {
		s.log.Panicf("%v: priming stopped after %d requests: %v", ErrSourceProtocolViolation, n, err)
	}
	s.log.Debugf("Primed %d requests", n)
}

func (s *Session[B]) loop(dispatch func(*Request[B])) {
	defer s.finish()
	for s.run.Load() {
		idx := s.src.WaitForReady(s.opts.PollInterval)
		if !s.src.IsIndexValid(idx) {
			continue
		}
		dispatch(newRequest(s.src.FetchBuffer(idx), s.recycle))
	}
}

// finish runs when the loop exits, normally or by panic.
func (s *Session[B]) finish() {
	if s.src.ManualStartStop() {
		if err := s.src.ManualStop(); err != nil {
			s.log.Errorf("Manual acquisition stop failed: %v", err)
		}
	}
	s.src.ResetPendingRequests()
	s.run.Store(false)
	runningGauge.WithLabelValues(s.opts.Name).Set(0)
}

// recycle is the release action of every Request: the buffer goes back to
// the source and is immediately requested again to keep acquisition fed.
func (s *Session[B]) recycle(buf B) {
	s.src.ReleaseBuffer(buf)
	if err := s.src.RequestBuffer(); err != nil {
		s.log.Debugf("Re-request after release refused: %v", err)
	}
}

func (s *Session[B]) enqueue(r *Request[B]) {
	res := s.results.Push(r)
	if res != queue.Accepted {
		// The acquisition goroutine can't block on a slow consumer; the
		// buffer goes straight back to the source.
		s.dropped.Add(1)
		droppedTotal.WithLabelValues(s.opts.Name, res.String()).Inc()
		s.log.Warnf("Dropped ready buffer: %v", res.Err())
		r.Release()
		return
	}
	s.delivered.Add(1)
	deliveredTotal.WithLabelValues(s.opts.Name).Inc()
	s.updateDepth()
}

// Stop ends acquisition and waits for the acquisition goroutine to exit. An
// in-flight handler call is allowed to finish. Stop on an idle session
// returns immediately. It must not be called from a Handler.
func (s *Session[B]) Stop() {
	s.l.Lock()
	defer s.l.Unlock()
	s.run.Store(false)
	if s.done == nil {
		return
	}
	<-s.done
	s.done = nil
	s.log.Infof("Acquisition stopped")
}

// Running reports whether acquisition is active. It turns false as soon as
// Stop is called, possibly before the goroutine has exited.
func (s *Session[B]) Running() bool {
	return s.run.Load()
}

// WaitForNext returns the oldest buffered result, waiting up to timeout. The
// caller owns the returned reference and must Release it.
func (s *Session[B]) WaitForNext(timeout time.Duration) (*Request[B], bool) {
	r, ok := s.results.Pop(timeout)
	s.updateDepth()
	return r, ok
}

// WaitForNextBlocking waits without a timeout. It returns false only when
// ended by TerminateWaitForNext.
func (s *Session[B]) WaitForNextBlocking() (*Request[B], bool) {
	r, ok := s.results.PopWait()
	s.updateDepth()
	return r, ok
}

// TerminateWaitForNext releases one goroutine blocked in WaitForNext without
// delivering a result.
func (s *Session[B]) TerminateWaitForNext() {
	s.results.TerminateWait()
}

func (s *Session[B]) Stats() Stats {
	return Stats{
		Name:      s.opts.Name,
		Running:   s.Running(),
		Delivered: s.delivered.Load(),
		Dropped:   s.dropped.Load(),
		Queued:    s.results.Len(),
		QueueMax:  s.results.MaxSize(),
	}
}

// drain releases every queued result.
func (s *Session[B]) drain() {
	for {
		r, ok := s.results.Pop(0)
		if !ok {
			break
		}
		r.Release()
	}
	s.updateDepth()
}

func (s *Session[B]) updateDepth() {
	queueDepth.WithLabelValues(s.opts.Name).Set(float64(s.results.Len()))
}
