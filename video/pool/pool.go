// Package pool implements a capture source on top of a fixed set of frame
// buffers.
//
// Each buffer cycles through free, requested, capturing, ready and locked.
// Requested buffers are filled in request order by a grab goroutine that
// calls a Grabber, then wait as ready until fetched. A fetched buffer stays
// locked until it is released.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"framegrab/acquire"
	"framegrab/queue"
)

const DefaultRetryDelay = 10 * time.Millisecond

var (
	ErrClosed    = errors.New("pool is closed")
	ErrStreaming = errors.New("pool is already streaming")

	framesGrabbed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "framegrab",
		Name:      "frames_grabbed_total",
		Help:      "Frames filled into requested buffers.",
	}, []string{"pool"})

	grabErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "framegrab",
		Name:      "grab_errors_total",
		Help:      "Failed attempts to fill a requested buffer.",
	}, []string{"pool"})
)

// Grabber fills frames from a device.
type Grabber[F any] interface {
	Grab(frame F) error
	Close() error
}

// Buffer is one frame on loan from a Pool.
type Buffer[F any] struct {
	Frame F

	// Time and Seq are set when the frame is grabbed. Seq counts grabbed
	// frames from one, across resets.
	Time time.Time
	Seq  uint64

	index int
}

func (b *Buffer[F]) Index() int {
	return b.index
}

type State int

const (
	Free State = iota
	Requested
	Capturing
	Ready
	Locked
)

func (s State) String() string {
	switch s {
	case Free:
		return "free"
	case Requested:
		return "requested"
	case Capturing:
		return "capturing"
	case Ready:
		return "ready"
	case Locked:
		return "locked"
	}
	return "unknown"
}

type Options struct {
	Name string

	// ManualStartStop makes the pool grab only between ManualStart and
	// ManualStop. Otherwise grabbing runs from New until Close.
	ManualStartStop bool

	// RetryDelay is the back-off after a failed grab.
	RetryDelay time.Duration
}

type Pool[F any] struct {
	opts    Options
	grabber Grabber[F]
	bufs    []*Buffer[F]
	log     *log.Entry

	pending *queue.Queue[int]
	ready   *queue.Queue[int]

	l      sync.Mutex
	states []State
	seq    uint64
	closed bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ acquire.Source[*Buffer[int]] = (*Pool[int])(nil)

// New creates a pool with one buffer per frame. The pool owns the grabber
// and closes it on Close.
func New[F any](frames []F, g Grabber[F], opts Options) *Pool[F] {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.Name == "" {
		opts.Name = "default"
	}
	p := &Pool[F]{
		opts:    opts,
		grabber: g,
		log:     log.WithField("pool", opts.Name),
		// Requests cancelled by a reset may leave stale indices behind, so
		// neither FIFO is bounded by the buffer count.
		pending: queue.New[int](queue.Unbounded),
		ready:   queue.New[int](queue.Unbounded),
		states:  make([]State, len(frames)),
	}
	for i, f := range frames {
		p.bufs = append(p.bufs, &Buffer[F]{Frame: f, index: i})
	}
	if !opts.ManualStartStop {
		p.startGrabbing()
	}
	return p
}

// RequestBuffer queues the first free buffer for grabbing.
func (p *Pool[F]) RequestBuffer() error {
	p.l.Lock()
	defer p.l.Unlock()
	if p.closed {
		return ErrClosed
	}
	for i, st := range p.states {
		if st != Free {
			continue
		}
		if res := p.pending.Push(i); res != queue.Accepted {
			return errors.Wrapf(res.Err(), "queue request %d", i)
		}
		p.states[i] = Requested
		return nil
	}
	return acquire.ErrNoFreeBuffer
}

// WaitForReady returns the index of the oldest grabbed buffer, or -1 if none
// became ready within timeout.
func (p *Pool[F]) WaitForReady(timeout time.Duration) int {
	idx, ok := p.ready.Pop(timeout)
	if !ok {
		return -1
	}
	p.l.Lock()
	defer p.l.Unlock()
	if p.states[idx] != Ready {
		return -1
	}
	return idx
}

func (p *Pool[F]) IsIndexValid(index int) bool {
	return index >= 0 && index < len(p.bufs)
}

// FetchBuffer locks a ready buffer until it is released.
func (p *Pool[F]) FetchBuffer(index int) *Buffer[F] {
	p.l.Lock()
	defer p.l.Unlock()
	if p.states[index] != Ready {
		p.log.Panicf("Fetch of buffer %d in state %v", index, p.states[index])
	}
	p.states[index] = Locked
	return p.bufs[index]
}

func (p *Pool[F]) ReleaseBuffer(b *Buffer[F]) {
	p.l.Lock()
	defer p.l.Unlock()
	if p.states[b.index] != Locked {
		p.log.Panicf("Release of buffer %d in state %v", b.index, p.states[b.index])
	}
	p.states[b.index] = Free
}

func (p *Pool[F]) ManualStartStop() bool {
	return p.opts.ManualStartStop
}

func (p *Pool[F]) ManualStart() error {
	p.l.Lock()
	closed := p.closed
	p.l.Unlock()
	if closed {
		return ErrClosed
	}
	if !p.startGrabbing() {
		return ErrStreaming
	}
	return nil
}

func (p *Pool[F]) ManualStop() error {
	p.stopGrabbing()
	return nil
}

// ResetPendingRequests frees every buffer that is requested, being grabbed
// or ready. Locked buffers are untouched.
func (p *Pool[F]) ResetPendingRequests() {
	p.l.Lock()
	defer p.l.Unlock()
	p.pending.Clear()
	p.ready.Clear()
	for i, st := range p.states {
		switch st {
		case Requested, Capturing, Ready:
			p.states[i] = Free
		}
	}
}

// States returns a snapshot of every buffer's state, by index.
func (p *Pool[F]) States() []State {
	p.l.Lock()
	defer p.l.Unlock()
	return append([]State(nil), p.states...)
}

// Close stops grabbing and closes the grabber. Buffers still locked remain
// valid until released, but no new requests are accepted.
func (p *Pool[F]) Close() error {
	p.l.Lock()
	if p.closed {
		p.l.Unlock()
		return nil
	}
	p.closed = true
	p.l.Unlock()

	p.stopGrabbing()
	p.ResetPendingRequests()

	var err error
	locked := 0
	for _, st := range p.States() {
		if st == Locked {
			locked++
		}
	}
	if locked > 0 {
		err = multierr.Append(err, errors.Errorf("%d buffers still locked", locked))
	}
	return multierr.Append(err, errors.Wrap(p.grabber.Close(), "close grabber"))
}

// startGrabbing reports false if the grab goroutine is already running.
func (p *Pool[F]) startGrabbing() bool {
	p.l.Lock()
	defer p.l.Unlock()
	if p.cancel != nil {
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.grabLoop(ctx)
	}()
	return true
}

func (p *Pool[F]) stopGrabbing() {
	p.l.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.l.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	p.pending.TerminateWait()
	p.wg.Wait()
}

func (p *Pool[F]) grabLoop(ctx context.Context) {
	for {
		idx, ok := p.pending.PopWait()
		if ctx.Err() != nil {
			if ok {
				p.requeue(idx, Requested)
			}
			return
		}
		if !ok || !p.transition(idx, Requested, Capturing) {
			continue
		}

		b := p.bufs[idx]
		if err := p.grabber.Grab(b.Frame); err != nil {
			grabErrors.WithLabelValues(p.opts.Name).Inc()
			p.log.Warnf("Grab into buffer %d failed: %v", idx, err)
			p.requeue(idx, Capturing)
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.opts.RetryDelay):
			}
			continue
		}

		p.l.Lock()
		// A reset while grabbing cancels the request.
		if p.states[idx] == Capturing {
			p.seq++
			b.Seq = p.seq
			b.Time = time.Now()
			p.states[idx] = Ready
			p.ready.Push(idx)
			framesGrabbed.WithLabelValues(p.opts.Name).Inc()
		}
		p.l.Unlock()
	}
}

// requeue puts a buffer back into the pending queue if it is still in state
// from.
func (p *Pool[F]) requeue(idx int, from State) {
	p.l.Lock()
	defer p.l.Unlock()
	if p.states[idx] == from {
		p.states[idx] = Requested
		p.pending.Push(idx)
	}
}

func (p *Pool[F]) transition(idx int, from, to State) bool {
	p.l.Lock()
	defer p.l.Unlock()
	if p.states[idx] != from {
		return false
	}
	p.states[idx] = to
	return true
}
