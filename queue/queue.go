// Package queue provides a bounded, blocking FIFO used to hand buffers from
// an acquisition goroutine to a consumer.
//
// A Queue carries two flags besides its items. The admission gate (Lock and
// Unlock) rejects new pushes without touching what is already queued. The
// wakeup flag (TerminateWait) releases a single blocked Pop without data and
// is consumed by the first Pop that finds the queue empty.
package queue

import (
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Unbounded is the ceiling used when a queue is created without a size limit.
const Unbounded = math.MaxInt

var (
	// ErrFull is the error form of a Full push result.
	ErrFull = errors.New("queue is full")
	// ErrLocked is the error form of a Locked push result.
	ErrLocked = errors.New("queue is locked")
)

// Result reports the outcome of a Push.
type Result int

const (
	// Accepted means the item was queued.
	Accepted Result = iota
	// Full means the queue already held its maximum number of items.
	Full
	// Locked means the admission gate was closed.
	Locked
)

func (r Result) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case Full:
		return "full"
	case Locked:
		return "locked"
	}
	return "unknown"
}

// Err maps a rejection to its sentinel error; Accepted yields nil.
func (r Result) Err() error {
	switch r {
	case Full:
		return ErrFull
	case Locked:
		return ErrLocked
	}
	return nil
}

// Queue is a FIFO safe for concurrent use by producers and one consumer.
type Queue[T any] struct {
	items  []T
	max    int
	locked bool
	wakeup bool

	l sync.Mutex
	c *sync.Cond
}

// New creates a queue holding at most max items. A max of zero or less
// creates an Unbounded queue.
func New[T any](max int) *Queue[T] {
	if max <= 0 {
		max = Unbounded
	}
	q := &Queue[T]{max: max}
	q.c = sync.NewCond(&q.l)
	return q
}

// Push appends t unless the queue is full or locked. A full queue reports
// Full even when it is also locked.
func (q *Queue[T]) Push(t T) Result {
	q.l.Lock()
	defer q.l.Unlock()
	if len(q.items) >= q.max {
		return Full
	}
	if q.locked {
		return Locked
	}
	q.items = append(q.items, t)
	q.c.Signal()
	return Accepted
}

// Pop removes and returns the oldest item, waiting up to timeout for one to
// arrive. A zero timeout polls. The second result is false when the wait
// timed out or was ended by TerminateWait.
func (q *Queue[T]) Pop(timeout time.Duration) (T, bool) {
	q.l.Lock()
	defer q.l.Unlock()

	if timeout > 0 && !q.ready() {
		expired := false
		t := time.AfterFunc(timeout, func() {
			q.l.Lock()
			expired = true
			q.l.Unlock()
			q.c.Broadcast()
		})
		defer t.Stop()
		for !q.ready() && !expired {
			q.c.Wait()
		}
	}
	return q.extract()
}

// PopWait is Pop without a timeout. It returns false only when released by
// TerminateWait.
func (q *Queue[T]) PopWait() (T, bool) {
	q.l.Lock()
	defer q.l.Unlock()
	for !q.ready() {
		q.c.Wait()
	}
	return q.extract()
}

// ready is the wait predicate. Caller holds q.l.
func (q *Queue[T]) ready() bool {
	return len(q.items) > 0 || q.wakeup
}

// extract takes the head item, or consumes a pending wakeup if the queue is
// empty. Caller holds q.l.
func (q *Queue[T]) extract() (T, bool) {
	var zero T
	if len(q.items) > 0 {
		t := q.items[0]
		q.items[0] = zero
		q.items = q.items[1:]
		if len(q.items) == 0 {
			// Drop the backing array so it doesn't grow without bound.
			q.items = nil
		}
		return t, true
	}
	q.wakeup = false
	return zero, false
}

// Front returns a copy of the oldest item without removing it.
func (q *Queue[T]) Front() (T, bool) {
	q.l.Lock()
	defer q.l.Unlock()
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	return q.items[0], true
}

// Clear discards all queued items. The final empty poll consumes a pending
// wakeup, if any.
func (q *Queue[T]) Clear() {
	for {
		if _, ok := q.Pop(0); !ok {
			return
		}
	}
}

// Lock closes the admission gate and reports whether it was already closed.
func (q *Queue[T]) Lock() bool {
	q.l.Lock()
	defer q.l.Unlock()
	was := q.locked
	q.locked = true
	return was
}

// Unlock opens the admission gate and reports whether it was closed before.
func (q *Queue[T]) Unlock() bool {
	q.l.Lock()
	defer q.l.Unlock()
	was := q.locked
	q.locked = false
	return was
}

// TerminateWait ends one blocked Pop without delivering an item. If nobody is
// waiting, the next Pop that finds the queue empty returns false at once.
func (q *Queue[T]) TerminateWait() {
	q.l.Lock()
	q.wakeup = true
	q.l.Unlock()
	q.c.Signal()
}

func (q *Queue[T]) Len() int {
	q.l.Lock()
	defer q.l.Unlock()
	return len(q.items)
}

func (q *Queue[T]) MaxSize() int {
	return q.max
}

func (q *Queue[T]) IsFull() bool {
	q.l.Lock()
	defer q.l.Unlock()
	return len(q.items) >= q.max
}
