package acquire

import (
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrNoFreeBuffer is returned by Source.RequestBuffer once every buffer
	// of the source has an outstanding request. It ends priming normally.
	ErrNoFreeBuffer = errors.New("no free buffer available")

	ErrAlreadyRunning = errors.New("acquisition already running")

	// ErrSourceProtocolViolation means the source refused a request during
	// priming for a reason other than ErrNoFreeBuffer. Session and source no
	// longer agree about buffer accounting, so this is raised as a panic.
	ErrSourceProtocolViolation = errors.New("capture source violated the request protocol")
)

// Source is a capture device that loans out buffers. Buffers are requested
// ahead of time, become ready in request order, are fetched by index and must
// be handed back with ReleaseBuffer exactly once.
type Source[B any] interface {
	// RequestBuffer queues one more buffer for capture. It returns
	// ErrNoFreeBuffer when all buffers are already requested or in use.
	RequestBuffer() error

	// WaitForReady waits up to timeout for a requested buffer to be filled
	// and returns its index. An index rejected by IsIndexValid means nothing
	// became ready.
	WaitForReady(timeout time.Duration) int
	IsIndexValid(index int) bool
	FetchBuffer(index int) B
	ReleaseBuffer(buf B)

	// ManualStartStop reports whether the device only streams between
	// ManualStart and ManualStop.
	ManualStartStop() bool
	ManualStart() error
	ManualStop() error

	// ResetPendingRequests cancels every outstanding request.
	ResetPendingRequests()
}
