package acquire

import (
	goutils "go.viam.com/utils"
)

// Request owns one buffer on loan from a Source. It is reference counted:
// every holder calls Release once, and the buffer returns to the source when
// the last reference is released. Callers must keep the Request rather than
// the value returned by Buffer, which is only valid while a reference is held.
type Request[B any] struct {
	buf     B
	refs    goutils.RefCountedValue
	release func(B)
}

func newRequest[B any](buf B, release func(B)) *Request[B] {
	r := &Request[B]{
		buf:     buf,
		refs:    goutils.NewRefCountedValue(nil),
		release: release,
	}
	r.refs.Ref()
	return r
}

// Buffer returns the loaned buffer.
func (r *Request[B]) Buffer() B {
	return r.buf
}

// Ref adds a reference and returns r. It panics if r was already fully
// released.
func (r *Request[B]) Ref() *Request[B] {
	r.refs.Ref()
	return r
}

// Release drops one reference. Releasing more often than referenced panics.
func (r *Request[B]) Release() {
	if r.refs.Deref() {
		r.release(r.buf)
	}
}
