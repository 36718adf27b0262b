package acquire

import (
	"sync"
	"time"
)

type slotState int

const (
	slotFree slotState = iota
	slotRequested
	slotReady
	slotLocked
)

type fakeBuffer struct {
	index int
	seq   int
}

// fakeSource has a fixed number of slots and fills at most limit requests;
// requests beyond that stay outstanding forever.
type fakeSource struct {
	limit  int
	manual bool

	mu         sync.Mutex
	slots      []slotState
	produced   int
	seq        int
	readyc     chan int
	releases   map[int]int
	requestErr error
	stopErr    error
	starts     int
	stops      int
	resets     int
}

func newFakeSource(slots, limit int) *fakeSource {
	return &fakeSource{
		limit:    limit,
		slots:    make([]slotState, slots),
		readyc:   make(chan int, slots),
		releases: make(map[int]int),
	}
}

func (f *fakeSource) RequestBuffer() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.requestErr != nil {
		return f.requestErr
	}
	for i, st := range f.slots {
		if st != slotFree {
			continue
		}
		if f.produced < f.limit {
			f.produced++
			f.slots[i] = slotReady
			f.readyc <- i
		} else {
			f.slots[i] = slotRequested
		}
		return nil
	}
	return ErrNoFreeBuffer
}

func (f *fakeSource) WaitForReady(timeout time.Duration) int {
	select {
	case i := <-f.readyc:
		return i
	case <-time.After(timeout):
		return -1
	}
}

func (f *fakeSource) IsIndexValid(index int) bool {
	return index >= 0 && index < len(f.slots)
}

func (f *fakeSource) FetchBuffer(index int) *fakeBuffer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slots[index] = slotLocked
	f.seq++
	return &fakeBuffer{index: index, seq: f.seq}
}

func (f *fakeSource) ReleaseBuffer(b *fakeBuffer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases[b.seq]++
	f.slots[b.index] = slotFree
}

func (f *fakeSource) ManualStartStop() bool { return f.manual }

func (f *fakeSource) ManualStart() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return nil
}

func (f *fakeSource) ManualStop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return f.stopErr
}

func (f *fakeSource) ResetPendingRequests() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	for {
		select {
		case <-f.readyc:
			continue
		default:
		}
		break
	}
	for i, st := range f.slots {
		if st == slotRequested || st == slotReady {
			f.slots[i] = slotFree
		}
	}
}

func (f *fakeSource) releaseCounts() map[int]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := make(map[int]int, len(f.releases))
	for k, v := range f.releases {
		m[k] = v
	}
	return m
}

func (f *fakeSource) fetched() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seq
}
