package acquire

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func testOptions(name string) Options {
	return Options{Name: name, PollInterval: 10 * time.Millisecond}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestBufferedDeliversInOrder(t *testing.T) {
	src := newFakeSource(4, 3)
	s := NewSession[*fakeBuffer](src, testOptions("buffered"))

	test.That(t, s.Start(), test.ShouldBeNil)
	waitFor(t, func() bool { return s.Stats().Delivered == 3 })
	s.Stop()
	test.That(t, s.Running(), test.ShouldBeFalse)

	for want := 1; want <= 3; want++ {
		r, ok := s.WaitForNext(0)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, r.Buffer().seq, test.ShouldEqual, want)
		r.Release()
	}
	_, ok := s.WaitForNext(0)
	test.That(t, ok, test.ShouldBeFalse)

	test.That(t, src.releaseCounts(), test.ShouldResemble, map[int]int{1: 1, 2: 1, 3: 1})
}

func TestStopNeverStarted(t *testing.T) {
	s := NewSession[*fakeBuffer](newFakeSource(1, 0), testOptions("idle"))
	s.Stop()
	test.That(t, s.Running(), test.ShouldBeFalse)
}

func TestStartTwice(t *testing.T) {
	src := newFakeSource(2, 1000)
	s := NewSession[*fakeBuffer](src, testOptions("twice"))

	var mu sync.Mutex
	var seen []int
	test.That(t, s.StartFunc(func(r *Request[*fakeBuffer]) {
		mu.Lock()
		seen = append(seen, r.Buffer().seq)
		mu.Unlock()
	}), test.ShouldBeNil)

	err := s.Start()
	test.That(t, errors.Is(err, ErrAlreadyRunning), test.ShouldBeTrue)
	err = s.StartFunc(func(*Request[*fakeBuffer]) {})
	test.That(t, errors.Is(err, ErrAlreadyRunning), test.ShouldBeTrue)
	test.That(t, s.Running(), test.ShouldBeTrue)

	// The first run keeps acquiring.
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) >= 10
	})
	s.Stop()

	mu.Lock()
	defer mu.Unlock()
	for i, seq := range seen {
		test.That(t, seq, test.ShouldEqual, i+1)
	}
}

func TestDirectModeRecyclesBuffers(t *testing.T) {
	// Two slots serve twenty frames only if every release re-requests.
	src := newFakeSource(2, 20)
	s := NewSession[*fakeBuffer](src, testOptions("direct"))

	test.That(t, s.StartFunc(func(r *Request[*fakeBuffer]) {}), test.ShouldBeNil)
	waitFor(t, func() bool { return s.Stats().Delivered == 20 })
	s.Stop()

	counts := src.releaseCounts()
	test.That(t, len(counts), test.ShouldEqual, 20)
	for seq, n := range counts {
		test.That(t, n, test.ShouldEqual, 1)
		test.That(t, seq, test.ShouldBeGreaterThanOrEqualTo, 1)
		test.That(t, seq, test.ShouldBeLessThanOrEqualTo, 20)
	}
}

func TestDirectModeRetainedRequest(t *testing.T) {
	src := newFakeSource(2, 1)
	s := NewSession[*fakeBuffer](src, testOptions("retain"))

	kept := make(chan *Request[*fakeBuffer], 1)
	test.That(t, s.StartFunc(func(r *Request[*fakeBuffer]) {
		kept <- r.Ref()
	}), test.ShouldBeNil)

	r := <-kept
	s.Stop()
	test.That(t, src.releaseCounts()[1], test.ShouldEqual, 0)

	r.Release()
	test.That(t, src.releaseCounts()[1], test.ShouldEqual, 1)
}

func TestFullQueueDropsAndReleases(t *testing.T) {
	src := newFakeSource(4, 3)
	opts := testOptions("full")
	opts.QueueSizeMax = 1
	s := NewSession[*fakeBuffer](src, opts)

	test.That(t, s.Start(), test.ShouldBeNil)
	waitFor(t, func() bool { return src.fetched() == 3 })
	waitFor(t, func() bool { return s.Stats().Dropped == 2 })
	s.Stop()

	stats := s.Stats()
	test.That(t, stats.Delivered, test.ShouldEqual, uint64(1))
	test.That(t, stats.Queued, test.ShouldEqual, 1)
	test.That(t, stats.QueueMax, test.ShouldEqual, 1)

	counts := src.releaseCounts()
	test.That(t, counts[2], test.ShouldEqual, 1)
	test.That(t, counts[3], test.ShouldEqual, 1)
	test.That(t, counts[1], test.ShouldEqual, 0)

	r, ok := s.WaitForNext(0)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, r.Buffer().seq, test.ShouldEqual, 1)
	r.Release()
	test.That(t, src.releaseCounts()[1], test.ShouldEqual, 1)
}

func TestRestartDiscardsStaleResults(t *testing.T) {
	src := newFakeSource(4, 2)
	s := NewSession[*fakeBuffer](src, testOptions("restart"))

	test.That(t, s.Start(), test.ShouldBeNil)
	waitFor(t, func() bool { return s.Stats().Delivered == 2 })
	s.Stop()
	test.That(t, s.Stats().Queued, test.ShouldEqual, 2)

	test.That(t, s.Start(), test.ShouldBeNil)
	test.That(t, s.Stats().Queued, test.ShouldEqual, 0)
	s.Stop()

	// Discarded results were still handed back to the source.
	counts := src.releaseCounts()
	test.That(t, counts[1], test.ShouldEqual, 1)
	test.That(t, counts[2], test.ShouldEqual, 1)
}

func TestManualStartStop(t *testing.T) {
	src := newFakeSource(2, 0)
	src.manual = true
	src.stopErr = errors.New("device busy")
	s := NewSession[*fakeBuffer](src, testOptions("manual"))

	test.That(t, s.Start(), test.ShouldBeNil)
	s.Stop()

	src.mu.Lock()
	defer src.mu.Unlock()
	test.That(t, src.starts, test.ShouldEqual, 1)
	test.That(t, src.stops, test.ShouldEqual, 1)
	// One reset before priming, one on loop exit.
	test.That(t, src.resets, test.ShouldEqual, 2)
}

func TestProtocolViolationPanics(t *testing.T) {
	src := newFakeSource(2, 0)
	src.requestErr = errors.New("device lost")
	s := NewSession[*fakeBuffer](src, testOptions("violation"))

	test.That(t, func() { s.Start() }, test.ShouldPanic)
	test.That(t, s.Running(), test.ShouldBeFalse)
	s.Stop()
}

func TestTerminateWaitForNext(t *testing.T) {
	s := NewSession[*fakeBuffer](newFakeSource(1, 0), testOptions("terminate"))
	test.That(t, s.Start(), test.ShouldBeNil)
	defer s.Stop()

	done := make(chan bool)
	go func() {
		_, ok := s.WaitForNextBlocking()
		done <- ok
	}()
	time.Sleep(20 * time.Millisecond)
	s.TerminateWaitForNext()

	select {
	case ok := <-done:
		test.That(t, ok, test.ShouldBeFalse)
	case <-time.After(time.Second):
		t.Fatal("WaitForNextBlocking was not released")
	}
}

func TestRequestReleasesOnce(t *testing.T) {
	var mu sync.Mutex
	released := 0
	r := newRequest(7, func(v int) {
		mu.Lock()
		released++
		mu.Unlock()
	})

	const holders = 16
	for i := 1; i < holders; i++ {
		r.Ref()
	}

	var wg sync.WaitGroup
	for i := 0; i < holders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Release()
		}()
	}
	wg.Wait()

	test.That(t, released, test.ShouldEqual, 1)
	test.That(t, r.Buffer(), test.ShouldEqual, 7)
	test.That(t, func() { r.Release() }, test.ShouldPanic)
	test.That(t, func() { r.Ref() }, test.ShouldPanic)
}

func TestHandlerPanicReleasesAndCleansUp(t *testing.T) {
	src := newFakeSource(2, 1)
	src.manual = true
	s := NewSession[*fakeBuffer](src, testOptions("panic"))

	test.That(t, s.StartFunc(func(*Request[*fakeBuffer]) { panic("boom") }), test.ShouldBeNil)
	waitFor(t, func() bool { return !s.Running() })

	test.That(t, src.releaseCounts(), test.ShouldResemble, map[int]int{1: 1})
	src.mu.Lock()
	test.That(t, src.stops, test.ShouldEqual, 1)
	test.That(t, src.resets, test.ShouldEqual, 1)
	test.That(t, src.slots, test.ShouldResemble, []slotState{slotFree, slotFree})
	src.mu.Unlock()

	// The dead goroutine does not block a new start.
	waitFor(t, func() bool { return s.StartFunc(func(*Request[*fakeBuffer]) {}) == nil })
	test.That(t, s.Running(), test.ShouldBeTrue)
	s.Stop()
	test.That(t, s.Running(), test.ShouldBeFalse)
}
