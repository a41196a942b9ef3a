package mockmc

import (
	"fmt"
	"sync"
	"time"
)

// Stats is a snapshot of a client's concurrency counters.
type Stats struct {
	Pending     int64 // calls submitted but not yet written to the channel
	Inflight    int64 // calls written to the channel and awaiting a reply
	MaxPending  int64 // high-water mark of Pending
	MaxInflight int64 // high-water mark of Inflight
}

// A StatTracker maintains the pending and inflight counters for a client,
// together with their high-water marks. A zero StatTracker is ready for use.
//
// The counters move only through paired transitions applied by Apply, and
// the tracker enforces the accounting contract at each step: a transition
// moves exactly one of the two counters, and neither counter may go
// negative. A violation panics, since it means the harness itself has a
// bookkeeping bug that would invalidate anything a test asserts afterward.
type StatTracker struct {
	mu      sync.Mutex
	cur     Stats
	observe func(pendingDiff, inflightDiff int64)
}

// OnApply registers a callback invoked after every successful transition
// with the diffs that were applied. Passing nil removes the callback. The
// callback must not call back into the tracker.
func (s *StatTracker) OnApply(f func(pendingDiff, inflightDiff int64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observe = f
}

// Apply moves the counters by the given diffs.
func (s *StatTracker) Apply(pendingDiff, inflightDiff int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pendingDiff == inflightDiff {
		panic(fmt.Sprintf("stats: a call cannot be pending and inflight at once (diffs %+d, %+d)",
			pendingDiff, inflightDiff))
	}
	s.cur.Pending += pendingDiff
	s.cur.Inflight += inflightDiff
	if s.cur.Pending < 0 || s.cur.Inflight < 0 {
		panic(fmt.Sprintf("stats: counter went negative (pending %d, inflight %d)",
			s.cur.Pending, s.cur.Inflight))
	}
	s.cur.MaxPending = max(s.cur.MaxPending, s.cur.Pending)
	s.cur.MaxInflight = max(s.cur.MaxInflight, s.cur.Inflight)

	if s.observe != nil {
		s.observe(pendingDiff, inflightDiff)
	}
}

// Snapshot returns the current counter values.
func (s *StatTracker) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// RequireQuiescent panics unless both counters are exactly zero. It is the
// quiescence check applied when a client has waited out all its calls.
func (s *StatTracker) RequireQuiescent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur.Pending != 0 || s.cur.Inflight != 0 {
		panic(fmt.Sprintf("stats: not quiescent (pending %d, inflight %d)",
			s.cur.Pending, s.cur.Inflight))
	}
}

// CallStats records per-call transport statistics, reported to the optional
// stats callback of each send operation.
type CallStats struct {
	Elapsed    time.Duration // wall time from send to reply
	ReplyBytes int           // length of the reply value
}
