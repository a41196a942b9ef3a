package mockmc_test

import (
	"strings"
	"testing"

	"github.com/cachelab/mockmc"
	"github.com/creachadair/mds/mtest"
	"github.com/google/go-cmp/cmp"
)

func TestStatTrackerTransitions(t *testing.T) {
	var s mockmc.StatTracker

	type diffs struct{ P, I int64 }
	var seen []diffs
	s.OnApply(func(dp, di int64) { seen = append(seen, diffs{dp, di}) })

	// Two calls through the standard life cycle, overlapping.
	s.Apply(+1, 0) // call 1 submitted
	s.Apply(+1, 0) // call 2 submitted
	s.Apply(-1, +1)
	s.Apply(-1, +1)
	s.Apply(0, -1)
	s.Apply(0, -1)

	got := s.Snapshot()
	want := mockmc.Stats{Pending: 0, Inflight: 0, MaxPending: 2, MaxInflight: 2}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("Snapshot (-got, +want):\n%s", diff)
	}
	if len(seen) != 6 {
		t.Errorf("OnApply ran %d times, want 6", len(seen))
	}
	s.RequireQuiescent() // must not panic

	// The callback can be removed.
	s.OnApply(nil)
	s.Apply(+1, 0)
	s.Apply(-1, +1)
	s.Apply(0, -1)
	if len(seen) != 6 {
		t.Errorf("OnApply ran after removal: %d calls", len(seen))
	}
}

func TestStatTrackerViolations(t *testing.T) {
	t.Run("BothCounters", func(t *testing.T) {
		var s mockmc.StatTracker
		got := mtest.MustPanic(t, func() { s.Apply(+1, +1) })
		if msg, ok := got.(string); !ok || !strings.Contains(msg, "pending and inflight at once") {
			t.Errorf("Panic: got %v, want a paired-transition message", got)
		}
	})

	t.Run("NegativePending", func(t *testing.T) {
		var s mockmc.StatTracker
		got := mtest.MustPanic(t, func() { s.Apply(-1, 0) })
		if msg, ok := got.(string); !ok || !strings.Contains(msg, "negative") {
			t.Errorf("Panic: got %v, want a negative-counter message", got)
		}
	})

	t.Run("NegativeInflight", func(t *testing.T) {
		var s mockmc.StatTracker
		s.Apply(+1, 0)
		mtest.MustPanic(t, func() { s.Apply(0, -1) })
	})

	t.Run("NotQuiescent", func(t *testing.T) {
		var s mockmc.StatTracker
		s.Apply(+1, 0)
		got := mtest.MustPanic(t, func() { s.RequireQuiescent() })
		if msg, ok := got.(string); !ok || !strings.Contains(msg, "not quiescent") {
			t.Errorf("Panic: got %v, want a quiescence message", got)
		}
	})
}
