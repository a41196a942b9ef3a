package harness_test

import (
	"testing"
	"time"

	"github.com/cachelab/mockmc"
	"github.com/cachelab/mockmc/harness"
	"github.com/fortytw2/leaktest"
)

func TestLocalPair(t *testing.T) {
	defer leaktest.Check(t)()

	loc := harness.NewLocal(nil)

	loc.Client.SendGet("probe", mockmc.CodeFound, 5*time.Second, nil)
	loc.Client.WaitForOutstanding(0)

	// Extra clients share the server but get their own sessions.
	c2 := loc.Dial()
	c2.SendGet("probe", mockmc.CodeFound, 5*time.Second, nil)
	c2.WaitForOutstanding(0)

	if got := loc.Server.AcceptedConns(); got != 2 {
		t.Errorf("AcceptedConns: got %d, want 2", got)
	}
	if err := loc.Stop(); err != nil {
		t.Errorf("Stop: unexpected error: %v", err)
	}
}

func TestLocalOptions(t *testing.T) {
	defer leaktest.Check(t)()

	loc := harness.NewLocal(&harness.Options{
		Workers: 2,
		Engine:  &mockmc.EngineOptions{SleepFor: time.Millisecond, Version: "Harness/1.0"},
	})
	defer loc.Stop()

	loc.Client.SendGet("sleep", mockmc.CodeNotFound, 5*time.Second, nil)
	loc.Client.SendVersion("Harness/1.0")
	loc.Client.WaitForOutstanding(0)
}
