package mockmc_test

import (
	"testing"
	"time"

	"github.com/cachelab/mockmc"
	"github.com/cachelab/mockmc/harness"
)

func BenchmarkProbe(b *testing.B) {
	b.Run("Get-small", func(b *testing.B) {
		runBench(b, "value_size:16", mockmc.CodeFound)
	})
	b.Run("Get-large", func(b *testing.B) {
		runBench(b, "value_size:65536", mockmc.CodeFound)
	})
	b.Run("Get-busy", func(b *testing.B) {
		runBench(b, "busy", mockmc.CodeBusy)
	})
	b.Run("Get-flush", func(b *testing.B) {
		runBench(b, "flush", mockmc.CodeFound)
	})
}

func runBench(b *testing.B, key string, want mockmc.ResultCode) {
	b.Helper()
	loc := harness.NewLocal(nil)
	defer loc.Stop()

	for b.Loop() {
		loc.Client.SendGet(key, want, time.Minute, nil)
		loc.Client.WaitForOutstanding(0)
	}
}
