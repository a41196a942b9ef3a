// Program mockmc runs scripted key scenarios against an in-memory mock
// cache server and reports the outcome of each probe.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cachelab/mockmc"
	"github.com/cachelab/mockmc/harness"
	"github.com/creachadair/command"
	"github.com/creachadair/flax"
)

var flags struct {
	Timeout time.Duration `flag:"timeout,Timeout for each probe call"`
	Workers int           `flag:"workers,Number of server accept workers"`
	Sleep   time.Duration `flag:"sleep,Delay served for the sleep key"`
	Verbose bool          `flag:"v,Log server session events to stderr"`
}

func main() {
	root := &command.C{
		Name: filepath.Base(os.Args[0]),
		Help: "Run scripted probes against an in-memory mock cache server.",
		Commands: []*command.C{
			{
				Name:  "run",
				Usage: "<key>...",
				Help: `Probe the mock server with the given keys.

Each key is sent as a get request, with the expected result derived from
the key the same way the mock engine derives its reply: "busy" expects a
busy reply, "sleep" and "shutdown" expect not-found, and any other key
expects a found reply whose value is validated against the key.`,
				SetFlags: command.Flags(flax.MustBind, &flags),
				Run:      runProbes,
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

func runProbes(env *command.Env) error {
	if len(env.Args) == 0 {
		return env.Usagef("Missing key arguments")
	}
	timeout := flags.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	opts := &harness.Options{
		Workers: flags.Workers,
		Engine:  &mockmc.EngineOptions{SleepFor: flags.Sleep},
	}
	if flags.Verbose {
		opts.Log = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	loc := harness.NewLocal(opts)
	defer loc.Stop()

	var mu sync.Mutex
	var failure error
	loc.Client.OnFailure(func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if failure == nil {
			failure = err
		}
	})

	for _, key := range env.Args {
		want := expectFor(key)
		loc.Client.SendGet(key, want, timeout, func(st mockmc.CallStats) {
			mu.Lock()
			defer mu.Unlock()
			fmt.Printf("get %-20q %-10v %6d bytes  %v\n", key, want, st.ReplyBytes, st.Elapsed.Round(time.Microsecond))
		})
	}
	loc.Client.WaitForOutstanding(0)

	st := loc.Client.Stats()
	fmt.Printf("max pending %d, max inflight %d, sessions %d\n",
		st.MaxPending, st.MaxInflight, loc.Server.AcceptedConns())

	mu.Lock()
	defer mu.Unlock()
	return failure
}

// expectFor derives the result code a get for key should produce.
func expectFor(key string) mockmc.ResultCode {
	switch key {
	case "busy":
		return mockmc.CodeBusy
	case "sleep", "shutdown":
		return mockmc.CodeNotFound
	default:
		return mockmc.CodeFound
	}
}
