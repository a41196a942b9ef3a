// Package harness provides support code for wiring a mock cache server and
// probe clients together in memory, for tests and tools.
package harness

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cachelab/mockmc"
	"github.com/cachelab/mockmc/channel"
)

// Options are optional settings for a Local pair. A nil *Options is ready
// for use and provides defaults.
type Options struct {
	Workers int                    // accept workers for the server (0 means 1)
	Engine  *mockmc.EngineOptions  // engine settings for server sessions
	Log     *slog.Logger           // server logging, disabled if nil
}

// A Local is an in-memory server with one or more connected probe clients,
// suitable for testing. The Client field holds the first client; use Dial
// to connect more.
type Local struct {
	Server *mockmc.Server
	Client *mockmc.Client

	queue   *mockmc.ChannelQueue
	cancel  context.CancelFunc
	srvDone chan error

	mu      sync.Mutex
	clients []*mockmc.Client
}

// NewLocal starts a server on an in-memory channel queue and connects one
// client to it.
func NewLocal(opts *Options) *Local {
	srv := mockmc.NewServer(nil)
	if opts != nil {
		srv.Workers = opts.Workers
		srv.EngineOptions = opts.Engine
		srv.Log = opts.Log
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Local{
		Server:  srv,
		queue:   mockmc.NewChannelQueue(),
		cancel:  cancel,
		srvDone: make(chan error, 1),
	}
	go func() { l.srvDone <- srv.Run(ctx, l.queue) }()

	l.Client = l.Dial()
	return l
}

// Dial connects a new client to the server over a fresh session and
// returns it. The client is stopped along with the pair by Stop.
func (l *Local) Dial() *mockmc.Client {
	a, b := channel.Direct()
	if err := l.queue.Push(b); err != nil {
		panic("harness: server is not accepting: " + err.Error())
	}
	c := mockmc.NewClient().Start(a)
	l.mu.Lock()
	l.clients = append(l.clients, c)
	l.mu.Unlock()
	return c
}

// Stop shuts down the clients and the server and blocks until all have
// exited, reporting the first error observed.
func (l *Local) Stop() error {
	l.mu.Lock()
	clients := l.clients
	l.clients = nil
	l.mu.Unlock()

	var firstErr error
	for _, c := range clients {
		if err := c.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.queue.Close()
	l.cancel()
	if err := <-l.srvDone; err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
