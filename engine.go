package mockmc

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/eapache/queue"
)

// DefaultVersion is the version string reported by an engine whose options
// do not override it.
const DefaultVersion = "MockMC/1.0"

// A RequestContext delivers the reply for a single inbound request. Each
// context delivers exactly one reply; attempting a second delivery panics.
type RequestContext struct {
	mu   sync.Mutex
	done bool
	send func(Reply) error
}

// NewRequestContext returns a context that delivers its reply through send.
func NewRequestContext(send func(Reply) error) *RequestContext {
	return &RequestContext{send: send}
}

// Reply delivers rep to the requester. It panics if a reply has already
// been delivered on this context.
func (c *RequestContext) Reply(rep Reply) error {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		panic("request context: reply already delivered")
	}
	c.done = true
	c.mu.Unlock()
	return c.send(rep)
}

// EngineOptions are optional settings for an Engine. A nil *EngineOptions
// is ready for use and provides defaults.
type EngineOptions struct {
	// The time a "sleep" request blocks its handling goroutine before
	// replying. If zero, use 1 second.
	SleepFor time.Duration

	// The version string reported for version requests.
	// If empty, use DefaultVersion.
	Version string
}

func (o *EngineOptions) sleepFor() time.Duration {
	if o == nil || o.SleepFor <= 0 {
		return 1 * time.Second
	}
	return o.SleepFor
}

func (o *EngineOptions) version() string {
	if o == nil || o.Version == "" {
		return DefaultVersion
	}
	return o.Version
}

// An Engine is a mock response engine: a test double standing in for a real
// cache server, whose behavior is driven entirely by the literal content of
// each request key. It holds no data; every reply is computed from the key.
//
// An engine is safe for concurrent use. The held-reply queue and the
// shutdown trigger are the only state shared across requests.
type Engine struct {
	shutdown *Trigger
	sleepFor time.Duration
	version  string

	mu   sync.Mutex
	held *queue.Queue // of deferredReply, FIFO
}

// A deferredReply is a reply computed but not yet delivered, released later
// by an explicit trigger. It owns its request context until invoked.
type deferredReply func() error

// NewEngine constructs an engine whose "shutdown" key posts the given
// trigger. If shutdown == nil, the engine creates its own trigger.
func NewEngine(shutdown *Trigger, opts *EngineOptions) *Engine {
	if shutdown == nil {
		shutdown = NewTrigger()
	}
	return &Engine{
		shutdown: shutdown,
		sleepFor: opts.sleepFor(),
		version:  opts.version(),
		held:     queue.New(),
	}
}

// Shutdown returns the trigger posted by the engine's "shutdown" key.
func (e *Engine) Shutdown() *Trigger { return e.shutdown }

// Version returns the version string the engine reports for version requests.
func (e *Engine) Version() string { return e.version }

// A getRule pairs a key predicate with the behavior it selects.
type getRule struct {
	match func(key string) bool
	serve func(e *Engine, ctx *RequestContext, req Request) error
}

func matchKey(want string) func(string) bool {
	return func(key string) bool { return key == want }
}

func matchPrefix(prefix string) func(string) bool {
	return func(key string) bool { return strings.HasPrefix(key, prefix) }
}

func matchAny(string) bool { return true }

// getRules is the dispatch table for get requests, evaluated in order with
// the first match winning. The order is load-bearing: "hold" and "flush"
// must be classified before the computed-value fallthrough, and the final
// rule matches everything.
var getRules = []getRule{
	{matchKey("sleep"), (*Engine).serveSleep},
	{matchKey("shutdown"), (*Engine).serveShutdown},
	{matchKey("busy"), (*Engine).serveBusy},
	{matchKey("hold"), (*Engine).serveHold},
	{matchKey("flush"), (*Engine).serveFlush},
	{matchKey("empty"), (*Engine).serveValue},
	{matchPrefix("value_size:"), (*Engine).serveValue},
	{matchKey("trace_id"), (*Engine).serveValue},
	{matchAny, (*Engine).serveValue},
}

// ServeGet handles a get request, selecting its behavior from the request
// key. Except for "hold", exactly one reply is delivered on ctx before
// ServeGet returns; a "hold" request's reply stays in the held queue until
// a later "flush" or "shutdown" releases it.
func (e *Engine) ServeGet(ctx *RequestContext, req Request) error {
	metrics.requestsIn.Add(1)
	for _, rule := range getRules {
		if rule.match(req.Key) {
			return rule.serve(e, ctx, req)
		}
	}
	panic("unreachable: no rule matched") // the last rule matches any key
}

// ServeSet handles a set request. Every set is acknowledged as stored.
func (e *Engine) ServeSet(ctx *RequestContext, req Request) error {
	metrics.requestsIn.Add(1)
	return ctx.Reply(Reply{Result: CodeStored})
}

// ServeVersion handles a version request with the configured version string.
func (e *Engine) ServeVersion(ctx *RequestContext, req Request) error {
	metrics.requestsIn.Add(1)
	return ctx.Reply(Reply{Result: CodeOK, Value: []byte(e.version)})
}

func (e *Engine) serveSleep(ctx *RequestContext, req Request) error {
	time.Sleep(e.sleepFor) // blocks this handling goroutine only
	return ctx.Reply(Reply{Result: CodeNotFound})
}

func (e *Engine) serveShutdown(ctx *RequestContext, req Request) error {
	e.shutdown.Set()
	metrics.shutdowns.Add(1)
	err := ctx.Reply(Reply{Result: CodeNotFound})
	if rerr := e.ReleaseHeld(); err == nil {
		err = rerr
	}
	return err
}

func (e *Engine) serveBusy(ctx *RequestContext, req Request) error {
	return ctx.Reply(Reply{Result: CodeBusy})
}

func (e *Engine) serveHold(ctx *RequestContext, req Request) error {
	rep := Reply{Result: CodeFound, Value: valueForKey(req)}
	e.mu.Lock()
	e.held.Add(deferredReply(func() error { return ctx.Reply(rep) }))
	e.mu.Unlock()
	metrics.repliesHeld.Add(1)
	return nil
}

func (e *Engine) serveFlush(ctx *RequestContext, req Request) error {
	err := ctx.Reply(Reply{Result: CodeFound, Value: valueForKey(req)})
	if rerr := e.ReleaseHeld(); err == nil {
		err = rerr
	}
	return err
}

func (e *Engine) serveValue(ctx *RequestContext, req Request) error {
	return ctx.Reply(Reply{Result: CodeFound, Value: valueForKey(req)})
}

// ReleaseHeld delivers all currently held replies in the order they were
// enqueued and empties the queue. Releasing an empty queue is a no-op.
// If any delivery fails, the first error is reported after all entries
// have been released.
func (e *Engine) ReleaseHeld() error {
	e.mu.Lock()
	rels := make([]deferredReply, 0, e.held.Length())
	for e.held.Length() > 0 {
		rels = append(rels, e.held.Remove().(deferredReply))
	}
	e.mu.Unlock()

	var err error
	for _, rel := range rels {
		metrics.heldReleased.Add(1)
		if rerr := rel(); err == nil {
			err = rerr
		}
	}
	return err
}

// HeldCount reports the number of replies currently held.
func (e *Engine) HeldCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.held.Length()
}

// valueForKey computes the reply value a found-reply carries for req.
// A malformed "value_size:" suffix is a caller contract violation and
// panics rather than producing a protocol error.
func valueForKey(req Request) []byte {
	key := req.Key
	switch {
	case strings.HasPrefix(key, "value_size:"):
		n, err := strconv.Atoi(strings.TrimPrefix(key, "value_size:"))
		if err != nil || n < 0 {
			panic(fmt.Sprintf("engine: malformed value size in key %q", key))
		}
		return bytes.Repeat([]byte{'a'}, n)
	case key == "trace_id":
		return []byte(req.Trace.String())
	case key == "empty":
		return nil
	default:
		return []byte(key)
	}
}
