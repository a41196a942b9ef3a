package mockmc

import (
	"fmt"
	"net"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creachadair/taskgroup"
)

// TestTraceID is the trace metadata a client attaches to "trace_id"
// requests, and the pair the mock engine echoes back for that key.
var TestTraceID = TraceID{Hi: 12345, Lo: 67890}

// versionCallTimeout bounds the synchronous send of a version probe.
const versionCallTimeout = 200 * time.Millisecond

// A DownReason explains why a client's channel went down.
type DownReason int

const (
	DownClosed         DownReason = 1 // the channel closed or failed
	DownServerGoneAway DownReason = 2 // the server announced a graceful exit
)

func (d DownReason) String() string {
	switch d {
	case DownClosed:
		return "closed"
	case DownServerGoneAway:
		return "server gone away"
	default:
		return fmt.Sprintf("down reason %d", int(d))
	}
}

// A Client is an asynchronous probe client for a mock cache server. Each
// submitted request runs as its own task that performs a synchronous
// send-and-wait against the channel, validates the reply against the
// expectation declared at submission, and aborts the harness on any
// divergence. The client keeps live pending/inflight accounting that tests
// can assert on.
//
// A zero-valued Client is ready for use, but must not be copied after any
// method has been called. Call Start with a channel to start the service
// routine; requests may be submitted once Start has returned.
type Client struct {
	in  interface{ Recv() (*Message, error) }
	out struct {
		// Must hold the lock to send to or set ch.
		sync.Mutex
		ch Channel
	}
	tasks *taskgroup.Group

	μ sync.Mutex

	err      error               // transport fatal error
	ocall    map[uint32]pending  // outbound calls awaiting replies
	nexto    uint32              // next unused outbound call ID
	goneAway bool                // the server sent a go-away

	outstanding atomic.Int64 // submitted tasks not yet completed
	stats       StatTracker

	onUp   func()
	onDown func(DownReason)
	abort  func(error)
}

// NewClient constructs a new unstarted client.
func NewClient() *Client { return new(Client) }

// Start starts the client's service routine on the given channel and
// invokes the connection-up callback, if one is set. Start does not block;
// call Wait to wait for the client to exit and report its status.
func (c *Client) Start(ch Channel) *Client {
	if c.in != nil {
		panic("client is already started")
	}

	g := taskgroup.New(nil)
	c.in = ch
	c.tasks = g
	c.out.ch = ch
	c.err = nil
	c.ocall = make(map[uint32]pending)
	c.nexto = 0
	c.goneAway = false

	g.Go(func() error {
		for {
			m, err := c.in.Recv()
			if err != nil {
				c.fail(err)
				return nil
			}
			c.dispatch(m)
		}
	})

	if c.onUp != nil {
		c.onUp()
	}
	return c
}

// Stop closes the channel and terminates the client. It blocks until all
// submitted tasks and the service routine have exited, and returns the
// client's status as Wait does.
func (c *Client) Stop() error { c.closeOut(); return c.Wait() }

// Wait blocks until the client terminates and reports the error that
// caused it to stop. A closed channel is reported as nil.
func (c *Client) Wait() error {
	c.μ.Lock()
	t := c.tasks
	c.μ.Unlock()
	if t == nil {
		return nil // the client is not running
	}
	t.Wait()

	c.μ.Lock()
	defer c.μ.Unlock()
	c.in = nil
	c.tasks = nil
	c.out.Lock()
	c.out.ch = nil
	c.out.Unlock()
	c.ocall = nil

	if treatErrorAsSuccess(c.err) {
		return nil
	}
	return c.err
}

// OnStatus registers callbacks invoked when the channel comes up (at Start)
// and when it goes down, with the reason for the disconnect. Either may be
// nil. OnStatus returns c to permit chaining.
func (c *Client) OnStatus(up func(), down func(DownReason)) *Client {
	c.μ.Lock()
	defer c.μ.Unlock()
	c.onUp = up
	c.onDown = down
	return c
}

// OnFailure registers a hook invoked with the error for any expectation
// mismatch or transport failure. If no hook is registered, failures panic.
// OnFailure returns c to permit chaining.
func (c *Client) OnFailure(f func(error)) *Client {
	c.μ.Lock()
	defer c.μ.Unlock()
	c.abort = f
	return c
}

// OnRequestStats registers a callback invoked with the counter diffs of
// every pending/inflight transition. OnRequestStats returns c to permit
// chaining.
func (c *Client) OnRequestStats(f func(pendingDiff, inflightDiff int64)) *Client {
	c.stats.OnApply(f)
	return c
}

// Stats returns a snapshot of the client's concurrency counters.
func (c *Client) Stats() Stats { return c.stats.Snapshot() }

// Outstanding reports the number of submitted tasks not yet completed.
func (c *Client) Outstanding() int { return int(c.outstanding.Load()) }

// SendGet submits a get for key expecting the given result code. When the
// reply is a found-reply, the value is also validated against the shape the
// key implies. If statsFn != nil it is invoked with the per-call stats
// before validation.
func (c *Client) SendGet(key string, want ResultCode, timeout time.Duration, statsFn func(CallStats)) {
	req := Request{Kind: KindGet, Key: key}
	if key == "trace_id" {
		req.Trace = TestTraceID
	}
	c.submit(req, expectation{result: want, check: checkGetValue, timeout: timeout}, statsFn)
}

// SendSet submits a set for key expecting the given result code. Only the
// result code of the reply is validated.
func (c *Client) SendSet(key string, value []byte, want ResultCode, timeout time.Duration, statsFn func(CallStats)) {
	req := Request{Kind: KindSet, Key: key, Value: value}
	c.submit(req, expectation{result: want, timeout: timeout}, statsFn)
}

// SendVersion submits a version probe expecting an ok reply carrying
// exactly wantVersion.
func (c *Client) SendVersion(wantVersion string) {
	check := func(req Request, rep Reply) error {
		if got := string(rep.Value); got != wantVersion {
			return fmt.Errorf("version %q, want %q", got, wantVersion)
		}
		return nil
	}
	c.submit(Request{Kind: KindVersion},
		expectation{result: CodeOK, check: check, timeout: versionCallTimeout}, nil)
}

// WaitForOutstanding cooperatively yields until the number of outstanding
// submitted tasks is at most target. It does not give up early: it keeps
// yielding as long as the count exceeds target, bounded only by call
// timeouts firing and aborting the run. When target == 0 it additionally
// asserts that both concurrency counters have returned to exactly zero.
func (c *Client) WaitForOutstanding(target int) {
	for int(c.outstanding.Load()) > target {
		runtime.Gosched()
	}
	if target == 0 {
		c.stats.RequireQuiescent()
	}
}

// An expectation describes what a submitted request's reply must look
// like: a required result code, an optional value check consumed when the
// reply arrives, and the timeout for the synchronous send.
type expectation struct {
	result  ResultCode
	check   func(Request, Reply) error // nil when only the result is checked
	timeout time.Duration
}

func (e expectation) validate(req Request, rep Reply) error {
	if e.check != nil && rep.Result.IsSuccess() {
		if err := e.check(req, rep); err != nil {
			return err
		}
	}
	if rep.Result != e.result {
		return fmt.Errorf("result %v, want %v (server message %q)",
			rep.Result, e.result, rep.Message)
	}
	return nil
}

// checkGetValue validates a found-reply's value against the expectation
// implied by the request key.
func checkGetValue(req Request, rep Reply) error {
	if rep.Result != CodeFound {
		return nil
	}
	value := rep.Value
	switch {
	case req.Key == "empty":
		if len(value) != 0 {
			return fmt.Errorf("expected empty value, got %d bytes", len(value))
		}
	case strings.HasPrefix(req.Key, "value_size:"):
		n, err := strconv.Atoi(strings.TrimPrefix(req.Key, "value_size:"))
		if err != nil || n < 0 {
			panic(fmt.Sprintf("client: malformed value size in key %q", req.Key))
		}
		if len(value) != n {
			return fmt.Errorf("expected value of size %d, got %d", n, len(value))
		}
	case req.Key == "trace_id":
		if want := req.Trace.String(); string(value) != want {
			return fmt.Errorf("expected value to equal trace ID %q, got %q", want, value)
		}
	default:
		if string(value) != req.Key {
			return fmt.Errorf("expected %q, got %q", req.Key, value)
		}
	}
	return nil
}

// submit schedules a new task for req. The task holds one unit of
// outstanding work from submission to completion, released exactly once on
// every path.
func (c *Client) submit(req Request, exp expectation, statsFn func(CallStats)) {
	c.μ.Lock()
	t := c.tasks
	c.μ.Unlock()
	if t == nil {
		panic("client is not started")
	}

	c.outstanding.Add(1)
	t.Go(func() error {
		defer c.outstanding.Add(-1)

		rep, st, err := c.call(req, exp.timeout)
		if err != nil {
			c.failf("%v %q: %v", req.Kind, req.Key, err)
			return nil
		}
		if statsFn != nil {
			statsFn(st)
		}
		if err := exp.validate(req, rep); err != nil {
			c.failf("%v %q: %v", req.Kind, req.Key, err)
		}
		return nil
	})
}

// call performs a synchronous send-and-wait for req, suspending the
// calling task until the reply arrives or the timeout fires. The counters
// move (+1,0) at submission, (-1,+1) once the request is on the channel,
// and (0,-1) exactly once at completion.
func (c *Client) call(req Request, timeout time.Duration) (Reply, CallStats, error) {
	metrics.callOut.Add(1)

	c.μ.Lock()
	if err := c.err; err != nil {
		c.μ.Unlock()
		metrics.callOutErr.Add(1)
		return Reply{}, CallStats{}, err
	}
	c.nexto++
	id := c.nexto
	pc := make(pending, 1)
	c.ocall[id] = pc
	c.μ.Unlock()

	c.stats.Apply(+1, 0)
	start := time.Now()
	err := c.send(&Message{ID: id, Type: MsgRequest, Request: req})
	if err != nil {
		c.remove(id)
		c.stats.Apply(-1, 0)
		metrics.callOutErr.Add(1)
		return Reply{}, CallStats{}, err
	}
	c.stats.Apply(-1, +1)

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case m, ok := <-pc:
		if !ok {
			c.stats.Apply(0, -1) // the call was inflight when the channel failed
			metrics.callOutErr.Add(1)
			return Reply{}, CallStats{}, fmt.Errorf("call terminated: %w", c.lastErr())
		}
		c.stats.Apply(0, -1)
		return m.Reply, CallStats{Elapsed: time.Since(start), ReplyBytes: len(m.Reply.Value)}, nil

	case <-t.C:
		if c.remove(id) {
			c.stats.Apply(0, -1)
			metrics.callTimeout.Add(1)
			return Reply{}, CallStats{}, fmt.Errorf("timed out after %v", timeout)
		}
		// The reply raced the timer and has already been delivered.
		m, ok := <-pc
		if !ok {
			c.stats.Apply(0, -1)
			metrics.callOutErr.Add(1)
			return Reply{}, CallStats{}, fmt.Errorf("call terminated: %w", c.lastErr())
		}
		c.stats.Apply(0, -1)
		return m.Reply, CallStats{Elapsed: time.Since(start), ReplyBytes: len(m.Reply.Value)}, nil
	}
}

// dispatch routes an inbound message from the server.
func (c *Client) dispatch(m *Message) {
	switch m.Type {
	case MsgReply:
		c.μ.Lock()
		pc, ok := c.ocall[m.ID]
		if ok {
			delete(c.ocall, m.ID)
		}
		c.μ.Unlock()
		if !ok {
			return // silently discard a reply for an unknown call ID
		}
		pc.deliver(m) // the calling task settles the inflight counter

	case MsgGoAway:
		c.μ.Lock()
		c.goneAway = true
		c.μ.Unlock()
	}
	// Stray requests from the server are ignored.
}

// fail terminates all pending calls, records the failure status, and
// invokes the connection-down callback.
func (c *Client) fail(err error) {
	c.closeOut()

	c.μ.Lock()
	for _, pc := range c.ocall {
		pc.close()
	}
	c.ocall = make(map[uint32]pending)
	c.err = err
	reason := DownClosed
	if c.goneAway {
		reason = DownServerGoneAway
	}
	down := c.onDown
	c.μ.Unlock()

	if down != nil {
		down(reason)
	}
}

// failf reports a harness failure through the abort hook. The default hook
// panics: a failed expectation invalidates the whole run.
func (c *Client) failf(msg string, args ...any) {
	err := fmt.Errorf(msg, args...)
	c.μ.Lock()
	abort := c.abort
	c.μ.Unlock()
	if abort == nil {
		panic(err)
	}
	abort(err)
}

// remove releases the call state for id, reporting whether it was present.
func (c *Client) remove(id uint32) bool {
	c.μ.Lock()
	defer c.μ.Unlock()
	if _, ok := c.ocall[id]; ok {
		delete(c.ocall, id)
		return true
	}
	return false
}

func (c *Client) lastErr() error {
	c.μ.Lock()
	defer c.μ.Unlock()
	return c.err
}

func (c *Client) send(m *Message) error {
	c.out.Lock()
	defer c.out.Unlock()
	if c.out.ch == nil {
		return net.ErrClosed
	}
	return c.out.ch.Send(m)
}

func (c *Client) closeOut() {
	c.out.Lock()
	defer c.out.Unlock()
	if c.out.ch != nil {
		c.out.ch.Close()
	}
}

type pending chan *Message

func (p pending) close() {
	if p != nil {
		close(p)
	}
}

func (p pending) deliver(m *Message) {
	if p != nil {
		p <- m
		close(p)
	}
}
