// Package mockmc implements a deterministic test harness for a key-value
// cache request/reply protocol.
//
// The harness has two independent halves, connected only by a [Channel]:
// a mock server whose replies are driven entirely by the literal content
// of each request key, and an asynchronous probe client that validates
// replies against declared expectations and keeps live concurrency
// accounting. Neither half stores any data; the point is to script
// failure, latency, and ordering scenarios without a real backing store.
//
// # Engines
//
// An [Engine] classifies each get request's key against a fixed, ordered
// rule table. Most keys produce an immediate found-reply whose value is
// computed from the key ("empty", "value_size:N", "trace_id", or the key
// itself). A few keys select special behavior: "sleep" stalls the handling
// goroutine before replying not-found, "busy" replies busy, "hold" parks
// the computed reply in a FIFO held queue instead of delivering it, and
// "flush" and "shutdown" release everything held. "shutdown" additionally
// posts a one-shot [Trigger] shared with the hosting [Server].
//
// Set requests are always acknowledged as stored, and version requests
// report a fixed version string; neither consults the key.
//
// # Servers
//
// A [Server] hosts one engine per accepted session. Sessions arrive
// through an [Accepter]; the in-memory [ChannelQueue] is the only
// implementation provided, since the harness deliberately has no real
// network transport. When the shutdown trigger posts, the server sends a
// go-away on every live session and drains.
//
// # Clients
//
// A [Client] submits each request as its own task:
//
//	c := mockmc.NewClient().Start(ch)
//	c.SendGet("value_size:10", mockmc.CodeFound, time.Second, nil)
//	c.WaitForOutstanding(0)
//
// The task performs a synchronous send-and-wait against the channel, then
// validates the reply. Any expectation mismatch or transport failure is
// fatal: the harness exists to fail loudly on the first divergence. While
// calls run, the client maintains pending and inflight counters with
// high-water marks; [Client.WaitForOutstanding] with a target of zero
// asserts that both have returned exactly to zero, which catches paired
// increment/decrement bugs in the accounting.
//
// The harness package wires a server and clients together in memory for
// tests.
package mockmc
