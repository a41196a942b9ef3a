package mockmc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/creachadair/taskgroup"
	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map"
)

// An Accepter hands out channels for new server sessions.
type Accepter interface {
	// Accept blocks until a new channel is available, ctx ends, or the
	// accepter is closed. A closed accepter reports net.ErrClosed.
	Accept(context.Context) (Channel, error)
}

// A ChannelQueue is an in-memory Accepter: channels pushed by one goroutine
// are handed to accept workers in arrival order.
type ChannelQueue struct {
	ch   chan Channel
	done chan struct{}
	once sync.Once
}

// NewChannelQueue constructs a new open channel queue.
func NewChannelQueue() *ChannelQueue {
	return &ChannelQueue{ch: make(chan Channel), done: make(chan struct{})}
}

// Push delivers ch to an accept worker, blocking until one takes it.
// It reports net.ErrClosed if the queue has been closed.
func (q *ChannelQueue) Push(ch Channel) error {
	select {
	case q.ch <- ch:
		return nil
	case <-q.done:
		return net.ErrClosed
	}
}

// Accept implements the Accepter interface.
func (q *ChannelQueue) Accept(ctx context.Context) (Channel, error) {
	select {
	case ch := <-q.ch:
		return ch, nil
	case <-q.done:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes the queue, releasing all pending and future Push and Accept
// calls. It never reports an error.
func (q *ChannelQueue) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}

// A Server hosts mock response engines. A fixed number of accept workers
// pull channels from an Accepter; each accepted channel becomes a session
// served by a fresh engine, with all engines sharing the server's shutdown
// trigger. Configuration fields must be set before Run is called.
type Server struct {
	// The number of concurrent accept workers. If zero, use 1.
	Workers int

	// Engine settings applied to each session's engine. May be nil.
	EngineOptions *EngineOptions

	// If non-nil, the server logs session lifecycle events here.
	Log *slog.Logger

	// If non-nil, called with the session ID of each accepted session.
	OnAccept func(sessionID string)

	shutdown *Trigger
	sessions cmap.ConcurrentMap // session ID → *session
	accepted atomic.Int64
}

// NewServer constructs a server whose sessions post the given shutdown
// trigger when they serve a "shutdown" key. If shutdown == nil, the server
// creates its own trigger.
func NewServer(shutdown *Trigger) *Server {
	if shutdown == nil {
		shutdown = NewTrigger()
	}
	return &Server{shutdown: shutdown, sessions: cmap.New()}
}

// Shutdown returns the trigger shared by all of the server's engines.
func (s *Server) Shutdown() *Trigger { return s.shutdown }

// AcceptedConns reports the number of sessions accepted so far.
func (s *Server) AcceptedConns() int64 { return s.accepted.Load() }

// NumSessions reports the number of currently live sessions.
func (s *Server) NumSessions() int { return s.sessions.Count() }

// Run accepts and serves sessions from acc until ctx ends, the shutdown
// trigger posts, or acc closes. When the trigger posts, every live session
// is sent a go-away and closed. When acc closes, Run waits for the
// remaining sessions to finish before returning.
func (s *Server) Run(ctx context.Context, acc Accepter) error {
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-s.shutdown.Ready():
			s.logInfo("shutdown signaled, draining sessions")
			s.closeSessions(true)
			cancel()
		case <-rctx.Done():
			s.closeSessions(false)
		}
	}()

	g := taskgroup.New(nil)
	var mu sync.Mutex
	var firstErr error
	for range max(s.Workers, 1) {
		g.Go(func() error {
			if err := s.acceptLoop(rctx, acc, g); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				cancel()
			}
			return nil
		})
	}
	g.Wait()
	return firstErr
}

func (s *Server) acceptLoop(ctx context.Context, acc Accepter, g *taskgroup.Group) error {
	for {
		ch, err := acc.Accept(ctx)
		if err != nil {
			if treatErrorAsSuccess(err) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		sess := s.newSession(ch)
		g.Go(sess.serve)
	}
}

func (s *Server) newSession(ch Channel) *session {
	sess := &session{
		id:  uuid.NewString(),
		ch:  ch,
		eng: NewEngine(s.shutdown, s.EngineOptions),
		srv: s,
	}
	s.sessions.Set(sess.id, sess)
	s.accepted.Add(1)
	metrics.sessions.Add(1)
	s.logInfo("session accepted", "session", sess.id)
	if s.OnAccept != nil {
		s.OnAccept(sess.id)
	}
	return sess
}

// closeSessions closes every live session. On the graceful path each
// session gets a go-away and is allowed to finish the request it is
// currently serving, so the reply that triggered the shutdown still
// reaches its caller before the channel closes.
func (s *Server) closeSessions(goAway bool) {
	for item := range s.sessions.IterBuffered() {
		sess := item.Val.(*session)
		if goAway {
			sess.drain()
		} else {
			sess.ch.Close()
		}
	}
}

func (s *Server) logInfo(msg string, args ...any) {
	if s.Log != nil {
		s.Log.Info(msg, args...)
	}
}

// A session serves one accepted channel with its own engine. Requests are
// handled in arrival order, so a "sleep" key stalls only this session.
type session struct {
	id  string
	ch  Channel
	eng *Engine
	srv *Server

	out  sync.Mutex // serializes sends on ch
	busy sync.Mutex // held while a request is being served
}

func (c *session) serve() error {
	defer c.srv.sessions.Remove(c.id)
	defer c.ch.Close() // release the peer's receive loop
	for {
		m, err := c.ch.Recv()
		if err != nil {
			if !treatErrorAsSuccess(err) {
				c.srv.logInfo("session receive failed", "session", c.id, "err", err)
			}
			return nil // a failed session does not fail the server
		}
		if m.Type != MsgRequest {
			continue // ignore stray non-request traffic
		}
		c.busy.Lock()
		err = c.dispatch(m)
		c.busy.Unlock()
		if err != nil {
			c.srv.logInfo("request failed", "session", c.id, "id", m.ID, "err", err)
		}
	}
}

func (c *session) dispatch(m *Message) error {
	id := m.ID
	rctx := NewRequestContext(func(rep Reply) error {
		return c.send(&Message{ID: id, Type: MsgReply, Reply: rep})
	})
	switch m.Request.Kind {
	case KindGet:
		return c.eng.ServeGet(rctx, m.Request)
	case KindSet:
		return c.eng.ServeSet(rctx, m.Request)
	case KindVersion:
		return c.eng.ServeVersion(rctx, m.Request)
	default:
		return fmt.Errorf("unknown request kind %v", m.Request.Kind)
	}
}

func (c *session) send(m *Message) error {
	c.out.Lock()
	defer c.out.Unlock()
	return c.ch.Send(m)
}

// drain announces a graceful exit, waits for any request currently being
// served to finish, and closes the channel.
func (c *session) drain() {
	// Best effort: the session may already be gone.
	c.send(&Message{Type: MsgGoAway})
	c.busy.Lock()
	//lint:ignore SA2001 the lock is a barrier for the in-flight dispatch
	c.busy.Unlock()
	c.ch.Close()
}

func treatErrorAsSuccess(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
