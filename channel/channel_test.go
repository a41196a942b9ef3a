package channel_test

import (
	"errors"
	"net"
	"testing"

	"github.com/cachelab/mockmc"
	"github.com/cachelab/mockmc/channel"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
)

func TestDirect(t *testing.T) {
	defer leaktest.Check(t)()

	a, b := channel.Direct()

	// Messages pass in both directions without copying.
	req := &mockmc.Message{ID: 1, Type: mockmc.MsgRequest,
		Request: mockmc.Request{Kind: mockmc.KindGet, Key: "probe"}}
	rep := &mockmc.Message{ID: 1, Type: mockmc.MsgReply,
		Reply: mockmc.Reply{Result: mockmc.CodeFound, Value: []byte("probe")}}

	go func() {
		if err := a.Send(req); err != nil {
			t.Errorf("A send: unexpected error: %v", err)
		}
	}()
	got, err := b.Recv()
	if err != nil {
		t.Fatalf("B recv: unexpected error: %v", err)
	}
	if got != req {
		t.Errorf("B recv: got %v, want %v", got, req)
	}
	if diff := cmp.Diff(got.Request, req.Request); diff != "" {
		t.Errorf("Request (-got, +want):\n%s", diff)
	}

	go func() {
		if err := b.Send(rep); err != nil {
			t.Errorf("B send: unexpected error: %v", err)
		}
	}()
	if got, err := a.Recv(); err != nil || got != rep {
		t.Errorf("A recv: got %v, %v; want %v, nil", got, err, rep)
	}
}

func TestDirectClose(t *testing.T) {
	defer leaktest.Check(t)()

	a, b := channel.Direct()

	if err := a.Close(); err != nil {
		t.Errorf("First close: unexpected error: %v", err)
	}
	if err := a.Close(); !errors.Is(err, net.ErrClosed) {
		t.Errorf("Second close: got %v, want %v", err, net.ErrClosed)
	}

	// The far end observes the close on receive, and sends back into the
	// closed direction fail cleanly.
	if m, err := b.Recv(); !errors.Is(err, net.ErrClosed) {
		t.Errorf("B recv after close: got %v, %v; want %v", m, err, net.ErrClosed)
	}
	if err := a.Send(&mockmc.Message{Type: mockmc.MsgGoAway}); !errors.Is(err, net.ErrClosed) {
		t.Errorf("A send after close: got %v, want %v", err, net.ErrClosed)
	}
}
