// Package channel provides implementations of the mockmc.Channel interface.
package channel

import (
	"net"

	"github.com/cachelab/mockmc"
)

// Direct constructs a connected pair of in-memory channels that pass
// messages directly without encoding. Messages sent to A are received by B
// and vice versa.
func Direct() (A, B mockmc.Channel) {
	a2b := make(chan *mockmc.Message)
	b2a := make(chan *mockmc.Message)
	A = direct{a2b: a2b, b2a: b2a}
	B = direct{a2b: b2a, b2a: a2b}
	return
}

type direct struct {
	a2b chan<- *mockmc.Message
	b2a <-chan *mockmc.Message
}

// Send implements a method of the [mockmc.Channel] interface.
func (d direct) Send(m *mockmc.Message) (err error) {
	defer safeClose(&err)
	d.a2b <- m
	return nil
}

// Recv implements a method of the [mockmc.Channel] interface.
func (d direct) Recv() (*mockmc.Message, error) {
	m, ok := <-d.b2a
	if !ok {
		return nil, net.ErrClosed
	}
	return m, nil
}

// Close implements a method of the [mockmc.Channel] interface.
func (d direct) Close() (err error) {
	defer safeClose(&err)
	close(d.a2b)
	return nil
}

func safeClose(err *error) {
	if x := recover(); x != nil && *err == nil {
		*err = net.ErrClosed
	}
}
