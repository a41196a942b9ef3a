package mockmc

import (
	"fmt"

	"github.com/creachadair/mds/value"
)

// A Kind identifies the operation requested by a cache call.
type Kind byte

const (
	KindGet     Kind = 1 // fetch the value for a key
	KindSet     Kind = 2 // store a value for a key
	KindVersion Kind = 3 // report the server version string
)

func (k Kind) String() string {
	switch k {
	case KindGet:
		return "GET"
	case KindSet:
		return "SET"
	case KindVersion:
		return "VERSION"
	default:
		return fmt.Sprintf("KIND:%d", byte(k))
	}
}

// A ResultCode describes the disposition of a completed cache call.
type ResultCode byte

const (
	CodeFound    ResultCode = 1 // the key was found and a value is attached
	CodeNotFound ResultCode = 2 // the key was not found
	CodeStored   ResultCode = 3 // the value was stored
	CodeOK       ResultCode = 4 // the call succeeded with no cache semantics
	CodeBusy     ResultCode = 5 // the server declined the call under load
)

// IsSuccess reports whether c represents a successful disposition.
// CodeBusy is the only failure code a mock reply can carry.
func (c ResultCode) IsSuccess() bool { return c != 0 && c != CodeBusy }

func (c ResultCode) String() string {
	switch c {
	case CodeFound:
		return "FOUND"
	case CodeNotFound:
		return "NOT_FOUND"
	case CodeStored:
		return "STORED"
	case CodeOK:
		return "OK"
	case CodeBusy:
		return "BUSY"
	default:
		return fmt.Sprintf("result code %d", byte(c))
	}
}

// A TraceID carries the two trace integers attached to a request.
// A zero TraceID means the request carries no trace metadata.
type TraceID struct {
	Hi, Lo uint64
}

// IsZero reports whether t carries no trace metadata.
func (t TraceID) IsZero() bool { return t == TraceID{} }

// String renders t in the "<hi>:<lo>" form used by trace-test replies.
func (t TraceID) String() string { return fmt.Sprintf("%d:%d", t.Hi, t.Lo) }

// A Request describes a single cache call from the client to the server.
// The Key is the sole dispatch signal for the mock response engine.
type Request struct {
	Kind  Kind
	Key   string
	Value []byte  // set calls only
	Trace TraceID // optional trace metadata
}

// String returns a human-friendly rendering of the request.
func (r Request) String() string {
	return fmt.Sprintf("Request(%v, Key=%q, Value=[%d bytes])", r.Kind, r.Key, len(r.Value))
}

// A Reply is the server's answer to a single Request.
type Reply struct {
	Result  ResultCode
	Value   []byte
	Message string // server-supplied detail, usually empty
}

// String returns a human-friendly rendering of the reply.
func (r Reply) String() string {
	val := string(r.Value)
	if len(val) > 16 {
		val = val[:16] + "..."
	}
	return fmt.Sprintf("Reply(%v, Value=%q%s)", r.Result, val,
		value.Cond(r.Message != "", ", Message="+r.Message, ""))
}

// A MessageType describes the role of a Message on a channel.
type MessageType byte

const (
	MsgRequest MessageType = 1 // a request awaiting a reply
	MsgReply   MessageType = 2 // the reply to a prior request
	MsgGoAway  MessageType = 3 // the server is shutting down this session
)

func (m MessageType) String() string {
	switch m {
	case MsgRequest:
		return "REQUEST"
	case MsgReply:
		return "REPLY"
	case MsgGoAway:
		return "GOAWAY"
	default:
		return fmt.Sprintf("TYPE:%d", byte(m))
	}
}

// A Message is the envelope exchanged between client and server on a
// Channel. Requests and replies are correlated by ID; a go-away carries
// neither payload.
type Message struct {
	ID      uint32
	Type    MessageType
	Request Request // valid when Type == MsgRequest
	Reply   Reply   // valid when Type == MsgReply
}

// String returns a human-friendly rendering of the message.
func (m *Message) String() string {
	var pay string
	switch m.Type {
	case MsgRequest:
		pay = m.Request.String()
	case MsgReply:
		pay = m.Reply.String()
	}
	if pay == "" {
		return fmt.Sprintf("Message(ID=%d, %v)", m.ID, m.Type)
	}
	return fmt.Sprintf("Message(ID=%d, %v, %s)", m.ID, m.Type, pay)
}
