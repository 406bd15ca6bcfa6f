// Package transport defines the narrow interface between queues and the channel that
// actually moves bytes: a socket, an io_uring backed socket or a kernel-bypass flow.
package transport

import (
	"net/netip"

	"github.com/brickingsoft/errors"
)

var (
	ErrClosed          = errors.Define("use of closed binding")
	ErrNotConnected    = errors.Define("binding is not connected")
	ErrUnsupported     = errors.Define("unsupported binding kind or family")
	ErrMessageTooLarge = errors.Define("message too large")
	ErrUnknownBackend  = errors.Define("unknown transport backend")
)

func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}

func IsUnsupported(err error) bool {
	return errors.Is(err, ErrUnsupported)
}

// Kind is the delivery model of a binding.
type Kind int

const (
	Datagram Kind = iota + 1
	Stream
)

func (k Kind) String() string {
	switch k {
	case Datagram:
		return "datagram"
	case Stream:
		return "stream"
	default:
		return "unknown"
	}
}

// Disposition tells the caller of Send whether the payload left synchronously.
type Disposition int

const (
	// Accepted means the whole payload was taken; no completion will follow.
	Accepted Disposition = iota
	// Deferred means a Completion carrying the same id will be delivered from Poll.
	Deferred
)

func (d Disposition) String() string {
	if d == Accepted {
		return "accepted"
	}
	return "deferred"
}

// Completion reports the outcome of a Deferred send.
type Completion struct {
	ID  uint64
	N   int
	Err error
}

type CompletionCallback func(c Completion)

// Binding is one channel. Implementations are safe for concurrent use, deliver Deferred
// sends to the wire in submission order, and only invoke the completion callback from Poll.
type Binding interface {
	// Send transmits payload to to, or to the connected peer when to is the zero value.
	// The binding keeps a reference to payload until the matching Completion when Deferred.
	Send(id uint64, payload []byte, to netip.AddrPort) (Disposition, error)
	// TryReceive copies one pending message into p without blocking.
	TryReceive(p []byte) (n int, from netip.AddrPort, ok bool, err error)
	RegisterCompletionCallback(cb CompletionCallback)
	// Poll makes progress on deferred work and delivers completions.
	Poll() error
	Bind(addr netip.AddrPort) error
	Connect(addr netip.AddrPort) error
	LocalAddr() netip.AddrPort
	RemoteAddr() netip.AddrPort
	// MaxPayload is the largest payload a single Send accepts.
	MaxPayload() int
	Kind() Kind
	Close() error
}

// Backend creates bindings. family is AF_INET or AF_INET6.
type Backend interface {
	Name() string
	Open(kind Kind, family int) (Binding, error)
	Close() error
}
