//go:build linux

// Package uring submits datagram sends through an io_uring submission queue and reports
// them from the completion queue. Receives, binding and connecting stay on the underlying
// non-blocking socket.
package uring

import (
	"net/netip"
	"sync"
	"syscall"
	"unsafe"

	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/zeus/pkg/sys"
	"github.com/brickingsoft/zeus/pkg/transport"
	"github.com/brickingsoft/zeus/pkg/transport/socket"
	"github.com/eapache/queue"
	"github.com/pawelgaczynski/giouring"
)

const (
	Name = "uring"

	DefaultEntries = 64
)

var ErrSubmit = errors.Define("io_uring submission failed")

type Options struct {
	Entries uint32
	Socket  socket.Options
}

type Backend struct {
	options Options
	streams *socket.Backend
}

// New probes io_uring by creating and tearing down one ring.
func New(options Options) (*Backend, error) {
	if options.Entries == 0 {
		options.Entries = DefaultEntries
	}
	r, err := giouring.CreateRing(options.Entries)
	if err != nil {
		return nil, errors.New("create ring failed", errors.WithWrap(err))
	}
	r.QueueExit()
	return &Backend{
		options: options,
		streams: socket.New(options.Socket),
	}, nil
}

func (backend *Backend) Name() string {
	return Name
}

// Open returns a ring-backed binding for datagrams. Stream bindings are plain sockets.
func (backend *Backend) Open(kind transport.Kind, family int) (transport.Binding, error) {
	if kind == transport.Stream {
		return backend.streams.Open(kind, family)
	}
	fd, err := socket.Open(kind, family)
	if err != nil {
		return nil, err
	}
	r, ringErr := giouring.CreateRing(backend.options.Entries)
	if ringErr != nil {
		_ = syscall.Close(fd)
		return nil, errors.New("create ring failed", errors.WithWrap(ringErr))
	}
	return &Binding{
		Binding: socket.NewBinding(fd, kind, family, backend.options.Socket),
		ring:    r,
		backlog: queue.New(),
		cqes:    make([]*giouring.CompletionQueueEvent, backend.options.Entries),
	}, nil
}

func (backend *Backend) Close() error {
	return nil
}

// sendOp pins everything the kernel reads until its completion arrives.
type sendOp struct {
	id      uint64
	payload []byte
	to      netip.AddrPort
	msg     syscall.Msghdr
	iov     syscall.Iovec
	name    *syscall.RawSockaddrAny
}

// Binding keeps one send in flight at a time so that the wire sees sends in submission order.
type Binding struct {
	*socket.Binding
	mu       sync.Mutex
	ring     *giouring.Ring
	backlog  *queue.Queue
	inflight *sendOp
	cqes     []*giouring.CompletionQueueEvent
	cb       transport.CompletionCallback
	closed   bool
}

func (b *Binding) Send(id uint64, payload []byte, to netip.AddrPort) (transport.Disposition, error) {
	if !to.IsValid() && !b.RemoteAddr().IsValid() {
		return transport.Accepted, transport.ErrNotConnected
	}
	if len(payload) > b.MaxPayload() {
		return transport.Accepted, transport.ErrMessageTooLarge
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return transport.Accepted, transport.ErrClosed
	}
	op := &sendOp{id: id, payload: payload, to: to}
	if to.IsValid() {
		name, nameLen, err := sys.AddrPortToRawSockaddr(b.Family(), to)
		if err != nil {
			return transport.Accepted, err
		}
		op.name = name
		op.msg.Name = (*byte)(unsafe.Pointer(name))
		op.msg.Namelen = nameLen
	}
	op.iov.Base = unsafe.SliceData(payload)
	op.iov.SetLen(len(payload))
	op.msg.Iov = &op.iov
	op.msg.Iovlen = 1

	if b.inflight != nil || b.backlog.Length() > 0 {
		b.backlog.Add(op)
		return transport.Deferred, nil
	}
	submitted, err := b.submit(op)
	if err != nil {
		return transport.Accepted, err
	}
	if !submitted {
		b.backlog.Add(op)
	}
	return transport.Deferred, nil
}

// submit hands op to the ring. submitted is false when the submission queue is full.
func (b *Binding) submit(op *sendOp) (submitted bool, err error) {
	sqe := b.ring.GetSQE()
	if sqe == nil {
		return
	}
	sqe.PrepareSendMsg(b.Fd(), &op.msg, 0)
	sqe.SetData64(op.id)
	for {
		if _, err = b.ring.Submit(); err != nil {
			if errors.Is(err, syscall.EINTR) || errors.Is(err, syscall.EAGAIN) {
				continue
			}
			err = errors.From(ErrSubmit, errors.WithWrap(err))
			return
		}
		break
	}
	b.inflight = op
	submitted = true
	return
}

func (b *Binding) RegisterCompletionCallback(cb transport.CompletionCallback) {
	b.mu.Lock()
	b.cb = cb
	b.mu.Unlock()
}

func (b *Binding) Poll() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return transport.ErrClosed
	}
	var completions []transport.Completion
	for {
		if b.inflight != nil {
			completed := b.ring.PeekBatchCQE(b.cqes)
			for i := uint32(0); i < completed; i++ {
				cqe := b.cqes[i]
				b.cqes[i] = nil
				if b.inflight == nil || cqe.UserData != b.inflight.id {
					continue
				}
				c := transport.Completion{ID: b.inflight.id}
				if cqe.Res < 0 {
					c.Err = errors.New(
						"send failed",
						errors.WithMeta("pkg", Name),
						errors.WithWrap(syscall.Errno(-cqe.Res)),
					)
				} else {
					c.N = int(cqe.Res)
				}
				completions = append(completions, c)
				b.inflight = nil
			}
			if completed > 0 {
				b.ring.CQAdvance(completed)
			}
		}
		if b.inflight != nil || b.backlog.Length() == 0 {
			break
		}
		op := b.backlog.Peek().(*sendOp)
		submitted, err := b.submit(op)
		if err != nil {
			b.backlog.Remove()
			completions = append(completions, transport.Completion{ID: op.id, Err: err})
			continue
		}
		if !submitted {
			break
		}
		b.backlog.Remove()
	}
	cb := b.cb
	b.mu.Unlock()
	if cb != nil {
		for _, c := range completions {
			cb(c)
		}
	}
	return nil
}

func (b *Binding) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return transport.ErrClosed
	}
	b.closed = true
	b.ring.QueueExit()
	b.inflight = nil
	for b.backlog.Length() > 0 {
		b.backlog.Remove()
	}
	b.mu.Unlock()
	return b.Binding.Close()
}
