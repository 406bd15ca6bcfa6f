//go:build unix

// Package socket is the POSIX fallback binding: non-blocking kernel sockets whose sends
// are retried from Poll when the socket buffer is full.
package socket

import (
	"io"
	"math"
	"net/netip"
	"sync"
	"time"

	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/zeus/pkg/sys"
	"github.com/brickingsoft/zeus/pkg/transport"
	"github.com/eapache/queue"
	"golang.org/x/sys/unix"
)

const (
	Name = "socket"

	maxDatagramPayload = 65507
	defaultConnectWait = 5 * time.Second
)

const (
	errMetaPkgKey = "pkg"
	errMetaPkgVal = "socket"
	errMetaOpKey  = "op"
)

type Options struct {
	// ConnectTimeout bounds Connect on stream bindings. Zero means five seconds.
	ConnectTimeout time.Duration
}

type Backend struct {
	options Options
}

func New(options Options) *Backend {
	if options.ConnectTimeout <= 0 {
		options.ConnectTimeout = defaultConnectWait
	}
	return &Backend{options: options}
}

func (backend *Backend) Name() string {
	return Name
}

func (backend *Backend) Open(kind transport.Kind, family int) (transport.Binding, error) {
	fd, err := Open(kind, family)
	if err != nil {
		return nil, err
	}
	return NewBinding(fd, kind, family, backend.options), nil
}

func (backend *Backend) Close() error {
	return nil
}

// Open creates a non-blocking, close-on-exec socket for kind and family.
func Open(kind transport.Kind, family int) (fd int, err error) {
	if family != unix.AF_INET && family != unix.AF_INET6 {
		err = transport.ErrUnsupported
		return
	}
	sotype := unix.SOCK_DGRAM
	switch kind {
	case transport.Datagram:
		break
	case transport.Stream:
		sotype = unix.SOCK_STREAM
		break
	default:
		err = transport.ErrUnsupported
		return
	}
	fd, err = unix.Socket(family, sotype, 0)
	if err != nil {
		err = wrap("socket", err)
		return
	}
	unix.CloseOnExec(fd)
	if err = unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		err = wrap("socket", err)
		return
	}
	if family == unix.AF_INET6 {
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0)
	}
	return
}

type pendingSend struct {
	id      uint64
	payload []byte
	to      unix.Sockaddr
	sent    int
}

// Binding wraps one non-blocking socket.
type Binding struct {
	mu      sync.Mutex
	fd      int
	kind    transport.Kind
	family  int
	options Options
	local   netip.AddrPort
	remote  netip.AddrPort
	backlog *queue.Queue
	cb      transport.CompletionCallback
	closed  bool
}

func NewBinding(fd int, kind transport.Kind, family int, options Options) *Binding {
	return &Binding{
		fd:      fd,
		kind:    kind,
		family:  family,
		options: options,
		backlog: queue.New(),
	}
}

func (b *Binding) Send(id uint64, payload []byte, to netip.AddrPort) (transport.Disposition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return transport.Accepted, transport.ErrClosed
	}
	var sa unix.Sockaddr
	if b.kind == transport.Datagram && to.IsValid() {
		var saErr error
		if sa, saErr = sys.AddrPortToSockaddr(b.family, to); saErr != nil {
			return transport.Accepted, saErr
		}
	} else if !b.remote.IsValid() {
		return transport.Accepted, transport.ErrNotConnected
	}
	if b.kind == transport.Datagram && len(payload) > maxDatagramPayload {
		return transport.Accepted, transport.ErrMessageTooLarge
	}

	ps := &pendingSend{id: id, payload: payload, to: sa}
	if b.backlog.Length() > 0 {
		b.backlog.Add(ps)
		return transport.Deferred, nil
	}
	done, err := b.write(ps)
	if err != nil {
		return transport.Accepted, err
	}
	if !done {
		b.backlog.Add(ps)
		return transport.Deferred, nil
	}
	return transport.Accepted, nil
}

// write pushes as much of ps as the socket takes. done is false when the socket is full.
func (b *Binding) write(ps *pendingSend) (done bool, err error) {
	for {
		if b.kind == transport.Datagram {
			err = unix.Sendto(b.fd, ps.payload, 0, ps.to)
			if err == nil {
				ps.sent = len(ps.payload)
				done = true
				return
			}
		} else {
			n, wErr := unix.Write(b.fd, ps.payload[ps.sent:])
			if n > 0 {
				ps.sent += n
			}
			if wErr == nil && ps.sent == len(ps.payload) {
				done = true
				return
			}
			if wErr == nil {
				continue
			}
			err = wErr
		}
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EWOULDBLOCK), errors.Is(err, unix.ENOBUFS):
			err = nil
			return
		default:
			err = wrap("send", err)
			return
		}
	}
}

func (b *Binding) TryReceive(p []byte) (n int, from netip.AddrPort, ok bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		err = transport.ErrClosed
		return
	}
	for {
		var rErr error
		if b.kind == transport.Datagram {
			var sa unix.Sockaddr
			n, sa, rErr = unix.Recvfrom(b.fd, p, 0)
			if rErr == nil {
				from = sys.SockaddrToAddrPort(sa)
			}
		} else {
			n, rErr = unix.Read(b.fd, p)
			if rErr == nil && n == 0 && len(p) > 0 {
				rErr = io.EOF
			}
			from = b.remote
		}
		switch {
		case rErr == nil:
			ok = true
			return
		case errors.Is(rErr, unix.EINTR):
			continue
		case errors.Is(rErr, unix.EAGAIN), errors.Is(rErr, unix.EWOULDBLOCK):
			n = 0
			return
		default:
			n = 0
			err = wrap("receive", rErr)
			return
		}
	}
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
	for b.backlog.Length() > 0 {
		ps := b.backlog.Peek().(*pendingSend)
		done, err := b.write(ps)
		if err == nil && !done {
			break
		}
		b.backlog.Remove()
		completions = append(completions, transport.Completion{ID: ps.id, N: ps.sent, Err: err})
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

func (b *Binding) Bind(addr netip.AddrPort) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return transport.ErrClosed
	}
	sa, err := sys.AddrPortToSockaddr(b.family, addr)
	if err != nil {
		return err
	}
	if b.kind == transport.Datagram {
		_ = unix.SetsockoptInt(b.fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	}
	if err = unix.Bind(b.fd, sa); err != nil {
		return wrap("bind", err)
	}
	b.refreshLocal()
	return nil
}

func (b *Binding) Connect(addr netip.AddrPort) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return transport.ErrClosed
	}
	sa, err := sys.AddrPortToSockaddr(b.family, addr)
	if err != nil {
		return err
	}
	err = unix.Connect(b.fd, sa)
	if err != nil && !errors.Is(err, unix.EINPROGRESS) && !errors.Is(err, unix.EINTR) {
		return wrap("connect", err)
	}
	if err != nil {
		if err = b.awaitConnect(); err != nil {
			return wrap("connect", err)
		}
	}
	b.remote = addr
	b.refreshLocal()
	return nil
}

func (b *Binding) awaitConnect() error {
	deadline := time.Now().Add(b.options.ConnectTimeout)
	for {
		left := time.Until(deadline)
		if left <= 0 {
			return unix.ETIMEDOUT
		}
		fds := []unix.PollFd{{Fd: int32(b.fd), Events: unix.POLLOUT}}
		n, err := unix.Poll(fds, int(left/time.Millisecond)+1)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return err
		}
		if n == 0 {
			continue
		}
		soErr, err := unix.GetsockoptInt(b.fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			return err
		}
		if soErr != 0 {
			return unix.Errno(soErr)
		}
		return nil
	}
}

func (b *Binding) refreshLocal() {
	if sa, err := unix.Getsockname(b.fd); err == nil {
		b.local = sys.SockaddrToAddrPort(sa)
	}
}

func (b *Binding) LocalAddr() netip.AddrPort {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.local.IsValid() && !b.closed {
		b.refreshLocal()
	}
	return b.local
}

func (b *Binding) RemoteAddr() netip.AddrPort {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remote
}

func (b *Binding) MaxPayload() int {
	if b.kind == transport.Datagram {
		return maxDatagramPayload
	}
	return math.MaxInt32
}

func (b *Binding) Kind() transport.Kind {
	return b.kind
}

// Fd exposes the socket for bindings that submit through another engine.
func (b *Binding) Fd() int {
	return b.fd
}

func (b *Binding) Family() int {
	return b.family
}

func (b *Binding) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return transport.ErrClosed
	}
	b.closed = true
	for b.backlog.Length() > 0 {
		b.backlog.Remove()
	}
	if err := unix.Close(b.fd); err != nil {
		return wrap("close", err)
	}
	return nil
}

func wrap(op string, err error) error {
	return errors.New(
		op+" failed",
		errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
		errors.WithMeta(errMetaOpKey, op),
		errors.WithWrap(err),
	)
}
