package zeus

import (
	"net"
	"net/netip"
	"strconv"
	"syscall"

	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/zeus/pkg/bytebuffers"
	"github.com/brickingsoft/zeus/pkg/completion"
	"github.com/brickingsoft/zeus/pkg/sga"
	"github.com/brickingsoft/zeus/pkg/transport"
	"github.com/brickingsoft/zeus/pkg/transport/bypass"
	"github.com/eapache/queue"
	"github.com/sirupsen/logrus"
)

type ioQueue struct {
	qd        QDesc
	kind      transport.Kind
	binding   transport.Binding
	connected bool
	// pops holds *popOp in submission order.
	pops *queue.Queue
	// sends holds the arrays of deferred pushes until their completion.
	sends map[completion.ID]sga.Array
}

// Open
// creates a queue. domain is AF_INET or AF_INET6, typ is SOCK_DGRAM or SOCK_STREAM and
// protocol is zero or the matching IPPROTO value.
func (rt *Runtime) Open(domain, typ, protocol int) (qd QDesc, err error) {
	if err = rt.live(); err != nil {
		return
	}
	var kind transport.Kind
	switch {
	case typ == syscall.SOCK_DGRAM && (protocol == 0 || protocol == syscall.IPPROTO_UDP):
		kind = transport.Datagram
		break
	case typ == syscall.SOCK_STREAM && (protocol == 0 || protocol == syscall.IPPROTO_TCP):
		kind = transport.Stream
		break
	default:
		err = errors.From(
			ErrInvalidArgument,
			errors.WithMeta(errMetaOpKey, opOpen),
			errors.WithMeta("type", strconv.Itoa(typ)),
			errors.WithMeta("protocol", strconv.Itoa(protocol)),
		)
		return
	}
	if domain != syscall.AF_INET && domain != syscall.AF_INET6 {
		err = errors.From(ErrInvalidArgument, errors.WithMeta(errMetaOpKey, opOpen), errors.WithMeta("domain", strconv.Itoa(domain)))
		return
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if len(rt.queues) >= rt.options.Config.Queues.Max {
		err = errors.From(ErrResourceExhausted, errors.WithMeta(errMetaOpKey, opOpen), errors.WithMeta("queues", strconv.Itoa(len(rt.queues))))
		return
	}
	binding, openErr := rt.backend.Open(kind, domain)
	if openErr != nil {
		switch {
		case transport.IsUnsupported(openErr):
			err = errors.From(ErrInvalidArgument, errors.WithMeta(errMetaOpKey, opOpen), errors.WithWrap(openErr))
			break
		case errors.Is(openErr, syscall.EMFILE), errors.Is(openErr, syscall.ENFILE), bytebuffers.IsExhausted(openErr):
			err = errors.From(ErrResourceExhausted, errors.WithMeta(errMetaOpKey, opOpen), errors.WithWrap(openErr))
			break
		default:
			err = errors.From(ErrTransport, errors.WithMeta(errMetaOpKey, opOpen), errors.WithWrap(openErr))
			break
		}
		return
	}

	rt.nextQD++
	qd = rt.nextQD
	q := &ioQueue{
		qd:      qd,
		kind:    kind,
		binding: binding,
		pops:    queue.New(),
		sends:   make(map[completion.ID]sga.Array),
	}
	binding.RegisterCompletionCallback(rt.onSendCompleted(q))
	rt.queues[qd] = q
	rt.metrics.queuesOpen.Update(int64(len(rt.queues)))
	rt.log.WithFields(logrus.Fields{"qd": qd, "kind": kind.String(), "domain": domain}).Debug("zeus: queue opened")
	return
}

// Bind
// fixes the local address of a queue.
func (rt *Runtime) Bind(qd QDesc, addr netip.AddrPort) (err error) {
	if err = rt.live(); err != nil {
		return
	}
	if !addr.IsValid() {
		err = newOpErr(ErrInvalidArgument, opBind, qd, nil)
		return
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	q, has := rt.queues[qd]
	if !has {
		err = newOpErr(ErrInvalidDescriptor, opBind, qd, nil)
		return
	}
	if bindErr := q.binding.Bind(addr); bindErr != nil {
		err = rt.transportErr(opBind, qd, bindErr)
		return
	}
	return
}

// Connect
// connects a stream queue, or sets the default destination of a datagram queue.
func (rt *Runtime) Connect(qd QDesc, addr netip.AddrPort) (err error) {
	if err = rt.live(); err != nil {
		return
	}
	if !addr.IsValid() {
		err = newOpErr(ErrInvalidArgument, opConnect, qd, nil)
		return
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	q, has := rt.queues[qd]
	if !has {
		err = newOpErr(ErrInvalidDescriptor, opConnect, qd, nil)
		return
	}
	if connErr := q.binding.Connect(addr); connErr != nil {
		err = rt.transportErr(opConnect, qd, connErr)
		return
	}
	q.connected = true
	return
}

// LocalAddr
// returns the local address of a queue, zero when it has none yet.
func (rt *Runtime) LocalAddr(qd QDesc) (addr netip.AddrPort, err error) {
	if err = rt.live(); err != nil {
		return
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	q, has := rt.queues[qd]
	if !has {
		err = newOpErr(ErrInvalidDescriptor, opLocalAddr, qd, nil)
		return
	}
	addr = q.binding.LocalAddr()
	return
}

// Close
// closes a queue. Its pending tokens resolve to ErrCancelled and stay waitable.
func (rt *Runtime) Close(qd QDesc) (err error) {
	if err = rt.live(); err != nil {
		return
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	q, has := rt.queues[qd]
	if !has {
		err = newOpErr(ErrInvalidDescriptor, opClose, qd, nil)
		return
	}
	delete(rt.queues, qd)
	rt.metrics.queuesOpen.Update(int64(len(rt.queues)))
	if closeErr := rt.closeQueueLocked(q); closeErr != nil {
		err = rt.transportErr(opClose, qd, closeErr)
	}
	return
}

func (rt *Runtime) closeQueueLocked(q *ioQueue) error {
	cancelled := rt.table.CancelOwner(int(q.qd), newOpErr(ErrCancelled, opClose, q.qd, nil))
	if cancelled > 0 {
		rt.metrics.tokensCancelled.Inc(int64(cancelled))
	}
	for q.pops.Length() > 0 {
		q.pops.Remove()
	}
	clear(q.sends)
	err := q.binding.Close()
	rt.log.WithFields(logrus.Fields{"qd": q.qd, "cancelled": cancelled}).Debug("zeus: queue closed")
	return err
}

func (rt *Runtime) queueLocked(qd QDesc, op string) (*ioQueue, error) {
	q, has := rt.queues[qd]
	if !has {
		return nil, newOpErr(ErrInvalidDescriptor, op, qd, nil)
	}
	return q, nil
}

// transportErr classifies a synchronous binding failure.
func (rt *Runtime) transportErr(op string, qd QDesc, cause error) error {
	var addrErr *net.AddrError
	switch {
	case errors.Is(cause, transport.ErrMessageTooLarge), errors.Is(cause, transport.ErrNotConnected), transport.IsUnsupported(cause),
		errors.As(cause, &addrErr), errors.Is(cause, syscall.EAFNOSUPPORT):
		return newOpErr(ErrInvalidArgument, op, qd, cause)
	case bytebuffers.IsExhausted(cause), errors.Is(cause, bypass.ErrTxRingFull):
		return newOpErr(ErrResourceExhausted, op, qd, cause)
	default:
		rt.metrics.transportErrors.Inc(1)
		rt.log.WithError(cause).WithFields(logrus.Fields{"qd": qd, "op": op}).Warn("zeus: transport failed")
		return newOpErr(ErrTransport, op, qd, cause)
	}
}
