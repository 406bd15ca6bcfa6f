package zeus

import (
	"net/netip"

	"github.com/brickingsoft/zeus/pkg/completion"
	"github.com/brickingsoft/zeus/pkg/sga"
	"github.com/brickingsoft/zeus/pkg/transport"
	"github.com/sirupsen/logrus"
)

// Push
// sends a. On a datagram queue a.Addr is the destination; when it is zero the queue must be
// connected. The segments of a belong to the runtime until a pending token is resolved.
func (rt *Runtime) Push(qd QDesc, a sga.Array) (tok Token, err error) {
	if err = rt.live(); err != nil {
		return
	}
	if vErr := a.Validate(); vErr != nil {
		err = newOpErr(ErrInvalidArgument, opPush, qd, vErr)
		return
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	q, qErr := rt.queueLocked(qd, opPush)
	if qErr != nil {
		err = qErr
		return
	}
	var to netip.AddrPort
	if q.kind == transport.Datagram {
		to = a.Addr
	}
	if !to.IsValid() && !q.connected {
		err = newOpErr(ErrInvalidArgument, opPush, qd, transport.ErrNotConnected)
		return
	}
	payload := a.Bytes()
	if len(payload) > q.binding.MaxPayload() {
		err = newOpErr(ErrInvalidArgument, opPush, qd, transport.ErrMessageTooLarge)
		return
	}

	id, reserveErr := rt.table.Reserve(int(qd), completion.Push)
	if reserveErr != nil {
		err = newOpErr(ErrResourceExhausted, opPush, qd, reserveErr)
		return
	}
	disposition, sendErr := q.binding.Send(uint64(id), payload, to)
	if sendErr != nil {
		rt.table.Forget(id)
		err = rt.transportErr(opPush, qd, sendErr)
		return
	}
	if disposition == transport.Accepted {
		rt.table.Forget(id)
		rt.metrics.pushImmediate.Inc(1)
		tok = immediateToken(Result{QD: qd, Kind: completion.Push, N: len(payload), SGA: a})
		return
	}
	q.sends[id] = a
	rt.metrics.pushDeferred.Inc(1)
	rt.updateOutstanding()
	rt.log.WithFields(logrus.Fields{"qd": qd, "token": id, "bytes": len(payload)}).Debug("zeus: push deferred")
	tok = rt.pendingToken(id)
	return
}

// onSendCompleted resolves deferred pushes of q. Bindings call it from Poll, which only
// runs inside PollTransport with rt.mu held.
func (rt *Runtime) onSendCompleted(q *ioQueue) transport.CompletionCallback {
	return func(c transport.Completion) {
		id := completion.ID(c.ID)
		a := q.sends[id]
		delete(q.sends, id)
		var err error
		if c.Err != nil {
			rt.metrics.transportErrors.Inc(1)
			rt.log.WithError(c.Err).WithFields(logrus.Fields{"qd": q.qd, "token": id}).Warn("zeus: deferred push failed")
			err = newOpErr(ErrTransport, opPush, q.qd, c.Err)
		}
		if rt.table.Complete(id, Result{QD: q.qd, Kind: completion.Push, N: c.N, SGA: a}, err) {
			rt.resolved++
			rt.metrics.tokensCompleted.Inc(1)
		}
	}
}
