package zeus

import (
	"github.com/brickingsoft/zeus/pkg/completion"
	"github.com/brickingsoft/zeus/pkg/sga"
	"github.com/brickingsoft/zeus/pkg/transport"
	"github.com/sirupsen/logrus"
)

type popOp struct {
	id completion.ID
	// out is the caller capacity. It is empty when owned is set.
	out   sga.Array
	owned bool
}

// Pop
// receives into out. A nil or empty out asks for a library-owned buffer that the caller
// releases with Free; otherwise the segments of out are filled in order. out is only
// written when the data is already there; a pending token delivers it through Wait.
func (rt *Runtime) Pop(qd QDesc, out *sga.Array) (tok Token, err error) {
	if err = rt.live(); err != nil {
		return
	}
	op := &popOp{owned: out == nil || out.NumBufs() == 0}
	if !op.owned {
		if vErr := out.Validate(); vErr != nil {
			err = newOpErr(ErrInvalidArgument, opPop, qd, vErr)
			return
		}
		op.out = *out
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	q, qErr := rt.queueLocked(qd, opPop)
	if qErr != nil {
		err = qErr
		return
	}
	if q.kind == transport.Stream && !q.connected {
		err = newOpErr(ErrInvalidArgument, opPop, qd, transport.ErrNotConnected)
		return
	}
	// pops complete in submission order, so only an idle queue may take the fast path
	if q.pops.Length() == 0 {
		result, ok, rErr := rt.receiveLocked(q, op)
		if rErr != nil {
			err = rErr
			return
		}
		if ok {
			if out != nil {
				*out = result.SGA
			}
			rt.metrics.popImmediate.Inc(1)
			tok = immediateToken(result)
			return
		}
	}

	id, reserveErr := rt.table.Reserve(int(qd), completion.Pop)
	if reserveErr != nil {
		err = newOpErr(ErrResourceExhausted, opPop, qd, reserveErr)
		return
	}
	op.id = id
	q.pops.Add(op)
	rt.metrics.popDeferred.Inc(1)
	rt.updateOutstanding()
	rt.log.WithFields(logrus.Fields{"qd": qd, "token": id}).Debug("zeus: pop deferred")
	tok = rt.pendingToken(id)
	return
}

// receiveLocked tries one non-blocking receive for op. ok is false when nothing arrived,
// or when no pool buffer is free to receive into.
func (rt *Runtime) receiveLocked(q *ioQueue, op *popOp) (result Result, ok bool, err error) {
	direct := !op.owned && op.out.NumBufs() == 1
	var buf []byte
	if direct {
		buf = op.out.Segment(0)
	} else {
		b, getErr := rt.pool.Get()
		if getErr != nil {
			return
		}
		buf = b
	}

	n, from, received, rErr := q.binding.TryReceive(buf)
	if rErr != nil || !received {
		if !direct {
			rt.pool.Put(buf)
		}
		if rErr != nil {
			err = rt.transportErr(opPop, q.qd, rErr)
		}
		return
	}

	var a sga.Array
	switch {
	case op.owned:
		pool := rt.pool
		a = sga.Owned(buf[:n], func() { pool.Put(buf) })
		break
	case direct:
		a = op.out
		a.Truncate(n)
		break
	default:
		a = op.out
		a.Scatter(buf[:n])
		rt.pool.Put(buf)
		break
	}
	a.Addr = from
	result = Result{QD: q.qd, Kind: completion.Pop, N: n, SGA: a}
	ok = true
	return
}

// satisfyPopsLocked resolves pending pops of q head first until the binding runs dry.
func (rt *Runtime) satisfyPopsLocked(q *ioQueue) {
	for q.pops.Length() > 0 {
		op := q.pops.Peek().(*popOp)
		result, ok, err := rt.receiveLocked(q, op)
		if err == nil && !ok {
			return
		}
		q.pops.Remove()
		if rt.table.Complete(op.id, result, err) {
			rt.resolved++
			rt.metrics.tokensCompleted.Inc(1)
		} else if err == nil {
			result.SGA.Free()
		}
	}
}
