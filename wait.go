package zeus

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/zeus/pkg/completion"
	"github.com/brickingsoft/zeus/pkg/sga"
)

const (
	ns500           = 500 * time.Nanosecond
	idleBeforeYield = 10
)

var timers = sync.Pool{
	New: func() interface{} {
		return time.NewTimer(0)
	},
}

func acquireTimer(d time.Duration) *time.Timer {
	timer := timers.Get().(*time.Timer)
	timer.Reset(d)
	return timer
}

func releaseTimer(t *time.Timer) {
	t.Stop()
	timers.Put(t)
}

// Wait
// resolves a pending token and returns the transferred byte count. The result array is
// stored into out when out is not nil. The configured wait timeout applies.
//
// Waiting on an immediate token is an error: its Result is already in the token.
func (rt *Runtime) Wait(tok Token, out *sga.Array) (int, error) {
	if timeout := rt.options.Config.Wait.Timeout; timeout > 0 {
		return rt.TimedWait(tok, timeout, out)
	}
	return rt.WaitContext(context.Background(), tok, out)
}

// TimedWait
// is Wait bounded by timeout. On ErrTimedOut the token stays pending and may be waited again.
func (rt *Runtime) TimedWait(tok Token, timeout time.Duration, out *sga.Array) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return rt.WaitContext(ctx, tok, out)
}

// WaitContext
// is Wait bounded by ctx. A ctx deadline yields ErrTimedOut, a cancellation ErrUncompleted.
// In both cases the token stays pending.
func (rt *Runtime) WaitContext(ctx context.Context, tok Token, out *sga.Array) (n int, err error) {
	if err = rt.live(); err != nil {
		return
	}
	if !rt.issued(tok) {
		err = newOpErr(ErrInvalidToken, opWait, 0, nil)
		return
	}
	_, result, waitErr := rt.await(ctx, []completion.ID{tok.id})
	if waitErr != nil {
		err = waitErr
		return
	}
	if out != nil {
		*out = result.SGA
	}
	n = result.N
	return
}

// WaitAny
// resolves exactly one ready token among tokens and reports its index. The other tokens
// are left untouched.
func (rt *Runtime) WaitAny(ctx context.Context, tokens []Token, out *sga.Array) (index int, n int, err error) {
	index = -1
	if err = rt.live(); err != nil {
		return
	}
	if len(tokens) == 0 {
		err = newOpErr(ErrInvalidArgument, opWait, 0, nil)
		return
	}
	ids := make([]completion.ID, len(tokens))
	for i, tok := range tokens {
		if !rt.issued(tok) {
			index = i
			err = newOpErr(ErrInvalidToken, opWait, 0, nil)
			return
		}
		ids[i] = tok.id
	}
	var result Result
	index, result, err = rt.await(ctx, ids)
	if err != nil {
		return
	}
	if out != nil {
		*out = result.SGA
	}
	n = result.N
	return
}

// issued reports whether tok is a pending token of this Runtime. Tokens of an earlier
// Runtime carry ids that may name live records here.
func (rt *Runtime) issued(tok Token) bool {
	return tok.IsPending() && tok.gen == rt.gen
}

// await drives the transport until one of ids is ready. The error stored in a resolved
// record is returned with its index.
func (rt *Runtime) await(ctx context.Context, ids []completion.ID) (index int, result Result, err error) {
	start := time.Now()
	defer rt.metrics.wait.UpdateSince(start)
	defer rt.updateOutstanding()

	var timer *time.Timer
	if rt.poller != nil {
		timer = acquireTimer(rt.options.Config.Poll.Interval)
		defer releaseTimer(timer)
	}
	idle := 0
	for {
		var signal <-chan struct{}
		if timer != nil {
			signal = rt.table.Signal()
		}
		index, result, err = rt.table.TakeAny(ids)
		if !completion.IsUncompleted(err) {
			return
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			index = -1
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				err = newOpErr(ErrTimedOut, opWait, 0, nil)
			} else {
				err = errors.From(ErrUncompleted, errors.WithWrap(ctxErr))
			}
			return
		}
		if rt.closed.Load() {
			index = -1
			err = ErrNotInitialized
			return
		}

		if timer != nil {
			select {
			case <-signal:
				break
			case <-timer.C:
				break
			case <-ctx.Done():
				break
			}
			timer.Reset(rt.options.Config.Poll.Interval)
			continue
		}

		polled, _ := rt.PollTransport()
		if polled > 0 {
			idle = 0
			continue
		}
		idle++
		if idle > idleBeforeYield {
			idle = 0
			runtime.Gosched()
		} else {
			time.Sleep(ns500)
		}
	}
}
