package zeus

import (
	"github.com/brickingsoft/zeus/pkg/sga"
)

// BlockingPush
// pushes a and waits for the send to complete.
func (rt *Runtime) BlockingPush(qd QDesc, a sga.Array) (n int, err error) {
	tok, pushErr := rt.Push(qd, a)
	if pushErr != nil {
		err = pushErr
		return
	}
	if result, ok := tok.Result(); ok {
		n = result.N
		return
	}
	n, err = rt.Wait(tok, nil)
	return
}

// BlockingPop
// pops into out and waits for data. See Pop for how out is used. With a nil out the
// data is discarded and only the byte count is reported.
func (rt *Runtime) BlockingPop(qd QDesc, out *sga.Array) (n int, err error) {
	if out == nil {
		local := sga.Array{}
		out = &local
		defer local.Free()
	}
	tok, popErr := rt.Pop(qd, out)
	if popErr != nil {
		err = popErr
		return
	}
	if result, ok := tok.Result(); ok {
		n = result.N
		return
	}
	n, err = rt.Wait(tok, out)
	return
}
