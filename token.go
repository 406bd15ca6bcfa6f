package zeus

import (
	"strconv"

	"github.com/brickingsoft/zeus/pkg/completion"
	"github.com/brickingsoft/zeus/pkg/sga"
)

// QDesc identifies an open queue. Descriptors start at 1 and are never reused by a Runtime.
type QDesc int32

func (qd QDesc) String() string {
	return strconv.FormatInt(int64(qd), 10)
}

// Result is what a push or pop produced.
//
// For a push, SGA is the pushed array. For a pop, SGA holds the received bytes and
// SGA.Addr the sender. Library-owned pop buffers must be released with SGA.Free.
type Result struct {
	QD   QDesc
	Kind completion.Kind
	N    int
	SGA  sga.Array
}

// Token is the handle of one push or pop.
//
// An immediate token already carries its Result and must not be waited on. A pending
// token resolves through Wait, WaitAny or TimedWait exactly once. The zero Token is invalid.
type Token struct {
	// gen is the generation of the Runtime that issued the token.
	gen       uint64
	id        completion.ID
	immediate bool
	result    Result
}

func immediateToken(result Result) Token {
	return Token{immediate: true, result: result}
}

func (rt *Runtime) pendingToken(id completion.ID) Token {
	return Token{gen: rt.gen, id: id}
}

// IsImmediate
// reports whether the operation completed at submission.
func (tok Token) IsImmediate() bool {
	return tok.immediate
}

// IsPending
// reports whether the token has to be waited on.
func (tok Token) IsPending() bool {
	return !tok.immediate && tok.id != 0
}

// Result
// returns the Result of an immediate token. ok is false for pending tokens.
func (tok Token) Result() (result Result, ok bool) {
	if !tok.immediate {
		return
	}
	return tok.result, true
}

// ID is zero for immediate and invalid tokens.
func (tok Token) ID() uint64 {
	return uint64(tok.id)
}

func (tok Token) String() string {
	switch {
	case tok.immediate:
		return "immediate"
	case tok.id == 0:
		return "invalid"
	default:
		return "pending#" + strconv.FormatUint(uint64(tok.id), 10)
	}
}
