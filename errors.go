package zeus

import (
	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/zeus/pkg/completion"
)

var (
	ErrInvalidArgument    = errors.Define("zeus: invalid argument")
	ErrInvalidDescriptor  = errors.Define("zeus: invalid queue descriptor")
	ErrResourceExhausted  = errors.Define("zeus: resource exhausted")
	ErrTransport          = errors.Define("zeus: transport failed")
	ErrCancelled          = errors.Define("zeus: operation cancelled")
	ErrTimedOut           = errors.Define("zeus: wait timed out")
	ErrNotInitialized     = errors.Define("zeus: runtime is not initialized")
	ErrAlreadyInitialized = errors.Define("zeus: runtime is already initialized")
)

var (
	ErrInvalidToken    = completion.ErrInvalidToken
	ErrAlreadyConsumed = completion.ErrAlreadyConsumed
	ErrUncompleted     = completion.ErrUncompleted
)

const (
	errMetaPkgKey = "pkg"
	errMetaPkgVal = "zeus"
	errMetaOpKey  = "op"
	errMetaQDKey  = "qd"
)

const (
	opOpen    = "open"
	opBind    = "bind"
	opConnect = "connect"
	opClose   = "close"
	opPush    = "push"
	opPop     = "pop"
	opWait    = "wait"
	opPoll    = "poll"

	opLocalAddr = "local_addr"
)

func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}

func IsInvalidDescriptor(err error) bool {
	return errors.Is(err, ErrInvalidDescriptor)
}

func IsInvalidToken(err error) bool {
	return errors.Is(err, ErrInvalidToken)
}

func IsAlreadyConsumed(err error) bool {
	return errors.Is(err, ErrAlreadyConsumed)
}

func IsResourceExhausted(err error) bool {
	return errors.Is(err, ErrResourceExhausted)
}

func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}

func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

func IsTimedOut(err error) bool {
	return errors.Is(err, ErrTimedOut)
}

func IsUncompleted(err error) bool {
	return errors.Is(err, ErrUncompleted)
}

func IsNotInitialized(err error) bool {
	return errors.Is(err, ErrNotInitialized)
}

func IsAlreadyInitialized(err error) bool {
	return errors.Is(err, ErrAlreadyInitialized)
}

// newOpErr attaches the operation and descriptor to sentinel, wrapping cause when present.
func newOpErr(sentinel error, op string, qd QDesc, cause error) error {
	if cause == nil {
		return errors.From(
			sentinel,
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta(errMetaOpKey, op),
			errors.WithMeta(errMetaQDKey, qd.String()),
		)
	}
	return errors.From(
		sentinel,
		errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
		errors.WithMeta(errMetaOpKey, op),
		errors.WithMeta(errMetaQDKey, qd.String()),
		errors.WithWrap(cause),
	)
}
