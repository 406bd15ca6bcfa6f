// Package process binds polling threads to CPUs.
package process

import "github.com/brickingsoft/errors"

var (
	ErrInvalidCPU  = errors.Define("invalid cpu index")
	ErrUnsupported = errors.Define("cpu affinity is not supported on this platform")
)
