//go:build linux

package process

import (
	"runtime"
	"strconv"

	"github.com/brickingsoft/errors"
	"golang.org/x/sys/unix"
)

// PinThread locks the calling goroutine to its OS thread and binds that thread to one CPU.
// The lock is never released, so the pinned thread ends with the goroutine.
func PinThread(index int) (err error) {
	if index < 0 {
		err = errors.From(ErrInvalidCPU, errors.WithMeta("cpu", strconv.Itoa(index)))
		return
	}
	runtime.LockOSThread()

	var mask unix.CPUSet
	mask.Zero()
	mask.Set(index)

	// pid 0 is the calling thread
	if err = unix.SchedSetaffinity(0, &mask); err != nil {
		runtime.UnlockOSThread()
		err = errors.New(
			"sched_setaffinity failed",
			errors.WithMeta("cpu", strconv.Itoa(index)),
			errors.WithWrap(err),
		)
		return
	}
	return
}

// CurrentCPUs lists the CPUs the calling thread may run on.
func CurrentCPUs() ([]int, error) {
	var mask unix.CPUSet
	if err := unix.SchedGetaffinity(0, &mask); err != nil {
		return nil, err
	}
	cpus := make([]int, 0, mask.Count())
	for i := 0; len(cpus) < cap(cpus); i++ {
		if mask.IsSet(i) {
			cpus = append(cpus, i)
		}
	}
	return cpus, nil
}
