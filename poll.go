package zeus

import (
	"github.com/brickingsoft/zeus/pkg/transport"
	"github.com/sirupsen/logrus"
)

// PollTransport
// makes progress on every open queue: deferred sends are completed and pending pops are
// filled from whatever arrived. It returns how many tokens became ready.
//
// Only one caller polls at a time. A concurrent call returns immediately with zero.
func (rt *Runtime) PollTransport() (n int, err error) {
	if err = rt.live(); err != nil {
		return
	}
	if !rt.pollMu.TryLock() {
		return
	}
	defer rt.pollMu.Unlock()

	rt.mu.Lock()
	rt.resolved = 0
	for _, q := range rt.queues {
		if pollErr := q.binding.Poll(); pollErr != nil && !transport.IsClosed(pollErr) {
			rt.metrics.transportErrors.Inc(1)
			rt.log.WithError(pollErr).WithFields(logrus.Fields{"qd": q.qd}).Warn("zeus: poll failed")
		}
		rt.satisfyPopsLocked(q)
	}
	n = rt.resolved
	rt.resolved = 0
	rt.mu.Unlock()

	if n > 0 {
		rt.updateOutstanding()
	}
	return
}
