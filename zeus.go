// Package zeus is an asynchronous I/O queue engine.
//
// Queues are opened on a transport backend (a simulated kernel-bypass NIC, io_uring or
// plain sockets). Every push and pop returns a Token: either the operation finished at
// submission and the token carries its Result, or it is pending and must be resolved
// exactly once with Wait, TimedWait or WaitAny. Progress only happens inside
// PollTransport, which waiters drive themselves unless background polling is enabled.
package zeus

import (
	"sync"
	"sync/atomic"

	"github.com/brickingsoft/zeus/pkg/bytebuffers"
	"github.com/brickingsoft/zeus/pkg/completion"
	"github.com/brickingsoft/zeus/pkg/transport"
	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
)

var (
	runtimeLocker          = new(sync.Mutex)
	current       *Runtime = nil
	generations   atomic.Uint64
)

// Runtime owns the queues, the operation table and the transport backend of a process.
type Runtime struct {
	options  Options
	gen      uint64
	log      *logrus.Logger
	registry metrics.Registry
	metrics  *engineMetrics
	backend  transport.Backend
	table    *completion.Table[Result]
	pool     *bytebuffers.Pool
	// pollMu serializes PollTransport and is always taken before mu.
	pollMu sync.Mutex
	mu     sync.Mutex
	queues map[QDesc]*ioQueue
	nextQD QDesc
	// resolved counts records completed by the PollTransport in progress.
	resolved int
	poller   *poller
	closed   atomic.Bool
}

// Initialize
// creates the process runtime. Only one Runtime may be live at a time; Shutdown releases it.
func Initialize(options ...Option) (rt *Runtime, err error) {
	opts := Options{Config: DefaultConfig()}
	for _, option := range options {
		if err = option(&opts); err != nil {
			return
		}
	}
	opts.Config.normalize()
	if err = opts.Config.Validate(); err != nil {
		return
	}

	runtimeLocker.Lock()
	defer runtimeLocker.Unlock()
	if current != nil {
		err = ErrAlreadyInitialized
		return
	}

	log := opts.Logger
	if log == nil {
		if log, err = newLogger(opts.Config.Logging); err != nil {
			return
		}
	}
	registry := opts.Registry
	if registry == nil {
		registry = metrics.NewRegistry()
	}
	backend, backendErr := newBackend(&opts, log)
	if backendErr != nil {
		err = backendErr
		return
	}

	rt = &Runtime{
		options:  opts,
		gen:      generations.Add(1),
		log:      log,
		registry: registry,
		metrics:  newEngineMetrics(registry),
		backend:  backend,
		table:    completion.New[Result](opts.Config.Tokens.Max),
		pool:     bytebuffers.New(opts.Config.Buffers.Size, opts.Config.Buffers.Pool),
		queues:   make(map[QDesc]*ioQueue),
	}
	if opts.Config.Poll.Background {
		if rt.poller, err = startPoller(rt, opts.AsRxpOptions()); err != nil {
			_ = backend.Close()
			rt = nil
			return
		}
	}
	current = rt

	log.WithFields(logrus.Fields{
		"backend":    backend.Name(),
		"background": opts.Config.Poll.Background,
		"tokens":     opts.Config.Tokens.Max,
	}).Info("zeus: runtime initialized")
	return
}

// Shutdown
// stops background polling, closes every queue (pending tokens resolve to ErrCancelled)
// and releases the process slot.
func (rt *Runtime) Shutdown() (err error) {
	if !rt.closed.CompareAndSwap(false, true) {
		err = ErrNotInitialized
		return
	}
	if rt.poller != nil {
		if stopErr := rt.poller.stop(); stopErr != nil {
			rt.log.WithError(stopErr).Warn("zeus: background poller did not stop cleanly")
		}
	}

	rt.pollMu.Lock()
	rt.mu.Lock()
	for qd, q := range rt.queues {
		rt.closeQueueLocked(q)
		delete(rt.queues, qd)
	}
	rt.mu.Unlock()
	rt.pollMu.Unlock()

	err = rt.backend.Close()

	runtimeLocker.Lock()
	if current == rt {
		current = nil
	}
	runtimeLocker.Unlock()

	rt.log.Info("zeus: runtime shut down")
	return
}

// Backend
// returns the name of the transport the runtime runs on.
func (rt *Runtime) Backend() string {
	return rt.backend.Name()
}

// Metrics
// returns the registry the runtime reports to.
func (rt *Runtime) Metrics() metrics.Registry {
	return rt.registry
}

// Outstanding
// counts tokens that were issued and not yet consumed.
func (rt *Runtime) Outstanding() int {
	return rt.table.Len()
}

func (rt *Runtime) live() error {
	if rt == nil || rt.closed.Load() {
		return ErrNotInitialized
	}
	return nil
}

func (rt *Runtime) updateOutstanding() {
	rt.metrics.outstanding.Update(int64(rt.table.Len()))
}
