package zeus

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/rxp"
	"github.com/brickingsoft/zeus/pkg/process"
)

// poller is the rxp task that keeps PollTransport running.
type poller struct {
	rt        *Runtime
	executors rxp.Executors
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

func startPoller(rt *Runtime, options []rxp.Option) (p *poller, err error) {
	defer func() {
		if r := recover(); r != nil {
			switch e := r.(type) {
			case error:
				err = e
				break
			case string:
				err = errors.New(e)
				break
			default:
				err = errors.New(fmt.Sprintf("%+v", r))
				break
			}
		}
	}()
	executors, execErr := rxp.New(options...)
	if execErr != nil {
		err = execErr
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p = &poller{
		rt:        rt,
		executors: executors,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	if err = executors.Execute(ctx, p); err != nil {
		cancel()
		_ = executors.Close()
		p = nil
		return
	}
	return
}

// Handle runs until the poller is stopped or the executors shut down.
func (p *poller) Handle(ctx context.Context) {
	defer close(p.done)
	config := p.rt.options.Config.Poll
	if config.Pin {
		if pinErr := process.PinThread(config.CPU); pinErr != nil {
			p.rt.log.WithError(pinErr).Warn("zeus: background poller runs unpinned")
		} else {
			p.rt.log.WithField("cpu", config.CPU).Debug("zeus: background poller pinned")
		}
	}
	p.loop(ctx, config.Interval)
}

func (p *poller) loop(execCtx context.Context, interval time.Duration) {
	idle := 0
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-execCtx.Done():
			return
		default:
			n, err := p.rt.PollTransport()
			if err != nil {
				return
			}
			if n > 0 {
				idle = 0
				break
			}
			idle++
			if idle > idleBeforeYield {
				idle = 0
				time.Sleep(interval)
			} else {
				runtime.Gosched()
			}
			break
		}
	}
}

// stop cancels the loop, waits for it to leave and closes the executors.
func (p *poller) stop() error {
	p.cancel()
	<-p.done
	return p.executors.Close()
}
