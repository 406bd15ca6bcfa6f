package zeus

import (
	"time"

	"github.com/brickingsoft/rxp"
	"github.com/brickingsoft/zeus/pkg/transport/bypass"
	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
)

type Options struct {
	Config     Config
	RxpOptions rxp.Options
	// Link replaces the peer built from Config.Bypass.
	Link     bypass.Link
	Logger   *logrus.Logger
	Registry metrics.Registry
}

func (options *Options) AsRxpOptions() []rxp.Option {
	opts := make([]rxp.Option, 0, 1)
	if n := options.RxpOptions.MaxGoroutines; n > 0 {
		opts = append(opts, rxp.WithMaxGoroutines(n))
	} else if n = options.Config.Poll.Goroutines; n > 0 {
		opts = append(opts, rxp.WithMaxGoroutines(n))
	}
	if n := options.RxpOptions.CloseTimeout; n > 0 {
		opts = append(opts, rxp.WithCloseTimeout(n))
	}
	return opts
}

type Option func(options *Options) (err error)

// WithConfig
// replaces the whole configuration. Options after it still apply on top.
func WithConfig(config Config) Option {
	return func(options *Options) (err error) {
		config.normalize()
		if err = config.Validate(); err != nil {
			return
		}
		options.Config = config
		return
	}
}

// WithConfigFile
// loads the configuration from a YAML file.
func WithConfigFile(path string) Option {
	return func(options *Options) (err error) {
		config, loadErr := LoadConfig(path)
		if loadErr != nil {
			err = loadErr
			return
		}
		options.Config = config
		return
	}
}

// WithBackend
// selects the transport: auto, bypass, uring or socket.
func WithBackend(name string) Option {
	return func(options *Options) (err error) {
		options.Config.Backend = name
		options.Config.normalize()
		err = options.Config.Validate()
		return
	}
}

// WithLink
// sets the wire under the bypass device, and selects the bypass backend.
func WithLink(link bypass.Link) Option {
	return func(options *Options) (err error) {
		options.Link = link
		options.Config.Backend = BackendBypass
		return
	}
}

// WithBackgroundPolling
// keeps PollTransport running on an executor. interval <= 0 keeps the configured one.
func WithBackgroundPolling(interval time.Duration) Option {
	return func(options *Options) (err error) {
		options.Config.Poll.Background = true
		if interval > 0 {
			options.Config.Poll.Interval = interval
		}
		return
	}
}

// WithPollerCPU
// pins the background poller to one CPU and turns background polling on.
func WithPollerCPU(cpu int) Option {
	return func(options *Options) (err error) {
		options.Config.Poll.Background = true
		options.Config.Poll.Pin = true
		options.Config.Poll.CPU = cpu
		return
	}
}

// WithWaitTimeout
// bounds every Wait. Zero waits forever.
func WithWaitTimeout(timeout time.Duration) Option {
	return func(options *Options) (err error) {
		if timeout >= 0 {
			options.Config.Wait.Timeout = timeout
		}
		return
	}
}

// WithMaxQueues
// limits the number of open queues.
func WithMaxQueues(n int) Option {
	return func(options *Options) (err error) {
		if n > 0 {
			options.Config.Queues.Max = n
		}
		return
	}
}

// WithMaxTokens
// limits the number of unconsumed tokens.
func WithMaxTokens(n int) Option {
	return func(options *Options) (err error) {
		if n > 0 {
			options.Config.Tokens.Max = n
		}
		return
	}
}

func WithLogger(logger *logrus.Logger) Option {
	return func(options *Options) (err error) {
		options.Logger = logger
		return
	}
}

func WithMetricsRegistry(registry metrics.Registry) Option {
	return func(options *Options) (err error) {
		options.Registry = registry
		return
	}
}

// WithMaxGoroutines
// bounds the executor running the background poller.
func WithMaxGoroutines(n int) Option {
	return func(options *Options) error {
		return rxp.WithMaxGoroutines(n)(&options.RxpOptions)
	}
}

// WithCloseTimeout
// bounds how long Shutdown waits for the background poller.
func WithCloseTimeout(timeout time.Duration) Option {
	return func(options *Options) error {
		return rxp.WithCloseTimeout(timeout)(&options.RxpOptions)
	}
}
