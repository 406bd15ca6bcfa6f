package zeus

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/zeus/pkg/bytebuffers"
	"go.yaml.in/yaml/v3"
)

const (
	BackendAuto   = "auto"
	BackendBypass = "bypass"
	BackendUring  = "uring"
	BackendSocket = "socket"
)

const (
	DefaultMaxQueues    = 1024
	DefaultMaxTokens    = 4096
	DefaultPollInterval = 50 * time.Microsecond
)

// Config is the file form of the runtime settings. Zero values fall back to defaults.
type Config struct {
	Backend string        `yaml:"backend"`
	Queues  QueuesConfig  `yaml:"queues"`
	Tokens  TokensConfig  `yaml:"tokens"`
	Buffers BuffersConfig `yaml:"buffers"`
	Poll    PollConfig    `yaml:"poll"`
	Wait    WaitConfig    `yaml:"wait"`
	Uring   UringConfig   `yaml:"uring"`
	Bypass  BypassConfig  `yaml:"bypass"`
	Logging LoggingConfig `yaml:"logging"`
}

type QueuesConfig struct {
	Max int `yaml:"max"`
}

type TokensConfig struct {
	Max int `yaml:"max"`
}

// BuffersConfig sizes the pool behind library-owned receive buffers.
type BuffersConfig struct {
	Size int `yaml:"size"`
	Pool int `yaml:"pool"`
}

type PollConfig struct {
	// Background runs PollTransport continuously on an executor.
	Background bool          `yaml:"background"`
	Interval   time.Duration `yaml:"interval"`
	// Goroutines bounds the executor running the background poller.
	Goroutines int `yaml:"goroutines"`
	// Pin binds the background poller thread to CPU.
	Pin bool `yaml:"pin"`
	CPU int  `yaml:"cpu"`
}

type WaitConfig struct {
	// Timeout applies to Wait. Zero waits forever.
	Timeout time.Duration `yaml:"timeout"`
}

type UringConfig struct {
	Entries uint32 `yaml:"entries"`
}

type BypassConfig struct {
	Address    string `yaml:"address"`
	MAC        string `yaml:"mac"`
	GatewayMAC string `yaml:"gateway_mac"`
	FrameSize  int    `yaml:"frame_size"`
	Pool       int    `yaml:"pool"`
	TxRing     int    `yaml:"tx_ring"`
	RxBurst    int    `yaml:"rx_burst"`
	DeferTx    bool   `yaml:"defer_tx"`
	// Peer picks the link: echo or loopback.
	Peer string `yaml:"peer"`
	// ReplyDelay is how many empty receive attempts the echo peer needs before it answers.
	ReplyDelay int `yaml:"reply_delay"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func DefaultConfig() Config {
	return Config{
		Backend: BackendAuto,
		Queues:  QueuesConfig{Max: DefaultMaxQueues},
		Tokens:  TokensConfig{Max: DefaultMaxTokens},
		Buffers: BuffersConfig{Size: bytebuffers.DefaultSize, Pool: bytebuffers.DefaultLimit},
		Poll:    PollConfig{Interval: DefaultPollInterval},
		Bypass:  BypassConfig{Peer: "echo"},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// LoadConfig reads a YAML file over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return config, errors.New("read config failed", errors.WithMeta("path", path), errors.WithWrap(err))
	}
	if err = yaml.Unmarshal(b, &config); err != nil {
		return config, errors.New("parse config failed", errors.WithMeta("path", path), errors.WithWrap(err))
	}
	config.normalize()
	if err = config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

func (config *Config) normalize() {
	def := DefaultConfig()
	config.Backend = strings.ToLower(strings.TrimSpace(config.Backend))
	if config.Backend == "" {
		config.Backend = def.Backend
	}
	if config.Queues.Max < 1 {
		config.Queues.Max = def.Queues.Max
	}
	if config.Tokens.Max < 1 {
		config.Tokens.Max = def.Tokens.Max
	}
	if config.Buffers.Size < 1 {
		config.Buffers.Size = def.Buffers.Size
	}
	if config.Buffers.Pool < 1 {
		config.Buffers.Pool = def.Buffers.Pool
	}
	if config.Poll.Interval <= 0 {
		config.Poll.Interval = def.Poll.Interval
	}
	if config.Bypass.Peer == "" {
		config.Bypass.Peer = def.Bypass.Peer
	}
	if config.Logging.Level == "" {
		config.Logging.Level = def.Logging.Level
	}
	if config.Logging.Format == "" {
		config.Logging.Format = def.Logging.Format
	}
}

func (config *Config) Validate() error {
	switch config.Backend {
	case BackendAuto, BackendBypass, BackendUring, BackendSocket:
		break
	default:
		return errors.From(ErrInvalidArgument, errors.WithMeta("backend", config.Backend))
	}
	switch strings.ToLower(config.Bypass.Peer) {
	case "echo", "loopback":
		break
	default:
		return errors.From(ErrInvalidArgument, errors.WithMeta("bypass.peer", config.Bypass.Peer))
	}
	if config.Poll.Pin && config.Poll.CPU < 0 {
		return errors.From(ErrInvalidArgument, errors.WithMeta("poll.cpu", strconv.Itoa(config.Poll.CPU)))
	}
	if config.Wait.Timeout < 0 {
		return errors.From(ErrInvalidArgument, errors.WithMeta("wait.timeout", config.Wait.Timeout.String()))
	}
	return nil
}
