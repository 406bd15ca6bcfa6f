package zeus

import (
	"net"
	"net/netip"
	"strings"

	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/zeus/pkg/transport"
	"github.com/brickingsoft/zeus/pkg/transport/bypass"
	"github.com/sirupsen/logrus"
)

func newBackend(options *Options, log *logrus.Logger) (transport.Backend, error) {
	if options.Config.Backend == BackendBypass {
		return newBypassBackend(options)
	}
	return platformBackend(options.Config, log)
}

func newBypassBackend(options *Options) (*bypass.Device, error) {
	config := options.Config.Bypass
	opts := bypass.Options{
		FrameSize: config.FrameSize,
		PoolSize:  config.Pool,
		TxRing:    config.TxRing,
		RxBurst:   config.RxBurst,
		DeferTx:   config.DeferTx,
		Link:      options.Link,
	}
	if config.Address != "" {
		addr, err := netip.ParseAddr(config.Address)
		if err != nil {
			return nil, errors.From(ErrInvalidArgument, errors.WithMeta("bypass.address", config.Address), errors.WithWrap(err))
		}
		opts.Address = addr
	}
	if config.MAC != "" {
		mac, err := net.ParseMAC(config.MAC)
		if err != nil {
			return nil, errors.From(ErrInvalidArgument, errors.WithMeta("bypass.mac", config.MAC), errors.WithWrap(err))
		}
		opts.MAC = mac
	}
	if config.GatewayMAC != "" {
		mac, err := net.ParseMAC(config.GatewayMAC)
		if err != nil {
			return nil, errors.From(ErrInvalidArgument, errors.WithMeta("bypass.gateway_mac", config.GatewayMAC), errors.WithWrap(err))
		}
		opts.GatewayMAC = mac
	}
	if opts.Link == nil {
		switch strings.ToLower(config.Peer) {
		case "loopback":
			opts.Link = bypass.NewLoopbackLink()
			break
		default:
			opts.Link = bypass.NewEchoLink(config.ReplyDelay)
			break
		}
	}
	return bypass.New(opts)
}
