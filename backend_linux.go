//go:build linux

package zeus

import (
	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/zeus/pkg/kernel"
	"github.com/brickingsoft/zeus/pkg/transport"
	"github.com/brickingsoft/zeus/pkg/transport/socket"
	"github.com/brickingsoft/zeus/pkg/transport/uring"
	"github.com/sirupsen/logrus"
)

func platformBackend(config Config, log *logrus.Logger) (transport.Backend, error) {
	switch config.Backend {
	case BackendSocket:
		return socket.New(socket.Options{}), nil
	case BackendUring:
		b, err := uring.New(uring.Options{Entries: config.Uring.Entries})
		if err != nil {
			return nil, errors.From(transport.ErrUnsupported, errors.WithMeta("backend", BackendUring), errors.WithWrap(err))
		}
		return b, nil
	case BackendAuto:
		// IORING_OP_SENDMSG appeared in 5.3, probing needs 5.6
		if ok, _ := kernel.Check(5, 6, 0); ok {
			b, err := uring.New(uring.Options{Entries: config.Uring.Entries})
			if err == nil {
				return b, nil
			}
			log.WithError(err).Info("zeus: io_uring unavailable, falling back to sockets")
		}
		return socket.New(socket.Options{}), nil
	default:
		return nil, errors.From(transport.ErrUnknownBackend, errors.WithMeta("backend", config.Backend))
	}
}
