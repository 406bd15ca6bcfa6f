//go:build unix && !linux

package zeus

import (
	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/zeus/pkg/transport"
	"github.com/brickingsoft/zeus/pkg/transport/socket"
	"github.com/sirupsen/logrus"
)

func platformBackend(config Config, _ *logrus.Logger) (transport.Backend, error) {
	switch config.Backend {
	case BackendSocket, BackendAuto:
		return socket.New(socket.Options{}), nil
	case BackendUring:
		return nil, errors.From(transport.ErrUnsupported, errors.WithMeta("backend", BackendUring))
	default:
		return nil, errors.From(transport.ErrUnknownBackend, errors.WithMeta("backend", config.Backend))
	}
}
