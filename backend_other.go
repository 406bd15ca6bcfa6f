//go:build !unix

package zeus

import (
	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/zeus/pkg/transport"
	"github.com/sirupsen/logrus"
)

func platformBackend(config Config, _ *logrus.Logger) (transport.Backend, error) {
	return nil, errors.From(transport.ErrUnsupported, errors.WithMeta("backend", config.Backend))
}
