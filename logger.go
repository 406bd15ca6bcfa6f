package zeus

import (
	"strings"
	"time"

	"github.com/brickingsoft/errors"
	"github.com/sirupsen/logrus"
)

func newLogger(config LoggingConfig) (*logrus.Logger, error) {
	l := logrus.New()
	if err := configLogger(l, config); err != nil {
		return nil, err
	}
	return l, nil
}

func configLogger(l *logrus.Logger, config LoggingConfig) error {
	level, err := logrus.ParseLevel(strings.ToLower(config.Level))
	if err != nil {
		return errors.From(
			ErrInvalidArgument,
			errors.WithMeta("logging.level", config.Level),
			errors.WithWrap(err),
		)
	}
	l.SetLevel(level)

	switch strings.ToLower(config.Format) {
	case "text":
		l.Formatter = &logrus.TextFormatter{
			TimestampFormat: time.RFC3339Nano,
			FullTimestamp:   true,
		}
	case "json":
		l.Formatter = &logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		}
	default:
		return errors.From(ErrInvalidArgument, errors.WithMeta("logging.format", config.Format))
	}
	return nil
}
