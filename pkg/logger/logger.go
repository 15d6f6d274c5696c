package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// Init configures the shared logger from config values. Safe to call
// more than once; the last call wins.
func Init(level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)

	switch format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	log.SetOutput(os.Stdout)
	return nil
}

// WithComponent returns an entry tagged with the originating component,
// so stream/retry/form logs can be filtered apart.
func WithComponent(name string) *logrus.Entry {
	return log.WithField("component", name)
}

// WithField mirrors logrus.WithField on the shared logger.
func WithField(key string, value interface{}) *logrus.Entry {
	return log.WithField(key, value)
}

func Debugf(format string, args ...interface{}) {
	log.Debugf(format, args...)
}

func Infof(format string, args ...interface{}) {
	log.Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	log.Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	log.Errorf(format, args...)
}

func Info(args ...interface{}) {
	log.Info(args...)
}

func Fatalf(format string, args ...interface{}) {
	log.Fatalf(format, args...)
}
