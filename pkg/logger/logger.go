package logger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nais/vpn-forwarder/pkg/types"
	"github.com/sirupsen/logrus"
)

type Logger interface {
	logrus.FieldLogger
	GetInternalLogger() *logrus.Logger
	WithComponent(component types.ComponentName) Logger
	WithConnection(connectionID uuid.UUID, remoteAddr string) Logger
	WithRequest(method, path string) Logger
	WithSession(sessionID string) Logger
	WithTarget(target types.TargetID) Logger
	WithUser(user string) Logger
}

type logger struct {
	*logrus.Entry
}

func (l *logger) GetInternalLogger() *logrus.Logger {
	return l.Entry.Logger
}

func (l *logger) WithComponent(component types.ComponentName) Logger {
	return &logger{l.WithField("component", component)}
}

func (l *logger) WithConnection(connectionID uuid.UUID, remoteAddr string) Logger {
	return &logger{l.WithFields(logrus.Fields{
		"connection": connectionID.String(),
		"remote":     remoteAddr,
	})}
}

func (l *logger) WithRequest(method, path string) Logger {
	return &logger{l.WithFields(logrus.Fields{
		"method": method,
		"path":   path,
	})}
}

func (l *logger) WithSession(sessionID string) Logger {
	return &logger{l.WithField("session", sessionID)}
}

func (l *logger) WithTarget(target types.TargetID) Logger {
	return &logger{l.WithField("target", target.String())}
}

func (l *logger) WithUser(user string) Logger {
	return &logger{l.WithField("user", user)}
}

func GetLogger(format, level string) (Logger, error) {
	log := logrus.StandardLogger()

	switch format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	case "text":
		log.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	default:
		return &logger{}, fmt.Errorf("invalid log format: %s", format)
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return &logger{}, err
	}

	log.SetLevel(lvl)

	return &logger{logrus.NewEntry(log)}, nil
}

// New Wrap an existing logrus logger, e.g. one with a test hook attached.
func New(log *logrus.Logger) Logger {
	return &logger{logrus.NewEntry(log)}
}
