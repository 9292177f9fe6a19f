// Package tlog is the structured logging facility the core accepts as
// construction-time configuration (spec.md §9: "Global logger singletons
// -> accept a logging sink as construction-time configuration on
// server/client, default to a no-op").
package tlog

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Fields carries structured key/value context for a log line.
type Fields map[string]any

// Logger is the narrow interface the tftp core and server dispatcher log
// through. Nothing in this module ever reaches for a package-level
// singleton logger; every Logger is supplied by the caller.
type Logger interface {
	Debug(msg string, fields Fields)
	Info(msg string, fields Fields)
	Warn(msg string, fields Fields)
	Error(msg string, fields Fields)
}

// logrusLogger adapts *logrus.Logger to Logger.
type logrusLogger struct {
	l *logrus.Logger
}

// New returns a Logger backed by logrus, writing to out at the given level
// name ("debug", "info", "warn", "error"). An unrecognized level defaults
// to info.
func New(out io.Writer, level string) Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return &logrusLogger{l: l}
}

func (g *logrusLogger) Debug(msg string, fields Fields) {
	g.l.WithFields(logrus.Fields(fields)).Debug(msg)
}

func (g *logrusLogger) Info(msg string, fields Fields) {
	g.l.WithFields(logrus.Fields(fields)).Info(msg)
}

func (g *logrusLogger) Warn(msg string, fields Fields) {
	g.l.WithFields(logrus.Fields(fields)).Warn(msg)
}

func (g *logrusLogger) Error(msg string, fields Fields) {
	g.l.WithFields(logrus.Fields(fields)).Error(msg)
}

type noopLogger struct{}

func (noopLogger) Debug(string, Fields) {}
func (noopLogger) Info(string, Fields)  {}
func (noopLogger) Warn(string, Fields)  {}
func (noopLogger) Error(string, Fields) {}

// Noop is the default Logger: every call is a no-op.
var Noop Logger = noopLogger{}
