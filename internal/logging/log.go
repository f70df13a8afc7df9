/*
Package logging wraps logrus with the fields every timelock component logs.

To log to the base logger

	logging.Base().Info("learner started")

To log with context

	log := logging.Base().With("node", nodeID)
	log.Warnf("remote learn failed: seq=%d", seq)
*/
package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"runtime"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Level refers to the log logging level
type Level uint32

const (
	// Panic Level level, highest level of severity.
	Panic Level = iota
	// Fatal Level level. Logs and then calls `os.Exit(1)`.
	Fatal
	// Error Level level. Used for errors that should definitely be noted.
	Error
	// Warn Level level. Non-critical entries that deserve eyes.
	Warn
	// Info Level level. General operational entries.
	Info
	// Debug Level level. Very verbose logging.
	Debug
)

var (
	baseLogger Logger
	once       sync.Once
)

// Init needs to be called to ensure our logging has been initialized
func Init() {
	once.Do(func() {
		baseLogger = NewLogger()
		baseLogger.SetLevel(Info)
	})
}

func init() {
	Init()
}

// Fields maps logrus fields
type Fields = logrus.Fields

// Logger is the interface for loggers.
type Logger interface {
	Debug(...interface{})
	Debugf(string, ...interface{})

	Info(...interface{})
	Infof(string, ...interface{})

	Warn(...interface{})
	Warnf(string, ...interface{})

	Error(...interface{})
	Errorf(string, ...interface{})

	Fatal(...interface{})
	Fatalf(string, ...interface{})

	// Add one key-value to log
	With(key string, value interface{}) Logger

	// WithFields logs a message with specific fields
	WithFields(Fields) Logger

	SetLevel(Level)
	SetOutput(io.Writer)
	SetJSONFormatter()
	IsLevelEnabled(level Level) bool
}

type logger struct {
	entry *logrus.Entry
}

// Base returns the default Logger
func Base() Logger {
	return baseLogger
}

// NewLogger returns a new Logger logging to stderr.
func NewLogger() Logger {
	l := logrus.New()
	if tf, ok := l.Formatter.(*logrus.TextFormatter); ok {
		tf.TimestampFormat = "2006-01-02T15:04:05.000000 -0700"
		tf.FullTimestamp = true
	}
	return logger{entry: logrus.NewEntry(l)}
}

// ParseLevel converts a level name such as "info" or "debug" to a Level.
func ParseLevel(name string) (Level, error) {
	lvl, err := logrus.ParseLevel(name)
	if err != nil {
		return Info, err
	}
	return Level(lvl), nil
}

// ValueHash returns a short digest of a payload. Payloads themselves are never
// logged; the digest lets operators correlate the same value across nodes.
func ValueHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

func (l logger) With(key string, value interface{}) Logger {
	return logger{l.entry.WithField(key, value)}
}

func (l logger) WithFields(fields Fields) Logger {
	return logger{l.entry.WithFields(fields)}
}

func (l logger) Debug(args ...interface{}) { l.source().Debug(args...) }

func (l logger) Debugf(format string, args ...interface{}) { l.source().Debugf(format, args...) }

func (l logger) Info(args ...interface{}) { l.source().Info(args...) }

func (l logger) Infof(format string, args ...interface{}) { l.source().Infof(format, args...) }

func (l logger) Warn(args ...interface{}) { l.source().Warn(args...) }

func (l logger) Warnf(format string, args ...interface{}) { l.source().Warnf(format, args...) }

func (l logger) Error(args ...interface{}) { l.source().Error(args...) }

func (l logger) Errorf(format string, args ...interface{}) { l.source().Errorf(format, args...) }

func (l logger) Fatal(args ...interface{}) { l.source().Fatal(args...) }

func (l logger) Fatalf(format string, args ...interface{}) { l.source().Fatalf(format, args...) }

func (l logger) SetLevel(lvl Level) {
	l.entry.Logger.SetLevel(logrus.Level(lvl))
}

func (l logger) IsLevelEnabled(level Level) bool {
	return l.entry.Logger.IsLevelEnabled(logrus.Level(level))
}

func (l logger) SetOutput(w io.Writer) {
	l.entry.Logger.SetOutput(w)
}

func (l logger) SetJSONFormatter() {
	l.entry.Logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000000Z07:00"})
}

// source adds file, line and function fields to the event
func (l logger) source() *logrus.Entry {
	event := l.entry

	pc, file, line, ok := runtime.Caller(2)
	if !ok {
		return event
	}
	slash := strings.LastIndex(file, "/")
	event = event.WithFields(logrus.Fields{
		"file": file[slash+1:],
		"line": line,
	})
	if function := runtime.FuncForPC(pc); function != nil {
		event = event.WithField("function", function.Name())
	}
	return event
}
