// Package logging provides structured logging for basketbuddy.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents a log level.
type LogLevel string

const (
	LevelDebug LogLevel = "DEBUG"
	LevelInfo  LogLevel = "INFO"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
)

// ParseLevel maps a config string onto a LogLevel, defaulting to info.
func ParseLevel(s string) LogLevel {
	switch LogLevel(strings.ToUpper(strings.TrimSpace(s))) {
	case LevelDebug:
		return LevelDebug
	case LevelWarn, "WARNING":
		return LevelWarn
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

func (l LogLevel) logrus() logrus.Level {
	switch l {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Logger provides structured JSON logging.
type Logger struct {
	entry    *logrus.Logger
	out      io.Writer
	minLevel LogLevel
}

var (
	global *Logger
	mu     sync.Mutex
)

// New builds a standalone logger writing JSON lines to out.
func New(out io.Writer, minLevel LogLevel) *Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(minLevel.logrus())
	l.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "timestamp",
			logrus.FieldKeyMsg:  "message",
		},
	})
	return &Logger{entry: l, out: out, minLevel: minLevel}
}

// Init replaces the global logger.
func Init(out io.Writer, minLevel LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	global = New(out, minLevel)
}

// InitFile points the global logger at a size-rotated file.
func InitFile(path string, minLevel LogLevel, maxSizeMB, maxBackups int) io.Closer {
	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		Compress:   true,
	}
	Init(rotator, minLevel)
	return rotator
}

// Get returns the global logger instance.
func Get() *Logger {
	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		global = New(os.Stderr, LevelInfo)
	}
	return global
}

func (l *Logger) log(level LogLevel, message string, err error, context map[string]interface{}) {
	e := logrus.NewEntry(l.entry)
	if len(context) > 0 {
		e = e.WithFields(logrus.Fields(context))
	}
	if err != nil {
		e = e.WithError(err)
	}
	e.Log(level.logrus(), message)
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, context ...map[string]interface{}) {
	l.log(LevelDebug, message, nil, mergeContext(context...))
}

// Info logs an info message.
func (l *Logger) Info(message string, context ...map[string]interface{}) {
	l.log(LevelInfo, message, nil, mergeContext(context...))
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, context ...map[string]interface{}) {
	l.log(LevelWarn, message, nil, mergeContext(context...))
}

// Error logs an error message.
func (l *Logger) Error(message string, err error, context ...map[string]interface{}) {
	l.log(LevelError, message, err, mergeContext(context...))
}

// WarnErr logs a warning that carries an error, for failures the engine
// recovers from on its own (queued writes, skipped replays).
func (l *Logger) WarnErr(message string, err error, context ...map[string]interface{}) {
	l.log(LevelWarn, message, err, mergeContext(context...))
}

func mergeContext(context ...map[string]interface{}) map[string]interface{} {
	if len(context) == 0 {
		return nil
	}
	if len(context) == 1 {
		return context[0]
	}
	merged := make(map[string]interface{})
	for _, c := range context {
		for k, v := range c {
			merged[k] = v
		}
	}
	return merged
}

// Convenience functions using global logger

func Debug(message string, context ...map[string]interface{}) {
	Get().Debug(message, context...)
}

func Info(message string, context ...map[string]interface{}) {
	Get().Info(message, context...)
}

func Warn(message string, context ...map[string]interface{}) {
	Get().Warn(message, context...)
}

func WarnErr(message string, err error, context ...map[string]interface{}) {
	Get().WarnErr(message, err, context...)
}

func Error(message string, err error, context ...map[string]interface{}) {
	Get().Error(message, err, context...)
}
