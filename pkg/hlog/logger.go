// Package hlog provides the structured, leveled logging surface used
// throughout hrun, backed by go.uber.org/zap.
package hlog

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the severity of a log line.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// String returns the human-readable name of the level.
func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLogLevel parses a case-insensitive level name.
func ParseLogLevel(level string) (LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, &ParseError{Value: level}
	}
}

// ParseError is returned by ParseLogLevel for an unrecognized level name.
type ParseError struct{ Value string }

func (e *ParseError) Error() string { return "hlog: invalid log level: " + e.Value }

// Logger wraps a zap.SugaredLogger and keeps its level in a
// zap.AtomicLevel, so SetLevel can change verbosity at runtime.
type Logger struct {
	level *zap.AtomicLevel
	sugar *zap.SugaredLogger
}

// New builds a Logger writing structured JSON at or above level to stderr.
func New(level LogLevel) *Logger {
	atom := zap.NewAtomicLevelAt(level.zapLevel())
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), zapcore.Lock(zapcore.AddSync(newStderr())), atom)
	logger := zap.New(core, zap.AddCaller())
	return &Logger{level: &atom, sugar: logger.Sugar()}
}

// SetLevel changes the minimum level logged, at runtime.
func (l *Logger) SetLevel(level LogLevel) { l.level.SetLevel(level.zapLevel()) }

// With returns a child logger with the given structured fields attached to
// every subsequent line — used to tag a logger with worker id, node id, or
// task-state name once rather than repeating it at every call site.
func (l *Logger) With(kv ...interface{}) *Logger {
	return &Logger{level: l.level, sugar: l.sugar.With(kv...)}
}

func (l *Logger) Debugw(msg string, kv ...interface{}) { l.sugar.Debugw(msg, kv...) }
func (l *Logger) Infow(msg string, kv ...interface{})  { l.sugar.Infow(msg, kv...) }
func (l *Logger) Warnw(msg string, kv ...interface{})  { l.sugar.Warnw(msg, kv...) }
func (l *Logger) Errorw(msg string, kv ...interface{}) { l.sugar.Errorw(msg, kv...) }

// Fatalw logs at fatal level and aborts the process. Reserved for setup
// errors: missing module, bad host file, shared-memory creation failure.
func (l *Logger) Fatalw(msg string, kv ...interface{}) { l.sugar.Fatalw(msg, kv...) }

// Sync flushes buffered log lines; call before process exit.
func (l *Logger) Sync() error { return l.sugar.Sync() }
