package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"btcQuant/internal/ports"
)

// LogLevel defines the logging level.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the LogLevel.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a string level to LogLevel. Unknown values map to Info.
func ParseLevel(levelStr string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Logger implements ports.Logger on top of zerolog.
type Logger struct {
	zl zerolog.Logger
}

var _ ports.Logger = (*Logger)(nil)

// New creates a JSON logger writing to stderr, tagged with the service name.
func New(level LogLevel, service string) *Logger {
	return NewWithWriter(os.Stderr, level, service)
}

// NewConsole creates a human-readable logger for interactive CLI commands.
func NewConsole(level LogLevel, service string) *Logger {
	return NewWithWriter(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}, level, service)
}

// NewWithWriter creates a logger writing to w.
func NewWithWriter(w io.Writer, level LogLevel, service string) *Logger {
	zl := zerolog.New(w).
		Level(level.zerolog()).
		With().
		Timestamp().
		Str("service", service).
		Logger()
	return &Logger{zl: zl}
}

func (l *Logger) write(ev *zerolog.Event, msg string, fields []ports.Fields) {
	if len(fields) > 0 && fields[0] != nil {
		ev = ev.Fields(map[string]interface{}(fields[0]))
	}
	ev.Msg(msg)
}

// Debug logs a message at Debug level.
func (l *Logger) Debug(ctx context.Context, msg string, fields ...ports.Fields) {
	l.write(l.zl.Debug(), msg, fields)
}

// Info logs a message at Info level.
func (l *Logger) Info(ctx context.Context, msg string, fields ...ports.Fields) {
	l.write(l.zl.Info(), msg, fields)
}

// Warn logs a message at Warning level.
func (l *Logger) Warn(ctx context.Context, msg string, fields ...ports.Fields) {
	l.write(l.zl.Warn(), msg, fields)
}

// Error logs an error message at Error level.
func (l *Logger) Error(ctx context.Context, err error, msg string, fields ...ports.Fields) {
	l.write(l.zl.Error().Err(err), msg, fields)
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}
