package logger

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger interface for structured logging
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Field represents a structured log field
type Field struct {
	Key   string
	Value any
}

// F is shorthand for building a Field
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Err wraps an error under the "error" key
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

const maxValueLen = 100

// sanitizeValue keeps client-controlled strings from flooding the log
func sanitizeValue(v any) any {
	switch s := v.(type) {
	case string:
		if len(s) > maxValueLen {
			return s[:maxValueLen] + "...[truncated]"
		}
	case []byte:
		return sanitizeValue(string(s))
	}
	return v
}

// Zerolog writes through a zerolog.Logger
type Zerolog struct {
	zl zerolog.Logger
}

// NewZerolog builds a logger writing to w. format is "json" or "console",
// level is any level name zerolog understands.
func NewZerolog(w io.Writer, format, level string) (*Zerolog, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	switch format {
	case "json", "":
	case "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.DateTime}
	default:
		return nil, fmt.Errorf("logger: unknown format %q", format)
	}

	zl := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	return &Zerolog{zl: zl}, nil
}

func (l *Zerolog) Debug(msg string, fields ...Field) { l.emit(l.zl.Debug(), msg, fields) }
func (l *Zerolog) Info(msg string, fields ...Field)  { l.emit(l.zl.Info(), msg, fields) }
func (l *Zerolog) Warn(msg string, fields ...Field)  { l.emit(l.zl.Warn(), msg, fields) }
func (l *Zerolog) Error(msg string, fields ...Field) { l.emit(l.zl.Error(), msg, fields) }

func (l *Zerolog) emit(ev *zerolog.Event, msg string, fields []Field) {
	if ev == nil {
		return
	}
	for _, f := range fields {
		if err, ok := f.Value.(error); ok {
			ev = ev.AnErr(f.Key, err)
			continue
		}
		ev = ev.Interface(f.Key, sanitizeValue(f.Value))
	}
	ev.Msg(msg)
}

// Slog adapts a *slog.Logger, e.g. one produced by the otelslog bridge
type Slog struct {
	sl *slog.Logger
}

func NewSlog(sl *slog.Logger) *Slog {
	return &Slog{sl: sl}
}

func (l *Slog) Debug(msg string, fields ...Field) { l.sl.Debug(msg, attrs(fields)...) }
func (l *Slog) Info(msg string, fields ...Field)  { l.sl.Info(msg, attrs(fields)...) }
func (l *Slog) Warn(msg string, fields ...Field)  { l.sl.Warn(msg, attrs(fields)...) }
func (l *Slog) Error(msg string, fields ...Field) { l.sl.Error(msg, attrs(fields)...) }

func attrs(fields []Field) []any {
	if len(fields) == 0 {
		return nil
	}
	out := make([]any, 0, len(fields))
	for _, f := range fields {
		v := f.Value
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		out = append(out, slog.Any(f.Key, sanitizeValue(v)))
	}
	return out
}

// Tee fans every call out to several loggers
type Tee []Logger

func (t Tee) Debug(msg string, fields ...Field) {
	for _, l := range t {
		l.Debug(msg, fields...)
	}
}

func (t Tee) Info(msg string, fields ...Field) {
	for _, l := range t {
		l.Info(msg, fields...)
	}
}

func (t Tee) Warn(msg string, fields ...Field) {
	for _, l := range t {
		l.Warn(msg, fields...)
	}
}

func (t Tee) Error(msg string, fields ...Field) {
	for _, l := range t {
		l.Error(msg, fields...)
	}
}

// NullLogger discards all logs (for testing)
type NullLogger struct{}

func (NullLogger) Debug(msg string, fields ...Field) {}
func (NullLogger) Info(msg string, fields ...Field)  {}
func (NullLogger) Warn(msg string, fields ...Field)  {}
func (NullLogger) Error(msg string, fields ...Field) {}
