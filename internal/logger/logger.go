// Package logger provides the gateway's leveled JSON logger and the
// non-blocking sink shipper.
//
// Every line carries a component tag and optional metadata. Metadata is
// redacted before emission: any key whose lowercased form contains the
// substring "apikey" has its value masked, so provider credentials never
// reach stdout or an external sink.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Mask replaces redacted metadata values.
const Mask = "********"

// Logger emits one JSON line per call to the underlying writer. DEBUG lines
// are dropped unless verbose mode is on; verbosity can be flipped at runtime
// through the admin surface.
type Logger struct {
	slog    *slog.Logger
	level   *slog.LevelVar
	shipper *Shipper
}

// New builds a logger writing JSON lines to w. A nil w means stdout.
func New(w io.Writer, verbose bool) *Logger {
	if w == nil {
		w = os.Stdout
	}
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return &Logger{slog: slog.New(handler), level: level}
}

// SetShipper attaches an asynchronous sink shipper. Every emitted line is
// also enqueued there, fire-and-forget.
func (l *Logger) SetShipper(s *Shipper) { l.shipper = s }

// SetVerbose toggles DEBUG emission at runtime.
func (l *Logger) SetVerbose(v bool) {
	if v {
		l.level.Set(slog.LevelDebug)
	} else {
		l.level.Set(slog.LevelInfo)
	}
}

// Verbose reports whether DEBUG lines are currently emitted.
func (l *Logger) Verbose() bool { return l.level.Level() <= slog.LevelDebug }

// Slog exposes the underlying slog logger for libraries that want one.
func (l *Logger) Slog() *slog.Logger { return l.slog }

func (l *Logger) Debug(component, msg string, meta map[string]any) {
	l.log(slog.LevelDebug, component, msg, meta)
}

func (l *Logger) Info(component, msg string, meta map[string]any) {
	l.log(slog.LevelInfo, component, msg, meta)
}

func (l *Logger) Warn(component, msg string, meta map[string]any) {
	l.log(slog.LevelWarn, component, msg, meta)
}

func (l *Logger) Error(component, msg string, meta map[string]any) {
	l.log(slog.LevelError, component, msg, meta)
}

func (l *Logger) log(level slog.Level, component, msg string, meta map[string]any) {
	if !l.slog.Enabled(context.Background(), level) {
		return
	}

	redacted := Redact(meta)
	attrs := make([]any, 0, 1+len(redacted))
	attrs = append(attrs, slog.String("component", component))
	for k, v := range redacted {
		attrs = append(attrs, slog.Any(k, v))
	}
	l.slog.Log(context.Background(), level, msg, attrs...)

	if l.shipper != nil {
		l.shipper.Enqueue(Entry{
			Timestamp: time.Now().UTC(),
			Level:     level.String(),
			Component: component,
			Message:   msg,
			Metadata:  redacted,
		})
	}
}

// Redact returns a copy of meta with credential values masked. Keys are
// matched case-insensitively on the substring "apikey"; nested maps are
// redacted recursively.
func Redact(meta map[string]any) map[string]any {
	if len(meta) == 0 {
		return meta
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		if strings.Contains(strings.ToLower(k), "apikey") {
			out[k] = Mask
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = Redact(nested)
			continue
		}
		out[k] = v
	}
	return out
}
