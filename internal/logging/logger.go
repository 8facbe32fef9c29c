package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Format selects how records are encoded.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Options configures New.
type Options struct {
	// File is the log path. Empty writes to stderr.
	File string
	// Level is one of debug, info, warn, error; anything else means info.
	Level  string
	Format Format
	// Rotation applies only when File is set.
	Rotation RotationConfig
}

// Logger is a leveled structured logger carrying plan, batch and phase
// attributes. Loggers derived with the With methods share the parent's
// output and must not be closed separately.
type Logger struct {
	slog *slog.Logger
	out  *sink
}

// sink owns the log file, if any.
type sink struct {
	mu sync.Mutex
	rw *RotatingWriter
}

func (s *sink) close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rw == nil {
		return nil
	}
	err := s.rw.Close()
	s.rw = nil
	if err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	return nil
}

// New opens a Logger.
func New(opts Options) (*Logger, error) {
	var (
		w   io.Writer = os.Stderr
		out           = &sink{}
	)
	if opts.File != "" {
		rw, err := NewRotatingWriter(opts.File, opts.Rotation)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		w, out.rw = rw, rw
	}
	return &Logger{slog: slog.New(newHandler(w, opts.Level, opts.Format)), out: out}, nil
}

// NewWriterLogger returns a Logger writing JSON lines to w.
func NewWriterLogger(w io.Writer, level string) *Logger {
	return &Logger{slog: slog.New(newHandler(w, level, FormatJSON)), out: &sink{}}
}

func newHandler(w io.Writer, level string, format Format) slog.Handler {
	opts := &slog.HandlerOptions{Level: levelOf(level)}
	if format == FormatText {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func levelOf(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// NopLogger returns a Logger that discards everything.
func NopLogger() *Logger {
	return &Logger{slog: slog.New(slog.DiscardHandler)}
}

// OrNop returns l, or a NopLogger when l is nil.
func OrNop(l *Logger) *Logger {
	if l == nil {
		return NopLogger()
	}
	return l
}

// WithPlan tags every record with the plan directory.
func (l *Logger) WithPlan(planDir string) *Logger {
	return l.With("plan_dir", planDir)
}

// WithBatch tags every record with a batch ID.
func (l *Logger) WithBatch(batchID string) *Logger {
	return l.With("batch_id", batchID)
}

// WithPhase tags every record with a phase ID.
func (l *Logger) WithPhase(phaseID string) *Logger {
	return l.With("phase_id", phaseID)
}

// With returns a Logger that adds the given key-value pairs to every record.
func (l *Logger) With(args ...any) *Logger {
	if len(args) == 0 {
		return l
	}
	return &Logger{slog: l.slog.With(args...), out: l.out}
}

func (l *Logger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args) }
func (l *Logger) Info(msg string, args ...any)  { l.log(slog.LevelInfo, msg, args) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(slog.LevelWarn, msg, args) }
func (l *Logger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args) }

func (l *Logger) log(level slog.Level, msg string, args []any) {
	l.slog.Log(context.Background(), level, msg, args...)
}

// Close closes the log file. It is a no-op for stderr and writer loggers.
func (l *Logger) Close() error {
	return l.out.close()
}

// ValidLevels lists the accepted level names.
func ValidLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ParseLevel normalizes a level name, falling back to "info".
func ParseLevel(level string) string {
	return strings.ToLower(levelOf(level).String())
}
