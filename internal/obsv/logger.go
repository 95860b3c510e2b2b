// Package obsv bridges slog-based component logging with zerolog-based
// structured event logging, and exposes the gateway's prometheus metrics.
package obsv

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

type ctxKey int

const (
	ctxReqIDKey ctxKey = iota
	ctxComponentKey
	ctxCellKey
)

// Config controls the zerolog global logger built by Build.
type Config struct {
	Level     string
	Console   bool
	SampleN   uint32
	Component string
}

// Build configures and returns a zerolog.Logger per cfg. out defaults to
// os.Stderr when nil.
func Build(cfg Config, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}
	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	lvl, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	logger := zerolog.New(out).With().Timestamp().Logger()
	if cfg.Component != "" {
		logger = logger.With().Str("component", cfg.Component).Logger()
	}
	if cfg.SampleN > 1 {
		logger = logger.Sample(&zerolog.BasicSampler{N: cfg.SampleN})
	}
	return logger
}

// WithComponent tags ctx with a component name for FromContext to attach.
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, ctxComponentKey, component)
}

// WithRequestID tags ctx with a request id for FromContext to attach.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxReqIDKey, id)
}

// WithCell tags ctx with a cell id for FromContext to attach.
func WithCell(ctx context.Context, cellID string) context.Context {
	return context.WithValue(ctx, ctxCellKey, cellID)
}

// NewID returns a random hex request id.
func NewID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// FromContext returns parent (or a default logger) with any context-tagged
// fields (component, request id, cell) attached.
func FromContext(ctx context.Context, parent *zerolog.Logger) *zerolog.Logger {
	var l zerolog.Logger
	if parent != nil {
		l = *parent
	} else {
		l = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	ctxLogger := l.With()
	if v, ok := ctx.Value(ctxComponentKey).(string); ok && v != "" {
		ctxLogger = ctxLogger.Str("component", v)
	}
	if v, ok := ctx.Value(ctxReqIDKey).(string); ok && v != "" {
		ctxLogger = ctxLogger.Str("request_id", v)
	}
	if v, ok := ctx.Value(ctxCellKey).(string); ok && v != "" {
		ctxLogger = ctxLogger.Str("cell", v)
	}
	out := ctxLogger.Logger()
	return &out
}
