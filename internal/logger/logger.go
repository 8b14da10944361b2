// Package logger configures the global zerolog logger and provides
// context helpers for request-scoped sub-loggers.
package logger

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup initializes the global zerolog logger with the given level.
// Unknown levels fall back to info. Output is JSON on stderr with
// RFC3339 timestamps.
func Setup(level string) {
	zerolog.TimeFieldFormat = time.RFC3339

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// FromContext returns the zerolog logger attached to ctx, or the
// global logger when none is attached.
func FromContext(ctx context.Context) *zerolog.Logger {
	return zerolog.Ctx(ctx)
}
