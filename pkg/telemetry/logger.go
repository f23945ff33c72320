package telemetry

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the root logger writing to w.
func NewLogger(cfg LoggingConfig, w io.Writer) zerolog.Logger {
	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(w).With().Timestamp()
	if cfg.Caller {
		ctx = ctx.Caller()
	}
	return ctx.Logger().Level(ParseLevel(cfg.Level))
}

// ParseLevel maps a level name to zerolog, falling back to info for empty or
// unknown names.
func ParseLevel(level string) zerolog.Level {
	l, err := zerolog.ParseLevel(level)
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return l
}
