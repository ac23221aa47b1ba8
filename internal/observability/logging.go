// Package observability holds the ambient operational surface: structured
// logging, Prometheus metrics and health probes.
package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds a component-tagged structured logger. Output is JSON
// on stdout; set PERP_LOG_PRETTY=1 for human-readable console output
// during development. Level comes from PERP_LOG_LEVEL (zerolog level
// names), defaulting to info.
func NewLogger(component string) zerolog.Logger {
	level := zerolog.InfoLevel
	if v := os.Getenv("PERP_LOG_LEVEL"); v != "" {
		if parsed, err := zerolog.ParseLevel(v); err == nil {
			level = parsed
		}
	}

	var out io.Writer = os.Stdout
	if os.Getenv("PERP_LOG_PRETTY") == "1" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// NewLoggerWithLevel builds a logger with an explicit level, ignoring the
// environment. Used by tests and the migration binary.
func NewLoggerWithLevel(component string, level zerolog.Level) zerolog.Logger {
	return zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
