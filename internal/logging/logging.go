// Package logging builds the process-wide zerolog logger and derives
// per-component child loggers, replacing the teacher's bare
// *log.Logger with the structured logger the rest of the retrieval
// pack (cuemby-warren) reaches for.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds the root logger. level is parsed case-insensitively
// (debug/info/warn/error); pretty switches to a human console writer
// for local development.
func New(level string, pretty bool) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	var w = os.Stdout
	logger := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	if pretty {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return logger
}

// Component returns a child logger tagged with the owning component,
// matching the teacher's "[ODIN-WS] component: message" convention.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}
