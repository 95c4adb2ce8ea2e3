// Package log configures the process-wide zerolog logger and exposes
// the writer used as the session's append-only subprocess log sink.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level is one of the four logging verbosities accepted on the CLI.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config controls how the global logger and log sink are constructed.
type Config struct {
	Level Level
	// Output is the writer subprocess output and structured log lines
	// are both written to. A nil Output defaults to stdout.
	Output io.Writer
}

// Logger is the process-wide logger, ready after Init.
var Logger zerolog.Logger

// sink is the raw writer handed to the command runner for combined
// stdout/stderr of supervised children.
var sink io.Writer

// Init configures Logger and the shared log sink from cfg.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	sink = out

	Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()
}

// Sink returns the writer structured logs and subprocess output share.
func Sink() io.Writer {
	if sink == nil {
		return os.Stdout
	}
	return sink
}

// WithComponent returns a child logger tagged with a component field.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithSession returns a child logger tagged with the session id.
func WithSession(sessionID string) zerolog.Logger {
	return Logger.With().Str("session", sessionID).Logger()
}
