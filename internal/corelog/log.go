// Package corelog provides the ambient structured logging used by every
// subsystem in this module: one process-wide zerolog.Logger, configured
// once at construction time, with per-component child loggers handed out
// to callers.
package corelog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level is an explicit logging level. There is no environment-variable or
// flag-driven default: callers always pass one in.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config configures the root logger.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

var root zerolog.Logger

// Init constructs the root logger. It must be called once before any
// subsystem's WithComponent logger is used; calling it again replaces the
// root (tests call it per-suite for isolation).
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

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		root = zerolog.New(output).With().Timestamp().Logger()
		return
	}
	root = zerolog.New(zerolog.ConsoleWriter{
		Out:        output,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()
}

// WithComponent returns a child logger carrying a fixed "component" field.
// Every subsystem package calls this once at construction time, e.g.
// corelog.WithComponent("cap").
func WithComponent(component string) zerolog.Logger {
	return root.With().Str("component", component).Logger()
}

func init() {
	// Sensible default so packages that never call Init (unit tests that
	// construct a subsystem directly) still get a usable logger.
	Init(Config{Level: InfoLevel})
}
