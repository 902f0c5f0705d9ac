// Package corelog is the ambient process-diagnostic logger shared by every
// service binary. It is independent of logd's in-memory journal: this package
// writes to stderr for humans and CI, logd owns the bounded, queryable record
// of what services told it over IPC.
package corelog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide base logger. Init should be called once, early,
// by each binary's main().
var Logger zerolog.Logger

type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config controls the ambient logger's verbosity and shape.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init configures the package-global Logger.
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
		output = os.Stderr
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
		return
	}
	Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        output,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()
}

func init() {
	// Sane default so packages that log before main() calls Init (tests,
	// library use) don't panic on a zero-value Logger.
	Init(Config{Level: InfoLevel})
}

// For returns a child logger tagged with the owning service's name.
func For(service string) zerolog.Logger {
	return Logger.With().Str("service", service).Logger()
}

// WithServiceID tags a child logger with a kernel-assigned sender identity.
func WithServiceID(id uint64) zerolog.Logger {
	return Logger.With().Uint64("sender_service_id", id).Logger()
}
