// Package log wraps zerolog with the logger construction conventions used
// across the backup-stages tooling: a single process-wide logger configured
// once at startup from the [logging] section of the INI config, and
// component-scoped children derived from it.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Logger is the global logger instance.
	Logger zerolog.Logger
)

// Level represents a configured log level.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Format selects the rendering of log records.
type Format string

const (
	// FormatConsole renders human-readable lines, with timestamps laid out
	// by Config.TimeFormat.
	FormatConsole Format = "console"
	// FormatJSON renders one JSON object per record.
	FormatJSON Format = "json"
)

// Config holds logging configuration. The config loader fills Level and
// TimeFormat from the [logging] section's level and datefmt keys; its
// format and log_file keys are not read, Format is always FormatConsole,
// and Output defaults to os.Stdout.
type Config struct {
	Level      Level
	Format     Format
	TimeFormat string // zerolog time layout; defaults to time.RFC3339 when empty
	Output     io.Writer
}

// Init initializes the global logger. Safe to call more than once; the most
// recent call wins, which is useful in tests.
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

	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339
	}

	if cfg.Format == FormatJSON {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: timeFormat,
			NoColor:    true,
		}).With().Timestamp().Logger()
	}
}

// WithComponent creates a child logger tagged with the originating component,
// e.g. "stage", "sequencer", "workflow-client".
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithCustomer creates a child logger tagged with the tenancy name.
func WithCustomer(customer string) zerolog.Logger {
	return Logger.With().Str("customer", customer).Logger()
}

// WithStage creates a child logger tagged with the running stage keyword.
func WithStage(stage string) zerolog.Logger {
	return Logger.With().Str("stage", stage).Logger()
}

func Info(msg string) {
	Logger.Info().Msg(msg)
}

func Debug(msg string) {
	Logger.Debug().Msg(msg)
}

func Warn(msg string) {
	Logger.Warn().Msg(msg)
}

func Error(msg string) {
	Logger.Error().Msg(msg)
}

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}

func Fatal(msg string) {
	Logger.Fatal().Msg(msg)
}
