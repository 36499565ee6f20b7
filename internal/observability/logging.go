package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LogOptions selects level and output format for service loggers.
type LogOptions struct {
	Level  string    // trace|debug|info|warn|error|disabled
	Format string    // json (default) or console
	Out    io.Writer // defaults to stdout
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Millisecond
}

// NewLogger creates a JSON logger on stdout tagged with component.
// The level comes from POOL_LOG_LEVEL, info if unset.
func NewLogger(component string) zerolog.Logger {
	return NewLoggerWithOptions(component, LogOptions{
		Level:  os.Getenv("POOL_LOG_LEVEL"),
		Format: os.Getenv("POOL_LOG_FORMAT"),
	})
}

// NewLoggerWithOptions builds a component logger from explicit options.
func NewLoggerWithOptions(component string, opts LogOptions) zerolog.Logger {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	if strings.EqualFold(opts.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000"}
	}

	return zerolog.New(out).
		Level(ParseLogLevel(opts.Level)).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// ParseLogLevel maps a config string to a level. Unknown values mean info.
func ParseLogLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "warning":
		return zerolog.WarnLevel
	case "off", "none":
		return zerolog.Disabled
	case "":
		return zerolog.InfoLevel
	}
	level, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}
