package flashtool

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger creates the installer's console logger. Colors are off: the
// output usually ends up on a serial console or in a file.
func NewLogger(w io.Writer, level zerolog.Level) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
		NoColor:    true,
	}
	return zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("lib", "flashtool").
		Logger()
}

// NewTestLogger creates a logger for tests; verbose 0 only shows warnings.
func NewTestLogger(w io.Writer, verbose int) zerolog.Logger {
	var level zerolog.Level
	switch verbose {
	case 0:
		level = zerolog.WarnLevel
	case 1:
		level = zerolog.InfoLevel
	case 2:
		level = zerolog.DebugLevel
	default:
		level = zerolog.TraceLevel
	}
	return NewLogger(w, level)
}

// LogLevelFromString parses trace, debug, info, warn or error.
func LogLevelFromString(levelStr string) (zerolog.Level, error) {
	return zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(levelStr)))
}

// DefaultLogger logs at info level to stderr.
func DefaultLogger() zerolog.Logger {
	return NewLogger(os.Stderr, zerolog.InfoLevel)
}
