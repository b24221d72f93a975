package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Setup builds the agent's root logger. Unknown levels fall back to info.
func Setup(level string) zerolog.Logger {
	return New(os.Stdout, level)
}

// New builds a console logger writing to out
func New(out io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = time.RFC3339

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}

	return zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: "2006-01-02 15:04:05", NoColor: out != os.Stdout}).
		Level(lvl).
		With().
		Timestamp().
		Str("service", "homedeck_agent").
		Str("host", hostname).
		Logger()
}
