package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// L is the process logger. Init replaces it; until then it writes to stderr.
var L = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
	With().Timestamp().Logger()

// Init configures L. format is "console" or "json".
func Init(w io.Writer, level, format string) {
	if w == nil {
		w = os.Stderr
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	if format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}
	L = zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// Component returns a child of L tagged with the component name.
func Component(name string) zerolog.Logger {
	return L.With().Str("component", name).Logger()
}
