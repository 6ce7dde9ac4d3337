// Package logging builds the zerolog loggers handed to every component.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/stellarlinkco/cxagent/internal/config"
)

// New returns a root logger writing to w (stderr when nil).
func New(cfg config.LogConfig, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	return zerolog.New(w).Level(ParseLevel(cfg.Level)).With().
		Timestamp().
		Str("app", "cxagent").
		Logger()
}

// ParseLevel accepts zerolog's level names plus "off" and "warning".
// Anything unrecognised logs at info.
func ParseLevel(level string) zerolog.Level {
	switch name := strings.ToLower(strings.TrimSpace(level)); name {
	case "off":
		return zerolog.Disabled
	case "warning":
		return zerolog.WarnLevel
	default:
		l, err := zerolog.ParseLevel(name)
		if err != nil || l == zerolog.NoLevel {
			return zerolog.InfoLevel
		}
		return l
	}
}

// Component tags a child logger the way log lines are grouped in output.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}
