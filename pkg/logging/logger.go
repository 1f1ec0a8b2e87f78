package logging

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options tweak the logger output.
type Options struct {
	// Console writes human readable lines instead of JSON.
	Console bool
}

// ParseLevel accepts the zerolog level names case-insensitively, plus the
// Python logging names warning and critical.
func ParseLevel(level string) (zerolog.Level, error) {
	name := strings.ToLower(strings.TrimSpace(level))
	switch name {
	case "":
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q: level is empty", level)
	case "warning":
		name = zerolog.LevelWarnValue
	case "critical":
		name = zerolog.LevelFatalValue
	}
	lvl, err := zerolog.ParseLevel(name)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q: %w", level, err)
	}
	return lvl, nil
}

// NewLogger builds the process logger writing to w at the given level.
func NewLogger(level string, w io.Writer, opts Options) (zerolog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), err
	}
	if opts.Console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Caller().Logger(), nil
}
