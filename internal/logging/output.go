package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects the base logger's level, format, and destination.
type Options struct {
	Level      string            // debug, info, warn, error
	Format     string            // text or json
	File       string            // empty means stderr
	MaxSizeMB  int               // rotate after this size (file output only)
	MaxBackups int               // rotated files to keep
	MaxAgeDays int               // days to keep rotated files
	Components map[string]string // per-component level overrides
}

// New builds the process-wide base logger. The returned closer flushes and
// closes the log file, if any.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	var w io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		lj := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		w, closer = lj, lj
	}

	// The inner handler accepts everything; the filter decides.
	hopts := &slog.HandlerOptions{Level: slog.LevelDebug}
	var base slog.Handler
	switch strings.ToLower(opts.Format) {
	case "", "text":
		base = slog.NewTextHandler(w, hopts)
	case "json":
		base = slog.NewJSONHandler(w, hopts)
	default:
		return nil, nil, fmt.Errorf("unknown log format %q (supported: text, json)", opts.Format)
	}

	filter := NewComponentFilterHandler(base, level)
	for component, l := range opts.Components {
		cl, err := ParseLevel(l)
		if err != nil {
			return nil, nil, fmt.Errorf("component %s: %w", component, err)
		}
		filter.SetLevel(component, cl)
	}
	return slog.New(filter), closer, nil
}

// ParseLevel parses a level name. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
