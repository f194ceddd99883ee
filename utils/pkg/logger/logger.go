// Package logger builds the slog logger shared by the engine binaries.
package logger

import (
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
)

// New returns a tinted slog logger writing to stdout. Verbose enables debug
// level; timestamps are rendered as UTC RFC3339 with millisecond precision.
func New(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:       level,
		ReplaceAttr: replaceAttr,
	}))
}

func replaceAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		t := a.Value.Time().UTC()
		a.Value = slog.StringValue(t.Format("2006-01-02T15:04:05.000Z"))
	}
	// Drop empty string attrs so optional fields don't clutter lines.
	if s, ok := a.Value.Any().(string); ok && s == "" {
		return slog.Attr{}
	}
	return a
}
