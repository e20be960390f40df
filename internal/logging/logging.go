// Package logging builds the process-wide slog.Logger used by
// cmd/icmpmsgr-node, following the tint-handler convention used throughout
// the teacher's telemetry services.
package logging

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// New builds a tint-backed slog.Logger writing to stderr. verbose selects
// debug-level output; otherwise info and above.
func New(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(formatRFC3339Millis(a.Value.Time()))
				return a
			}
			// Facade/delivery events carry optional string fields (filename,
			// peer) that are empty for text messages; drop them instead of
			// printing "filename=""" noise on every text-message log line.
			if s, ok := a.Value.Any().(string); ok && s == "" {
				return slog.Attr{}
			}
			return a
		},
	}))
}

func formatRFC3339Millis(t time.Time) string {
	t = t.UTC()
	base := t.Format("2006-01-02T15:04:05")
	ms := t.Nanosecond() / 1_000_000
	return fmt.Sprintf("%s.%03dZ", base, ms)
}
