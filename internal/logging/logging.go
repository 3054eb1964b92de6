// Package logging wires up the process-wide slog.Logger shared by hutchd
// and hutch-tracker, using the pretty, color-backed handler both binaries
// are built around.
package logging

import (
	"io"
	"log/slog"

	"github.com/prxssh/hutch/pkg/utils/logging"
)

// Setup installs a color-backed slog.Logger at level as the process
// default and returns it. Callers scope it further with
// Logger.With("component", ...).
func Setup(w io.Writer, level slog.Level) *slog.Logger {
	l, _ := SetupDynamic(w, level)
	return l
}

// SetupDynamic is Setup plus a *slog.LevelVar the caller can Set on later
// to change the logger's level without rebuilding it — used by hutchd to
// apply a hot-reloaded log_level without restarting.
func SetupDynamic(w io.Writer, level slog.Level) (*slog.Logger, *slog.LevelVar) {
	var lvl slog.LevelVar
	lvl.Set(level)

	opts := logging.DefaultOptions()
	opts.SlogOpts.Level = &lvl

	h := logging.NewPrettyHandler(w, &opts)
	l := slog.New(h)
	slog.SetDefault(l)
	return l, &lvl
}

// ParseLevel maps a CLI/config level name to a slog.Level, defaulting to
// Info on anything unrecognized.
func ParseLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
