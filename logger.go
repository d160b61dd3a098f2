package webtex

import (
	"log/slog"

	"github.com/gogpu/webtex/bridge"
	"github.com/gogpu/webtex/devcaps"
	"github.com/gogpu/webtex/gpuid"
	"github.com/gogpu/webtex/gpushare"
	"github.com/gogpu/webtex/ime"
	"github.com/gogpu/webtex/internal/logging"
	"github.com/gogpu/webtex/ipc"
	"github.com/gogpu/webtex/supervisor"
)

// logger is the root package's logger. Silent until SetLogger.
var logger logging.Logger

// packageLoggers receive every logger passed to SetLogger.
var packageLoggers = []func(*slog.Logger){
	bridge.SetLogger,
	devcaps.SetLogger,
	gpuid.SetLogger,
	gpushare.SetLogger,
	ime.SetLogger,
	ipc.SetLogger,
	supervisor.SetLogger,
}

// SetLogger configures the logger for webtex and all its sub-packages.
// By default, webtex produces no log output. Call SetLogger to enable logging.
//
// SetLogger is safe for concurrent use: it stores the new logger atomically.
// Pass nil to disable logging (restore default silent behavior).
//
// Log levels used by webtex:
//   - [slog.LevelDebug]: per-frame diagnostics (dropped frames, releases)
//   - [slog.LevelInfo]: lifecycle events (engine launched, adapter identified)
//   - [slog.LevelWarn]: degradations (software fallback, late negotiation)
//   - [slog.LevelError]: engine crashes
//
// Example:
//
//	// Enable info-level logging to stderr:
//	webtex.SetLogger(slog.Default())
//
//	// Enable debug-level logging for full diagnostics:
//	webtex.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	logger.Set(l)
	for _, set := range packageLoggers {
		set(l)
	}
}

// Logger returns the current logger used by webtex.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return logger.Get()
}
