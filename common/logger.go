package common

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// loggerPtr stores the active logger. Accessed atomically so that SetLogger can be
// called while compiles and hot reloads are logging from worker goroutines.
var loggerPtr atomic.Pointer[zap.Logger]

func init() {
	loggerPtr.Store(zap.NewNop())
}

// SetLogger configures the logger used by every package of the shader pipeline.
// By default nothing is logged. Passing nil restores the silent default.
//
// Log levels used by the pipeline:
//   - Debug: fast-path hits, dropped unreferenced resources, per-stage timings
//   - Info: successful builds, hot-reload swaps, server lifecycle
//   - Warn: failed hot reloads, compiler warnings, corrupt cache files
//   - Error: reflection failures (these point at a compiler or engine bug)
//
// Parameters:
//   - l: the logger to install, or nil to disable logging
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	loggerPtr.Store(l)
}

// Logger returns the currently installed logger. It never returns nil.
//
// Returns:
//   - *zap.Logger: the active logger
func Logger() *zap.Logger {
	return loggerPtr.Load()
}
