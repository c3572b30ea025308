package loader

import (
	"time"

	"github.com/Carmen-Shannon/oxy-shader/engine/profiler"
	"go.uber.org/zap"
)

// LoaderBuilderOption is a functional option for configuring a Loader via NewLoader.
type LoaderBuilderOption func(*loader)

// WithSourceBackend is an option builder that sets where documents are read from.
//
// Parameters:
//   - b: the source backend, the OS file system by default
//
// Returns:
//   - LoaderBuilderOption: a function that applies the backend option to a loader
func WithSourceBackend(b SourceBackend) LoaderBuilderOption {
	return func(l *loader) {
		l.backend = b
	}
}

// WithInterval is an option builder that sets how often the poller checks watched documents.
//
// Parameters:
//   - d: the poll interval, 500ms by default
//
// Returns:
//   - LoaderBuilderOption: a function that applies the interval option to a loader
func WithInterval(d time.Duration) LoaderBuilderOption {
	return func(l *loader) {
		if d > 0 {
			l.interval = d
		}
	}
}

// WithProfiler is an option builder that sets a profiler the poller ticks after every poll,
// so statistics are logged at the profiler's interval while watching.
//
// Parameters:
//   - p: the profiler
//
// Returns:
//   - LoaderBuilderOption: a function that applies the profiler option to a loader
func WithProfiler(p *profiler.Profiler) LoaderBuilderOption {
	return func(l *loader) {
		l.profiler = p
	}
}

// WithLogger is an option builder that sets the logger used for reload diagnostics.
//
// Parameters:
//   - logger: the logger
//
// Returns:
//   - LoaderBuilderOption: a function that applies the logger option to a loader
func WithLogger(logger *zap.Logger) LoaderBuilderOption {
	return func(l *loader) {
		l.logger = logger
	}
}

// WithWatch is an option builder that watches documents from the start.
//
// Parameters:
//   - paths: the document paths
//
// Returns:
//   - LoaderBuilderOption: a function that applies the watch option to a loader
func WithWatch(paths ...string) LoaderBuilderOption {
	return func(l *loader) {
		for _, p := range paths {
			l.watched[p] = time.Time{}
		}
	}
}
