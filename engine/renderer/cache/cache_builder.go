package cache

import (
	"github.com/Carmen-Shannon/oxy-shader/engine/profiler"
	"go.uber.org/zap"
)

// CacheBuilderOption is a functional option used to configure a Cache during construction.
type CacheBuilderOption func(*cache)

// WithStore makes the cache consult and fill a persistent artifact store. Without a
// store, entries live in memory only.
//
// Parameters:
//   - store: the artifact store
//
// Returns:
//   - CacheBuilderOption: a function that sets the store
func WithStore(store Store) CacheBuilderOption {
	return func(c *cache) {
		c.store = store
	}
}

// WithProfiler shares a profiler with the cache. A private one is created otherwise.
//
// Parameters:
//   - p: the profiler to record lookups and builds into
//
// Returns:
//   - CacheBuilderOption: a function that sets the profiler
func WithProfiler(p *profiler.Profiler) CacheBuilderOption {
	return func(c *cache) {
		c.profiler = p
	}
}

// WithLogger sets the logger the cache writes to. Defaults to the "cache" child of the
// package-level logger.
//
// Parameters:
//   - logger: the logger
//
// Returns:
//   - CacheBuilderOption: a function that sets the logger
func WithLogger(logger *zap.Logger) CacheBuilderOption {
	return func(c *cache) {
		c.logger = logger
	}
}
