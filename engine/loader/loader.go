// Package loader reads shader documents and keeps watched documents current in the
// cache. A poller compares modification times on a ticker and rebuilds changed
// documents off the caller's goroutine; a failed rebuild is reported and leaves the
// previous entry in use.
package loader

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Carmen-Shannon/oxy-shader/common"
	"github.com/Carmen-Shannon/oxy-shader/engine/profiler"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/cache"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader/compiler"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ReloadFunc is called after a watched document published a new entry. The entry is only
// guaranteed alive for the duration of the call; subscribers that keep it must Retain it.
// Documents are polled concurrently, so calls for different paths may overlap.
type ReloadFunc func(path string, e *cache.Entry)

// ErrorFunc is called when a watched document could not be read or rebuilt. Like
// ReloadFunc it may run concurrently for different paths.
type ErrorFunc func(path string, err error)

// loader is the implementation of the Loader interface.
type loader struct {
	cache    cache.Cache
	backend  SourceBackend
	profiler *profiler.Profiler
	logger   *zap.Logger
	interval time.Duration

	mu sync.RWMutex
	// watched maps a path to the modification time of its last poll attempt.
	watched  map[string]time.Time
	onReload []ReloadFunc
	onError  []ErrorFunc

	// pollMu serializes polls from the ticker and from callers.
	pollMu sync.Mutex

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Loader loads shader documents through the cache and hot-reloads watched ones.
type Loader interface {
	// Load returns the current entry of a document, reading and building it only when its
	// modification time changed since the cache last saw it.
	//
	// Parameters:
	//   - ctx: cancels a build that has not started yet
	//   - path: the document path
	//
	// Returns:
	//   - *cache.Entry: a retained entry the caller must Release
	//   - error: error if the document cannot be read or built
	Load(ctx context.Context, path string) (*cache.Entry, error)

	// Watch adds documents to the set the poller checks. Watching a path twice is a no-op.
	//
	// Parameters:
	//   - paths: the document paths
	Watch(paths ...string)

	// Unwatch removes a document from the watched set. Its cache state is kept.
	//
	// Parameters:
	//   - path: the document path
	Unwatch(path string)

	// Watched returns the watched paths, sorted.
	//
	// Returns:
	//   - []string: the paths
	Watched() []string

	// OnReload subscribes to successful reloads.
	//
	// Parameters:
	//   - fn: the subscriber
	OnReload(fn ReloadFunc)

	// OnError subscribes to failed reloads.
	//
	// Parameters:
	//   - fn: the subscriber
	OnError(fn ErrorFunc)

	// Poll checks every watched document once and rebuilds the changed ones, each on its
	// own goroutine so a slow document does not hold back the others. Documents whose
	// modification time equals the last attempt are skipped, so a broken document is
	// reported once per edit.
	//
	// Parameters:
	//   - ctx: cancels builds that have not started yet
	//
	// Returns:
	//   - int: the number of documents that published a new entry
	Poll(ctx context.Context) int

	// Start runs Poll on a ticker until Stop is called or ctx is done. Starting a running
	// loader is a no-op.
	//
	// Parameters:
	//   - ctx: the lifetime of the poller
	Start(ctx context.Context)

	// Stop stops the poller and waits for an in-flight poll to finish.
	Stop()

	// Cache returns the cache the loader publishes into.
	//
	// Returns:
	//   - cache.Cache: the cache
	Cache() cache.Cache
}

var _ Loader = &loader{}

// NewLoader creates a new Loader publishing into c.
//
// Parameters:
//   - c: the artifact cache
//   - options: a variadic list of LoaderBuilderOption functions to configure the Loader
//
// Returns:
//   - Loader: a new instance of Loader configured with the provided options
func NewLoader(c cache.Cache, options ...LoaderBuilderOption) Loader {
	if c == nil {
		panic("loader: NewLoader requires a cache")
	}
	l := &loader{
		cache:    c,
		backend:  NewOSSourceBackend(),
		logger:   common.Logger().Named("loader"),
		interval: 500 * time.Millisecond,
		watched:  make(map[string]time.Time),
	}
	for _, option := range options {
		option(l)
	}
	return l
}

func (l *loader) Cache() cache.Cache {
	return l.cache
}

func (l *loader) Load(ctx context.Context, path string) (*cache.Entry, error) {
	modTime, err := l.backend.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("loader: stat %s: %w", path, err)
	}
	if st, ok := l.cache.Status(path); ok && st.HasEntry && st.ModTime.Equal(modTime) {
		if e, ok := l.cache.Current(path); ok {
			return e, nil
		}
	}
	return l.build(ctx, path, modTime)
}

func (l *loader) build(ctx context.Context, path string, modTime time.Time) (*cache.Entry, error) {
	src, err := l.backend.Read(path)
	if err != nil {
		return nil, fmt.Errorf("loader: read %s: %w", path, err)
	}
	return l.cache.GetOrCompile(ctx, shader.NewDocument(path, modTime, src))
}

func (l *loader) Watch(paths ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range paths {
		if _, ok := l.watched[p]; !ok {
			l.watched[p] = time.Time{}
		}
	}
}

func (l *loader) Unwatch(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.watched, path)
}

func (l *loader) Watched() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return common.SortedKeys(l.watched)
}

func (l *loader) OnReload(fn ReloadFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onReload = append(l.onReload, fn)
}

func (l *loader) OnError(fn ErrorFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onError = append(l.onError, fn)
}

func (l *loader) Poll(ctx context.Context) int {
	l.pollMu.Lock()
	defer l.pollMu.Unlock()

	var reloaded atomic.Int32
	var g errgroup.Group
	for _, path := range l.Watched() {
		g.Go(func() error {
			if ctx.Err() == nil && l.pollOne(ctx, path) {
				reloaded.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	if l.profiler != nil {
		l.profiler.Tick()
	}
	return int(reloaded.Load())
}

// pollOne checks one document and reports whether it published a new entry.
func (l *loader) pollOne(ctx context.Context, path string) bool {
	modTime, err := l.backend.Stat(path)
	if err != nil {
		l.mu.Lock()
		last, watched := l.watched[path]
		if watched {
			l.watched[path] = time.Time{}
		}
		l.mu.Unlock()
		// report a vanished document once, not on every tick
		if watched && !last.IsZero() {
			l.logger.Warn("watched document unavailable", zap.String("path", path), zap.Error(err))
			l.notifyError(path, err)
		}
		return false
	}

	l.mu.RLock()
	last, watched := l.watched[path]
	l.mu.RUnlock()
	if !watched || last.Equal(modTime) {
		return false
	}

	var previous cache.Key
	prevStatus, hadEntry := l.cache.Status(path)
	hadEntry = hadEntry && prevStatus.HasEntry
	if hadEntry {
		previous = prevStatus.Key
	}

	e, err := l.build(ctx, path, modTime)
	if err != nil {
		if ctx.Err() != nil {
			// not attempted; retry on the next poll
			return false
		}
		l.markAttempted(path, modTime)
		l.logFailure(path, err)
		l.notifyError(path, err)
		return false
	}
	defer e.Release()
	l.markAttempted(path, modTime)

	if hadEntry && e.Key() == previous {
		l.logger.Debug("document touched without content change", zap.String("path", path))
		return false
	}
	l.logger.Info("document reloaded", zap.String("path", path), zap.Stringer("key", e.Key()))
	l.notifyReload(path, e)
	return true
}

func (l *loader) markAttempted(path string, modTime time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.watched[path]; ok {
		l.watched[path] = modTime
	}
}

// logFailure logs one diagnostic per failed stage.
func (l *loader) logFailure(path string, err error) {
	var be *cache.BuildError
	if !errors.As(err, &be) {
		l.logger.Warn("reload failed", zap.String("path", path), zap.Error(err))
		return
	}
	for _, e := range be.Errors() {
		var ce *compiler.CompileError
		if errors.As(e, &ce) {
			l.logger.Warn("reload failed, keeping previous entry",
				zap.String("path", path),
				zap.Stringer("stage", ce.Stage),
				zap.Int("line", ce.DocumentLine),
				zap.String("message", ce.Message),
			)
			continue
		}
		l.logger.Warn("reload failed, keeping previous entry", zap.String("path", path), zap.Error(e))
	}
}

func (l *loader) notifyReload(path string, e *cache.Entry) {
	l.mu.RLock()
	subs := slices.Clone(l.onReload)
	l.mu.RUnlock()
	for _, fn := range subs {
		fn(path, e)
	}
}

func (l *loader) notifyError(path string, err error) {
	l.mu.RLock()
	subs := slices.Clone(l.onError)
	l.mu.RUnlock()
	for _, fn := range subs {
		fn(path, err)
	}
}

func (l *loader) Start(ctx context.Context) {
	l.runMu.Lock()
	defer l.runMu.Unlock()
	if l.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()

		l.Poll(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Poll(ctx)
			}
		}
	}(l.done)
	l.logger.Info("watching documents", zap.Int("documents", len(l.Watched())), zap.Duration("interval", l.interval))
}

func (l *loader) Stop() {
	l.runMu.Lock()
	defer l.runMu.Unlock()
	if l.cancel == nil {
		return
	}
	l.cancel()
	<-l.done
	l.cancel = nil
	l.done = nil
}
