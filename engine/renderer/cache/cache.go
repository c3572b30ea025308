// Package cache holds compiled shader artifacts keyed by content hash and compiler
// version, and tracks which entry is current for every document path. Entries are
// immutable snapshots: a successful rebuild publishes a new entry and never edits the
// old one, and a failed rebuild leaves the last good entry current.
package cache

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Carmen-Shannon/oxy-shader/common"
	"github.com/Carmen-Shannon/oxy-shader/engine/profiler"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// pathState is the published state of one document path. It is replaced, never edited.
type pathState struct {
	// modTime is the timestamp of the document that produced entry.
	modTime time.Time
	// entry is the last good entry, nil before the first success.
	entry *Entry
	// err is the error of the last attempt, nil if it succeeded.
	err error
}

// Status describes one tracked document path.
type Status struct {
	Path     string
	ModTime  time.Time
	Key      Key
	HasEntry bool
	Err      error
}

// cache is the implementation of the Cache interface.
type cache struct {
	builder  Builder
	store    Store
	profiler *profiler.Profiler
	logger   *zap.Logger

	// mu guards the three maps only; builds run outside it.
	mu       sync.Mutex
	entries  map[Key]*Entry
	failures map[Key]error
	paths    map[string]*atomic.Pointer[pathState]

	group singleflight.Group
}

// Cache is the artifact cache. It is safe for concurrent use: documents build in
// parallel, and concurrent requests for the same content share one build.
type Cache interface {
	// GetOrCompile returns the entry for doc, building it if needed.
	//
	// When the path's recorded timestamp equals doc.ModTime() the current entry is
	// returned without hashing. Otherwise the content hash is looked up in memory, then
	// in the store, and only then built. On failure the previous entry stays current,
	// the error becomes the path's diagnostic and is returned as a *BuildError.
	//
	// Parameters:
	//   - ctx: checked before building and passed to the compiler
	//   - doc: the document
	//
	// Returns:
	//   - *Entry: the entry, retained for the caller, who must Release it
	//   - error: a *BuildError or a context error
	GetOrCompile(ctx context.Context, doc *shader.Document) (*Entry, error)

	// Current returns the current entry of a path.
	//
	// Parameters:
	//   - path: the document path
	//
	// Returns:
	//   - *Entry: the entry, retained for the caller, who must Release it
	//   - bool: false if the path has never built successfully
	Current(path string) (*Entry, bool)

	// Diagnostics returns the error of the last attempt for a path, nil if it succeeded.
	//
	// Parameters:
	//   - path: the document path
	//
	// Returns:
	//   - error: the last error
	Diagnostics(path string) error

	// Status returns the state of one path.
	//
	// Parameters:
	//   - path: the document path
	//
	// Returns:
	//   - Status: the state
	//   - bool: false if the path is not tracked
	Status(path string) (Status, bool)

	// Paths returns every tracked path, sorted.
	//
	// Returns:
	//   - []string: the paths
	Paths() []string

	// Forget stops tracking a path. Its entry stops being current and becomes evictable
	// once released.
	//
	// Parameters:
	//   - path: the document path
	Forget(path string)

	// Evict drops every entry with no references that is not current for any path, and
	// clears memoised build failures.
	//
	// Returns:
	//   - int: the number of entries dropped
	Evict() int

	// Len returns the number of entries held in memory.
	Len() int

	// Version returns the compiler version tag of the cache's builder.
	Version() string

	// Stats returns the pipeline counters.
	Stats() profiler.Snapshot
}

var _ Cache = &cache{}

// NewCache creates a Cache around a Builder.
//
// Parameters:
//   - b: the builder used on the slow path
//   - options: variadic list of CacheBuilderOption functions
//
// Returns:
//   - Cache: the cache
func NewCache(b Builder, options ...CacheBuilderOption) Cache {
	if b == nil {
		panic("cache: NewCache requires a builder")
	}
	c := &cache{
		builder:  b,
		entries:  make(map[Key]*Entry),
		failures: make(map[Key]error),
		paths:    make(map[string]*atomic.Pointer[pathState]),
	}
	for _, opt := range options {
		opt(c)
	}
	if c.profiler == nil {
		c.profiler = profiler.NewProfiler()
	}
	if c.logger == nil {
		c.logger = common.Logger().Named("cache")
	}
	return c
}

func (c *cache) state(path string) *atomic.Pointer[pathState] {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.paths[path]
	if !ok {
		st = &atomic.Pointer[pathState]{}
		c.paths[path] = st
	}
	return st
}

func (c *cache) lookup(path string) *pathState {
	c.mu.Lock()
	st, ok := c.paths[path]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return st.Load()
}

func (c *cache) GetOrCompile(ctx context.Context, doc *shader.Document) (*Entry, error) {
	st := c.state(doc.Path())
	prev := st.Load()
	if prev != nil && prev.entry != nil && prev.modTime.Equal(doc.ModTime()) {
		c.profiler.RecordFastPath()
		return prev.entry.Retain(), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := Key{Hash: doc.Hash(), CompilerVersion: c.builder.Version()}
	entry, err := c.resolve(ctx, doc, key)
	if err != nil {
		buildErr := &BuildError{Path: doc.Path(), Key: key, Err: err}
		c.publish(st, func(old pathState) pathState {
			old.err = buildErr
			return old
		})
		return nil, buildErr
	}

	c.publish(st, func(pathState) pathState {
		return pathState{modTime: doc.ModTime(), entry: entry}
	})
	if prev == nil || prev.entry != entry {
		c.logger.Info("entry published",
			zap.String("path", doc.Path()),
			zap.String("key", key.String()),
			zap.Int("stages", len(entry.Stages())),
		)
		for _, w := range entry.Layout().Warnings {
			c.logger.Debug("layout warning", zap.String("path", doc.Path()), zap.Stringer("warning", w))
		}
	}
	return entry, nil
}

// publish swaps in a new snapshot derived from the current one.
func (c *cache) publish(st *atomic.Pointer[pathState], next func(pathState) pathState) {
	for {
		old := st.Load()
		var base pathState
		if old != nil {
			base = *old
		}
		updated := next(base)
		if st.CompareAndSwap(old, &updated) {
			return
		}
	}
}

// resolve finds or builds the entry for key and returns it retained for the caller.
// Concurrent calls for one key share a build.
func (c *cache) resolve(ctx context.Context, doc *shader.Document, key Key) (*Entry, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		e.Retain()
		c.mu.Unlock()
		c.profiler.RecordHashHit()
		return e, nil
	}
	if err, ok := c.failures[key]; ok {
		c.mu.Unlock()
		return nil, err
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		c.mu.Lock()
		e, ok := c.entries[key]
		c.mu.Unlock()
		if ok {
			return e, nil
		}

		if c.store != nil {
			e, err := c.store.Load(key)
			switch {
			case err == nil:
				c.insert(e)
				c.profiler.RecordDiskHit()
				return e, nil
			case err != ErrNotFound:
				c.logger.Warn("ignoring unreadable artifact", zap.String("key", key.String()), zap.Error(err))
			}
		}

		start := time.Now()
		e, err := c.builder.Build(ctx, doc)
		c.profiler.RecordBuild(time.Since(start), err)
		if err != nil {
			if deterministic(err) {
				c.mu.Lock()
				c.failures[key] = err
				c.mu.Unlock()
			}
			return nil, err
		}

		c.insert(e)
		if c.store != nil {
			if err := c.store.Save(e); err != nil {
				c.logger.Warn("failed to persist artifact", zap.String("key", key.String()), zap.Error(err))
			}
		}
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return c.adopt(v.(*Entry)), nil
}

// adopt retains e under the map lock. An Evict that ran between the build and this call
// may have dropped it, in which case it is stored again; an entry already stored under
// the same key wins so one key never maps to two entries.
func (c *cache) adopt(e *Entry) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.entries[e.Key()]; ok {
		e = cur
	} else {
		c.entries[e.Key()] = e
	}
	return e.Retain()
}

func (c *cache) insert(e *Entry) {
	c.mu.Lock()
	c.entries[e.Key()] = e
	delete(c.failures, e.Key())
	c.mu.Unlock()
}

func (c *cache) Current(path string) (*Entry, bool) {
	st := c.lookup(path)
	if st == nil || st.entry == nil {
		return nil, false
	}
	return st.entry.Retain(), true
}

func (c *cache) Diagnostics(path string) error {
	st := c.lookup(path)
	if st == nil {
		return nil
	}
	return st.err
}

func (c *cache) Status(path string) (Status, bool) {
	c.mu.Lock()
	ptr, ok := c.paths[path]
	c.mu.Unlock()
	if !ok {
		return Status{}, false
	}
	s := Status{Path: path}
	if st := ptr.Load(); st != nil {
		s.ModTime = st.modTime
		s.Err = st.err
		if st.entry != nil {
			s.Key = st.entry.Key()
			s.HasEntry = true
		}
	}
	return s, true
}

func (c *cache) Paths() []string {
	c.mu.Lock()
	paths := make([]string, 0, len(c.paths))
	for p := range c.paths {
		paths = append(paths, p)
	}
	c.mu.Unlock()
	slices.Sort(paths)
	return paths
}

func (c *cache) Forget(path string) {
	c.mu.Lock()
	delete(c.paths, path)
	c.mu.Unlock()
}

func (c *cache) Evict() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := make(map[*Entry]bool, len(c.paths))
	for _, ptr := range c.paths {
		if st := ptr.Load(); st != nil && st.entry != nil {
			current[st.entry] = true
		}
	}

	evicted := 0
	for key, e := range c.entries {
		if current[e] || e.Refs() > 0 {
			continue
		}
		delete(c.entries, key)
		evicted++
	}
	clear(c.failures)

	if evicted > 0 {
		c.profiler.RecordEvictions(evicted)
		c.logger.Debug("evicted entries", zap.Int("count", evicted), zap.Int("remaining", len(c.entries)))
	}
	return evicted
}

func (c *cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *cache) Version() string {
	return c.builder.Version()
}

func (c *cache) Stats() profiler.Snapshot {
	return c.profiler.Snapshot()
}
