// Package engine wires the shader pipeline together: a compiler toolchain, the artifact
// cache with its optional disk store, the hot-reload loader and, when a GPU is attached,
// the device adapter. Pipelines created through the engine follow their document: a
// successful reload refreshes them and rebuilds their device objects.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Carmen-Shannon/oxy-shader/common"
	"github.com/Carmen-Shannon/oxy-shader/engine/loader"
	"github.com/Carmen-Shannon/oxy-shader/engine/profiler"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/cache"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/material"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader/compiler"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ErrNoDevice is returned by operations that need a GPU when the engine has none.
var ErrNoDevice = errors.New("engine: no device attached")

// engine implements the Engine interface.
type engine struct {
	logger *zap.Logger

	// construction settings, applied by EngineBuilderOption
	compiler         compiler.Compiler
	toolchainOptions []compiler.ToolchainBuilderOption
	cacheDir         string
	compressionLevel zstd.EncoderLevel
	pruneOnStart     bool
	pollInterval     time.Duration
	sourceBackend    loader.SourceBackend
	watch            []string
	device           device.Device

	profiler          *profiler.Profiler
	profilingEnabled  atomic.Bool
	profilingInterval time.Duration

	toolchain compiler.Toolchain
	store     *cache.DiskStore
	cache     cache.Cache
	loader    loader.Loader

	mu        sync.Mutex
	pipelines map[string]pipeline.Pipeline

	running     atomic.Bool
	quitChannel chan struct{}
	quitOnce    sync.Once
	closeOnce   sync.Once
}

// Engine is the main entry point of the shader pipeline.
type Engine interface {
	// Toolchain returns the compiler toolchain.
	//
	// Returns:
	//   - compiler.Toolchain: the toolchain
	Toolchain() compiler.Toolchain

	// Cache returns the artifact cache.
	//
	// Returns:
	//   - cache.Cache: the cache
	Cache() cache.Cache

	// Loader returns the document loader and hot-reload poller.
	//
	// Returns:
	//   - loader.Loader: the loader
	Loader() loader.Loader

	// Profiler returns the statistics collector shared by the cache and the loader.
	//
	// Returns:
	//   - *profiler.Profiler: the profiler
	Profiler() *profiler.Profiler

	// Device returns the attached device, nil when the engine runs headless.
	//
	// Returns:
	//   - device.Device: the device or nil
	Device() device.Device

	// EnableProfiler enables periodic statistics output to the log.
	EnableProfiler()

	// DisableProfiler disables periodic statistics output.
	DisableProfiler()

	// Load returns the current entry of a document, building it if it changed.
	//
	// Parameters:
	//   - ctx: cancels a build that has not started yet
	//   - path: the document path
	//
	// Returns:
	//   - *cache.Entry: a retained entry the caller must Release
	//   - error: error if the document cannot be read or built
	Load(ctx context.Context, path string) (*cache.Entry, error)

	// Pipeline returns the pipeline registered under key, creating it from the document at
	// path when it does not exist yet. New pipelines are watched for reloads and, with a
	// device attached, get their device pipeline built.
	//
	// Parameters:
	//   - ctx: cancels a build that has not started yet
	//   - key: the unique key of the pipeline
	//   - path: the document path
	//   - opts: render state options for a new pipeline
	//
	// Returns:
	//   - pipeline.Pipeline: the pipeline, owned by the engine
	//   - error: error if the document cannot be built
	Pipeline(ctx context.Context, key, path string, opts ...pipeline.PipelineBuilderOption) (pipeline.Pipeline, error)

	// Pipelines returns the registered pipelines keyed by their key.
	//
	// Returns:
	//   - map[string]pipeline.Pipeline: a copy of the registry
	Pipelines() map[string]pipeline.Pipeline

	// RemovePipeline releases and unregisters a pipeline.
	//
	// Parameters:
	//   - key: the key of the pipeline
	RemovePipeline(key string)

	// BindMaterial resolves a material instance against a pipeline's current layout and
	// creates its bind groups. Unbound or mismatched bindings are filled with fallback
	// values and reported in the returned error alongside valid providers.
	//
	// Parameters:
	//   - p: the pipeline the material renders with
	//   - inst: the material instance, attached to the pipeline's current entry
	//
	// Returns:
	//   - []bind_group_provider.BindGroupProvider: one provider per descriptor set, nil on failure
	//   - error: the binding errors, or ErrNoDevice, or a device error
	BindMaterial(p pipeline.Pipeline, inst material.Instance) ([]bind_group_provider.BindGroupProvider, error)

	// Run starts the reload poller and blocks until ctx is done or Quit is called.
	//
	// Parameters:
	//   - ctx: the lifetime of the run
	Run(ctx context.Context)

	// Quit makes Run return. Safe to call multiple times.
	Quit()

	// Close stops the poller and releases pipelines, the toolchain, the store and an
	// owned device. Safe to call multiple times.
	//
	// Returns:
	//   - error: the combined close errors
	Close() error
}

var _ Engine = &engine{}

// NewEngine creates a new Engine instance with the provided options. The naga WGSL
// backend is used unless WithCompiler selects another.
//
// Parameters:
//   - options: functional options for engine configuration
//
// Returns:
//   - Engine: the newly created engine
//   - error: error if the toolchain or the artifact store cannot be created
func NewEngine(options ...EngineBuilderOption) (Engine, error) {
	e := &engine{
		logger:            common.Logger().Named("engine"),
		compressionLevel:  zstd.SpeedDefault,
		pollInterval:      500 * time.Millisecond,
		profiler:          profiler.NewProfiler(),
		profilingInterval: time.Minute,
		pipelines:         make(map[string]pipeline.Pipeline),
		quitChannel:       make(chan struct{}),
	}
	for _, opt := range options {
		opt(e)
	}
	if e.compiler == nil {
		e.compiler = compiler.NewNagaCompiler()
	}
	e.profiler.SetInterval(e.profilingInterval)

	tc, err := compiler.NewToolchain(e.compiler, e.toolchainOptions...)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	e.toolchain = tc

	cacheOptions := []cache.CacheBuilderOption{cache.WithProfiler(e.profiler)}
	if e.cacheDir != "" {
		store, err := cache.NewDiskStore(e.cacheDir, cache.WithCompressionLevel(e.compressionLevel))
		if err != nil {
			tc.Close()
			return nil, fmt.Errorf("engine: %w", err)
		}
		e.store = store
		cacheOptions = append(cacheOptions, cache.WithStore(store))
		if e.pruneOnStart {
			n, err := store.Prune(tc.Version())
			if err != nil {
				e.logger.Warn("pruning stale artifacts failed", zap.Error(err))
			} else if n > 0 {
				e.logger.Info("pruned stale artifacts", zap.Int("removed", n), zap.String("dir", store.Dir()))
			}
		}
	}
	e.cache = cache.NewCache(cache.NewBuilder(tc), cacheOptions...)

	loaderOptions := []loader.LoaderBuilderOption{loader.WithInterval(e.pollInterval), loader.WithWatch(e.watch...)}
	if e.sourceBackend != nil {
		loaderOptions = append(loaderOptions, loader.WithSourceBackend(e.sourceBackend))
	}
	e.loader = loader.NewLoader(e.cache, loaderOptions...)
	e.loader.OnReload(e.handleReload)

	e.logger.Info("engine ready",
		zap.String("compiler", tc.Version()),
		zap.String("cache_dir", e.cacheDir),
		zap.Bool("device", e.device != nil),
	)
	return e, nil
}

func (e *engine) Toolchain() compiler.Toolchain {
	return e.toolchain
}

func (e *engine) Cache() cache.Cache {
	return e.cache
}

func (e *engine) Loader() loader.Loader {
	return e.loader
}

func (e *engine) Profiler() *profiler.Profiler {
	return e.profiler
}

func (e *engine) Device() device.Device {
	return e.device
}

// EnableProfiler enables performance profiling output to the log.
func (e *engine) EnableProfiler() {
	e.profilingEnabled.Store(true)
}

// DisableProfiler disables performance profiling output.
func (e *engine) DisableProfiler() {
	e.profilingEnabled.Store(false)
}

func (e *engine) Load(ctx context.Context, path string) (*cache.Entry, error) {
	return e.loader.Load(ctx, path)
}

func (e *engine) Pipeline(ctx context.Context, key, path string, opts ...pipeline.PipelineBuilderOption) (pipeline.Pipeline, error) {
	e.mu.Lock()
	if p, ok := e.pipelines[key]; ok {
		e.mu.Unlock()
		return p, nil
	}
	e.mu.Unlock()

	entry, err := e.loader.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	p := pipeline.NewPipeline(key, path, entry, opts...)

	e.mu.Lock()
	if existing, ok := e.pipelines[key]; ok {
		e.mu.Unlock()
		p.Release()
		return existing, nil
	}
	e.pipelines[key] = p
	e.mu.Unlock()

	e.loader.Watch(path)
	if e.device != nil {
		if err := e.device.BuildPipeline(p); err != nil {
			e.logger.Error("device pipeline build failed", zap.String("pipeline", key), zap.Error(err))
			return p, err
		}
	}
	return p, nil
}

func (e *engine) Pipelines() map[string]pipeline.Pipeline {
	e.mu.Lock()
	defer e.mu.Unlock()
	result := make(map[string]pipeline.Pipeline, len(e.pipelines))
	for k, v := range e.pipelines {
		result[k] = v
	}
	return result
}

func (e *engine) RemovePipeline(key string) {
	e.mu.Lock()
	p, ok := e.pipelines[key]
	delete(e.pipelines, key)
	e.mu.Unlock()
	if ok {
		p.Release()
	}
}

// handleReload refreshes the pipelines following a reloaded document.
func (e *engine) handleReload(path string, _ *cache.Entry) {
	for _, p := range e.Pipelines() {
		if p.Path() != path || !p.Refresh(e.cache) {
			continue
		}
		e.logger.Info("pipeline refreshed", zap.String("pipeline", p.Key()), zap.Uint64("generation", p.Generation()))
		if e.device == nil {
			continue
		}
		if err := e.device.BuildPipeline(p); err != nil {
			e.logger.Error("device pipeline rebuild failed", zap.String("pipeline", p.Key()), zap.Error(err))
		}
	}
}

func (e *engine) BindMaterial(p pipeline.Pipeline, inst material.Instance) ([]bind_group_provider.BindGroupProvider, error) {
	entry := p.Entry()
	if entry == nil {
		return nil, fmt.Errorf("engine: pipeline %s is released", p.Key())
	}
	inst.Attach(entry)
	l := entry.Layout()
	writes, bindErr := material.BindWithFallback(l, inst, nil)
	if e.device == nil {
		return nil, multierr.Append(bindErr, ErrNoDevice)
	}
	providers, err := e.device.BindMaterial(l, writes, fmt.Sprintf("%s/%s", p.Key(), common.Coalesce(inst.Name(), inst.ID().String())))
	if err != nil {
		return nil, multierr.Append(bindErr, err)
	}
	return providers, bindErr
}

func (e *engine) Run(ctx context.Context) {
	if !e.running.CompareAndSwap(false, true) {
		return
	}
	defer e.running.Store(false)

	e.loader.Start(ctx)
	defer e.loader.Stop()

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.quitChannel:
			return
		case <-ticker.C:
			if e.profilingEnabled.Load() {
				e.profiler.Tick()
			}
		}
	}
}

// Quit signals Run to return.
// Safe to call multiple times; subsequent calls are no-ops due to sync.Once.
func (e *engine) Quit() {
	e.quitOnce.Do(func() {
		close(e.quitChannel)
	})
}

func (e *engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.Quit()
		e.loader.Stop()

		e.mu.Lock()
		pipelines := e.pipelines
		e.pipelines = make(map[string]pipeline.Pipeline)
		e.mu.Unlock()
		for _, p := range pipelines {
			p.Release()
		}

		e.toolchain.Close()
		if e.store != nil {
			err = multierr.Append(err, e.store.Close())
		}
		if e.device != nil {
			e.device.Release()
		}
	})
	return err
}
