package engine

import (
	"time"

	"github.com/Carmen-Shannon/oxy-shader/engine/loader"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader/compiler"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

// EngineBuilderOption is a functional option for configuring an Engine.
// Use the With* functions to create options that are applied directly to the engine instance.
type EngineBuilderOption func(*engine)

// WithCompiler selects the compiler backend, e.g. compiler.NewGLSLCompiler().
//
// Parameters:
//   - c: the compiler
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithCompiler(c compiler.Compiler) EngineBuilderOption {
	return func(e *engine) {
		e.compiler = c
	}
}

// WithToolchainOptions passes options to the compiler toolchain, e.g. compiler.WithWorkers.
//
// Parameters:
//   - opts: the toolchain options
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithToolchainOptions(opts ...compiler.ToolchainBuilderOption) EngineBuilderOption {
	return func(e *engine) {
		e.toolchainOptions = append(e.toolchainOptions, opts...)
	}
}

// WithCacheDir persists artifacts in dir so later runs skip compilation.
//
// Parameters:
//   - dir: the artifact directory, created if missing
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithCacheDir(dir string) EngineBuilderOption {
	return func(e *engine) {
		e.cacheDir = dir
	}
}

// WithCompressionLevel sets the zstd level of persisted artifacts.
//
// Parameters:
//   - level: the encoder level
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithCompressionLevel(level zstd.EncoderLevel) EngineBuilderOption {
	return func(e *engine) {
		e.compressionLevel = level
	}
}

// WithPruneOnStart removes persisted artifacts built by other compiler versions when the
// engine starts.
//
// Parameters:
//   - enabled: if true, prune on start
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithPruneOnStart(enabled bool) EngineBuilderOption {
	return func(e *engine) {
		e.pruneOnStart = enabled
	}
}

// WithPollInterval sets how often watched documents are checked for changes.
// Values <= 0 keep the default of 500ms.
//
// Parameters:
//   - d: the poll interval
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithPollInterval(d time.Duration) EngineBuilderOption {
	return func(e *engine) {
		if d > 0 {
			e.pollInterval = d
		}
	}
}

// WithSourceBackend sets where documents are read from.
//
// Parameters:
//   - b: the source backend, the OS file system by default
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithSourceBackend(b loader.SourceBackend) EngineBuilderOption {
	return func(e *engine) {
		e.sourceBackend = b
	}
}

// WithWatch watches documents from the start.
//
// Parameters:
//   - paths: the document paths
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithWatch(paths ...string) EngineBuilderOption {
	return func(e *engine) {
		e.watch = append(e.watch, paths...)
	}
}

// WithDevice attaches a GPU device. Without one the engine compiles and reflects only.
//
// Parameters:
//   - d: the device
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithDevice(d device.Device) EngineBuilderOption {
	return func(e *engine) {
		e.device = d
	}
}

// WithProfiling enables or disables performance profiling output.
//
// Parameters:
//   - enabled: if true, enables performance profiling
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithProfiling(enabled bool) EngineBuilderOption {
	return func(e *engine) {
		e.profilingEnabled.Store(enabled)
	}
}

// WithProfilingInterval sets how often statistics are logged while profiling.
//
// Parameters:
//   - d: the interval, one minute by default
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithProfilingInterval(d time.Duration) EngineBuilderOption {
	return func(e *engine) {
		if d > 0 {
			e.profilingInterval = d
		}
	}
}

// WithLogger sets the engine's logger.
//
// Parameters:
//   - logger: the logger
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithLogger(logger *zap.Logger) EngineBuilderOption {
	return func(e *engine) {
		e.logger = logger
	}
}
