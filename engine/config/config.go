// Package config loads the YAML configuration of the shader pipeline and turns it into
// engine options and a process logger.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Carmen-Shannon/oxy-shader/engine"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader/compiler"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Compiler backends accepted by compiler.backend.
const (
	BackendNaga  = "naga"
	BackendGLSLC = "glslc"
)

// Config is the root of the configuration file.
type Config struct {
	Compiler  CompilerConfig  `yaml:"compiler"`
	Cache     CacheConfig     `yaml:"cache"`
	Watch     WatchConfig     `yaml:"watch"`
	Workers   int             `yaml:"workers"`
	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
	Profiling ProfilingConfig `yaml:"profiling"`
}

// CompilerConfig selects and tunes the compiler backend.
type CompilerConfig struct {
	Backend string `yaml:"backend"`
	// PinnedVersion makes startup fail unless the backend reports exactly this version.
	PinnedVersion string `yaml:"pinned_version"`
	Validation    bool   `yaml:"validation"`

	// glslc only
	Executable string   `yaml:"executable"`
	TargetEnv  string   `yaml:"target_env"`
	Flags      []string `yaml:"flags"`
}

// CacheConfig configures artifact persistence. An empty Dir keeps artifacts in memory.
type CacheConfig struct {
	Dir          string `yaml:"dir"`
	Compression  string `yaml:"compression"`
	PruneOnStart bool   `yaml:"prune_on_start"`
}

// WatchConfig lists the documents the poller keeps current.
type WatchConfig struct {
	Paths    []string      `yaml:"paths"`
	Interval time.Duration `yaml:"interval"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
	Encoding    string `yaml:"encoding"`
}

// ServerConfig configures the diagnostics server.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// ProfilingConfig configures periodic statistics logging.
type ProfilingConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// Default returns the configuration used when no file is given.
//
// Returns:
//   - *Config: the defaults
func Default() *Config {
	return &Config{
		Compiler: CompilerConfig{Backend: BackendNaga, Validation: true},
		Cache:    CacheConfig{Compression: "default"},
		Watch:    WatchConfig{Interval: 500 * time.Millisecond},
		Log:      LogConfig{Level: "info", Encoding: "console"},
		Server:   ServerConfig{Addr: "127.0.0.1:7070"},
		Profiling: ProfilingConfig{
			Interval: time.Minute,
		},
	}
}

// Load reads and validates a configuration file. Relative watch paths and the cache
// directory are resolved against the directory of the file.
//
// Parameters:
//   - path: the YAML file
//
// Returns:
//   - *Config: the configuration, defaults filled in
//   - error: error if the file cannot be read, parsed or validated
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	cfg.resolve(filepath.Dir(path))
	return cfg, nil
}

// Parse decodes and validates YAML over the defaults. Unknown keys are rejected.
//
// Parameters:
//   - data: the YAML document
//
// Returns:
//   - *Config: the configuration
//   - error: error if the document is malformed or invalid
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) resolve(base string) {
	for i, p := range c.Watch.Paths {
		if !filepath.IsAbs(p) {
			c.Watch.Paths[i] = filepath.Join(base, p)
		}
	}
	if c.Cache.Dir != "" && !filepath.IsAbs(c.Cache.Dir) {
		c.Cache.Dir = filepath.Join(base, c.Cache.Dir)
	}
}

// Validate reports every invalid setting at once.
//
// Returns:
//   - error: the combined validation errors, nil if the configuration is valid
func (c *Config) Validate() error {
	var err error
	switch c.Compiler.Backend {
	case BackendNaga, BackendGLSLC:
	default:
		err = multierr.Append(err, fmt.Errorf("compiler.backend %q: want %q or %q", c.Compiler.Backend, BackendNaga, BackendGLSLC))
	}
	if c.Workers < 0 {
		err = multierr.Append(err, fmt.Errorf("workers %d: must not be negative", c.Workers))
	}
	if _, lerr := c.compressionLevel(); lerr != nil {
		err = multierr.Append(err, lerr)
	}
	if c.Watch.Interval < 0 {
		err = multierr.Append(err, fmt.Errorf("watch.interval %s: must not be negative", c.Watch.Interval))
	}
	if c.Profiling.Interval < 0 {
		err = multierr.Append(err, fmt.Errorf("profiling.interval %s: must not be negative", c.Profiling.Interval))
	}
	if _, lerr := zap.ParseAtomicLevel(c.Log.Level); lerr != nil {
		err = multierr.Append(err, fmt.Errorf("log.level: %w", lerr))
	}
	switch c.Log.Encoding {
	case "", "json", "console":
	default:
		err = multierr.Append(err, fmt.Errorf("log.encoding %q: want json or console", c.Log.Encoding))
	}
	return err
}

func (c *Config) compressionLevel() (zstd.EncoderLevel, error) {
	if c.Cache.Compression == "" {
		return zstd.SpeedDefault, nil
	}
	ok, level := zstd.EncoderLevelFromString(c.Cache.Compression)
	if !ok {
		return 0, fmt.Errorf("cache.compression %q: want fastest, default, better or best", c.Cache.Compression)
	}
	return level, nil
}

// NewCompiler creates the configured compiler backend.
//
// Returns:
//   - compiler.Compiler: the backend
//   - error: error if glslc cannot be found
func (c *Config) NewCompiler() (compiler.Compiler, error) {
	if c.Compiler.Backend == BackendGLSLC {
		var opts []compiler.GLSLBuilderOption
		if c.Compiler.Executable != "" {
			opts = append(opts, compiler.WithExecutable(c.Compiler.Executable))
		}
		if c.Compiler.TargetEnv != "" {
			opts = append(opts, compiler.WithTargetEnv(c.Compiler.TargetEnv))
		}
		if len(c.Compiler.Flags) > 0 {
			opts = append(opts, compiler.WithFlags(c.Compiler.Flags...))
		}
		return compiler.NewGLSLCompiler(opts...)
	}
	return compiler.NewNagaCompiler(compiler.WithValidation(c.Compiler.Validation)), nil
}

// EngineOptions converts the configuration into engine options. Options passed to
// engine.NewEngine after these override them.
//
// Parameters:
//   - logger: the logger the engine should use, nil for the process logger
//
// Returns:
//   - []engine.EngineBuilderOption: the options
//   - error: error if the compiler backend cannot be created
func (c *Config) EngineOptions(logger *zap.Logger) ([]engine.EngineBuilderOption, error) {
	comp, err := c.NewCompiler()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	level, err := c.compressionLevel()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	var toolchain []compiler.ToolchainBuilderOption
	if c.Workers > 0 {
		toolchain = append(toolchain, compiler.WithWorkers(c.Workers))
	}
	if c.Compiler.PinnedVersion != "" {
		toolchain = append(toolchain, compiler.WithPinnedVersion(c.Compiler.PinnedVersion))
	}

	opts := []engine.EngineBuilderOption{
		engine.WithCompiler(comp),
		engine.WithToolchainOptions(toolchain...),
		engine.WithCompressionLevel(level),
		engine.WithPruneOnStart(c.Cache.PruneOnStart),
		engine.WithPollInterval(c.Watch.Interval),
		engine.WithWatch(c.Watch.Paths...),
		engine.WithProfiling(c.Profiling.Enabled),
		engine.WithProfilingInterval(c.Profiling.Interval),
	}
	if c.Cache.Dir != "" {
		opts = append(opts, engine.WithCacheDir(c.Cache.Dir))
	}
	if logger != nil {
		opts = append(opts, engine.WithLogger(logger))
	}
	return opts, nil
}
