package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-shader/engine"
	"github.com/Carmen-Shannon/oxy-shader/engine/config"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
)

const sample = `
compiler:
  backend: naga
  pinned_version: naga-test
  validation: false
cache:
  dir: artifacts
  compression: best
  prune_on_start: true
watch:
  paths: [shaders/lit.wgsl, /abs/unlit.wgsl]
  interval: 250ms
workers: 3
log:
  level: debug
  encoding: json
server:
  addr: ":9000"
profiling:
  enabled: true
  interval: 30s
`

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "oxyshader.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Compiler.PinnedVersion != "naga-test" || cfg.Compiler.Validation {
		t.Fatalf("compiler = %+v", cfg.Compiler)
	}
	if want := filepath.Join(dir, "artifacts"); cfg.Cache.Dir != want {
		t.Fatalf("cache.dir = %q, want %q", cfg.Cache.Dir, want)
	}
	if want := filepath.Join(dir, "shaders/lit.wgsl"); cfg.Watch.Paths[0] != want {
		t.Fatalf("relative watch path = %q, want %q", cfg.Watch.Paths[0], want)
	}
	if cfg.Watch.Paths[1] != "/abs/unlit.wgsl" {
		t.Fatalf("absolute watch path rewritten to %q", cfg.Watch.Paths[1])
	}
	if cfg.Watch.Interval != 250*time.Millisecond || cfg.Profiling.Interval != 30*time.Second {
		t.Fatalf("intervals = %s, %s", cfg.Watch.Interval, cfg.Profiling.Interval)
	}
	if cfg.Workers != 3 || cfg.Server.Addr != ":9000" || !cfg.Profiling.Enabled {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestParseEmptyUsesDefaults(t *testing.T) {
	cfg, err := config.Parse(nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	def := config.Default()
	if cfg.Compiler.Backend != config.BackendNaga || cfg.Watch.Interval != def.Watch.Interval || cfg.Server.Addr != def.Server.Addr {
		t.Fatalf("cfg = %+v, want the defaults", cfg)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown key", "cache:\n  directory: x\n", "directory"},
		{"backend", "compiler:\n  backend: dxc\n", "compiler.backend"},
		{"compression", "cache:\n  compression: ultra\n", "cache.compression"},
		{"duration", "watch:\n  interval: soon\n", "soon"},
		{"negative workers", "workers: -1\n", "workers"},
		{"log level", "log:\n  level: loud\n", "log.level"},
		{"encoding", "log:\n  encoding: xml\n", "log.encoding"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Parse([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Parse = %v, want an error mentioning %q", err, tt.want)
			}
		})
	}
}

func TestValidateReportsEverything(t *testing.T) {
	cfg := config.Default()
	cfg.Compiler.Backend = "fxc"
	cfg.Workers = -2
	cfg.Log.Encoding = "xml"
	if errs := multierr.Errors(cfg.Validate()); len(errs) != 3 {
		t.Fatalf("Validate returned %d errors, want 3: %v", len(errs), errs)
	}
}

func TestEngineOptions(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "lit.wgsl")
	src := `#[VERTEX]
@vertex
fn vs_main(@location(0) p: vec3<f32>) -> @builtin(position) vec4<f32> {
    return vec4<f32>(p, 1.0);
}
`
	if err := os.WriteFile(doc, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Cache.Dir = filepath.Join(dir, "artifacts")
	cfg.Watch.Paths = []string{doc}
	cfg.Workers = 2

	logger, err := cfg.NewLogger()
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	opts, err := cfg.EngineOptions(logger)
	if err != nil {
		t.Fatalf("EngineOptions: %v", err)
	}
	e, err := engine.NewEngine(opts...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer e.Close()

	if e.Toolchain().Compiler().Name() != config.BackendNaga {
		t.Fatalf("compiler = %s, want naga", e.Toolchain().Compiler().Name())
	}
	if got := e.Loader().Watched(); len(got) != 1 || got[0] != doc {
		t.Fatalf("watched = %v", got)
	}
	if _, err := os.Stat(cfg.Cache.Dir); err != nil {
		t.Fatalf("cache dir not created: %v", err)
	}
}

func TestPinnedVersionMismatch(t *testing.T) {
	cfg := config.Default()
	cfg.Compiler.PinnedVersion = "0.0.0-never"
	opts, err := cfg.EngineOptions(nil)
	if err != nil {
		t.Fatalf("EngineOptions: %v", err)
	}
	if e, err := engine.NewEngine(opts...); err == nil {
		e.Close()
		t.Fatal("NewEngine accepted a compiler that does not match the pinned version")
	}
}

func TestNewLoggerDevelopment(t *testing.T) {
	cfg := config.Default()
	cfg.Log.Development = true
	cfg.Log.Level = "warn"
	logger, err := cfg.NewLogger()
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("debug enabled at warn level")
	}
}
