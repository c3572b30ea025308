package compiler

import (
	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/gogpu/naga/spirv"
)

// ToolchainBuilderOption is a functional option used to configure a Toolchain during construction.
type ToolchainBuilderOption func(*toolchain)

// WithWorkers sets the size of the worker pool the toolchain creates.
// Ignored when WithPool supplies a pool. Values <= 0 keep the default (one worker per CPU).
//
// Parameters:
//   - n: the number of workers
//
// Returns:
//   - ToolchainBuilderOption: a function that sets the worker count
func WithWorkers(n int) ToolchainBuilderOption {
	return func(t *toolchain) {
		if n > 0 {
			t.workers = n
		}
	}
}

// WithPool makes the toolchain run its tasks on an existing pool. The toolchain does not
// stop a pool it did not create.
//
// Parameters:
//   - pool: the worker pool to share
//
// Returns:
//   - ToolchainBuilderOption: a function that sets the pool
func WithPool(pool worker.DynamicWorkerPool) ToolchainBuilderOption {
	return func(t *toolchain) {
		t.pool = pool
	}
}

// WithPinnedVersion requires the backend to report exactly this version. NewToolchain
// fails otherwise, so artifacts are never produced by an unexpected compiler.
//
// Parameters:
//   - version: the expected Compiler.BackendVersion
//
// Returns:
//   - ToolchainBuilderOption: a function that sets the version pin
func WithPinnedVersion(version string) ToolchainBuilderOption {
	return func(t *toolchain) {
		t.pinnedVersion = version
	}
}

// NagaBuilderOption is a functional option used to configure the naga backend.
type NagaBuilderOption func(*nagaCompiler)

// WithSPIRVVersion sets the SPIR-V version naga targets. Defaults to 1.3.
//
// Parameters:
//   - v: the target version
//
// Returns:
//   - NagaBuilderOption: a function that sets the SPIR-V version
func WithSPIRVVersion(v spirv.Version) NagaBuilderOption {
	return func(c *nagaCompiler) {
		c.spirvVersion = v
	}
}

// WithValidation toggles IR validation before code generation. Defaults to true.
//
// Parameters:
//   - enabled: whether to validate
//
// Returns:
//   - NagaBuilderOption: a function that sets validation
func WithValidation(enabled bool) NagaBuilderOption {
	return func(c *nagaCompiler) {
		c.validate = enabled
	}
}

// GLSLBuilderOption is a functional option used to configure the glslc backend.
type GLSLBuilderOption func(*glslCompiler)

// WithExecutable sets the glslc executable name or path. Defaults to "glslc" on PATH.
//
// Parameters:
//   - path: the executable
//
// Returns:
//   - GLSLBuilderOption: a function that sets the executable
func WithExecutable(path string) GLSLBuilderOption {
	return func(c *glslCompiler) {
		if path != "" {
			c.path = path
		}
	}
}

// WithTargetEnv sets the --target-env passed to glslc. Defaults to "vulkan1.2".
//
// Parameters:
//   - env: the target environment, e.g. "vulkan1.3"
//
// Returns:
//   - GLSLBuilderOption: a function that sets the target environment
func WithTargetEnv(env string) GLSLBuilderOption {
	return func(c *glslCompiler) {
		if env != "" {
			c.targetEnv = env
		}
	}
}

// WithFlags appends extra command line flags, e.g. "-O" or "-DUSE_SHADOWS=1".
// Flags are part of the version tag, so changing them changes cache keys.
//
// Parameters:
//   - flags: the flags to append
//
// Returns:
//   - GLSLBuilderOption: a function that appends the flags
func WithFlags(flags ...string) GLSLBuilderOption {
	return func(c *glslCompiler) {
		c.flags = append(c.flags, flags...)
	}
}
