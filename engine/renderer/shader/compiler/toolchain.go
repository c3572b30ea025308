package compiler

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader"
	"go.uber.org/multierr"
)

// toolchain is the implementation of the Toolchain interface.
type toolchain struct {
	compiler      Compiler
	pinnedVersion string

	// workers is the pool size used when no pool is supplied.
	workers int
	// pool runs stage compiles and reflections; tasks never submit further tasks.
	pool     worker.DynamicWorkerPool
	ownsPool bool
	stopOnce sync.Once
}

// Toolchain is the explicit compile context handed to every component that compiles or
// reflects stages. It owns the compiler backend, its version pin and the worker pool,
// so there is no process-wide compiler state and two toolchains never interfere.
type Toolchain interface {
	// Compiler returns the backend used by this toolchain.
	//
	// Returns:
	//   - Compiler: the backend
	Compiler() Compiler

	// Version returns the version tag of the backend, the compiler half of every cache key.
	//
	// Returns:
	//   - string: the version tag
	Version() string

	// CompileStages compiles every stage concurrently and waits for all of them.
	// Results are returned in the order of stages. When one or more stages fail, the
	// returned error combines every stage error.
	//
	// Parameters:
	//   - ctx: passed to each compile
	//   - stages: the composed stage sources of one document
	//
	// Returns:
	//   - []*CompiledStage: one compiled stage per input stage
	//   - error: the combined stage errors, nil if all stages compiled
	CompileStages(ctx context.Context, stages []shader.StageSource) ([]*CompiledStage, error)

	// Parallel runs fn(0..n-1) on the worker pool and blocks until all calls returned.
	// A panic inside fn is recovered and reported as that call's error.
	//
	// Parameters:
	//   - n: the number of calls
	//   - fn: the work for index i
	//
	// Returns:
	//   - error: the combined errors of all calls
	Parallel(n int, fn func(i int) error) error

	// Close stops the worker pool if the toolchain created it.
	Close()
}

var _ Toolchain = &toolchain{}

// NewToolchain creates a Toolchain around a compiler backend.
//
// Parameters:
//   - c: the compiler backend
//   - options: variadic list of ToolchainBuilderOption functions
//
// Returns:
//   - Toolchain: the toolchain
//   - error: if the backend version does not match a configured pin
func NewToolchain(c Compiler, options ...ToolchainBuilderOption) (Toolchain, error) {
	if c == nil {
		panic("compiler: NewToolchain requires a compiler")
	}
	t := &toolchain{
		compiler: c,
		workers:  runtime.NumCPU(),
	}
	for _, opt := range options {
		opt(t)
	}

	if t.pinnedVersion != "" && t.pinnedVersion != c.BackendVersion() {
		return nil, fmt.Errorf("compiler: %s version %q does not match pinned version %q", c.Name(), c.BackendVersion(), t.pinnedVersion)
	}

	if t.pool == nil {
		t.pool = worker.NewDynamicWorkerPool(t.workers, 256, 1*time.Second)
		t.ownsPool = true
	}
	return t, nil
}

func (t *toolchain) Compiler() Compiler {
	return t.compiler
}

func (t *toolchain) Version() string {
	return t.compiler.Version()
}

func (t *toolchain) CompileStages(ctx context.Context, stages []shader.StageSource) ([]*CompiledStage, error) {
	compiled := make([]*CompiledStage, len(stages))
	err := t.Parallel(len(stages), func(i int) error {
		cs, err := t.compiler.Compile(ctx, stages[i])
		if err != nil {
			return err
		}
		compiled[i] = cs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return compiled, nil
}

func (t *toolchain) Parallel(n int, fn func(i int) error) error {
	if n == 0 {
		return nil
	}
	errs := make([]error, n)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := range n {
		t.pool.SubmitTask(worker.Task{
			ID: i,
			Do: func() (any, error) {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						errs[i] = fmt.Errorf("compiler: task %d panicked: %v", i, r)
					}
				}()
				errs[i] = fn(i)
				return nil, errs[i]
			},
		})
	}
	wg.Wait()

	return multierr.Combine(errs...)
}

func (t *toolchain) Close() {
	if !t.ownsPool {
		return
	}
	t.stopOnce.Do(t.pool.Stop)
}
