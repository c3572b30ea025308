package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/layout"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader/compiler"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader/reflection"
	"go.uber.org/multierr"
)

// ErrNotFound is returned by a Store that holds no artifact for a key.
var ErrNotFound = errors.New("cache: artifact not found")

// BuildError reports a failed slow path for one document. The previous entry of the
// path, if any, stays current.
type BuildError struct {
	Path string
	Key  Key
	Err  error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("cache: build %s: %v", e.Path, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// Errors splits the cause into its individual errors, one per failed stage when
// several stages failed to compile.
//
// Returns:
//   - []error: the individual errors
func (e *BuildError) Errors() []error {
	return multierr.Errors(e.Err)
}

// deterministic reports whether err is a content error: retrying with the same bytes
// and compiler would fail the same way.
func deterministic(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	for _, e := range multierr.Errors(err) {
		var (
			parseErr    *shader.ParseError
			compileErr  *compiler.CompileError
			reflectErr  *reflection.ReflectionError
			conflictErr *layout.BindingConflictError
		)
		if !errors.As(e, &parseErr) && !errors.As(e, &compileErr) && !errors.As(e, &reflectErr) && !errors.As(e, &conflictErr) {
			return false
		}
	}
	return true
}
