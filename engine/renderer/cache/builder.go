package cache

import (
	"context"
	"errors"
	"time"

	"github.com/Carmen-Shannon/oxy-shader/common"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/layout"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader/compiler"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader/reflection"
	"go.uber.org/zap"
)

// Builder runs the slow path for one document: parse, compile, reflect and merge.
type Builder interface {
	// Version returns the compiler version tag, the second half of every cache key.
	//
	// Returns:
	//   - string: the version tag
	Version() string

	// Build produces a new entry for doc.
	//
	// Parameters:
	//   - ctx: passed to the compiler
	//   - doc: the document to build
	//
	// Returns:
	//   - *Entry: the new entry, with no references
	//   - error: a parse, compile, reflection or conflict error, unwrapped; several
	//     failed stages are combined with multierr
	Build(ctx context.Context, doc *shader.Document) (*Entry, error)
}

// toolchainBuilder is the Builder backed by a compiler.Toolchain.
type toolchainBuilder struct {
	toolchain compiler.Toolchain
}

var _ Builder = &toolchainBuilder{}

// NewBuilder creates the standard Builder. Stage compiles and stage reflections each run
// concurrently on the toolchain's worker pool; the merge waits for all reflections.
//
// Parameters:
//   - tc: the toolchain to compile with
//
// Returns:
//   - Builder: the builder
func NewBuilder(tc compiler.Toolchain) Builder {
	if tc == nil {
		panic("cache: NewBuilder requires a toolchain")
	}
	return &toolchainBuilder{toolchain: tc}
}

func (b *toolchainBuilder) Version() string {
	return b.toolchain.Version()
}

func (b *toolchainBuilder) Build(ctx context.Context, doc *shader.Document) (*Entry, error) {
	parsed, err := doc.Parse()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	compiled, err := b.toolchain.CompileStages(ctx, parsed.Stages)
	if err != nil {
		return nil, err
	}

	reflections := make([]*reflection.StageReflection, len(compiled))
	err = b.toolchain.Parallel(len(compiled), func(i int) error {
		r, err := compiled[i].Reflect()
		reflections[i] = r
		return err
	})
	if err != nil {
		var re *reflection.ReflectionError
		if errors.As(err, &re) {
			common.Logger().Named("cache").Error("reflection failed, compiler output is not understood",
				zap.String("path", doc.Path()),
				zap.String("compiler", b.Version()),
				zap.Error(err),
			)
		}
		return nil, err
	}

	l, err := layout.Build(reflections)
	if err != nil {
		return nil, err
	}

	stages := make([]Stage, len(compiled))
	for i, cs := range compiled {
		stages[i] = Stage{
			Kind:       cs.Kind,
			Bytecode:   cs.Bytecode,
			Warnings:   cs.Warnings,
			EntryPoint: reflections[i].EntryPoint,
			SourceHash: cs.SourceHash,
		}
	}
	key := Key{Hash: doc.Hash(), CompilerVersion: b.Version()}
	return NewEntry(key, doc.Path(), stages, l, time.Now()), nil
}
