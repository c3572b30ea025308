package compiler

import (
	"context"
	"fmt"
	"strings"

	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader/reflection"
	"github.com/gogpu/naga"
	"github.com/gogpu/naga/ir"
	"github.com/gogpu/naga/spirv"
	"github.com/gogpu/naga/wgsl"
)

// nagaModulePath is the module whose version is recorded in naga version tags.
const nagaModulePath = "github.com/gogpu/naga"

// nagaCompiler compiles WGSL stages to SPIR-V in process with naga.
type nagaCompiler struct {
	spirvVersion spirv.Version
	validate     bool
	flags        []string
	version      string
}

var _ Compiler = &nagaCompiler{}

// NewNagaCompiler creates a WGSL compiler backed by naga. Debug names are always
// emitted; resource names the bytecode lacks are carried on CompiledStage.ResourceNames.
//
// Parameters:
//   - options: variadic list of NagaBuilderOption functions
//
// Returns:
//   - Compiler: the naga backend
func NewNagaCompiler(options ...NagaBuilderOption) Compiler {
	c := &nagaCompiler{
		spirvVersion: spirv.Version1_3,
		validate:     true,
	}
	for _, opt := range options {
		opt(c)
	}
	c.flags = append(c.flags,
		fmt.Sprintf("spv%d.%d", c.spirvVersion.Major, c.spirvVersion.Minor),
		fmt.Sprintf("validate=%t", c.validate),
	)
	c.version = fmt.Sprintf("naga/%s/%s", c.BackendVersion(), flagsDigest(c.flags))
	return c
}

func (c *nagaCompiler) Name() string {
	return "naga"
}

func (c *nagaCompiler) BackendVersion() string {
	return moduleVersion(nagaModulePath, "devel")
}

func (c *nagaCompiler) Version() string {
	return c.version
}

func (c *nagaCompiler) Compile(ctx context.Context, src shader.StageSource) (*CompiledStage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch src.Kind {
	case shader.StageVertex, shader.StageFragment, shader.StageCompute:
	default:
		return nil, &CompileError{Stage: src.Kind, Message: fmt.Sprintf("WGSL has no %s stage", src.Kind)}
	}

	ast, err := naga.Parse(src.Text)
	if err != nil {
		return nil, newCompileError(src, err.Error())
	}
	lowered, err := wgsl.LowerWithWarnings(ast, src.Text)
	if err != nil {
		return nil, newCompileError(src, err.Error())
	}

	var warnings []Diagnostic
	for _, w := range lowered.Warnings {
		warnings = append(warnings, Diagnostic{
			Stage:        src.Kind,
			Line:         w.Span.Start.Line,
			Column:       w.Span.Start.Column,
			DocumentLine: src.DocumentLine(w.Span.Start.Line),
			Message:      w.Message,
		})
	}

	if c.validate {
		validationErrors, err := naga.Validate(lowered.Module)
		if err != nil {
			return nil, newCompileError(src, err.Error())
		}
		if len(validationErrors) > 0 {
			msgs := make([]string, len(validationErrors))
			for i := range validationErrors {
				msgs[i] = validationErrors[i].Error()
			}
			return nil, &CompileError{Stage: src.Kind, Message: strings.Join(msgs, "; ")}
		}
	}

	out, err := naga.GenerateSPIRV(lowered.Module, spirv.Options{
		Version: c.spirvVersion,
		Debug:   true,
	})
	if err != nil {
		return nil, &CompileError{Stage: src.Kind, Message: err.Error()}
	}
	if err := checkBytecode(out); err != nil {
		return nil, fmt.Errorf("naga: %w", err)
	}

	return &CompiledStage{
		Kind:            src.Kind,
		Bytecode:        out,
		Warnings:        warnings,
		CompilerVersion: c.version,
		SourceHash:      src.Hash(),
		ResourceNames:   resourceNames(lowered.Module),
	}, nil
}

// resourceNames maps each bound global to its WGSL name. naga's SPIR-V writer leaves
// resource variables unnamed and wraps uniform structs in an anonymous block.
func resourceNames(m *ir.Module) map[reflection.Slot]string {
	names := make(map[reflection.Slot]string)
	for _, g := range m.GlobalVariables {
		if g.Binding == nil || g.Name == "" {
			continue
		}
		names[reflection.Slot{Set: g.Binding.Group, Binding: g.Binding.Binding}] = g.Name
	}
	return names
}
