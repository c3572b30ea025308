package compiler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader"
)

// glslStageNames maps stage kinds to glslc -fshader-stage values.
var glslStageNames = map[shader.StageKind]string{
	shader.StageVertex:                 "vert",
	shader.StageFragment:               "frag",
	shader.StageCompute:                "comp",
	shader.StageGeometry:               "geom",
	shader.StageTessellationControl:    "tesc",
	shader.StageTessellationEvaluation: "tese",
}

// glslCompiler compiles GLSL stages to SPIR-V by running the external glslc executable.
// The source is piped through stdin and the module read back from stdout, so no
// temporary files are involved.
type glslCompiler struct {
	path           string
	targetEnv      string
	flags          []string
	backendVersion string
	version        string
}

var _ Compiler = &glslCompiler{}

// NewGLSLCompiler creates a GLSL compiler backed by glslc. The executable is resolved
// and its version read once here; the version is part of every cache key.
//
// Parameters:
//   - options: variadic list of GLSLBuilderOption functions
//
// Returns:
//   - Compiler: the glslc backend
//   - error: if glslc cannot be found or does not report a version
func NewGLSLCompiler(options ...GLSLBuilderOption) (Compiler, error) {
	c := &glslCompiler{
		path:      "glslc",
		targetEnv: "vulkan1.2",
	}
	for _, opt := range options {
		opt(c)
	}

	resolved, err := exec.LookPath(c.path)
	if err != nil {
		return nil, fmt.Errorf("glslc: executable %q not found: %w", c.path, err)
	}
	c.path = resolved

	out, err := exec.Command(c.path, "--version").Output()
	if err != nil {
		return nil, fmt.Errorf("glslc: failed to query version: %w", err)
	}
	firstLine, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	c.backendVersion = strings.TrimSpace(firstLine)
	if c.backendVersion == "" {
		return nil, errors.New("glslc: empty version output")
	}

	tagged := append([]string{"--target-env=" + c.targetEnv}, c.flags...)
	c.version = fmt.Sprintf("glslc/%s/%s", strings.ReplaceAll(c.backendVersion, " ", "_"), flagsDigest(tagged))
	return c, nil
}

func (c *glslCompiler) Name() string {
	return "glslc"
}

func (c *glslCompiler) BackendVersion() string {
	return c.backendVersion
}

func (c *glslCompiler) Version() string {
	return c.version
}

func (c *glslCompiler) Compile(ctx context.Context, src shader.StageSource) (*CompiledStage, error) {
	stage, ok := glslStageNames[src.Kind]
	if !ok {
		return nil, &CompileError{Stage: src.Kind, Message: "unsupported stage"}
	}

	args := []string{
		"-fshader-stage=" + stage,
		"--target-env=" + c.targetEnv,
	}
	args = append(args, c.flags...)
	args = append(args, "-o", "-", "-")

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.path, args...)
	cmd.Stdin = strings.NewReader(src.Text)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	errs, warnings := parseGLSLMessages(src, stderr.String())

	if runErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("glslc: %s stage: %w", src.Kind, ctxErr)
		}
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("glslc: failed to run: %w", runErr)
		}
		if len(errs) == 0 {
			return nil, &CompileError{Stage: src.Kind, Message: strings.TrimSpace(stderr.String())}
		}
		first := errs[0]
		if len(errs) > 1 {
			first.Message = fmt.Sprintf("%s (and %d more errors)", first.Message, len(errs)-1)
		}
		return nil, first
	}

	out := stdout.Bytes()
	if err := checkBytecode(out); err != nil {
		return nil, fmt.Errorf("glslc: %w", err)
	}

	return &CompiledStage{
		Kind:            src.Kind,
		Bytecode:        bytes.Clone(out),
		Warnings:        warnings,
		CompilerVersion: c.version,
		SourceHash:      src.Hash(),
	}, nil
}

// parseGLSLMessages splits glslc stderr into errors and warnings. Lines look like
// "<stdin>:12: error: 'foo' : undeclared identifier"; summary lines such as
// "1 error generated." are skipped.
func parseGLSLMessages(src shader.StageSource, stderr string) ([]*CompileError, []Diagnostic) {
	var errs []*CompileError
	var warnings []Diagnostic
	for _, line := range strings.Split(stderr, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasSuffix(line, "generated.") {
			continue
		}
		d := newDiagnostic(src, line)
		switch {
		case strings.HasPrefix(d.Message, "error:"):
			d.Message = strings.TrimSpace(strings.TrimPrefix(d.Message, "error:"))
			errs = append(errs, &CompileError{
				Stage:        d.Stage,
				Line:         d.Line,
				Column:       d.Column,
				DocumentLine: d.DocumentLine,
				Message:      d.Message,
			})
		case strings.HasPrefix(d.Message, "warning:"):
			d.Message = strings.TrimSpace(strings.TrimPrefix(d.Message, "warning:"))
			warnings = append(warnings, d)
		}
	}
	return errs, warnings
}
