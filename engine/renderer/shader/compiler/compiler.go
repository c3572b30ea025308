package compiler

import (
	"context"
	"encoding/binary"
	"fmt"
	"regexp"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader/reflection"
	"github.com/zeebo/xxh3"
)

// spirvMagic is the first word of every SPIR-V module.
const spirvMagic = 0x07230203

// Compiler turns the composed text of one stage into SPIR-V. Implementations must be
// safe for concurrent use and deterministic: identical text, stage, version and flags
// always produce identical bytes.
type Compiler interface {
	// Name returns the backend name, e.g. "naga" or "glslc".
	//
	// Returns:
	//   - string: the backend name
	Name() string

	// BackendVersion returns the version of the underlying compiler, used for version pinning.
	//
	// Returns:
	//   - string: the compiler's own version string
	BackendVersion() string

	// Version returns the full version tag recorded on compiled stages and used in cache keys.
	// It covers the backend, its version and every option that changes the output.
	//
	// Returns:
	//   - string: the version tag
	Version() string

	// Compile compiles one stage.
	//
	// Parameters:
	//   - ctx: cancels an external compiler process; in-process backends only check it before starting
	//   - src: the composed stage source
	//
	// Returns:
	//   - *CompiledStage: the compiled stage
	//   - error: a *CompileError for source errors, or a wrapped error for toolchain failures
	Compile(ctx context.Context, src shader.StageSource) (*CompiledStage, error)
}

// CompiledStage is the output of compiling one stage.
type CompiledStage struct {
	// Kind is the stage the bytecode implements.
	Kind shader.StageKind
	// Bytecode is the SPIR-V module, little-endian words.
	Bytecode []byte
	// Warnings holds the non-fatal diagnostics the compiler reported.
	Warnings []Diagnostic
	// CompilerVersion is the version tag of the compiler that produced the bytecode.
	CompilerVersion string
	// SourceHash is the content hash of the composed stage text.
	SourceHash shader.ContentHash
	// ResourceNames holds declared descriptor names the bytecode does not carry. Nil
	// when the backend keeps debug names in the bytecode.
	ResourceNames map[reflection.Slot]string
}

// Reflect reflects the compiled bytecode, filling descriptor names from ResourceNames
// where the bytecode has none.
//
// Returns:
//   - *reflection.StageReflection: the reflected stage
//   - error: a *reflection.ReflectionError
func (c *CompiledStage) Reflect() (*reflection.StageReflection, error) {
	return reflection.Reflect(c.Kind, c.Bytecode, reflection.WithResourceNames(c.ResourceNames))
}

// Words returns the bytecode as 32-bit words, the form GPU APIs take SPIR-V in.
//
// Returns:
//   - []uint32: the SPIR-V words
func (c *CompiledStage) Words() []uint32 {
	words := make([]uint32, len(c.Bytecode)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(c.Bytecode[i*4:])
	}
	return words
}

// Diagnostic is one compiler message.
type Diagnostic struct {
	// Stage is the stage the message belongs to.
	Stage shader.StageKind
	// Line and Column locate the message in the composed stage text, 0 if unknown.
	Line, Column int
	// DocumentLine is Line mapped back to the shader document, 0 if unknown.
	DocumentLine int
	// Message is the compiler's text.
	Message string
}

func (d Diagnostic) String() string {
	if d.DocumentLine > 0 {
		return fmt.Sprintf("%s: line %d: %s", d.Stage, d.DocumentLine, d.Message)
	}
	return fmt.Sprintf("%s: %s", d.Stage, d.Message)
}

// CompileError is a source error reported by the compiler for one stage.
type CompileError struct {
	// Stage is the stage that failed.
	Stage shader.StageKind
	// Line and Column locate the first error in the composed stage text, 0 if unknown.
	Line, Column int
	// DocumentLine is Line mapped back to the shader document, 0 if unknown.
	DocumentLine int
	// Message is the compiler's error text.
	Message string
}

func (e *CompileError) Error() string {
	switch {
	case e.DocumentLine > 0 && e.Column > 0:
		return fmt.Sprintf("%s stage: line %d, column %d: %s", e.Stage, e.DocumentLine, e.Column, e.Message)
	case e.DocumentLine > 0:
		return fmt.Sprintf("%s stage: line %d: %s", e.Stage, e.DocumentLine, e.Message)
	default:
		return fmt.Sprintf("%s stage: %s", e.Stage, e.Message)
	}
}

// Diagnostic converts the error into a Diagnostic for reporting.
func (e *CompileError) Diagnostic() Diagnostic {
	return Diagnostic{
		Stage:        e.Stage,
		Line:         e.Line,
		Column:       e.Column,
		DocumentLine: e.DocumentLine,
		Message:      e.Message,
	}
}

// locationRegex finds the location prefix of a compiler message. It accepts the
// "line L, column C:" form, the "L:C:" form and the glslc "<file>:L:" form.
var locationRegex = regexp.MustCompile(`(?:line (\d+), column (\d+)|\b(\d+):(\d+)|^[^:\s]*:(\d+)):\s*`)

// newCompileError builds a CompileError from a raw compiler message, extracting the
// location when the message carries one.
//
// Parameters:
//   - src: the stage source the message refers to
//   - msg: the raw compiler message
//
// Returns:
//   - *CompileError: the error with location mapped back to the document
func newCompileError(src shader.StageSource, msg string) *CompileError {
	d := newDiagnostic(src, msg)
	return &CompileError{
		Stage:        d.Stage,
		Line:         d.Line,
		Column:       d.Column,
		DocumentLine: d.DocumentLine,
		Message:      d.Message,
	}
}

// newDiagnostic parses a raw compiler message into a Diagnostic for src.
func newDiagnostic(src shader.StageSource, msg string) Diagnostic {
	d := Diagnostic{Stage: src.Kind, Message: strings.TrimSpace(msg)}
	m := locationRegex.FindStringSubmatchIndex(msg)
	if m == nil {
		return d
	}
	group := func(i int) int {
		if m[2*i] < 0 {
			return 0
		}
		n, _ := strconv.Atoi(msg[m[2*i]:m[2*i+1]])
		return n
	}
	switch {
	case m[2] >= 0:
		d.Line, d.Column = group(1), group(2)
	case m[6] >= 0:
		d.Line, d.Column = group(3), group(4)
	default:
		d.Line = group(5)
	}
	d.Message = strings.TrimSpace(msg[m[1]:])
	d.DocumentLine = src.DocumentLine(d.Line)
	return d
}

// checkBytecode verifies that out looks like a SPIR-V module.
func checkBytecode(out []byte) error {
	if len(out) < 20 || len(out)%4 != 0 {
		return fmt.Errorf("compiler produced %d bytes, not a SPIR-V module", len(out))
	}
	if binary.LittleEndian.Uint32(out) != spirvMagic {
		return fmt.Errorf("compiler output does not start with the SPIR-V magic number")
	}
	return nil
}

// flagsDigest returns a short stable digest of compile flags for version tags.
func flagsDigest(flags []string) string {
	if len(flags) == 0 {
		return "default"
	}
	return fmt.Sprintf("%08x", uint32(xxh3.HashString(strings.Join(flags, "\x00"))))
}

// moduleVersion looks up the version of a dependency from the build info, so the
// version tag follows go.mod without a hand-maintained constant.
func moduleVersion(path, fallback string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return fallback
	}
	for _, dep := range info.Deps {
		if dep.Path == path {
			if dep.Replace != nil {
				return dep.Replace.Version
			}
			return dep.Version
		}
	}
	return fallback
}
