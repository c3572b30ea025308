package reflection

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader"
)

// ReflectionErrorKind classifies a ReflectionError.
type ReflectionErrorKind int

const (
	ReflectionMalformedBytecode ReflectionErrorKind = iota + 1
	ReflectionUnsupportedResourceKind
	ReflectionMissingEntryPoint
)

func (k ReflectionErrorKind) String() string {
	switch k {
	case ReflectionMalformedBytecode:
		return "malformed bytecode"
	case ReflectionUnsupportedResourceKind:
		return "unsupported resource kind"
	case ReflectionMissingEntryPoint:
		return "missing entry point"
	}
	return "unknown reflection error"
}

// Sentinels for errors.Is; they match any ReflectionError of the same kind.
var (
	ErrMalformedBytecode       = &ReflectionError{Kind: ReflectionMalformedBytecode}
	ErrUnsupportedResourceKind = &ReflectionError{Kind: ReflectionUnsupportedResourceKind}
	ErrMissingEntryPoint       = &ReflectionError{Kind: ReflectionMissingEntryPoint}
)

// ReflectionError reports bytecode that could not be reflected. It points at a compiler
// or engine defect rather than a content error.
type ReflectionError struct {
	Kind   ReflectionErrorKind
	Stage  shader.StageKind
	Detail string
}

func (e *ReflectionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("reflection: %s stage: %s", e.Stage, e.Kind)
	}
	return fmt.Sprintf("reflection: %s stage: %s: %s", e.Stage, e.Kind, e.Detail)
}

// Is matches on Kind only.
func (e *ReflectionError) Is(target error) bool {
	t, ok := target.(*ReflectionError)
	return ok && t.Kind == e.Kind
}

func malformed(stage shader.StageKind, format string, args ...any) *ReflectionError {
	return &ReflectionError{Kind: ReflectionMalformedBytecode, Stage: stage, Detail: fmt.Sprintf(format, args...)}
}

func unsupported(stage shader.StageKind, format string, args ...any) *ReflectionError {
	return &ReflectionError{Kind: ReflectionUnsupportedResourceKind, Stage: stage, Detail: fmt.Sprintf(format, args...)}
}
