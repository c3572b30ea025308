package shader

import (
	"fmt"
	"strings"
)

// StageKind identifies one programmable stage of a pipeline. The set is closed: every
// section tag other than UNIFORMS maps onto exactly one StageKind.
type StageKind int

const (
	// StageVertex is the vertex stage, the only stage whose inputs become vertex attributes.
	StageVertex StageKind = iota

	// StageTessellationControl is the tessellation control (hull) stage.
	StageTessellationControl

	// StageTessellationEvaluation is the tessellation evaluation (domain) stage.
	StageTessellationEvaluation

	// StageGeometry is the geometry stage.
	StageGeometry

	// StageFragment is the fragment stage, paired with a vertex stage in render pipelines.
	StageFragment

	// StageCompute is the compute stage. A compute document has no other stages.
	StageCompute

	stageKindCount
)

// stageKindNames holds the lower-case names used in logs, errors and serialized artifacts.
var stageKindNames = [stageKindCount]string{
	StageVertex:                 "vertex",
	StageTessellationControl:    "tessellation_control",
	StageTessellationEvaluation: "tessellation_evaluation",
	StageGeometry:               "geometry",
	StageFragment:               "fragment",
	StageCompute:                "compute",
}

// AllStageKinds returns every StageKind in pipeline order.
//
// Returns:
//   - []StageKind: vertex, tessellation control, tessellation evaluation, geometry, fragment, compute
func AllStageKinds() []StageKind {
	kinds := make([]StageKind, 0, stageKindCount)
	for k := StageKind(0); k < stageKindCount; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// Valid reports whether k is one of the defined stage kinds.
//
// Returns:
//   - bool: true if k is a known stage kind
func (k StageKind) Valid() bool {
	return k >= 0 && k < stageKindCount
}

func (k StageKind) String() string {
	if !k.Valid() {
		return "unknown"
	}
	return stageKindNames[k]
}

// Mask returns the single-stage visibility mask for k.
//
// Returns:
//   - StageMask: a mask with only k set
func (k StageKind) Mask() StageMask {
	if !k.Valid() {
		return 0
	}
	return StageMask(1) << uint(k)
}

// ParseStageKind resolves a lower-case stage name as produced by StageKind.String.
//
// Parameters:
//   - name: the stage name, e.g. "fragment"
//
// Returns:
//   - StageKind: the matching kind
//   - bool: false if the name is unknown
func ParseStageKind(name string) (StageKind, bool) {
	for k, n := range stageKindNames {
		if n == name {
			return StageKind(k), true
		}
	}
	return 0, false
}

// StageMask is a bitset of StageKind values. It records which stages actually reference
// a resource, as derived from reflection.
type StageMask uint32

// Has reports whether the mask contains k.
//
// Parameters:
//   - k: the stage to test
//
// Returns:
//   - bool: true if k is set
func (m StageMask) Has(k StageKind) bool {
	return m&k.Mask() != 0
}

// With returns m with k added.
//
// Parameters:
//   - k: the stage to add
//
// Returns:
//   - StageMask: the union of m and k
func (m StageMask) With(k StageKind) StageMask {
	return m | k.Mask()
}

// Stages returns the stages in the mask in pipeline order.
//
// Returns:
//   - []StageKind: the set stages
func (m StageMask) Stages() []StageKind {
	var out []StageKind
	for _, k := range AllStageKinds() {
		if m.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

// String renders the mask as a "|" separated list, e.g. "vertex|fragment".
func (m StageMask) String() string {
	if m == 0 {
		return "none"
	}
	names := make([]string, 0, stageKindCount)
	for _, k := range m.Stages() {
		names = append(names, k.String())
	}
	return strings.Join(names, "|")
}

// ParseStageMask is the inverse of StageMask.String.
//
// Parameters:
//   - s: a "|" separated list of stage names, or "none"
//
// Returns:
//   - StageMask: the parsed mask
//   - bool: false if any name is unknown
func ParseStageMask(s string) (StageMask, bool) {
	if s == "none" || s == "" {
		return 0, true
	}
	var m StageMask
	for _, name := range strings.Split(s, "|") {
		k, ok := ParseStageKind(name)
		if !ok {
			return 0, false
		}
		m = m.With(k)
	}
	return m, true
}

func (m StageMask) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *StageMask) UnmarshalText(b []byte) error {
	v, ok := ParseStageMask(string(b))
	if !ok {
		return fmt.Errorf("shader: invalid stage mask %q", b)
	}
	*m = v
	return nil
}

func (k StageKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("shader: invalid stage kind %d", int(k))
	}
	return []byte(k.String()), nil
}

func (k *StageKind) UnmarshalText(b []byte) error {
	v, ok := ParseStageKind(string(b))
	if !ok {
		return fmt.Errorf("shader: unknown stage kind %q", b)
	}
	*k = v
	return nil
}
