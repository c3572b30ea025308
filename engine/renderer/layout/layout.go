// Package layout merges per-stage reflection into one PipelineLayout. Visibility is the
// union of the stages that reference a binding, so a resource declared in the shared
// block but used by one stage is visible to that stage only.
package layout

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader/reflection"
)

// ResourceBinding is one merged descriptor slot.
type ResourceBinding struct {
	Set        uint32                  `json:"set"`
	Binding    uint32                  `json:"binding"`
	Kind       reflection.ResourceKind `json:"kind"`
	Count      uint32                  `json:"count"`
	Name       string                  `json:"name"`
	Visibility shader.StageMask        `json:"visibility"`

	// Size is the largest buffer block size any stage reflected, 0 for non-buffers.
	Size   uint64                   `json:"size,omitempty"`
	Access reflection.StorageAccess `json:"access,omitempty"`
	Image  *reflection.ImageInfo    `json:"image,omitempty"`
}

// DescriptorSet is one set of a PipelineLayout, bindings ordered by index.
type DescriptorSet struct {
	Index    uint32            `json:"index"`
	Bindings []ResourceBinding `json:"bindings"`
}

// WarningKind classifies a layout Warning.
type WarningKind int

const (
	// WarningUnusedResource marks a resource some stage declares but no stage references.
	// It is left out of the layout.
	WarningUnusedResource WarningKind = iota + 1
	// WarningUnmatchedLocation marks a fragment input no earlier stage writes.
	WarningUnmatchedLocation
)

func (k WarningKind) String() string {
	switch k {
	case WarningUnusedResource:
		return "unused_resource"
	case WarningUnmatchedLocation:
		return "unmatched_location"
	}
	return "unknown"
}

// Warning is a non-fatal finding of Build.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Message string      `json:"message"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Kind, w.Message)
}

// PipelineLayout is the merged resource description of all stages of one document.
// It is never modified after Build returns.
type PipelineLayout struct {
	Sets             []DescriptorSet        `json:"sets"`
	VertexAttributes []reflection.Attribute `json:"vertex_attributes,omitempty"`
	Stages           shader.StageMask       `json:"stages"`
	WorkgroupSize    [3]uint32              `json:"workgroup_size"`
	PushConstantSize uint64                 `json:"push_constant_size,omitempty"`
	Warnings         []Warning              `json:"warnings,omitempty"`
}

// Lookup finds a binding by its address.
//
// Parameters:
//   - set: the descriptor set index
//   - binding: the binding index within the set
//
// Returns:
//   - ResourceBinding: the binding
//   - bool: false if the layout has no such slot
func (l *PipelineLayout) Lookup(set, binding uint32) (ResourceBinding, bool) {
	ds, ok := l.Set(set)
	if !ok {
		return ResourceBinding{}, false
	}
	for _, b := range ds.Bindings {
		if b.Binding == binding {
			return b, true
		}
	}
	return ResourceBinding{}, false
}

// Set returns the descriptor set with the given index.
//
// Parameters:
//   - index: the set index
//
// Returns:
//   - DescriptorSet: the set
//   - bool: false if no binding uses that set
func (l *PipelineLayout) Set(index uint32) (DescriptorSet, bool) {
	for _, ds := range l.Sets {
		if ds.Index == index {
			return ds, true
		}
	}
	return DescriptorSet{}, false
}

// Bindings returns every binding, set-major and ordered by binding within each set.
//
// Returns:
//   - []ResourceBinding: the bindings
func (l *PipelineLayout) Bindings() []ResourceBinding {
	var out []ResourceBinding
	for _, ds := range l.Sets {
		out = append(out, ds.Bindings...)
	}
	return out
}

// VertexStride returns the byte stride of a tightly packed vertex holding every vertex attribute.
func (l *PipelineLayout) VertexStride() uint64 {
	var stride uint64
	for _, a := range l.VertexAttributes {
		stride += uint64(a.Size)
	}
	return stride
}

// IsCompute reports whether the layout belongs to a compute pipeline.
func (l *PipelineLayout) IsCompute() bool {
	return l.Stages.Has(shader.StageCompute)
}

func (k WarningKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *WarningKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "unused_resource":
		*k = WarningUnusedResource
	case "unmatched_location":
		*k = WarningUnmatchedLocation
	default:
		return fmt.Errorf("layout: unknown warning kind %q", b)
	}
	return nil
}
