package reflection

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader"
)

// ResourceKind is the closed set of descriptor kinds a stage can reference.
type ResourceKind int

const (
	ResourceUnknown ResourceKind = iota
	ResourceUniformBuffer
	ResourceStorageBuffer
	ResourceSampledImage
	ResourceSampler
	ResourceCombinedImageSampler
	ResourceStorageImage
	ResourceUniformTexelBuffer
	ResourceStorageTexelBuffer
	ResourceInputAttachment
)

var resourceKindNames = map[ResourceKind]string{
	ResourceUniformBuffer:        "uniform_buffer",
	ResourceStorageBuffer:        "storage_buffer",
	ResourceSampledImage:         "sampled_image",
	ResourceSampler:              "sampler",
	ResourceCombinedImageSampler: "combined_image_sampler",
	ResourceStorageImage:         "storage_image",
	ResourceUniformTexelBuffer:   "uniform_texel_buffer",
	ResourceStorageTexelBuffer:   "storage_texel_buffer",
	ResourceInputAttachment:      "input_attachment",
}

func (k ResourceKind) String() string {
	if name, ok := resourceKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseResourceKind is the inverse of ResourceKind.String.
//
// Parameters:
//   - name: the kind name, e.g. "sampled_image"
//
// Returns:
//   - ResourceKind: the kind
//   - bool: false if the name is not a known kind
func ParseResourceKind(name string) (ResourceKind, bool) {
	for k, n := range resourceKindNames {
		if n == name {
			return k, true
		}
	}
	return ResourceUnknown, false
}

// IsBuffer reports whether the kind is backed by a byte buffer.
func (k ResourceKind) IsBuffer() bool {
	return k == ResourceUniformBuffer || k == ResourceStorageBuffer
}

// IsImage reports whether the kind carries ImageInfo.
func (k ResourceKind) IsImage() bool {
	switch k {
	case ResourceSampledImage, ResourceCombinedImageSampler, ResourceStorageImage,
		ResourceUniformTexelBuffer, ResourceStorageTexelBuffer, ResourceInputAttachment:
		return true
	}
	return false
}

// ImageDim is the dimensionality of an image resource.
type ImageDim uint32

// Values match the SPIR-V Dim enumerant.
const (
	Dim1D          ImageDim = 0
	Dim2D          ImageDim = 1
	Dim3D          ImageDim = 2
	DimCube        ImageDim = 3
	dimRect        ImageDim = 4
	DimBuffer      ImageDim = 5
	DimSubpassData ImageDim = 6
)

func (d ImageDim) String() string {
	switch d {
	case Dim1D:
		return "1d"
	case Dim2D:
		return "2d"
	case Dim3D:
		return "3d"
	case DimCube:
		return "cube"
	case DimBuffer:
		return "buffer"
	case DimSubpassData:
		return "subpass"
	}
	return fmt.Sprintf("dim(%d)", uint32(d))
}

// SampleType is the scalar type an image returns when sampled or read.
type SampleType int

const (
	SampleFloat SampleType = iota
	SampleSint
	SampleUint
)

func (s SampleType) String() string {
	switch s {
	case SampleSint:
		return "sint"
	case SampleUint:
		return "uint"
	}
	return "float"
}

// StorageAccess is how a storage image or buffer is accessed by a stage.
type StorageAccess int

const (
	AccessReadWrite StorageAccess = iota
	AccessReadOnly
	AccessWriteOnly
)

func (a StorageAccess) String() string {
	switch a {
	case AccessReadOnly:
		return "read"
	case AccessWriteOnly:
		return "write"
	}
	return "read_write"
}

// ImageInfo describes an image resource.
type ImageInfo struct {
	Dim          ImageDim   `json:"dim"`
	Depth        bool       `json:"depth,omitempty"`
	Arrayed      bool       `json:"arrayed,omitempty"`
	Multisampled bool       `json:"multisampled,omitempty"`
	SampleType   SampleType `json:"sample_type"`
	// Format is the SPIR-V image format enumerant, 0 for unknown. Only storage images
	// carry a meaningful format.
	Format uint32 `json:"format,omitempty"`
}

// Binding is one descriptor a stage declares.
type Binding struct {
	Set     uint32       `json:"set"`
	Binding uint32       `json:"binding"`
	Kind    ResourceKind `json:"kind"`
	// Count is the descriptor array length, 1 for a single descriptor.
	Count uint32 `json:"count"`
	Name  string `json:"name"`
	// Size is the minimum byte size of a buffer block; 0 for other kinds. A storage
	// buffer ending in a runtime array reports the size of its fixed part.
	Size uint64 `json:"size,omitempty"`
	// Access is meaningful for storage buffers and storage images.
	Access StorageAccess `json:"access,omitempty"`
	Image  *ImageInfo    `json:"image,omitempty"`
}

// Format is the type of one interface location.
type Format int

const (
	FormatUnknown Format = iota
	FormatFloat32
	FormatFloat32x2
	FormatFloat32x3
	FormatFloat32x4
	FormatSint32
	FormatSint32x2
	FormatSint32x3
	FormatSint32x4
	FormatUint32
	FormatUint32x2
	FormatUint32x3
	FormatUint32x4
	FormatFloat16
	FormatFloat16x2
	FormatFloat16x3
	FormatFloat16x4
	FormatFloat64
	FormatFloat64x2
	FormatFloat64x3
	FormatFloat64x4
)

type formatInfo struct {
	name       string
	components uint32
	width      uint32
}

var formatInfos = map[Format]formatInfo{
	FormatFloat32:   {"float32", 1, 4},
	FormatFloat32x2: {"float32x2", 2, 4},
	FormatFloat32x3: {"float32x3", 3, 4},
	FormatFloat32x4: {"float32x4", 4, 4},
	FormatSint32:    {"sint32", 1, 4},
	FormatSint32x2:  {"sint32x2", 2, 4},
	FormatSint32x3:  {"sint32x3", 3, 4},
	FormatSint32x4:  {"sint32x4", 4, 4},
	FormatUint32:    {"uint32", 1, 4},
	FormatUint32x2:  {"uint32x2", 2, 4},
	FormatUint32x3:  {"uint32x3", 3, 4},
	FormatUint32x4:  {"uint32x4", 4, 4},
	FormatFloat16:   {"float16", 1, 2},
	FormatFloat16x2: {"float16x2", 2, 2},
	FormatFloat16x3: {"float16x3", 3, 2},
	FormatFloat16x4: {"float16x4", 4, 2},
	FormatFloat64:   {"float64", 1, 8},
	FormatFloat64x2: {"float64x2", 2, 8},
	FormatFloat64x3: {"float64x3", 3, 8},
	FormatFloat64x4: {"float64x4", 4, 8},
}

func (f Format) String() string {
	if info, ok := formatInfos[f]; ok {
		return info.name
	}
	return "unknown"
}

// ParseFormat is the inverse of Format.String.
func ParseFormat(name string) (Format, bool) {
	for f, info := range formatInfos {
		if info.name == name {
			return f, true
		}
	}
	return FormatUnknown, false
}

// Components returns the number of vector components, 0 for FormatUnknown.
func (f Format) Components() uint32 {
	return formatInfos[f].components
}

// Size returns the byte size of one element of the format.
func (f Format) Size() uint32 {
	info := formatInfos[f]
	return info.components * info.width
}

// Locations returns how many interface locations one element of the format consumes.
// Only 64-bit vectors with more than two components take two.
func (f Format) Locations() uint32 {
	info := formatInfos[f]
	if info.width == 8 && info.components > 2 {
		return 2
	}
	return 1
}

// scalarKind identifies a scalar type for format selection.
type scalarKind int

const (
	scalarFloat scalarKind = iota
	scalarSint
	scalarUint
)

// formatFor picks the Format for a scalar kind, bit width and component count.
func formatFor(kind scalarKind, width, components uint32) Format {
	if components < 1 || components > 4 {
		return FormatUnknown
	}
	var base Format
	switch {
	case kind == scalarFloat && width == 32:
		base = FormatFloat32
	case kind == scalarFloat && width == 16:
		base = FormatFloat16
	case kind == scalarFloat && width == 64:
		base = FormatFloat64
	case kind == scalarSint && width == 32:
		base = FormatSint32
	case kind == scalarUint && width == 32:
		base = FormatUint32
	default:
		return FormatUnknown
	}
	return base + Format(components-1)
}

// Attribute is one interface location of a stage.
type Attribute struct {
	Location uint32 `json:"location"`
	Format   Format `json:"format"`
	// Size is the byte size of the location's data.
	Size uint32 `json:"size"`
	Name string `json:"name"`
}

// StageReflection is everything reflection recovers from one compiled stage.
type StageReflection struct {
	Stage      shader.StageKind
	EntryPoint string
	// Bindings are the descriptors the entry point references, sorted by (set, binding).
	Bindings []Binding
	// Unused are descriptors the module declares that the entry point never references.
	Unused []Binding
	// Inputs and Outputs are the interface locations, sorted by location.
	Inputs  []Attribute
	Outputs []Attribute
	// VertexAttributes equals Inputs for a vertex stage and is empty otherwise.
	VertexAttributes []Attribute
	// WorkgroupSize is set for compute stages.
	WorkgroupSize [3]uint32
	// PushConstantSize is the byte size of the push constant block the stage references, 0 if none.
	PushConstantSize uint64
}

// Lookup returns the referenced binding at (set, binding).
//
// Parameters:
//   - set: the descriptor set index
//   - binding: the binding index
//
// Returns:
//   - Binding: the binding
//   - bool: false if the stage does not reference that slot
func (r *StageReflection) Lookup(set, binding uint32) (Binding, bool) {
	for _, b := range r.Bindings {
		if b.Set == set && b.Binding == binding {
			return b, true
		}
	}
	return Binding{}, false
}

func (k ResourceKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *ResourceKind) UnmarshalText(b []byte) error {
	v, ok := ParseResourceKind(string(b))
	if !ok && string(b) != "unknown" {
		return fmt.Errorf("reflection: unknown resource kind %q", b)
	}
	*k = v
	return nil
}

func (f Format) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Format) UnmarshalText(b []byte) error {
	v, ok := ParseFormat(string(b))
	if !ok && string(b) != "unknown" {
		return fmt.Errorf("reflection: unknown format %q", b)
	}
	*f = v
	return nil
}
