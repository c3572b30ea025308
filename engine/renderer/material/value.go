package material

import (
	"github.com/Carmen-Shannon/oxy-shader/common"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader/reflection"
)

// ValueKind classifies what a Value carries.
type ValueKind int

const (
	ValueUniform ValueKind = iota + 1
	ValueStorage
	ValueTexelBuffer
	ValueTexture
	ValueSampler
	ValueCombined
	ValueStorageTexture
)

func (k ValueKind) String() string {
	switch k {
	case ValueUniform:
		return "uniform"
	case ValueStorage:
		return "storage"
	case ValueTexelBuffer:
		return "texel_buffer"
	case ValueTexture:
		return "texture"
	case ValueSampler:
		return "sampler"
	case ValueCombined:
		return "combined"
	case ValueStorageTexture:
		return "storage_texture"
	}
	return "unknown"
}

// Accepts reports whether a value of kind k can fill a binding of resource kind r.
//
// Parameters:
//   - r: the reflected resource kind
//
// Returns:
//   - bool: true if the kinds are compatible
func (k ValueKind) Accepts(r reflection.ResourceKind) bool {
	switch k {
	case ValueUniform:
		return r == reflection.ResourceUniformBuffer
	case ValueStorage:
		return r == reflection.ResourceStorageBuffer
	case ValueTexelBuffer:
		return r == reflection.ResourceUniformTexelBuffer || r == reflection.ResourceStorageTexelBuffer
	case ValueTexture:
		return r == reflection.ResourceSampledImage || r == reflection.ResourceInputAttachment
	case ValueSampler:
		return r == reflection.ResourceSampler
	case ValueCombined:
		return r == reflection.ResourceCombinedImageSampler
	case ValueStorageTexture:
		return r == reflection.ResourceStorageImage
	}
	return false
}

// IsBuffer reports whether the value carries bytes rather than handles.
func (k ValueKind) IsBuffer() bool {
	return k == ValueUniform || k == ValueStorage || k == ValueTexelBuffer
}

// Value is the concrete data bound to one (set, binding) of a material instance.
// Values are immutable once constructed.
type Value struct {
	kind     ValueKind
	data     []byte
	textures []*common.ImportedTexture
	samplers []*common.SamplerStagingData
}

// UniformValue creates a value for a uniform buffer. The bytes are copied.
//
// Parameters:
//   - data: the buffer contents, laid out as the shader's block
//
// Returns:
//   - Value: the value
func UniformValue(data []byte) Value {
	return Value{kind: ValueUniform, data: clone(data)}
}

// StorageValue creates a value for a storage buffer. The bytes are copied.
//
// Parameters:
//   - data: the buffer contents
//
// Returns:
//   - Value: the value
func StorageValue(data []byte) Value {
	return Value{kind: ValueStorage, data: clone(data)}
}

// TexelBufferValue creates a value for a uniform or storage texel buffer. The bytes are copied.
//
// Parameters:
//   - data: the buffer contents
//
// Returns:
//   - Value: the value
func TexelBufferValue(data []byte) Value {
	return Value{kind: ValueTexelBuffer, data: clone(data)}
}

// TextureValue creates a value for a sampled image or an array of them.
//
// Parameters:
//   - textures: one handle per array element
//
// Returns:
//   - Value: the value
func TextureValue(textures ...*common.ImportedTexture) Value {
	return Value{kind: ValueTexture, textures: textures}
}

// SamplerValue creates a value for a sampler or an array of them.
//
// Parameters:
//   - samplers: one handle per array element
//
// Returns:
//   - Value: the value
func SamplerValue(samplers ...*common.SamplerStagingData) Value {
	return Value{kind: ValueSampler, samplers: samplers}
}

// CombinedValue creates a value for a single combined image sampler.
//
// Parameters:
//   - tex: the texture
//   - samp: the sampler
//
// Returns:
//   - Value: the value
func CombinedValue(tex *common.ImportedTexture, samp *common.SamplerStagingData) Value {
	return Value{
		kind:     ValueCombined,
		textures: []*common.ImportedTexture{tex},
		samplers: []*common.SamplerStagingData{samp},
	}
}

// CombinedArrayValue creates a value for an array of combined image samplers. Textures
// and samplers pair up by index.
//
// Parameters:
//   - textures: one texture per element
//   - samplers: one sampler per element
//
// Returns:
//   - Value: the value
func CombinedArrayValue(textures []*common.ImportedTexture, samplers []*common.SamplerStagingData) Value {
	return Value{kind: ValueCombined, textures: textures, samplers: samplers}
}

// StorageTextureValue creates a value for a storage image or an array of them.
//
// Parameters:
//   - textures: one handle per array element
//
// Returns:
//   - Value: the value
func StorageTextureValue(textures ...*common.ImportedTexture) Value {
	return Value{kind: ValueStorageTexture, textures: textures}
}

// Kind returns what the value carries.
func (v Value) Kind() ValueKind {
	return v.kind
}

// Data returns the buffer contents of a buffer value. It must not be modified.
func (v Value) Data() []byte {
	return v.data
}

// Textures returns the texture handles of an image value.
func (v Value) Textures() []*common.ImportedTexture {
	return v.textures
}

// Samplers returns the sampler handles of a sampler or combined value.
func (v Value) Samplers() []*common.SamplerStagingData {
	return v.samplers
}

// Count returns the number of array elements the value fills.
func (v Value) Count() uint32 {
	switch v.kind {
	case ValueSampler:
		return uint32(len(v.samplers))
	case ValueTexture, ValueStorageTexture, ValueCombined:
		return uint32(len(v.textures))
	case ValueUniform, ValueStorage, ValueTexelBuffer:
		return 1
	}
	return 0
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
