package material

import (
	_ "embed"
	"encoding/binary"
	"math"
)

// GPUMaterialParamsSource is the canonical WGSL definition of the Material struct.
// Matches GPUMaterialParams layout exactly (48 bytes, std140 aligned).
//
//go:embed assets/material_params.wgsl
var GPUMaterialParamsSource string

// GPUMaterialParamsSize is the std140 size of GPUMaterialParams, the 44-byte block
// rounded up to its 16-byte alignment.
const GPUMaterialParamsSize = 48

// GPUMaterialParams is the GPU-aligned uniform of the PBR fragment shader.
// Matches the WGSL Material struct layout exactly (see GPUMaterialParamsSource).
type GPUMaterialParams struct {
	BaseColor         [4]float32 // offset 0: albedo RGBA (16 bytes)
	Emissive          [3]float32 // offset 16: emissive RGB, vec3 aligned to 16 (12 bytes)
	Metallic          float32    // offset 28: packs into the vec3's trailing 4 bytes
	Roughness         float32    // offset 32
	OcclusionStrength float32    // offset 36
	NormalScale       float32    // offset 40, 4 bytes of tail padding follow
}

// DefaultMaterialParams returns a white dielectric with full roughness, the defaults of
// an unconfigured material.
//
// Returns:
//   - GPUMaterialParams: the defaults
func DefaultMaterialParams() GPUMaterialParams {
	return GPUMaterialParams{
		BaseColor:         [4]float32{1, 1, 1, 1},
		Roughness:         1,
		OcclusionStrength: 1,
		NormalScale:       1,
	}
}

// Size returns the size of the marshaled struct in bytes.
//
// Returns:
//   - int: the size of the struct in bytes.
func (g *GPUMaterialParams) Size() int {
	return GPUMaterialParamsSize
}

// Marshal serializes the GPUMaterialParams struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 48-byte buffer ready for GPU upload.
func (g *GPUMaterialParams) Marshal() []byte {
	buf := make([]byte, GPUMaterialParamsSize)
	put := func(off int, v float32) {
		binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(v))
	}
	for i, v := range g.BaseColor {
		put(i*4, v)
	}
	for i, v := range g.Emissive {
		put(16+i*4, v)
	}
	put(28, g.Metallic)
	put(32, g.Roughness)
	put(36, g.OcclusionStrength)
	put(40, g.NormalScale)
	return buf
}
