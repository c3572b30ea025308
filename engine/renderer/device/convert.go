package device

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/cache"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/layout"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader/reflection"
	"github.com/cogentcore/webgpu/wgpu"
	"go.uber.org/multierr"
)

// ShaderStages converts a visibility mask into wgpu shader stage flags.
//
// Parameters:
//   - m: the stage mask
//
// Returns:
//   - wgpu.ShaderStage: the stage flags
//   - error: *UnsupportedError if the mask names a stage WebGPU has no binding visibility for
func ShaderStages(m shader.StageMask) (wgpu.ShaderStage, error) {
	stages := wgpu.ShaderStageNone
	for _, k := range m.Stages() {
		switch k {
		case shader.StageVertex:
			stages |= wgpu.ShaderStageVertex
		case shader.StageFragment:
			stages |= wgpu.ShaderStageFragment
		case shader.StageCompute:
			stages |= wgpu.ShaderStageCompute
		default:
			return wgpu.ShaderStageNone, &UnsupportedError{What: "visibility " + m.String(), Reason: k.String() + " stages do not exist"}
		}
	}
	return stages, nil
}

// BindGroupLayoutDescriptors converts a layout into one descriptor per set index, from
// set 0 up to the highest set the layout uses. Set indices with no bindings get an empty
// descriptor so the pipeline layout stays dense.
//
// Parameters:
//   - l: the pipeline layout
//   - label: a prefix for descriptor labels
//
// Returns:
//   - []wgpu.BindGroupLayoutDescriptor: the descriptors indexed by set
//   - error: every unsupported binding, combined with multierr
func BindGroupLayoutDescriptors(l *layout.PipelineLayout, label string) ([]wgpu.BindGroupLayoutDescriptor, error) {
	if len(l.Sets) == 0 {
		return nil, nil
	}
	var maxSet uint32
	for _, ds := range l.Sets {
		maxSet = max(maxSet, ds.Index)
	}

	descs := make([]wgpu.BindGroupLayoutDescriptor, maxSet+1)
	for i := range descs {
		descs[i].Label = fmt.Sprintf("%s set %d", label, i)
	}

	var errs error
	for _, ds := range l.Sets {
		entries := make([]wgpu.BindGroupLayoutEntry, 0, len(ds.Bindings))
		for _, b := range ds.Bindings {
			e, err := BindGroupLayoutEntry(b)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			entries = append(entries, e)
		}
		descs[ds.Index].Entries = entries
	}
	if errs != nil {
		return nil, errs
	}
	return descs, nil
}

// BindGroupLayoutEntry converts one merged binding into a wgpu layout entry.
//
// Parameters:
//   - b: the binding
//
// Returns:
//   - wgpu.BindGroupLayoutEntry: the entry
//   - error: *UnsupportedError for kinds or shapes WebGPU cannot bind
func BindGroupLayoutEntry(b layout.ResourceBinding) (wgpu.BindGroupLayoutEntry, error) {
	what := bindingWhat(b.Name, b.Set, b.Binding)
	visibility, err := ShaderStages(b.Visibility)
	if err != nil {
		return wgpu.BindGroupLayoutEntry{}, err
	}
	if b.Count != 1 {
		return wgpu.BindGroupLayoutEntry{}, &UnsupportedError{What: what, Reason: fmt.Sprintf("descriptor arrays (count %d)", b.Count)}
	}

	e := wgpu.BindGroupLayoutEntry{Binding: b.Binding, Visibility: visibility}
	switch b.Kind {
	case reflection.ResourceUniformBuffer:
		e.Buffer = wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeUniform, MinBindingSize: b.Size}
	case reflection.ResourceStorageBuffer:
		typ := wgpu.BufferBindingTypeStorage
		if b.Access == reflection.AccessReadOnly {
			typ = wgpu.BufferBindingTypeReadOnlyStorage
		}
		e.Buffer = wgpu.BufferBindingLayout{Type: typ, MinBindingSize: b.Size}
	case reflection.ResourceSampler:
		e.Sampler = wgpu.SamplerBindingLayout{Type: wgpu.SamplerBindingTypeFiltering}
	case reflection.ResourceSampledImage:
		if b.Image == nil {
			return wgpu.BindGroupLayoutEntry{}, &UnsupportedError{What: what, Reason: "no image information"}
		}
		dim, err := viewDimension(what, b.Image)
		if err != nil {
			return wgpu.BindGroupLayoutEntry{}, err
		}
		e.Texture = wgpu.TextureBindingLayout{
			SampleType:    sampleType(b.Image),
			ViewDimension: dim,
			Multisampled:  b.Image.Multisampled,
		}
	case reflection.ResourceStorageImage:
		if b.Image == nil {
			return wgpu.BindGroupLayoutEntry{}, &UnsupportedError{What: what, Reason: "no image information"}
		}
		dim, err := viewDimension(what, b.Image)
		if err != nil {
			return wgpu.BindGroupLayoutEntry{}, err
		}
		format, ok := StorageTextureFormat(b.Image.Format)
		if !ok {
			return wgpu.BindGroupLayoutEntry{}, &UnsupportedError{What: what, Reason: fmt.Sprintf("storage image format %d", b.Image.Format)}
		}
		e.StorageTexture = wgpu.StorageTextureBindingLayout{
			Access:        storageAccess(b.Access),
			Format:        format,
			ViewDimension: dim,
		}
	case reflection.ResourceCombinedImageSampler:
		return wgpu.BindGroupLayoutEntry{}, &UnsupportedError{What: what, Reason: "combined image samplers; declare a texture and a sampler"}
	default:
		return wgpu.BindGroupLayoutEntry{}, &UnsupportedError{What: what, Reason: b.Kind.String() + " bindings"}
	}
	return e, nil
}

func sampleType(img *reflection.ImageInfo) wgpu.TextureSampleType {
	if img.Depth {
		return wgpu.TextureSampleTypeDepth
	}
	switch img.SampleType {
	case reflection.SampleSint:
		return wgpu.TextureSampleTypeSint
	case reflection.SampleUint:
		return wgpu.TextureSampleTypeUint
	}
	return wgpu.TextureSampleTypeFloat
}

func viewDimension(what string, img *reflection.ImageInfo) (wgpu.TextureViewDimension, error) {
	switch {
	case img.Dim == reflection.Dim1D && !img.Arrayed:
		return wgpu.TextureViewDimension1D, nil
	case img.Dim == reflection.Dim2D && img.Arrayed:
		return wgpu.TextureViewDimension2DArray, nil
	case img.Dim == reflection.Dim2D:
		return wgpu.TextureViewDimension2D, nil
	case img.Dim == reflection.Dim3D && !img.Arrayed:
		return wgpu.TextureViewDimension3D, nil
	case img.Dim == reflection.DimCube && img.Arrayed:
		return wgpu.TextureViewDimensionCubeArray, nil
	case img.Dim == reflection.DimCube:
		return wgpu.TextureViewDimensionCube, nil
	}
	return wgpu.TextureViewDimensionUndefined, &UnsupportedError{What: what, Reason: fmt.Sprintf("%s images (arrayed %t)", img.Dim, img.Arrayed)}
}

func storageAccess(a reflection.StorageAccess) wgpu.StorageTextureAccess {
	switch a {
	case reflection.AccessReadOnly:
		return wgpu.StorageTextureAccessReadOnly
	case reflection.AccessWriteOnly:
		return wgpu.StorageTextureAccessWriteOnly
	}
	return wgpu.StorageTextureAccessReadWrite
}

// storageFormats maps SPIR-V image format enumerants to the WebGPU storage texture formats.
var storageFormats = map[uint32]wgpu.TextureFormat{
	1:  wgpu.TextureFormatRGBA32Float,
	2:  wgpu.TextureFormatRGBA16Float,
	3:  wgpu.TextureFormatR32Float,
	4:  wgpu.TextureFormatRGBA8Unorm,
	5:  wgpu.TextureFormatRGBA8Snorm,
	6:  wgpu.TextureFormatRG32Float,
	21: wgpu.TextureFormatRGBA32Sint,
	22: wgpu.TextureFormatRGBA16Sint,
	23: wgpu.TextureFormatRGBA8Sint,
	24: wgpu.TextureFormatR32Sint,
	25: wgpu.TextureFormatRG32Sint,
	30: wgpu.TextureFormatRGBA32Uint,
	31: wgpu.TextureFormatRGBA16Uint,
	32: wgpu.TextureFormatRGBA8Uint,
	33: wgpu.TextureFormatR32Uint,
	35: wgpu.TextureFormatRG32Uint,
}

// StorageTextureFormat maps a reflected SPIR-V image format to a WebGPU storage texture format.
//
// Parameters:
//   - spirvFormat: the ImageInfo.Format enumerant
//
// Returns:
//   - wgpu.TextureFormat: the format
//   - bool: false if WebGPU has no storage format for it
func StorageTextureFormat(spirvFormat uint32) (wgpu.TextureFormat, bool) {
	f, ok := storageFormats[spirvFormat]
	return f, ok
}

var vertexFormats = map[reflection.Format]wgpu.VertexFormat{
	reflection.FormatFloat32:   wgpu.VertexFormatFloat32,
	reflection.FormatFloat32x2: wgpu.VertexFormatFloat32x2,
	reflection.FormatFloat32x3: wgpu.VertexFormatFloat32x3,
	reflection.FormatFloat32x4: wgpu.VertexFormatFloat32x4,
	reflection.FormatSint32:    wgpu.VertexFormatSint32,
	reflection.FormatSint32x2:  wgpu.VertexFormatSint32x2,
	reflection.FormatSint32x3:  wgpu.VertexFormatSint32x3,
	reflection.FormatSint32x4:  wgpu.VertexFormatSint32x4,
	reflection.FormatUint32:    wgpu.VertexFormatUint32,
	reflection.FormatUint32x2:  wgpu.VertexFormatUint32x2,
	reflection.FormatUint32x3:  wgpu.VertexFormatUint32x3,
	reflection.FormatUint32x4:  wgpu.VertexFormatUint32x4,
	reflection.FormatFloat16x2: wgpu.VertexFormatFloat16x2,
	reflection.FormatFloat16x4: wgpu.VertexFormatFloat16x4,
}

// VertexBufferLayout converts the layout's vertex attributes into a single interleaved
// vertex buffer, attributes packed in location order.
//
// Parameters:
//   - l: the pipeline layout
//
// Returns:
//   - wgpu.VertexBufferLayout: the buffer layout, with no attributes for a vertex stage without inputs
//   - error: every attribute whose format WebGPU cannot fetch, combined with multierr
func VertexBufferLayout(l *layout.PipelineLayout) (wgpu.VertexBufferLayout, error) {
	vbl := wgpu.VertexBufferLayout{
		ArrayStride: l.VertexStride(),
		StepMode:    wgpu.VertexStepModeVertex,
		Attributes:  make([]wgpu.VertexAttribute, 0, len(l.VertexAttributes)),
	}
	var offset uint64
	var errs error
	for _, a := range l.VertexAttributes {
		f, ok := vertexFormats[a.Format]
		if !ok {
			errs = multierr.Append(errs, &UnsupportedError{
				What:   fmt.Sprintf("vertex attribute %q (location %d)", a.Name, a.Location),
				Reason: a.Format.String() + " vertex formats",
			})
		}
		vbl.Attributes = append(vbl.Attributes, wgpu.VertexAttribute{
			Format:         f,
			Offset:         offset,
			ShaderLocation: a.Location,
		})
		offset += uint64(a.Size)
	}
	if errs != nil {
		return wgpu.VertexBufferLayout{}, errs
	}
	return vbl, nil
}

// ShaderModuleDescriptor describes the SPIR-V shader module for one compiled stage.
// The bytecode is handed to wgpu as-is.
//
// Parameters:
//   - label: the pipeline label the stage name is appended to
//   - s: the compiled stage
//
// Returns:
//   - *wgpu.ShaderModuleDescriptor: the module descriptor
func ShaderModuleDescriptor(label string, s cache.Stage) *wgpu.ShaderModuleDescriptor {
	return &wgpu.ShaderModuleDescriptor{
		Label: label + " " + s.Kind.String(),
		SPIRVDescriptor: &wgpu.ShaderModuleSPIRVDescriptor{
			Code: s.Bytecode,
		},
	}
}

// padded copies data into a buffer of at least size bytes, rounded up to the 4-byte
// multiple queue writes require. The tail is zero.
func padded(data []byte, size uint64) []byte {
	n := max(uint64(len(data)), size)
	n = (n + 3) &^ 3
	if n == uint64(len(data)) {
		return data
	}
	out := make([]byte, n)
	copy(out, data)
	return out
}
