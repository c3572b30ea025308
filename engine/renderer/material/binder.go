package material

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"

	"github.com/Carmen-Shannon/oxy-shader/common"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/layout"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader/reflection"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// DescriptorWrite is one resolved (set, binding) update for the device.
type DescriptorWrite struct {
	Set     uint32
	Binding uint32
	Kind    reflection.ResourceKind
	Name    string
	// Size is the reflected block size of a buffer binding, 0 otherwise.
	Size  uint64
	Value Value
	// Fallback is set when the value was substituted by BindWithFallback.
	Fallback bool
}

// Fallback supplies a substitute value for a binding the instance cannot fill.
type Fallback func(b layout.ResourceBinding) Value

// Bind resolves every binding of a layout against a material instance. Values the layout
// does not declare are ignored.
//
// Parameters:
//   - l: the pipeline layout to fill
//   - inst: the material instance supplying values
//
// Returns:
//   - []DescriptorWrite: one write per binding in layout order, nil on error
//   - error: every *BindingUnboundError and *BindingTypeMismatchError, combined
func Bind(l *layout.PipelineLayout, inst Instance) ([]DescriptorWrite, error) {
	writes, err := resolve(l, inst, nil)
	if err != nil {
		return nil, err
	}
	return writes, nil
}

// BindWithFallback is Bind for rendering that must continue: a binding that is unbound
// or mismatched gets the fallback value instead, and its error is still reported.
//
// Parameters:
//   - l: the pipeline layout to fill
//   - inst: the material instance supplying values
//   - fallback: the substitute values, DefaultFallback when nil
//
// Returns:
//   - []DescriptorWrite: one write per binding in layout order
//   - error: the combined errors of every substituted binding, nil if none
func BindWithFallback(l *layout.PipelineLayout, inst Instance, fallback Fallback) ([]DescriptorWrite, error) {
	if fallback == nil {
		fallback = DefaultFallback
	}
	writes, err := resolve(l, inst, fallback)
	if err != nil {
		common.Logger().Named("material").Warn("material bound with fallbacks",
			zap.String("material", inst.Name()),
			zap.Stringer("id", inst.ID()),
			zap.Int("errors", len(multierr.Errors(err))),
		)
	}
	return writes, err
}

func resolve(l *layout.PipelineLayout, inst Instance, fallback Fallback) ([]DescriptorWrite, error) {
	bindings := l.Bindings()
	writes := make([]DescriptorWrite, 0, len(bindings))
	var errs error
	for _, b := range bindings {
		w := DescriptorWrite{Set: b.Set, Binding: b.Binding, Kind: b.Kind, Name: b.Name, Size: b.Size}

		v, ok := inst.Value(b.Set, b.Binding)
		var err error
		if !ok {
			err = &BindingUnboundError{Set: b.Set, Binding: b.Binding, Name: b.Name, Kind: b.Kind}
		} else {
			err = check(b, v)
		}
		if err != nil {
			errs = multierr.Append(errs, err)
			if fallback == nil {
				continue
			}
			v = fallback(b)
			if ferr := check(b, v); ferr != nil {
				errs = multierr.Append(errs, fmt.Errorf("material: fallback: %w", ferr))
				continue
			}
			w.Fallback = true
		}
		w.Value = v
		writes = append(writes, w)
	}
	return writes, errs
}

// check validates one value against its binding.
func check(b layout.ResourceBinding, v Value) error {
	mismatch := func(format string, args ...any) error {
		return &BindingTypeMismatchError{
			Set: b.Set, Binding: b.Binding, Name: b.Name,
			Want: b.Kind, Got: v.kind, Reason: fmt.Sprintf(format, args...),
		}
	}

	if !v.kind.Accepts(b.Kind) {
		return mismatch("does not fit this binding")
	}
	if v.kind.IsBuffer() {
		if uint64(len(v.data)) < b.Size {
			return mismatch("has %d bytes, the block needs %d", len(v.data), b.Size)
		}
		return nil
	}

	if n := v.Count(); n != b.Count {
		return mismatch("has %d handles, the binding has %d elements", n, b.Count)
	}
	if v.kind == ValueCombined && len(v.samplers) != len(v.textures) {
		return mismatch("pairs %d textures with %d samplers", len(v.textures), len(v.samplers))
	}
	for i, t := range v.textures {
		if t == nil {
			return mismatch("has a nil texture at element %d", i)
		}
	}
	for i, s := range v.samplers {
		if s == nil {
			return mismatch("has a nil sampler at element %d", i)
		}
	}
	return nil
}

// whitePixel is a 1x1 opaque white PNG.
var whitePixel = sync.OnceValue(func() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(fmt.Sprintf("material: encode fallback texture: %v", err))
	}
	return buf.Bytes()
})

// FallbackTexture returns a 1x1 white texture handle.
//
// Returns:
//   - *common.ImportedTexture: the texture
func FallbackTexture() *common.ImportedTexture {
	return &common.ImportedTexture{Name: "fallback_white", Data: whitePixel(), Width: 1, Height: 1}
}

// FallbackSampler returns a sampler with every field zero, which the device resolves to
// linear filtering and repeat addressing.
//
// Returns:
//   - *common.SamplerStagingData: the sampler
func FallbackSampler() *common.SamplerStagingData {
	return &common.SamplerStagingData{LodMaxClamp: 32, MaxAnisotropy: 1}
}

// DefaultFallback substitutes zeroed buffers of the reflected block size, white
// textures and default samplers, one per array element.
//
// Parameters:
//   - b: the binding to fill
//
// Returns:
//   - Value: the substitute value
func DefaultFallback(b layout.ResourceBinding) Value {
	n := max(b.Count, 1)
	textures := func() []*common.ImportedTexture {
		out := make([]*common.ImportedTexture, n)
		for i := range out {
			out[i] = FallbackTexture()
		}
		return out
	}
	samplers := func() []*common.SamplerStagingData {
		out := make([]*common.SamplerStagingData, n)
		for i := range out {
			out[i] = FallbackSampler()
		}
		return out
	}

	switch b.Kind {
	case reflection.ResourceUniformBuffer:
		return UniformValue(make([]byte, b.Size))
	case reflection.ResourceStorageBuffer:
		return StorageValue(make([]byte, b.Size))
	case reflection.ResourceUniformTexelBuffer, reflection.ResourceStorageTexelBuffer:
		return TexelBufferValue(make([]byte, b.Size))
	case reflection.ResourceSampler:
		return SamplerValue(samplers()...)
	case reflection.ResourceCombinedImageSampler:
		return CombinedArrayValue(textures(), samplers())
	case reflection.ResourceStorageImage:
		return StorageTextureValue(textures()...)
	}
	return TextureValue(textures()...)
}
