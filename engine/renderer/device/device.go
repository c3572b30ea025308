// Package device is the only consumer of the GPU. It turns cache entries into WebGPU
// shader modules and pipelines, and material descriptor writes into bind groups.
package device

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-shader/common"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/layout"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/material"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader"
	"github.com/cogentcore/webgpu/wgpu"
	"go.uber.org/zap"
)

// device is the implementation of the Device interface.
type device struct {
	mu     *sync.Mutex
	logger *zap.Logger

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
	// owned is false when the wgpu device was supplied by the caller.
	owned bool

	forceFallbackAdapter bool
	maxBindGroups        uint32
	colorFormat          wgpu.TextureFormat
	depthFormat          wgpu.TextureFormat
	sampleCount          uint32
}

// Device builds GPU objects from compiled documents and bound materials.
type Device interface {
	// Device returns the underlying wgpu device.
	//
	// Returns:
	//   - *wgpu.Device: the device
	Device() *wgpu.Device

	// Queue returns the device queue.
	//
	// Returns:
	//   - *wgpu.Queue: the queue
	Queue() *wgpu.Queue

	// BuildPipeline creates the device pipeline for the pipeline's current entry and
	// stores it for the generation the entry belongs to. A pipeline refreshed while the
	// build runs discards the result.
	//
	// Parameters:
	//   - p: the pipeline
	//
	// Returns:
	//   - error: an error if the layout cannot be expressed or a wgpu call fails
	BuildPipeline(p pipeline.Pipeline) error

	// BindMaterial uploads the descriptor writes of a bound material and creates one bind
	// group per descriptor set of the layout.
	//
	// Parameters:
	//   - l: the layout the writes were resolved against
	//   - writes: the writes from material.Bind or material.BindWithFallback
	//   - label: a debug label for the created objects
	//
	// Returns:
	//   - []bind_group_provider.BindGroupProvider: one provider per set, in set order
	//   - error: an error if a write cannot be uploaded; nothing is retained on error
	BindMaterial(l *layout.PipelineLayout, writes []material.DescriptorWrite, label string) ([]bind_group_provider.BindGroupProvider, error)

	// WriteBuffers writes data into provider buffers, e.g. updated material uniforms.
	// Writes targeting bindings without a buffer are skipped.
	//
	// Parameters:
	//   - writes: the buffer writes
	WriteBuffers(writes []bind_group_provider.BufferWrite)

	// Release releases the device and everything created with it when the device is owned.
	Release()
}

var _ Device = &device{}

// NewDevice creates a headless device. Without WithWGPUDevice it requests an adapter and
// a device of its own.
//
// Parameters:
//   - options: a variadic list of DeviceBuilderOption functions
//
// Returns:
//   - Device: the device
//   - error: an error if no adapter or device is available
func NewDevice(options ...DeviceBuilderOption) (Device, error) {
	d := &device{
		mu:            &sync.Mutex{},
		logger:        common.Logger().Named("device"),
		maxBindGroups: 4,
		colorFormat:   wgpu.TextureFormatBGRA8UnormSrgb,
		depthFormat:   wgpu.TextureFormatDepth24Plus,
		sampleCount:   1,
	}
	for _, opt := range options {
		opt(d)
	}
	if d.device != nil {
		d.queue = d.device.GetQueue()
		return d, nil
	}

	d.owned = true
	d.instance = wgpu.CreateInstance(nil)
	a, err := d.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: d.forceFallbackAdapter,
	})
	if err != nil {
		d.instance.Release()
		return nil, fmt.Errorf("device: request adapter: %w", err)
	}
	d.adapter = a

	limits := wgpu.DefaultLimits()
	limits.MaxBindGroups = d.maxBindGroups
	dev, err := a.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "Shader Pipeline Device",
		RequiredLimits: &wgpu.RequiredLimits{
			Limits: limits,
		},
	})
	if err != nil {
		a.Release()
		d.instance.Release()
		return nil, fmt.Errorf("device: request device: %w", err)
	}
	d.device = dev
	d.queue = dev.GetQueue()
	d.logger.Info("device ready", zap.Uint32("max_bind_groups", d.maxBindGroups))
	return d, nil
}

func (d *device) Device() *wgpu.Device {
	return d.device
}

func (d *device) Queue() *wgpu.Queue {
	return d.queue
}

func (d *device) BuildPipeline(p pipeline.Pipeline) error {
	entry := p.Entry()
	if entry == nil {
		return fmt.Errorf("device: pipeline %s is released", p.Key())
	}
	generation := p.Generation()
	l := entry.Layout()

	descs, err := BindGroupLayoutDescriptors(l, p.Key())
	if err != nil {
		return fmt.Errorf("device: pipeline %s: %w", p.Key(), err)
	}
	bindGroupLayouts := make([]*wgpu.BindGroupLayout, 0, len(descs))
	defer func() {
		for _, bgl := range bindGroupLayouts {
			bgl.Release()
		}
	}()
	for i := range descs {
		bgl, bglErr := d.device.CreateBindGroupLayout(&descs[i])
		if bglErr != nil {
			return fmt.Errorf("device: failed to create bind group layout for set %d: %w", i, bglErr)
		}
		bindGroupLayouts = append(bindGroupLayouts, bgl)
	}

	pipelineLayout, err := d.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            p.Key(),
		BindGroupLayouts: bindGroupLayouts,
	})
	if err != nil {
		return fmt.Errorf("device: create pipeline layout: %w", err)
	}
	defer pipelineLayout.Release()

	modules := make(map[shader.StageKind]*wgpu.ShaderModule, len(entry.Stages()))
	entryPoints := make(map[shader.StageKind]string, len(entry.Stages()))
	defer func() {
		for _, m := range modules {
			m.Release()
		}
	}()
	for _, s := range entry.Stages() {
		m, modErr := d.device.CreateShaderModule(ShaderModuleDescriptor(p.Key(), s))
		if modErr != nil {
			return fmt.Errorf("device: create %s shader module: %w", s.Kind, modErr)
		}
		modules[s.Kind] = m
		entryPoints[s.Kind] = s.EntryPoint
	}

	if p.Type() == pipeline.PipelineTypeCompute {
		created, cpErr := d.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
			Label:  p.Key() + " Compute Pipeline",
			Layout: pipelineLayout,
			Compute: wgpu.ProgrammableStageDescriptor{
				Module:     modules[shader.StageCompute],
				EntryPoint: entryPoints[shader.StageCompute],
			},
		})
		if cpErr != nil {
			return fmt.Errorf("device: create compute pipeline: %w", cpErr)
		}
		p.SetComputePipeline(created, generation)
		d.logger.Debug("compute pipeline built", zap.String("pipeline", p.Key()), zap.Uint64("generation", generation))
		return nil
	}

	vs, ok := modules[shader.StageVertex]
	if !ok {
		return fmt.Errorf("device: pipeline %s has no vertex stage", p.Key())
	}
	for kind := range modules {
		if kind != shader.StageVertex && kind != shader.StageFragment {
			return &UnsupportedError{What: "pipeline " + p.Key(), Reason: kind.String() + " stages"}
		}
	}

	var vertexLayouts []wgpu.VertexBufferLayout
	if len(l.VertexAttributes) > 0 {
		vbl, vblErr := VertexBufferLayout(l)
		if vblErr != nil {
			return fmt.Errorf("device: pipeline %s: %w", p.Key(), vblErr)
		}
		vertexLayouts = append(vertexLayouts, vbl)
	}

	state := p.RenderState()
	desc := &wgpu.RenderPipelineDescriptor{
		Label:  p.Key() + " Render Pipeline",
		Layout: pipelineLayout,
		Vertex: wgpu.VertexState{
			Module:     vs,
			EntryPoint: entryPoints[shader.StageVertex],
			Buffers:    vertexLayouts,
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  state.Topology,
			FrontFace: state.FrontFace,
			CullMode:  state.CullMode,
		},
		Multisample: wgpu.MultisampleState{
			Count: d.sampleCount,
			Mask:  0xFFFFFFFF,
		},
		DepthStencil: d.depthStencil(state),
	}
	if fs, ok := modules[shader.StageFragment]; ok {
		target := wgpu.ColorTargetState{
			Format:    d.colorFormat,
			WriteMask: state.WriteMask,
		}
		if state.BlendEnabled {
			blend := state.Blend
			target.Blend = &blend
		}
		desc.Fragment = &wgpu.FragmentState{
			Module:     fs,
			EntryPoint: entryPoints[shader.StageFragment],
			Targets:    []wgpu.ColorTargetState{target},
		}
	}

	created, err := d.device.CreateRenderPipeline(desc)
	if err != nil {
		return fmt.Errorf("device: create render pipeline: %w", err)
	}
	p.SetRenderPipeline(created, generation)
	d.logger.Debug("render pipeline built", zap.String("pipeline", p.Key()), zap.Uint64("generation", generation))
	return nil
}

func (d *device) depthStencil(state pipeline.RenderState) *wgpu.DepthStencilState {
	depthCompare := wgpu.CompareFunctionLess
	if !state.DepthTestEnabled {
		depthCompare = wgpu.CompareFunctionAlways
	}
	return &wgpu.DepthStencilState{
		Format:              d.depthFormat,
		DepthWriteEnabled:   state.DepthWriteEnabled,
		DepthCompare:        depthCompare,
		DepthBias:           state.DepthBias,
		DepthBiasSlopeScale: state.DepthBiasSlopeScale,
		StencilFront: wgpu.StencilFaceState{
			Compare: wgpu.CompareFunctionAlways,
		},
		StencilBack: wgpu.StencilFaceState{
			Compare: wgpu.CompareFunctionAlways,
		},
	}
}

func (d *device) BindMaterial(l *layout.PipelineLayout, writes []material.DescriptorWrite, label string) ([]bind_group_provider.BindGroupProvider, error) {
	descs, err := BindGroupLayoutDescriptors(l, label)
	if err != nil {
		return nil, fmt.Errorf("device: material %s: %w", label, err)
	}

	bySlot := make(map[material.Slot]material.DescriptorWrite, len(writes))
	for _, w := range writes {
		bySlot[material.Slot{Set: w.Set, Binding: w.Binding}] = w
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	providers := make([]bind_group_provider.BindGroupProvider, 0, len(l.Sets))
	fail := func(err error) ([]bind_group_provider.BindGroupProvider, error) {
		for _, p := range providers {
			p.Release()
		}
		return nil, err
	}

	for _, ds := range l.Sets {
		provider := bind_group_provider.NewBindGroupProvider(
			fmt.Sprintf("%s set %d", label, ds.Index),
			bind_group_provider.WithSet(ds.Index),
		)
		providers = append(providers, provider)

		bgl, err := d.device.CreateBindGroupLayout(&descs[ds.Index])
		if err != nil {
			return fail(fmt.Errorf("device: failed to create bind group layout for set %d: %w", ds.Index, err))
		}
		provider.SetBindGroupLayout(bgl)

		entries := make([]wgpu.BindGroupEntry, 0, len(ds.Bindings))
		for _, b := range ds.Bindings {
			w, ok := bySlot[material.Slot{Set: b.Set, Binding: b.Binding}]
			if !ok {
				return fail(&material.BindingUnboundError{Set: b.Set, Binding: b.Binding, Name: b.Name, Kind: b.Kind})
			}
			entry, err := d.upload(provider, b, w)
			if err != nil {
				return fail(err)
			}
			entries = append(entries, entry)
		}

		bindGroup, err := d.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:   provider.Label() + " Bind Group",
			Layout:  bgl,
			Entries: entries,
		})
		if err != nil {
			return fail(fmt.Errorf("device: create bind group for set %d: %w", ds.Index, err))
		}
		provider.SetBindGroup(bindGroup)
	}
	return providers, nil
}

// upload creates the GPU resource of one write and returns its bind group entry. Callers hold mu.
func (d *device) upload(provider bind_group_provider.BindGroupProvider, b layout.ResourceBinding, w material.DescriptorWrite) (wgpu.BindGroupEntry, error) {
	what := bindingWhat(b.Name, b.Set, b.Binding)
	switch w.Value.Kind() {
	case material.ValueUniform, material.ValueStorage:
		usage := wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst
		if w.Value.Kind() == material.ValueStorage {
			usage = wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst
		}
		data := padded(w.Value.Data(), b.Size)
		buf, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: provider.Label() + " " + b.Name,
			Size:  uint64(len(data)),
			Usage: usage,
		})
		if err != nil {
			return wgpu.BindGroupEntry{}, fmt.Errorf("device: create buffer for %s: %w", what, err)
		}
		d.queue.WriteBuffer(buf, 0, data)
		provider.SetBuffer(b.Binding, buf)
		return wgpu.BindGroupEntry{Binding: b.Binding, Buffer: buf, Offset: 0, Size: wgpu.WholeSize}, nil

	case material.ValueTexture, material.ValueStorageTexture:
		format := wgpu.TextureFormatRGBA8UnormSrgb
		usage := wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst
		if w.Value.Kind() == material.ValueStorageTexture {
			// decoded images are RGBA8, the only storage format they can fill
			if b.Image == nil || storageFormats[b.Image.Format] != wgpu.TextureFormatRGBA8Unorm {
				return wgpu.BindGroupEntry{}, &UnsupportedError{What: what, Reason: "storage textures uploaded from images must be rgba8unorm"}
			}
			format = wgpu.TextureFormatRGBA8Unorm
			usage = wgpu.TextureUsageStorageBinding | wgpu.TextureUsageCopyDst
		}
		staging, err := w.Value.Textures()[0].Decode()
		if err != nil {
			return wgpu.BindGroupEntry{}, fmt.Errorf("device: texture for %s: %w", what, err)
		}
		tex, view, err := d.createTexture(provider.Label()+" "+b.Name, staging, format, usage)
		if err != nil {
			return wgpu.BindGroupEntry{}, fmt.Errorf("device: texture for %s: %w", what, err)
		}
		provider.SetTexture(b.Binding, tex, view)
		return wgpu.BindGroupEntry{Binding: b.Binding, TextureView: view}, nil

	case material.ValueSampler:
		samp, err := d.createSampler(provider.Label()+" "+b.Name, w.Value.Samplers()[0])
		if err != nil {
			return wgpu.BindGroupEntry{}, fmt.Errorf("device: sampler for %s: %w", what, err)
		}
		provider.SetSampler(b.Binding, samp)
		return wgpu.BindGroupEntry{Binding: b.Binding, Sampler: samp}, nil
	}
	return wgpu.BindGroupEntry{}, &UnsupportedError{What: what, Reason: w.Value.Kind().String() + " values"}
}

func (d *device) createTexture(label string, staging common.TextureStagingData, format wgpu.TextureFormat, usage wgpu.TextureUsage) (*wgpu.Texture, *wgpu.TextureView, error) {
	tex, err := d.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:     label,
		Usage:     usage,
		Dimension: wgpu.TextureDimension2D,
		Size: wgpu.Extent3D{
			Width:              staging.Width,
			Height:             staging.Height,
			DepthOrArrayLayers: 1,
		},
		Format:        format,
		MipLevelCount: 1,
		SampleCount:   1,
	})
	if err != nil {
		return nil, nil, err
	}

	d.queue.WriteTexture(
		&wgpu.ImageCopyTexture{
			Texture:  tex,
			MipLevel: 0,
			Origin:   wgpu.Origin3D{},
			Aspect:   wgpu.TextureAspectAll,
		},
		staging.Pixels,
		&wgpu.TextureDataLayout{
			Offset:       0,
			BytesPerRow:  staging.Width * 4,
			RowsPerImage: staging.Height,
		},
		&wgpu.Extent3D{
			Width:              staging.Width,
			Height:             staging.Height,
			DepthOrArrayLayers: 1,
		},
	)

	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return nil, nil, err
	}
	return tex, view, nil
}

func (d *device) createSampler(label string, s *common.SamplerStagingData) (*wgpu.Sampler, error) {
	if s == nil {
		return nil, errors.New("sampler is nil")
	}
	return d.device.CreateSampler(&wgpu.SamplerDescriptor{
		Label:         label,
		AddressModeU:  common.Coalesce(s.AddressModeU, wgpu.AddressModeRepeat),
		AddressModeV:  common.Coalesce(s.AddressModeV, wgpu.AddressModeRepeat),
		AddressModeW:  common.Coalesce(s.AddressModeW, wgpu.AddressModeRepeat),
		MagFilter:     common.Coalesce(s.MagFilter, wgpu.FilterModeLinear),
		MinFilter:     common.Coalesce(s.MinFilter, wgpu.FilterModeLinear),
		MipmapFilter:  common.Coalesce(s.MipmapFilter, wgpu.MipmapFilterModeLinear),
		LodMinClamp:   common.Coalesce(s.LodMinClamp, 0.0),
		LodMaxClamp:   common.Coalesce(s.LodMaxClamp, 32.0),
		MaxAnisotropy: common.Coalesce(s.MaxAnisotropy, 1),
		Compare:       s.Compare,
	})
}

func (d *device) WriteBuffers(writes []bind_group_provider.BufferWrite) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, w := range writes {
		buf := w.Provider.Buffer(w.Binding)
		if buf == nil {
			continue
		}
		d.queue.WriteBuffer(buf, w.Offset, padded(w.Data, 0))
	}
}

func (d *device) Release() {
	if !d.owned {
		return
	}
	if d.queue != nil {
		d.queue.Release()
		d.queue = nil
	}
	if d.device != nil {
		d.device.Release()
		d.device = nil
	}
	if d.adapter != nil {
		d.adapter.Release()
		d.adapter = nil
	}
	if d.instance != nil {
		d.instance.Release()
		d.instance = nil
	}
}
