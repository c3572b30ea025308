// Package pipeline holds in-flight pipeline handles. A Pipeline retains the cache entry it
// was created from, so the entry cannot be evicted while the pipeline renders with it,
// and swaps to the document's current entry only when Refresh is called.
package pipeline

import (
	"sync"

	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/cache"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/layout"
	"github.com/cogentcore/webgpu/wgpu"
)

// PipelineType identifies whether a pipeline is a compute pipeline or a render pipeline.
type PipelineType int

const (
	// PipelineTypeCompute indicates a compute pipeline with a single compute shader entry point.
	PipelineTypeCompute PipelineType = iota

	// PipelineTypeRender indicates a render pipeline with vertex and fragment shader entry points.
	PipelineTypeRender
)

func (t PipelineType) String() string {
	if t == PipelineTypeCompute {
		return "compute"
	}
	return "render"
}

// RenderState is the fixed-function configuration of a render pipeline. Compute
// pipelines carry the defaults and ignore them.
type RenderState struct {
	DepthTestEnabled    bool
	DepthWriteEnabled   bool
	DepthBias           int32
	DepthBiasSlopeScale float32
	BlendEnabled        bool
	CullMode            wgpu.CullMode
	Topology            wgpu.PrimitiveTopology
	FrontFace           wgpu.FrontFace
	WriteMask           wgpu.ColorWriteMask
	// Blend is used when BlendEnabled is set.
	Blend wgpu.BlendState
}

// DefaultRenderState returns depth-tested opaque triangles with standard alpha blending
// configured but disabled.
//
// Returns:
//   - RenderState: the defaults
func DefaultRenderState() RenderState {
	return RenderState{
		DepthTestEnabled:  true,
		DepthWriteEnabled: true,
		CullMode:          wgpu.CullModeNone,
		Topology:          wgpu.PrimitiveTopologyTriangleList,
		FrontFace:         wgpu.FrontFaceCCW,
		WriteMask:         wgpu.ColorWriteMaskAll,
		Blend: wgpu.BlendState{
			Color: wgpu.BlendComponent{
				SrcFactor: wgpu.BlendFactorSrcAlpha,
				DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
				Operation: wgpu.BlendOperationAdd,
			},
			Alpha: wgpu.BlendComponent{
				SrcFactor: wgpu.BlendFactorOne,
				DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
				Operation: wgpu.BlendOperationAdd,
			},
		},
	}
}

// EntrySource resolves the current entry of a document. cache.Cache satisfies it.
type EntrySource interface {
	Current(path string) (*cache.Entry, bool)
}

// pipeline is the implementation of the Pipeline interface.
type pipeline struct {
	key   string
	path  string
	state RenderState

	mu         sync.RWMutex
	entry      *cache.Entry
	generation uint64
	released   bool

	// device objects built from entry; cleared whenever the entry changes
	renderPipeline  *wgpu.RenderPipeline
	computePipeline *wgpu.ComputePipeline
}

// Pipeline is a handle on one document's compiled program. It holds a reference on its
// entry until Refresh replaces it or Release drops it.
type Pipeline interface {
	// Key returns the unique key associated with this pipeline, used for lookups.
	//
	// Returns:
	//   - string: the key
	Key() string

	// Path returns the document path the pipeline follows.
	//
	// Returns:
	//   - string: the path
	Path() string

	// Type returns whether the entry is a compute or a render program.
	//
	// Returns:
	//   - PipelineType: the type of the pipeline
	Type() PipelineType

	// Entry returns the entry the pipeline renders with. The pipeline keeps its own
	// reference; callers that hold on to the entry past the next Refresh must Retain it.
	//
	// Returns:
	//   - *cache.Entry: the entry, nil after Release
	Entry() *cache.Entry

	// Layout returns the layout of the current entry.
	//
	// Returns:
	//   - *layout.PipelineLayout: the layout, nil after Release
	Layout() *layout.PipelineLayout

	// Generation counts entry swaps. Device objects built for an older generation are stale.
	//
	// Returns:
	//   - uint64: the generation, 0 for the entry the pipeline was created with
	Generation() uint64

	// RenderState returns the fixed-function configuration.
	//
	// Returns:
	//   - RenderState: the configuration
	RenderState() RenderState

	// Refresh swaps to the document's current entry if it changed. The previous entry is
	// released and device objects are dropped so they are rebuilt for the new entry.
	//
	// Parameters:
	//   - src: where current entries are resolved, usually the cache
	//
	// Returns:
	//   - bool: true if the entry changed
	Refresh(src EntrySource) bool

	// Release drops the pipeline's entry reference and device objects. Further calls are no-ops.
	Release()

	// Pipeline returns the device pipeline object, either *wgpu.RenderPipeline or
	// *wgpu.ComputePipeline, nil when not built for the current generation.
	//
	// Returns:
	//   - any: the device object
	Pipeline() any

	// SetRenderPipeline sets the device render pipeline built for a generation. Objects
	// built for a stale generation are released instead of stored.
	//
	// Parameters:
	//   - p: the render pipeline
	//   - generation: the generation it was built for
	SetRenderPipeline(p *wgpu.RenderPipeline, generation uint64)

	// SetComputePipeline is SetRenderPipeline for compute pipelines.
	//
	// Parameters:
	//   - p: the compute pipeline
	//   - generation: the generation it was built for
	SetComputePipeline(p *wgpu.ComputePipeline, generation uint64)
}

var _ Pipeline = &pipeline{}

// NewPipeline creates a pipeline around an entry. The pipeline takes over the caller's
// reference, as returned by cache.Cache.GetOrCompile.
//
// Parameters:
//   - key: the unique key for this pipeline
//   - path: the document path Refresh follows
//   - entry: a retained cache entry
//   - opts: a variadic list of PipelineBuilderOption functions to configure the pipeline
//
// Returns:
//   - Pipeline: the new pipeline
func NewPipeline(key, path string, entry *cache.Entry, opts ...PipelineBuilderOption) Pipeline {
	if entry == nil {
		panic("pipeline: NewPipeline requires an entry")
	}
	p := &pipeline{
		key:   key,
		path:  path,
		entry: entry,
		state: DefaultRenderState(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *pipeline) Key() string {
	return p.key
}

func (p *pipeline) Path() string {
	return p.path
}

func (p *pipeline) Type() PipelineType {
	if l := p.Layout(); l != nil && l.IsCompute() {
		return PipelineTypeCompute
	}
	return PipelineTypeRender
}

func (p *pipeline) Entry() *cache.Entry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.entry
}

func (p *pipeline) Layout() *layout.PipelineLayout {
	if e := p.Entry(); e != nil {
		return e.Layout()
	}
	return nil
}

func (p *pipeline) Generation() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.generation
}

func (p *pipeline) RenderState() RenderState {
	return p.state
}

func (p *pipeline) Refresh(src EntrySource) bool {
	p.mu.RLock()
	released := p.released
	p.mu.RUnlock()
	if released {
		return false
	}

	next, ok := src.Current(p.path)
	if !ok {
		return false
	}

	p.mu.Lock()
	if p.released || next == p.entry {
		p.mu.Unlock()
		next.Release()
		return false
	}
	old := p.entry
	p.entry = next
	p.generation++
	p.dropDeviceObjects()
	p.mu.Unlock()

	old.Release()
	return true
}

func (p *pipeline) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return
	}
	p.released = true
	p.dropDeviceObjects()
	p.entry.Release()
	p.entry = nil
}

// dropDeviceObjects releases device pipelines. Callers hold mu.
func (p *pipeline) dropDeviceObjects() {
	if p.renderPipeline != nil {
		p.renderPipeline.Release()
		p.renderPipeline = nil
	}
	if p.computePipeline != nil {
		p.computePipeline.Release()
		p.computePipeline = nil
	}
}

func (p *pipeline) Pipeline() any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.renderPipeline != nil {
		return p.renderPipeline
	}
	if p.computePipeline != nil {
		return p.computePipeline
	}
	return nil
}

func (p *pipeline) SetRenderPipeline(rp *wgpu.RenderPipeline, generation uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released || generation != p.generation {
		if rp != nil {
			rp.Release()
		}
		return
	}
	p.dropDeviceObjects()
	p.renderPipeline = rp
}

func (p *pipeline) SetComputePipeline(cp *wgpu.ComputePipeline, generation uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released || generation != p.generation {
		if cp != nil {
			cp.Release()
		}
		return
	}
	p.dropDeviceObjects()
	p.computePipeline = cp
}
