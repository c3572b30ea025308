package pipeline_test

import (
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/cache"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/layout"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader"
	"github.com/cogentcore/webgpu/wgpu"
)

// source hands out a fixed current entry per path, retained as the cache would.
type source map[string]*cache.Entry

func (s source) Current(path string) (*cache.Entry, bool) {
	e, ok := s[path]
	if !ok {
		return nil, false
	}
	return e.Retain(), true
}

func entry(content string, stages shader.StageMask) *cache.Entry {
	key := cache.Key{Hash: shader.HashText(content), CompilerVersion: "test/1"}
	return cache.NewEntry(key, "a.wgsl", nil, &layout.PipelineLayout{Stages: stages}, time.Now())
}

func TestRefreshSwapsAndReleases(t *testing.T) {
	render := shader.StageVertex.Mask().With(shader.StageFragment)
	v1 := entry("v1", render)
	p := pipeline.NewPipeline("lit", "a.wgsl", v1.Retain())

	if p.Type() != pipeline.PipelineTypeRender || p.Path() != "a.wgsl" {
		t.Fatalf("pipeline = %s %q", p.Type(), p.Path())
	}
	if p.Refresh(source{"a.wgsl": v1}) {
		t.Fatal("Refresh reported a change for the same entry")
	}
	if v1.Refs() != 1 {
		t.Fatalf("v1 refs = %d, want 1", v1.Refs())
	}

	v2 := entry("v2", render)
	if !p.Refresh(source{"a.wgsl": v2}) {
		t.Fatal("Refresh did not swap to the new entry")
	}
	if p.Entry() != v2 || p.Generation() != 1 {
		t.Fatalf("entry = %s generation %d", p.Entry().Key(), p.Generation())
	}
	if v1.Refs() != 0 || v2.Refs() != 1 {
		t.Fatalf("refs after swap: v1 %d v2 %d", v1.Refs(), v2.Refs())
	}

	if p.Refresh(source{}) {
		t.Fatal("Refresh swapped with no current entry")
	}

	p.Release()
	p.Release()
	if v2.Refs() != 0 {
		t.Fatalf("v2 refs after Release = %d", v2.Refs())
	}
	if p.Entry() != nil || p.Layout() != nil {
		t.Fatal("released pipeline still exposes its entry")
	}
	if p.Refresh(source{"a.wgsl": v1}) {
		t.Fatal("released pipeline refreshed")
	}
	if v1.Refs() != 0 {
		t.Fatal("refresh of a released pipeline leaked a reference")
	}
}

func TestComputeType(t *testing.T) {
	p := pipeline.NewPipeline("particles", "p.wgsl", entry("c", shader.StageCompute.Mask()).Retain())
	defer p.Release()
	if p.Type() != pipeline.PipelineTypeCompute {
		t.Fatalf("type = %s, want compute", p.Type())
	}
	if p.Pipeline() != nil {
		t.Fatal("device pipeline present before it was built")
	}
}

func TestRenderStateOptions(t *testing.T) {
	p := pipeline.NewPipeline("overlay", "o.wgsl", entry("o", shader.StageFragment.Mask()).Retain(),
		pipeline.WithDepth(false, false),
		pipeline.WithCullMode(wgpu.CullModeBack),
		pipeline.WithBlend(nil),
		pipeline.WithDepthBias(2, 1.5),
	)
	defer p.Release()

	st := p.RenderState()
	if st.DepthTestEnabled || st.DepthWriteEnabled {
		t.Fatal("depth still enabled")
	}
	if st.CullMode != wgpu.CullModeBack || !st.BlendEnabled || st.DepthBias != 2 {
		t.Fatalf("state = %+v", st)
	}
	if st.Blend != pipeline.DefaultRenderState().Blend {
		t.Fatal("WithBlend(nil) replaced the default blend")
	}
	if st.Topology != wgpu.PrimitiveTopologyTriangleList {
		t.Fatalf("topology = %v", st.Topology)
	}
}
