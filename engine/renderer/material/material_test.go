package material_test

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-shader/common"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/cache"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/layout"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/material"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader/compiler"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader/reflection"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader/reflection/spirvtest"
	"go.uber.org/multierr"
)

func pbrLayout(t *testing.T) *layout.PipelineLayout {
	t.Helper()
	vs, err := reflection.Reflect(shader.StageVertex, spirvtest.PBRVertex())
	if err != nil {
		t.Fatalf("Reflect(vertex): %v", err)
	}
	fs, err := reflection.Reflect(shader.StageFragment, spirvtest.PBRFragment())
	if err != nil {
		t.Fatalf("Reflect(fragment): %v", err)
	}
	l, err := layout.Build([]*reflection.StageReflection{vs, fs})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return l
}

func pbrInstance(l *layout.PipelineLayout, skip string) material.Instance {
	opts := []material.InstanceBuilderOption{
		material.WithName("brushed_steel"),
		material.WithParams(1, 0, material.DefaultMaterialParams()),
	}
	sampler := &common.SamplerStagingData{}
	for _, name := range spirvtest.PBRMaps {
		if name == skip {
			continue
		}
		tex := &common.ImportedTexture{Name: name, Path: name + ".png"}
		opts = append(opts, material.WithNamedValue(name, material.CombinedValue(tex, sampler)))
	}
	return material.NewInstance(l, opts...)
}

func TestBindPBR(t *testing.T) {
	l := pbrLayout(t)
	inst := pbrInstance(l, "")

	writes, err := material.Bind(l, inst)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if len(writes) != 6 {
		t.Fatalf("got %d writes, want 6", len(writes))
	}
	for i, w := range writes {
		if w.Set != 1 || w.Binding != uint32(i) {
			t.Fatalf("write %d targets set %d binding %d", i, w.Set, w.Binding)
		}
		if w.Fallback {
			t.Fatalf("write %d used a fallback", i)
		}
	}
	if writes[0].Value.Kind() != material.ValueUniform || len(writes[0].Value.Data()) != material.GPUMaterialParamsSize {
		t.Fatalf("material write = %+v", writes[0])
	}
	if got := writes[1].Value.Textures()[0].Name; got != "albedo_map" {
		t.Fatalf("binding 1 texture = %q, want albedo_map", got)
	}
}

func TestBindUnbound(t *testing.T) {
	l := pbrLayout(t)
	inst := pbrInstance(l, "albedo_map")

	writes, err := material.Bind(l, inst)
	if writes != nil {
		t.Fatal("Bind returned writes alongside an error")
	}
	var unbound *material.BindingUnboundError
	if !errors.As(err, &unbound) {
		t.Fatalf("err = %v, want *BindingUnboundError", err)
	}
	if unbound.Set != 1 || unbound.Binding != 1 || unbound.Name != "albedo_map" {
		t.Fatalf("unbound = %+v", unbound)
	}
}

func TestBindMismatch(t *testing.T) {
	l := pbrLayout(t)
	tex := &common.ImportedTexture{Name: "t"}
	samp := &common.SamplerStagingData{}

	tests := []struct {
		name    string
		binding uint32
		value   material.Value
	}{
		{"wrong kind", 1, material.TextureValue(tex)},
		{"short uniform", 0, material.UniformValue(make([]byte, spirvtest.PBRMaterialSize-4))},
		{"storage for uniform", 0, material.StorageValue(make([]byte, 64))},
		{"array for single", 2, material.CombinedArrayValue(
			[]*common.ImportedTexture{tex, tex},
			[]*common.SamplerStagingData{samp, samp},
		)},
		{"nil texture", 3, material.CombinedValue(nil, samp)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := pbrInstance(l, "")
			inst.SetValue(1, tt.binding, tt.value)

			_, err := material.Bind(l, inst)
			var mismatch *material.BindingTypeMismatchError
			if !errors.As(err, &mismatch) {
				t.Fatalf("err = %v, want *BindingTypeMismatchError", err)
			}
			if mismatch.Binding != tt.binding {
				t.Fatalf("mismatch at binding %d, want %d", mismatch.Binding, tt.binding)
			}
		})
	}
}

func TestBindIgnoresExtraValues(t *testing.T) {
	l := pbrLayout(t)
	inst := pbrInstance(l, "")
	inst.SetValue(3, 0, material.UniformValue([]byte{1}))

	writes, err := material.Bind(l, inst)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if len(writes) != 6 {
		t.Fatalf("got %d writes, want 6", len(writes))
	}
}

func TestBindWithFallback(t *testing.T) {
	l := pbrLayout(t)
	inst := pbrInstance(l, "normal_map")
	inst.SetValue(1, 0, material.UniformValue([]byte{1, 2, 3}))

	writes, err := material.BindWithFallback(l, inst, nil)
	if len(writes) != 6 {
		t.Fatalf("got %d writes, want 6", len(writes))
	}
	if errs := multierr.Errors(err); len(errs) != 2 {
		t.Fatalf("got %d errors, want 2: %v", len(errs), err)
	}

	fallbacks := map[uint32]bool{}
	for _, w := range writes {
		if w.Fallback {
			fallbacks[w.Binding] = true
		}
	}
	if len(fallbacks) != 2 || !fallbacks[0] || !fallbacks[2] {
		t.Fatalf("fallback bindings = %v, want 0 and 2", fallbacks)
	}
	if got := len(writes[0].Value.Data()); got != spirvtest.PBRMaterialSize {
		t.Fatalf("fallback uniform has %d bytes, want %d", got, spirvtest.PBRMaterialSize)
	}
	data, err := writes[2].Value.Textures()[0].Decode()
	if err != nil {
		t.Fatalf("fallback texture does not decode: %v", err)
	}
	if data.Width != 1 || data.Height != 1 || data.Pixels[0] != 0xff {
		t.Fatalf("fallback texture = %+v", data)
	}
}

func TestInstance(t *testing.T) {
	l := pbrLayout(t)
	a := material.NewInstance(l, material.WithName("a"))
	b := material.NewInstance(l)
	if a.ID() == b.ID() {
		t.Fatal("instances share an id")
	}
	if a.Name() != "a" || a.Layout() != l {
		t.Fatalf("instance = %s %p", a.Name(), a.Layout())
	}

	if !a.SetNamed("emissive_map", material.TextureValue()) {
		t.Fatal("SetNamed did not find emissive_map")
	}
	if a.SetNamed("not_declared", material.TextureValue()) {
		t.Fatal("SetNamed accepted an undeclared name")
	}
	a.SetValue(1, 0, material.UniformValue(nil))
	slots := a.Slots()
	if len(slots) != 2 || slots[0] != (material.Slot{Set: 1, Binding: 0}) || slots[1] != (material.Slot{Set: 1, Binding: 5}) {
		t.Fatalf("slots = %v", slots)
	}

	next := &layout.PipelineLayout{}
	a.SetLayout(next)
	if a.Layout() != next {
		t.Fatal("SetLayout did not replace the layout")
	}
	if _, ok := a.Value(1, 5); !ok {
		t.Fatal("SetLayout dropped values")
	}
}

// layoutBuilder builds stage-less entries that all share one layout.
type layoutBuilder struct {
	l *layout.PipelineLayout
}

func (b *layoutBuilder) Version() string { return "layout/1" }

func (b *layoutBuilder) Build(_ context.Context, doc *shader.Document) (*cache.Entry, error) {
	key := cache.Key{Hash: doc.Hash(), CompilerVersion: b.Version()}
	return cache.NewEntry(key, doc.Path(), nil, b.l, time.Now()), nil
}

func TestInstanceKeepsEntryFromEviction(t *testing.T) {
	l := pbrLayout(t)
	c := cache.NewCache(&layoutBuilder{l: l})
	epoch := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	get := func(modTime time.Time, source string) *cache.Entry {
		t.Helper()
		e, err := c.GetOrCompile(context.Background(), shader.NewDocument("pbr.glsl", modTime, source))
		if err != nil {
			t.Fatalf("GetOrCompile: %v", err)
		}
		return e
	}

	v1 := get(epoch, "#[FRAGMENT]\n// v1\n")
	inst := material.NewInstance(&layout.PipelineLayout{}, material.WithEntry(v1), material.WithNamedValue("albedo_map", material.TextureValue()))
	v1.Release()
	if inst.Entry() != v1 || inst.Layout() != l || v1.Refs() != 1 {
		t.Fatalf("instance entry = %p layout = %p refs = %d", inst.Entry(), inst.Layout(), v1.Refs())
	}
	if _, ok := inst.Value(1, 1); !ok {
		t.Fatal("named value not resolved against the entry's layout")
	}

	v2 := get(epoch.Add(time.Second), "#[FRAGMENT]\n// v2\n")
	if n := c.Evict(); n != 0 {
		t.Fatalf("evicted %d entries while a material holds the superseded one", n)
	}

	inst.Attach(v2)
	inst.Attach(v2)
	v2.Release()
	if v1.Refs() != 0 || v2.Refs() != 1 || inst.Entry() != v2 {
		t.Fatalf("after Attach: v1 refs %d, v2 refs %d", v1.Refs(), v2.Refs())
	}
	if n := c.Evict(); n != 1 {
		t.Fatalf("evicted %d, want the released entry", n)
	}

	inst.Release()
	inst.Release()
	if inst.Entry() != nil || v2.Refs() != 0 {
		t.Fatalf("after Release: entry %p, refs %d", inst.Entry(), v2.Refs())
	}

	inst.Attach(v2)
	inst.SetLayout(l)
	if inst.Entry() != nil || v2.Refs() != 0 {
		t.Fatal("SetLayout kept the attached entry")
	}
}

func TestUniformValueCopies(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	v := material.UniformValue(data)
	data[0] = 9
	if v.Data()[0] != 1 {
		t.Fatal("UniformValue aliases its input")
	}
}

func TestGPUMaterialParamsMarshal(t *testing.T) {
	p := material.GPUMaterialParams{
		BaseColor:         [4]float32{0.1, 0.2, 0.3, 0.4},
		Emissive:          [3]float32{0.5, 0.6, 0.7},
		Metallic:          0.8,
		Roughness:         0.9,
		OcclusionStrength: 1.0,
		NormalScale:       1.5,
	}
	buf := p.Marshal()
	if len(buf) != p.Size() {
		t.Fatalf("marshaled %d bytes, Size() = %d", len(buf), p.Size())
	}
	at := func(off int) float32 {
		return math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
	}
	checks := map[int]float32{0: 0.1, 12: 0.4, 16: 0.5, 24: 0.7, 28: 0.8, 32: 0.9, 36: 1.0, 40: 1.5}
	for off, want := range checks {
		if got := at(off); got != want {
			t.Errorf("offset %d = %v, want %v", off, got, want)
		}
	}
	if at(44) != 0 {
		t.Error("tail padding is not zero")
	}
}

// The embedded WGSL struct must reflect to the block GPUMaterialParams fills.
func TestGPUMaterialParamsMatchesSource(t *testing.T) {
	src := "#[UNIFORMS]\n" + material.GPUMaterialParamsSource +
		"@group(1) @binding(0) var<uniform> material: Material;\n" +
		"#[FRAGMENT]\n@fragment\nfn main() -> @location(0) vec4<f32> {\n" +
		"    return material.base_color * material.normal_scale;\n}\n"
	parsed, err := shader.ParseSections(src)
	if err != nil {
		t.Fatalf("ParseSections: %v", err)
	}
	cs, err := compiler.NewNagaCompiler().Compile(context.Background(), parsed.Stages[0])
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	r, err := cs.Reflect()
	if err != nil {
		t.Fatalf("Reflect: %v", err)
	}
	b, ok := r.Lookup(1, 0)
	if !ok {
		t.Fatal("material block was not reflected")
	}
	if b.Size != spirvtest.PBRMaterialSize {
		t.Fatalf("reflected block size = %d, want %d", b.Size, spirvtest.PBRMaterialSize)
	}
	if b.Size > material.GPUMaterialParamsSize {
		t.Fatalf("block size %d exceeds marshaled size %d", b.Size, material.GPUMaterialParamsSize)
	}
}
