package cache

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/layout"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader/compiler"
)

const texturedDocument = `#[UNIFORMS]
struct Material {
    tint: vec4<f32>,
};
@group(1) @binding(0) var<uniform> material: Material;
@group(1) @binding(1) var albedo: texture_2d<f32>;
@group(1) @binding(2) var albedo_sampler: sampler;
struct VertexOut {
    @builtin(position) position: vec4<f32>,
    @location(0) uv: vec2<f32>,
};
#[VERTEX]
@vertex
fn vs_main(@location(0) position: vec3<f32>, @location(1) uv: vec2<f32>) -> VertexOut {
    var out: VertexOut;
    out.position = vec4<f32>(position, 1.0);
    out.uv = uv;
    return out;
}
#[FRAGMENT]
@fragment
fn fs_main(in: VertexOut) -> @location(0) vec4<f32> {
    return textureSample(albedo, albedo_sampler, in.uv) * material.tint;
}
`

// countingCompiler wraps a real backend and counts Compile calls.
type countingCompiler struct {
	compiler.Compiler
	calls atomic.Int32
}

func (c *countingCompiler) Compile(ctx context.Context, src shader.StageSource) (*compiler.CompiledStage, error) {
	c.calls.Add(1)
	return c.Compiler.Compile(ctx, src)
}

func newNagaCache(t *testing.T, options ...CacheBuilderOption) (Cache, *countingCompiler) {
	t.Helper()
	cc := &countingCompiler{Compiler: compiler.NewNagaCompiler()}
	tc, err := compiler.NewToolchain(cc, compiler.WithWorkers(2))
	if err != nil {
		t.Fatalf("NewToolchain: %v", err)
	}
	t.Cleanup(tc.Close)
	return NewCache(NewBuilder(tc), options...), cc
}

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func mustGet(t *testing.T, c Cache, doc *shader.Document) *Entry {
	t.Helper()
	e, err := c.GetOrCompile(context.Background(), doc)
	if err != nil {
		t.Fatalf("GetOrCompile(%s): %v", doc.Path(), err)
	}
	return e
}

func TestGetOrCompileBuildsLayout(t *testing.T) {
	c, cc := newNagaCache(t)
	e := mustGet(t, c, shader.NewDocument("textured.wgsl", epoch, texturedDocument))
	defer e.Release()

	if got := cc.calls.Load(); got != 2 {
		t.Fatalf("compiler calls = %d, want 2", got)
	}
	if len(e.Stages()) != 2 {
		t.Fatalf("stages = %d, want 2", len(e.Stages()))
	}
	if vs, ok := e.Stage(shader.StageVertex); !ok || vs.EntryPoint != "vs_main" {
		t.Fatalf("vertex stage = %+v", vs)
	}
	if _, ok := e.Layout().Lookup(1, 1); !ok {
		t.Fatal("layout is missing set 1 binding 1")
	}
	if len(e.VertexAttributes()) != 2 {
		t.Fatalf("vertex attributes = %+v", e.VertexAttributes())
	}
	if e.Refs() != 1 {
		t.Fatalf("refs = %d, want 1", e.Refs())
	}
}

func TestGetOrCompileFastPath(t *testing.T) {
	c, cc := newNagaCache(t)
	doc := shader.NewDocument("textured.wgsl", epoch, texturedDocument)
	first := mustGet(t, c, doc)
	second := mustGet(t, c, doc)
	defer first.Release()
	defer second.Release()

	if first != second {
		t.Fatal("same document returned different entries")
	}
	if got := cc.calls.Load(); got != 2 {
		t.Fatalf("compiler calls = %d, want 2", got)
	}
	if s := c.Stats(); s.FastPathHits != 1 || s.Builds != 1 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestTouchDoesNotRecompile(t *testing.T) {
	c, cc := newNagaCache(t)
	first := mustGet(t, c, shader.NewDocument("textured.wgsl", epoch, texturedDocument))
	defer first.Release()

	touched := epoch.Add(time.Minute)
	second := mustGet(t, c, shader.NewDocument("textured.wgsl", touched, texturedDocument))
	defer second.Release()

	if first != second {
		t.Fatal("touching the timestamp produced a new entry")
	}
	if got := cc.calls.Load(); got != 2 {
		t.Fatalf("compiler calls = %d, want 2", got)
	}
	st, ok := c.Status("textured.wgsl")
	if !ok || !st.ModTime.Equal(touched) {
		t.Fatalf("status = %+v, want mod time %v", st, touched)
	}
	if s := c.Stats(); s.HashHits != 1 {
		t.Fatalf("hash hits = %d, want 1", s.HashHits)
	}

	// The recorded timestamp moved, so the next lookup takes the fast path.
	third := mustGet(t, c, shader.NewDocument("textured.wgsl", touched, texturedDocument))
	defer third.Release()
	if s := c.Stats(); s.FastPathHits != 1 {
		t.Fatalf("fast path hits = %d, want 1", s.FastPathHits)
	}
}

func TestGetOrCompileDeterministic(t *testing.T) {
	a, _ := newNagaCache(t)
	b, _ := newNagaCache(t)
	ea := mustGet(t, a, shader.NewDocument("a.wgsl", epoch, texturedDocument))
	eb := mustGet(t, b, shader.NewDocument("b.wgsl", epoch.Add(time.Hour), texturedDocument))
	defer ea.Release()
	defer eb.Release()

	if ea.Key() != eb.Key() {
		t.Fatalf("keys differ: %s vs %s", ea.Key(), eb.Key())
	}
	for i := range ea.Stages() {
		if !bytes.Equal(ea.Stages()[i].Bytecode, eb.Stages()[i].Bytecode) {
			t.Fatalf("stage %s bytecode differs between builds", ea.Stages()[i].Kind)
		}
	}
}

func TestSharedContentAcrossPaths(t *testing.T) {
	c, cc := newNagaCache(t)
	a := mustGet(t, c, shader.NewDocument("a.wgsl", epoch, texturedDocument))
	b := mustGet(t, c, shader.NewDocument("b.wgsl", epoch, texturedDocument))
	defer a.Release()
	defer b.Release()

	if a != b {
		t.Fatal("identical content under two paths built two entries")
	}
	if got := cc.calls.Load(); got != 2 {
		t.Fatalf("compiler calls = %d, want 2", got)
	}
	if got := c.Paths(); len(got) != 2 || got[0] != "a.wgsl" || got[1] != "b.wgsl" {
		t.Fatalf("paths = %v", got)
	}
}

func TestDuplicateStageFailsBeforeCompiling(t *testing.T) {
	c, cc := newNagaCache(t)
	src := texturedDocument + "#[VERTEX]\n@vertex fn other() -> @builtin(position) vec4<f32> { return vec4<f32>(); }\n"

	_, err := c.GetOrCompile(context.Background(), shader.NewDocument("dup.wgsl", epoch, src))
	var buildErr *BuildError
	if !errors.As(err, &buildErr) {
		t.Fatalf("err = %v, want *BuildError", err)
	}
	if !errors.Is(err, shader.ErrDuplicateSection) {
		t.Fatalf("err = %v, want a duplicate section error", err)
	}
	if got := cc.calls.Load(); got != 0 {
		t.Fatalf("compiler calls = %d, want 0", got)
	}
	if _, ok := c.Current("dup.wgsl"); ok {
		t.Fatal("failed document has a current entry")
	}
	if c.Diagnostics("dup.wgsl") == nil {
		t.Fatal("failed document has no diagnostic")
	}
}

func TestFailedReloadKeepsLastGoodEntry(t *testing.T) {
	c, _ := newNagaCache(t)
	good := mustGet(t, c, shader.NewDocument("textured.wgsl", epoch, texturedDocument))
	defer good.Release()

	broken := strings.Replace(texturedDocument, "material.tint", "material.missing", 1)
	_, err := c.GetOrCompile(context.Background(), shader.NewDocument("textured.wgsl", epoch.Add(time.Second), broken))
	var compileErr *compiler.CompileError
	if !errors.As(err, &compileErr) {
		t.Fatalf("err = %v, want a *compiler.CompileError", err)
	}
	if compileErr.Stage != shader.StageFragment {
		t.Fatalf("failed stage = %s, want fragment", compileErr.Stage)
	}

	cur, ok := c.Current("textured.wgsl")
	if !ok {
		t.Fatal("previous entry was dropped")
	}
	defer cur.Release()
	if cur != good {
		t.Fatal("current entry changed after a failed rebuild")
	}
	st, _ := c.Status("textured.wgsl")
	if !st.ModTime.Equal(epoch) {
		t.Fatalf("recorded mod time = %v, want %v", st.ModTime, epoch)
	}
	if !errors.As(c.Diagnostics("textured.wgsl"), &compileErr) {
		t.Fatalf("diagnostics = %v", c.Diagnostics("textured.wgsl"))
	}

	fixed := strings.Replace(texturedDocument, "material.tint", "material.tint * 0.5", 1)
	next := mustGet(t, c, shader.NewDocument("textured.wgsl", epoch.Add(2*time.Second), fixed))
	defer next.Release()
	if next == good {
		t.Fatal("fixed document did not publish a new entry")
	}
	if c.Diagnostics("textured.wgsl") != nil {
		t.Fatalf("diagnostics after fix = %v", c.Diagnostics("textured.wgsl"))
	}
}

func TestDeterministicFailureIsMemoised(t *testing.T) {
	c, cc := newNagaCache(t)
	broken := strings.Replace(texturedDocument, "material.tint", "material.missing", 1)

	for i := range 3 {
		doc := shader.NewDocument("broken.wgsl", epoch.Add(time.Duration(i)*time.Second), broken)
		if _, err := c.GetOrCompile(context.Background(), doc); err == nil {
			t.Fatalf("attempt %d succeeded", i)
		}
	}
	if got := cc.calls.Load(); got != 2 {
		t.Fatalf("compiler calls = %d, want 2 (one build)", got)
	}
	if s := c.Stats(); s.Builds != 1 || s.Failures != 1 {
		t.Fatalf("stats = %+v", s)
	}

	// Evict clears memoised failures so a new compiler state gets another chance.
	c.Evict()
	doc := shader.NewDocument("broken.wgsl", epoch.Add(time.Hour), broken)
	if _, err := c.GetOrCompile(context.Background(), doc); err == nil {
		t.Fatal("broken document compiled")
	}
	if got := cc.calls.Load(); got != 4 {
		t.Fatalf("compiler calls after Evict = %d, want 4", got)
	}
}

// scriptedBuilder returns queued errors before building a stage-less entry.
type scriptedBuilder struct {
	mu     sync.Mutex
	errs   []error
	builds atomic.Int32
	gate   chan struct{}
}

func (b *scriptedBuilder) Version() string { return "scripted/1" }

func (b *scriptedBuilder) Build(_ context.Context, doc *shader.Document) (*Entry, error) {
	b.builds.Add(1)
	if b.gate != nil {
		<-b.gate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.errs) > 0 {
		err := b.errs[0]
		b.errs = b.errs[1:]
		return nil, err
	}
	key := Key{Hash: doc.Hash(), CompilerVersion: b.Version()}
	return NewEntry(key, doc.Path(), nil, &layout.PipelineLayout{}, time.Now()), nil
}

func TestTransientFailureIsRetried(t *testing.T) {
	b := &scriptedBuilder{errs: []error{errors.New("glslc: signal: killed")}}
	c := NewCache(b)
	doc := shader.NewDocument("a.glsl", epoch, "#[COMPUTE]\nvoid main() {}\n")

	if _, err := c.GetOrCompile(context.Background(), doc); err == nil {
		t.Fatal("first attempt succeeded")
	}
	e := mustGet(t, c, doc)
	defer e.Release()
	if got := b.builds.Load(); got != 2 {
		t.Fatalf("builds = %d, want 2", got)
	}
}

func TestCancelledContextLeavesStateAlone(t *testing.T) {
	b := &scriptedBuilder{}
	c := NewCache(b)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.GetOrCompile(ctx, shader.NewDocument("a.glsl", epoch, "#[COMPUTE]\n"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if b.builds.Load() != 0 {
		t.Fatal("cancelled lookup started a build")
	}
	if c.Diagnostics("a.glsl") != nil {
		t.Fatal("cancelled lookup recorded a diagnostic")
	}
}

func TestConcurrentLookupsShareOneBuild(t *testing.T) {
	b := &scriptedBuilder{gate: make(chan struct{})}
	c := NewCache(b)
	const callers = 8

	var wg sync.WaitGroup
	entries := make([]*Entry, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			doc := shader.NewDocument("shared.glsl", epoch.Add(time.Duration(i)), "#[COMPUTE]\nvoid main() {}\n")
			entries[i], errs[i] = c.GetOrCompile(context.Background(), doc)
		}()
	}
	// Let the first build start, then release it.
	for b.builds.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	close(b.gate)
	wg.Wait()

	for i := range callers {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if entries[i] != entries[0] {
			t.Fatalf("caller %d got a different entry", i)
		}
		entries[i].Release()
	}
	if got := b.builds.Load(); got != 1 {
		t.Fatalf("builds = %d, want 1", got)
	}
}

func TestEvict(t *testing.T) {
	c := NewCache(&scriptedBuilder{})
	v1 := mustGet(t, c, shader.NewDocument("a.glsl", epoch, "#[COMPUTE]\n// v1\n"))
	v2 := mustGet(t, c, shader.NewDocument("a.glsl", epoch.Add(time.Second), "#[COMPUTE]\n// v2\n"))

	if n := c.Evict(); n != 0 {
		t.Fatalf("evicted %d entries while both are held", n)
	}
	v1.Release()
	if n := c.Evict(); n != 1 {
		t.Fatalf("evicted %d, want the superseded entry", n)
	}
	v2.Release()
	if n := c.Evict(); n != 0 {
		t.Fatalf("evicted %d, the current entry must stay", n)
	}
	c.Forget("a.glsl")
	if n := c.Evict(); n != 1 {
		t.Fatalf("evicted %d after Forget, want 1", n)
	}
	if c.Len() != 0 {
		t.Fatalf("len = %d, want 0", c.Len())
	}
	if s := c.Stats(); s.Evictions != 2 {
		t.Fatalf("evictions = %d, want 2", s.Evictions)
	}
}

// evictingStore runs an eviction every time an artifact is saved, between the build
// being stored in memory and the entry reaching its caller.
type evictingStore struct {
	evict func() int
}

func (s *evictingStore) Load(Key) (*Entry, error) { return nil, ErrNotFound }
func (s *evictingStore) Save(*Entry) error {
	s.evict()
	return nil
}

func TestEvictDuringBuildKeepsOneEntryPerKey(t *testing.T) {
	store := &evictingStore{}
	c := NewCache(&scriptedBuilder{}, WithStore(store))
	store.evict = c.Evict
	const source = "#[COMPUTE]\nvoid main() {}\n"

	a := mustGet(t, c, shader.NewDocument("a.glsl", epoch, source))
	defer a.Release()
	if c.Len() != 1 {
		t.Fatalf("len = %d, the published entry was lost to eviction", c.Len())
	}
	if a.Refs() != 1 {
		t.Fatalf("refs = %d, want 1", a.Refs())
	}

	b := mustGet(t, c, shader.NewDocument("b.glsl", epoch, source))
	defer b.Release()
	if b != a {
		t.Fatal("same content produced a second entry")
	}
}

func TestReleaseUnderflowPanics(t *testing.T) {
	e := NewEntry(Key{}, "a", nil, &layout.PipelineLayout{}, epoch)
	defer func() {
		if recover() == nil {
			t.Fatal("Release without Retain did not panic")
		}
	}()
	e.Release()
}

func TestDeterministic(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"parse", shader.ErrEmptyShader, true},
		{"compile", &compiler.CompileError{Stage: shader.StageVertex, Message: "x"}, true},
		{"conflict", &layout.BindingConflictError{Set: 1, Binding: 3}, true},
		{"cancelled", context.Canceled, false},
		{"exec", errors.New("exec: glslc not found"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := deterministic(tt.err); got != tt.want {
				t.Fatalf("deterministic(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
