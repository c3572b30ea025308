package loader_test

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-shader/engine/loader"
	"github.com/Carmen-Shannon/oxy-shader/engine/profiler"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/cache"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader/compiler"
)

const tintedDocument = `#[UNIFORMS]
struct Material {
    tint: vec4<f32>,
};
@group(0) @binding(0) var<uniform> material: Material;
#[VERTEX]
@vertex
fn vs_main(@location(0) position: vec3<f32>) -> @builtin(position) vec4<f32> {
    return vec4<f32>(position, 1.0);
}
#[FRAGMENT]
@fragment
fn fs_main() -> @location(0) vec4<f32> {
    return material.tint;
}
`

// memoryBackend is an in-memory SourceBackend whose documents tests edit.
type memoryBackend struct {
	mu   sync.Mutex
	docs map[string]memoryDoc
}

type memoryDoc struct {
	modTime time.Time
	source  string
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{docs: make(map[string]memoryDoc)}
}

func (b *memoryBackend) write(path, source string, modTime time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.docs[path] = memoryDoc{modTime: modTime, source: source}
}

func (b *memoryBackend) remove(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.docs, path)
}

func (b *memoryBackend) Stat(path string) (time.Time, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.docs[path]
	if !ok {
		return time.Time{}, fs.ErrNotExist
	}
	return d.modTime, nil
}

func (b *memoryBackend) Read(path string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.docs[path]
	if !ok {
		return "", fs.ErrNotExist
	}
	return d.source, nil
}

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newLoader(t *testing.T, options ...loader.LoaderBuilderOption) (loader.Loader, *memoryBackend) {
	t.Helper()
	tc, err := compiler.NewToolchain(compiler.NewNagaCompiler(), compiler.WithWorkers(2))
	if err != nil {
		t.Fatalf("NewToolchain: %v", err)
	}
	t.Cleanup(tc.Close)
	b := newMemoryBackend()
	options = append([]loader.LoaderBuilderOption{loader.WithSourceBackend(b)}, options...)
	return loader.NewLoader(cache.NewCache(cache.NewBuilder(tc)), options...), b
}

// recorder collects subscriber calls.
type recorder struct {
	mu      sync.Mutex
	reloads []cache.Key
	errs    []error
}

func (r *recorder) subscribe(l loader.Loader) {
	l.OnReload(func(_ string, e *cache.Entry) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.reloads = append(r.reloads, e.Key())
	})
	l.OnError(func(_ string, err error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.errs = append(r.errs, err)
	})
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reloads), len(r.errs)
}

func TestPollReloadsOnEdit(t *testing.T) {
	l, b := newLoader(t, loader.WithProfiler(profiler.NewProfiler()))
	var rec recorder
	rec.subscribe(l)
	b.write("tint.wgsl", tintedDocument, epoch)
	l.Watch("tint.wgsl", "tint.wgsl")

	if got := l.Poll(context.Background()); got != 1 {
		t.Fatalf("first Poll reloaded %d documents, want 1", got)
	}
	if got := l.Poll(context.Background()); got != 0 {
		t.Fatalf("unchanged Poll reloaded %d documents", got)
	}

	edited := strings.Replace(tintedDocument, "return material.tint;", "return material.tint * 0.5;", 1)
	b.write("tint.wgsl", edited, epoch.Add(time.Second))
	if got := l.Poll(context.Background()); got != 1 {
		t.Fatalf("Poll after edit reloaded %d documents, want 1", got)
	}

	reloads, errs := rec.counts()
	if reloads != 2 || errs != 0 {
		t.Fatalf("reloads %d errors %d, want 2 and 0", reloads, errs)
	}
	if rec.reloads[0] == rec.reloads[1] {
		t.Fatal("edit published the same key")
	}
	if got := l.Watched(); len(got) != 1 || got[0] != "tint.wgsl" {
		t.Fatalf("Watched() = %v", got)
	}
}

func TestPollTouchDoesNotReload(t *testing.T) {
	l, b := newLoader(t, loader.WithWatch("tint.wgsl"))
	var rec recorder
	rec.subscribe(l)
	b.write("tint.wgsl", tintedDocument, epoch)
	l.Poll(context.Background())

	b.write("tint.wgsl", tintedDocument, epoch.Add(time.Minute))
	if got := l.Poll(context.Background()); got != 0 {
		t.Fatalf("touch reloaded %d documents", got)
	}
	if reloads, _ := rec.counts(); reloads != 1 {
		t.Fatalf("reloads = %d, want 1", reloads)
	}
	st, _ := l.Cache().Status("tint.wgsl")
	if !st.ModTime.Equal(epoch.Add(time.Minute)) {
		t.Fatalf("cache modTime = %v, want the touched time", st.ModTime)
	}
}

func TestPollKeepsLastGoodEntry(t *testing.T) {
	l, b := newLoader(t, loader.WithWatch("tint.wgsl"))
	var rec recorder
	rec.subscribe(l)
	b.write("tint.wgsl", tintedDocument, epoch)
	l.Poll(context.Background())
	good, ok := l.Cache().Current("tint.wgsl")
	if !ok {
		t.Fatal("no current entry after the first poll")
	}
	defer good.Release()

	broken := strings.Replace(tintedDocument, "material.tint;", "material.missing;", 1)
	b.write("tint.wgsl", broken, epoch.Add(time.Second))
	l.Poll(context.Background())
	l.Poll(context.Background())

	reloads, errs := rec.counts()
	if reloads != 1 || errs != 1 {
		t.Fatalf("reloads %d errors %d, want 1 and 1 (error reported once)", reloads, errs)
	}
	var be *cache.BuildError
	if !errors.As(rec.errs[0], &be) {
		t.Fatalf("err = %v, want *cache.BuildError", rec.errs[0])
	}
	var ce *compiler.CompileError
	if !errors.As(be.Errors()[0], &ce) {
		t.Fatalf("stage error = %v, want *compiler.CompileError", be.Errors()[0])
	}

	cur, ok := l.Cache().Current("tint.wgsl")
	if !ok || cur != good {
		t.Fatal("failed reload replaced the current entry")
	}
	cur.Release()

	b.write("tint.wgsl", tintedDocument, epoch.Add(2*time.Second))
	l.Poll(context.Background())
	if reloads, _ := rec.counts(); reloads != 1 {
		t.Fatalf("fixing back to the good content reported a reload: %d", reloads)
	}
	if err := l.Cache().Diagnostics("tint.wgsl"); err != nil {
		t.Fatalf("Diagnostics after fix = %v", err)
	}
}

func TestPollReportsVanishedDocumentOnce(t *testing.T) {
	l, b := newLoader(t, loader.WithWatch("tint.wgsl"))
	var rec recorder
	rec.subscribe(l)
	b.write("tint.wgsl", tintedDocument, epoch)
	l.Poll(context.Background())

	b.remove("tint.wgsl")
	l.Poll(context.Background())
	l.Poll(context.Background())
	if _, errs := rec.counts(); errs != 1 {
		t.Fatalf("errors = %d, want 1", errs)
	}
	if !errors.Is(rec.errs[0], fs.ErrNotExist) {
		t.Fatalf("err = %v, want fs.ErrNotExist", rec.errs[0])
	}

	b.write("tint.wgsl", tintedDocument, epoch.Add(time.Hour))
	l.Poll(context.Background())
	if reloads, _ := rec.counts(); reloads != 1 {
		t.Fatalf("restored document with the same content reloaded: %d", reloads)
	}
}

func TestUnwatch(t *testing.T) {
	l, b := newLoader(t, loader.WithWatch("a.wgsl", "b.wgsl"))
	b.write("a.wgsl", tintedDocument, epoch)
	b.write("b.wgsl", tintedDocument, epoch)
	l.Unwatch("b.wgsl")
	if got := l.Poll(context.Background()); got != 1 {
		t.Fatalf("Poll reloaded %d documents, want 1", got)
	}
	if _, ok := l.Cache().Status("b.wgsl"); ok {
		t.Fatal("unwatched document was built")
	}
}

func TestLoad(t *testing.T) {
	l, b := newLoader(t)
	b.write("tint.wgsl", tintedDocument, epoch)

	e, err := l.Load(context.Background(), "tint.wgsl")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer e.Release()
	again, err := l.Load(context.Background(), "tint.wgsl")
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	defer again.Release()
	if again != e {
		t.Fatal("second Load returned a different entry")
	}
	if stats := l.Cache().Stats(); stats.Builds != 1 {
		t.Fatalf("builds = %d, want 1", stats.Builds)
	}

	if _, err := l.Load(context.Background(), "missing.wgsl"); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("Load(missing) = %v, want fs.ErrNotExist", err)
	}
}

func TestStartStop(t *testing.T) {
	l, b := newLoader(t, loader.WithInterval(5*time.Millisecond), loader.WithWatch("tint.wgsl"))
	b.write("tint.wgsl", tintedDocument, epoch)

	reloaded := make(chan cache.Key, 4)
	l.OnReload(func(_ string, e *cache.Entry) {
		reloaded <- e.Key()
	})

	l.Start(context.Background())
	l.Start(context.Background())
	defer l.Stop()

	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not load the watched document")
	}

	edited := strings.Replace(tintedDocument, "return material.tint;", "return material.tint * 2.0;", 1)
	b.write("tint.wgsl", edited, epoch.Add(time.Second))
	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not pick up the edit")
	}

	l.Stop()
	l.Stop()
}

func TestOSSourceBackend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tint.wgsl")
	if err := os.WriteFile(path, []byte(tintedDocument), 0o644); err != nil {
		t.Fatal(err)
	}

	b := loader.NewOSSourceBackend()
	if _, err := b.Stat(path); err != nil {
		t.Fatalf("Stat: %v", err)
	}
	src, err := b.Read(path)
	if err != nil || src != tintedDocument {
		t.Fatalf("Read = %q, %v", src, err)
	}
	if _, err := b.Stat(dir); err == nil {
		t.Fatal("Stat accepted a directory")
	}
	if _, err := b.Stat(filepath.Join(dir, "missing.wgsl")); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("Stat(missing) = %v", err)
	}
}

// gatedBackend holds reads of one path until gate is closed.
type gatedBackend struct {
	*memoryBackend
	path string
	gate chan struct{}
}

func (b *gatedBackend) Read(path string) (string, error) {
	if path == b.path {
		<-b.gate
	}
	return b.memoryBackend.Read(path)
}

func TestPollDoesNotWaitForSlowDocument(t *testing.T) {
	mem := newMemoryBackend()
	gated := &gatedBackend{memoryBackend: mem, path: "a_slow.wgsl", gate: make(chan struct{})}
	l, _ := newLoader(t, loader.WithSourceBackend(gated))
	mem.write("a_slow.wgsl", tintedDocument, epoch)
	mem.write("b_fast.wgsl", strings.Replace(tintedDocument, "tint", "color", -1), epoch)
	l.Watch("a_slow.wgsl", "b_fast.wgsl")

	reloaded := make(chan string, 2)
	l.OnReload(func(path string, _ *cache.Entry) { reloaded <- path })

	done := make(chan int, 1)
	go func() { done <- l.Poll(context.Background()) }()

	select {
	case path := <-reloaded:
		if path != "b_fast.wgsl" {
			t.Fatalf("reloaded %s while a_slow.wgsl was still being read", path)
		}
	case <-time.After(10 * time.Second):
		close(gated.gate)
		t.Fatal("b_fast.wgsl was held back by a_slow.wgsl")
	}

	close(gated.gate)
	if n := <-done; n != 2 {
		t.Fatalf("Poll reloaded %d documents, want 2", n)
	}
}
