package cache

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader"
	"github.com/goccy/go-json"
)

func newDiskStore(t *testing.T, dir string) *DiskStore {
	t.Helper()
	s, err := NewDiskStore(dir)
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDiskStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	doc := shader.NewDocument("textured.wgsl", epoch, texturedDocument)

	first, _ := newNagaCache(t, WithStore(newDiskStore(t, dir)))
	built := mustGet(t, first, doc)
	defer built.Release()
	if _, err := os.Stat(filepath.Join(dir, FileName(built.Key()))); err != nil {
		t.Fatalf("artifact was not written: %v", err)
	}

	// A fresh process with the same store loads the artifact instead of compiling.
	second, cc := newNagaCache(t, WithStore(newDiskStore(t, dir)))
	loaded := mustGet(t, second, doc)
	defer loaded.Release()

	if got := cc.calls.Load(); got != 0 {
		t.Fatalf("compiler calls = %d, want 0", got)
	}
	if s := second.Stats(); s.DiskHits != 1 || s.Builds != 0 {
		t.Fatalf("stats = %+v", s)
	}
	if loaded.Key() != built.Key() || loaded.Path() != built.Path() || !loaded.CreatedAt().Equal(built.CreatedAt()) {
		t.Fatalf("loaded entry identity differs: %s %s", loaded.Key(), loaded.Path())
	}
	if len(loaded.Stages()) != len(built.Stages()) {
		t.Fatalf("loaded %d stages, want %d", len(loaded.Stages()), len(built.Stages()))
	}
	for i, st := range built.Stages() {
		got := loaded.Stages()[i]
		if got.Kind != st.Kind || got.EntryPoint != st.EntryPoint || got.SourceHash != st.SourceHash {
			t.Fatalf("stage %d = %+v, want %+v", i, got, st)
		}
		if !bytes.Equal(got.Bytecode, st.Bytecode) {
			t.Fatalf("stage %s bytecode differs after reload", st.Kind)
		}
	}

	want, _ := json.Marshal(built.Layout())
	got, _ := json.Marshal(loaded.Layout())
	if !bytes.Equal(got, want) {
		t.Fatalf("layout after reload:\n%s\nwant:\n%s", got, want)
	}
}

func TestDiskStoreMissing(t *testing.T) {
	s := newDiskStore(t, t.TempDir())
	_, err := s.Load(Key{Hash: shader.HashText("nothing"), CompilerVersion: "naga/1"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDiskStoreCorruptArtifactIsRebuilt(t *testing.T) {
	dir := t.TempDir()
	store := newDiskStore(t, dir)
	c, cc := newNagaCache(t, WithStore(store))
	doc := shader.NewDocument("textured.wgsl", epoch, texturedDocument)

	key := Key{Hash: doc.Hash(), CompilerVersion: c.Version()}
	path := filepath.Join(dir, FileName(key))
	if err := os.WriteFile(path, []byte("not zstd"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Load(key); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("Load of a corrupt artifact = %v, want a decode error", err)
	}

	e := mustGet(t, c, doc)
	defer e.Release()
	if got := cc.calls.Load(); got != 2 {
		t.Fatalf("compiler calls = %d, want a rebuild", got)
	}
	if _, err := store.Load(key); err != nil {
		t.Fatalf("corrupt artifact was not replaced: %v", err)
	}
}

func TestDiskStoreRejectsMismatchedKey(t *testing.T) {
	dir := t.TempDir()
	store := newDiskStore(t, dir)
	c, _ := newNagaCache(t, WithStore(store))
	e := mustGet(t, c, shader.NewDocument("textured.wgsl", epoch, texturedDocument))
	defer e.Release()

	other := Key{Hash: shader.HashText("other"), CompilerVersion: e.CompilerVersion()}
	if err := os.Rename(filepath.Join(dir, FileName(e.Key())), filepath.Join(dir, FileName(other))); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Load(other); err == nil {
		t.Fatal("artifact stored under the wrong key was accepted")
	}
}

func TestDiskStorePrune(t *testing.T) {
	dir := t.TempDir()
	store := newDiskStore(t, dir)
	c, _ := newNagaCache(t, WithStore(store))
	e := mustGet(t, c, shader.NewDocument("textured.wgsl", epoch, texturedDocument))
	defer e.Release()

	stale := Key{Hash: e.Key().Hash, CompilerVersion: "naga/0.0.1"}
	if err := os.WriteFile(filepath.Join(dir, FileName(stale)), []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	n, err := store.Prune(c.Version())
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned %d files, want 1", n)
	}
	if _, err := store.Load(e.Key()); err != nil {
		t.Fatalf("current artifact was pruned: %v", err)
	}
}
