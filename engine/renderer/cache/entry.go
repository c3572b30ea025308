package cache

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/layout"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader/compiler"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader/reflection"
	"github.com/zeebo/xxh3"
)

// Key addresses an Entry: the document content hash and the compiler version tag.
type Key struct {
	Hash            shader.ContentHash
	CompilerVersion string
}

func (k Key) String() string {
	return fmt.Sprintf("%s-%016x", k.Hash, xxh3.HashString(k.CompilerVersion))
}

// Stage is one compiled stage of an Entry.
type Stage struct {
	Kind       shader.StageKind      `json:"kind"`
	Bytecode   []byte                `json:"bytecode"`
	Warnings   []compiler.Diagnostic `json:"warnings,omitempty"`
	EntryPoint string                `json:"entry_point"`
	SourceHash shader.ContentHash    `json:"source_hash"`
}

// Entry is the immutable result of building one document: compiled stages and the
// merged layout. Holders call Retain while they render with it and Release when done;
// an entry with no references that is not current for any path can be evicted.
type Entry struct {
	key       Key
	path      string
	stages    []Stage
	layout    *layout.PipelineLayout
	createdAt time.Time
	refs      atomic.Int64
}

// NewEntry creates an entry with no references. Builders and stores use it; the stages
// and layout must not be modified afterwards.
//
// Parameters:
//   - key: the cache key
//   - path: the document path the entry was built from
//   - stages: the compiled stages in document order
//   - l: the merged layout
//   - createdAt: when the entry was built
//
// Returns:
//   - *Entry: the entry
func NewEntry(key Key, path string, stages []Stage, l *layout.PipelineLayout, createdAt time.Time) *Entry {
	return &Entry{key: key, path: path, stages: stages, layout: l, createdAt: createdAt}
}

// Key returns the cache key of the entry.
func (e *Entry) Key() Key {
	return e.key
}

// Path returns the path of the document the entry was first built from.
func (e *Entry) Path() string {
	return e.path
}

// CompilerVersion returns the version tag of the compiler that built the entry.
func (e *Entry) CompilerVersion() string {
	return e.key.CompilerVersion
}

// CreatedAt returns when the entry was built.
func (e *Entry) CreatedAt() time.Time {
	return e.createdAt
}

// Stages returns the compiled stages in document order. The slice must not be modified.
func (e *Entry) Stages() []Stage {
	return e.stages
}

// Stage returns the compiled stage of a kind.
//
// Parameters:
//   - kind: the stage kind
//
// Returns:
//   - Stage: the compiled stage
//   - bool: false if the document has no such stage
func (e *Entry) Stage(kind shader.StageKind) (Stage, bool) {
	for _, s := range e.stages {
		if s.Kind == kind {
			return s, true
		}
	}
	return Stage{}, false
}

// Layout returns the merged pipeline layout. It must not be modified.
func (e *Entry) Layout() *layout.PipelineLayout {
	return e.layout
}

// VertexAttributes returns the vertex attributes of the layout.
func (e *Entry) VertexAttributes() []reflection.Attribute {
	return e.layout.VertexAttributes
}

// Retain adds a reference and returns the entry for chaining.
//
// Returns:
//   - *Entry: e
func (e *Entry) Retain() *Entry {
	e.refs.Add(1)
	return e
}

// Release drops a reference taken with Retain or returned by the cache.
// Releasing more often than retaining is a programming error and panics.
func (e *Entry) Release() {
	if e.refs.Add(-1) < 0 {
		panic(fmt.Sprintf("cache: entry %s released more often than retained", e.key))
	}
}

// Refs returns the current reference count.
func (e *Entry) Refs() int64 {
	return e.refs.Load()
}
