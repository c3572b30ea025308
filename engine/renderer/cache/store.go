package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/layout"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader"
	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/xxh3"
)

// artifactFormat is bumped whenever the on-disk layout of an artifact changes.
const artifactFormat = 1

// artifactExt is the file extension of stored artifacts.
const artifactExt = ".oxc"

// Store persists entries across processes.
type Store interface {
	// Load reads the entry stored for key.
	//
	// Parameters:
	//   - key: the cache key
	//
	// Returns:
	//   - *Entry: a new entry with no references
	//   - error: ErrNotFound if nothing is stored, another error if the artifact is unreadable
	Load(key Key) (*Entry, error)

	// Save writes an entry. Saving a key twice replaces the first artifact.
	//
	// Parameters:
	//   - e: the entry
	//
	// Returns:
	//   - error: an error if the artifact could not be written
	Save(e *Entry) error
}

// artifact is the serialized form of an Entry.
type artifact struct {
	Format          int                    `json:"format"`
	Hash            shader.ContentHash     `json:"hash"`
	CompilerVersion string                 `json:"compiler_version"`
	Path            string                 `json:"path"`
	CreatedAt       time.Time              `json:"created_at"`
	Stages          []Stage                `json:"stages"`
	Layout          *layout.PipelineLayout `json:"layout"`
}

// DiskStore keeps one zstd-compressed JSON artifact per key in a directory.
type DiskStore struct {
	dir   string
	level zstd.EncoderLevel

	// EncodeAll and DecodeAll are safe for concurrent use.
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

var _ Store = &DiskStore{}

// DiskStoreOption is a functional option used to configure a DiskStore during construction.
type DiskStoreOption func(*DiskStore)

// WithCompressionLevel sets the zstd level artifacts are written with.
// Defaults to zstd.SpeedDefault.
//
// Parameters:
//   - level: the encoder level
//
// Returns:
//   - DiskStoreOption: a function that sets the level
func WithCompressionLevel(level zstd.EncoderLevel) DiskStoreOption {
	return func(s *DiskStore) {
		s.level = level
	}
}

// NewDiskStore opens a store in dir, creating the directory if needed.
//
// Parameters:
//   - dir: the artifact directory
//   - options: variadic list of DiskStoreOption functions
//
// Returns:
//   - *DiskStore: the store
//   - error: an error if the directory or the codecs could not be created
func NewDiskStore(dir string, options ...DiskStoreOption) (*DiskStore, error) {
	if dir == "" {
		panic("cache: NewDiskStore requires a directory")
	}
	s := &DiskStore{dir: dir, level: zstd.SpeedDefault}
	for _, opt := range options {
		opt(s)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create store directory: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(s.level))
	if err != nil {
		return nil, fmt.Errorf("cache: create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("cache: create zstd decoder: %w", err)
	}
	s.encoder, s.decoder = enc, dec
	return s, nil
}

// Dir returns the artifact directory.
func (s *DiskStore) Dir() string {
	return s.dir
}

// FileName returns the file name an artifact for key is stored under.
//
// Parameters:
//   - key: the cache key
//
// Returns:
//   - string: the file name, without directory
func FileName(key Key) string {
	return key.String() + artifactExt
}

func (s *DiskStore) Load(key Key) (*Entry, error) {
	path := filepath.Join(s.dir, FileName(key))
	compressed, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cache: read artifact: %w", err)
	}

	raw, err := s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("cache: decompress %s: %w", path, err)
	}

	var a artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("cache: decode %s: %w", path, err)
	}
	switch {
	case a.Format != artifactFormat:
		return nil, fmt.Errorf("cache: %s has format %d, want %d", path, a.Format, artifactFormat)
	case a.Hash != key.Hash || a.CompilerVersion != key.CompilerVersion:
		return nil, fmt.Errorf("cache: %s holds %s, not %s", path, Key{a.Hash, a.CompilerVersion}, key)
	case a.Layout == nil || len(a.Stages) == 0:
		return nil, fmt.Errorf("cache: %s is incomplete", path)
	}
	return NewEntry(key, a.Path, a.Stages, a.Layout, a.CreatedAt), nil
}

func (s *DiskStore) Save(e *Entry) error {
	raw, err := json.Marshal(artifact{
		Format:          artifactFormat,
		Hash:            e.key.Hash,
		CompilerVersion: e.key.CompilerVersion,
		Path:            e.path,
		CreatedAt:       e.createdAt,
		Stages:          e.stages,
		Layout:          e.layout,
	})
	if err != nil {
		return fmt.Errorf("cache: encode artifact: %w", err)
	}

	compressed := s.encoder.EncodeAll(raw, nil)

	// Write beside the target and rename so readers never see a partial file.
	tmp, err := os.CreateTemp(s.dir, "artifact-*.tmp")
	if err != nil {
		return fmt.Errorf("cache: create artifact: %w", err)
	}
	if _, err := tmp.Write(compressed); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("cache: write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("cache: write artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, FileName(e.key))); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("cache: commit artifact: %w", err)
	}
	return nil
}

// Prune deletes every artifact built by a compiler version other than version.
//
// Parameters:
//   - version: the compiler version tag to keep
//
// Returns:
//   - int: the number of files removed
//   - error: an error if the directory could not be listed
func (s *DiskStore) Prune(version string) (int, error) {
	suffix := fmt.Sprintf("-%016x%s", xxh3.HashString(version), artifactExt)

	files, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("cache: list store: %w", err)
	}
	removed := 0
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || filepath.Ext(name) != artifactExt || strings.HasSuffix(name, suffix) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err == nil {
			removed++
		}
	}
	return removed, nil
}

// Close releases the codecs. The store must not be used afterwards.
//
// Returns:
//   - error: an error if the encoder failed to close
func (s *DiskStore) Close() error {
	s.decoder.Close()
	return s.encoder.Close()
}
