package shader

import (
	"encoding/hex"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/zeebo/xxh3"
)

// ContentHash is the 128-bit xxh3 digest of a document or composed stage text.
type ContentHash [16]byte

// HashText computes the ContentHash of s.
//
// Parameters:
//   - s: the text to hash
//
// Returns:
//   - ContentHash: the xxh3-128 digest of s
func HashText(s string) ContentHash {
	return ContentHash(xxh3.HashString128(s).Bytes())
}

func (h ContentHash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero hash.
func (h ContentHash) IsZero() bool {
	return h == ContentHash{}
}

// ParseContentHash decodes the hex form produced by ContentHash.String.
//
// Parameters:
//   - s: 32 hex characters
//
// Returns:
//   - ContentHash: the decoded hash
//   - error: if s is not a valid hash
func ParseContentHash(s string) (ContentHash, error) {
	var h ContentHash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid content hash %q: %w", s, err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("invalid content hash %q: want %d bytes, got %d", s, len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}

func (h ContentHash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *ContentHash) UnmarshalText(b []byte) error {
	v, err := ParseContentHash(string(b))
	if err != nil {
		return err
	}
	*h = v
	return nil
}

// Document is one shader source file as read at a point in time. It is immutable: a
// reload produces a new Document instead of editing this one. The content hash is only
// computed when first asked for, so documents that hit the cache's timestamp fast path
// are never hashed.
type Document struct {
	path    string
	modTime time.Time
	source  string

	hashOnce sync.Once
	hash     ContentHash
}

// NewDocument creates a Document from already-read source text.
//
// Parameters:
//   - path: the identity of the document, usually its file path
//   - modTime: the last-modified timestamp of the source
//   - source: the raw document text
//
// Returns:
//   - *Document: the new document
func NewDocument(path string, modTime time.Time, source string) *Document {
	return &Document{
		path:    path,
		modTime: modTime,
		source:  source,
	}
}

// ReadDocument stats and reads a document from the file system.
//
// Parameters:
//   - path: the file to read
//
// Returns:
//   - *Document: the document
//   - error: if the file cannot be read
func ReadDocument(path string) (*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("shader: failed to stat %q: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("shader: failed to read %q: %w", path, err)
	}
	return NewDocument(path, info.ModTime(), string(data)), nil
}

// Path returns the document identity.
func (d *Document) Path() string {
	return d.path
}

// ModTime returns the last-modified timestamp the document was read with.
func (d *Document) ModTime() time.Time {
	return d.modTime
}

// Source returns the raw document text.
func (d *Document) Source() string {
	return d.source
}

// Hash returns the content hash of the raw text, computing it on first use.
//
// Returns:
//   - ContentHash: the xxh3-128 digest of Source()
func (d *Document) Hash() ContentHash {
	d.hashOnce.Do(func() {
		d.hash = HashText(d.source)
	})
	return d.hash
}

// Parse splits the document into its sections.
//
// Returns:
//   - *ParsedDocument: the shared block and the stage sources
//   - error: a *ParseError if the document is malformed
func (d *Document) Parse() (*ParsedDocument, error) {
	return ParseSections(d.source)
}
