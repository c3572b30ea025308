package loader

import (
	"fmt"
	"os"
	"time"
)

// SourceBackend is where shader documents are read from. Implementations must be safe
// for concurrent use.
type SourceBackend interface {
	// Stat returns the modification time of a document.
	//
	// Parameters:
	//   - path: the document path
	//
	// Returns:
	//   - time.Time: the modification time
	//   - error: error if the document cannot be found
	Stat(path string) (time.Time, error)

	// Read returns the document text.
	//
	// Parameters:
	//   - path: the document path
	//
	// Returns:
	//   - string: the document text
	//   - error: error if the document cannot be read
	Read(path string) (string, error)
}

// osSourceBackend reads documents from the local file system.
type osSourceBackend struct{}

var _ SourceBackend = osSourceBackend{}

// NewOSSourceBackend returns the SourceBackend backed by the local file system.
//
// Returns:
//   - SourceBackend: the backend
func NewOSSourceBackend() SourceBackend {
	return osSourceBackend{}
}

func (osSourceBackend) Stat(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	if info.IsDir() {
		return time.Time{}, fmt.Errorf("%s is a directory", path)
	}
	return info.ModTime(), nil
}

func (osSourceBackend) Read(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
