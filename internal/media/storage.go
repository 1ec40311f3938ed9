package media

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Storage persists fetched payloads and returns a reference to them.
// write streams the payload into the storage; its error is returned unchanged.
type Storage interface {
	Save(name, fileName string, write func(io.Writer) error) (string, error)
}

// FileStorage writes payloads under a directory as <name><ext>, the
// extension detected from the content.
type FileStorage struct {
	dir string
}

// NewFileStorage creates a storage rooted at dir. The directory is created on first save.
func NewFileStorage(dir string) *FileStorage {
	return &FileStorage{dir: dir}
}

// Dir returns the storage root.
func (s *FileStorage) Dir() string {
	return s.dir
}

// Save streams the payload into a temp file in the storage directory, sniffs
// its head for the type and renames it into place. fileName is the original
// name, used for the extension when detection finds nothing specific.
func (s *FileStorage) Save(name, fileName string, write func(io.Writer) error) (string, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-"+sanitize(name)+"-*")
	if err != nil {
		return "", fmt.Errorf("create media file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after the rename

	if err := write(tmp); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close media file: %w", err)
	}

	mt, err := mimetype.DetectFile(tmpPath)
	if err != nil {
		return "", fmt.Errorf("detect media type: %w", err)
	}

	path := filepath.Join(s.dir, sanitize(name)+extension(mt, fileName))
	if err := os.Rename(tmpPath, path); err != nil {
		return "", fmt.Errorf("rename media file: %w", err)
	}
	return path, nil
}

// extension prefers the detected type; octet-stream and text fall back to the original name.
func extension(mt *mimetype.MIME, fileName string) string {
	if ext := mt.Extension(); ext != "" && !mt.Is("application/octet-stream") && !mt.Is("text/plain") {
		return ext
	}
	if ext := filepath.Ext(fileName); ext != "" {
		return strings.ToLower(ext)
	}
	if ext := mt.Extension(); ext != "" {
		return ext
	}
	return ".bin"
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
}
