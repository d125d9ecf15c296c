package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// artStore persists artwork content-addressed by card id, with the file
// extension inferred from the response content type.
type artStore struct {
	dir string
}

func newArtStore(dir string) (*artStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("artwork directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &artStore{dir: dir}, nil
}

// Existing returns the cached file for a card id regardless of extension.
func (s *artStore) Existing(cardID string) (string, bool) {
	matches, err := filepath.Glob(filepath.Join(s.dir, cardID+".*"))
	if err != nil || len(matches) == 0 {
		return "", false
	}
	return matches[0], true
}

// Put writes artwork bytes via a temp file and rename so a concurrent reader
// never observes a partially-written file.
func (s *artStore) Put(cardID string, contentType string, data []byte) (string, error) {
	path := filepath.Join(s.dir, cardID+extensionFor(contentType))

	// Dot-prefixed temp names stay invisible to the Existing glob, so an
	// in-flight or crash-orphaned write is never served as cached artwork.
	tmp, err := os.CreateTemp(s.dir, "."+cardID+".tmp-*")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", err
	}
	return path, nil
}

// extensionFor maps a content type to a file extension, defaulting to .jpg.
func extensionFor(contentType string) string {
	contentType = strings.ToLower(contentType)
	switch {
	case strings.Contains(contentType, "png"):
		return ".png"
	case strings.Contains(contentType, "webp"):
		return ".webp"
	case strings.Contains(contentType, "jpeg"), strings.Contains(contentType, "jpg"):
		return ".jpg"
	default:
		return ".jpg"
	}
}
