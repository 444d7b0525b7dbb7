// Package uploads stores images submitted for grading.
package uploads

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"

	"github.com/Brownie44l1/dr-api/internal/preprocess"
	"github.com/google/uuid"
)

var ErrUnsupportedImage = preprocess.ErrUnsupportedImage

var extensions = map[string]string{
	"jpeg": ".jpg",
	"png":  ".png",
	"bmp":  ".bmp",
	"tiff": ".tif",
	"webp": ".webp",
}

type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// Save decodes r and writes the original bytes under a generated key.
// The key's extension follows the decoded format; nothing from the
// client's filename is used.
func (s *Store) Save(r io.Reader) (string, image.Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read upload: %w", err)
	}

	img, format, err := preprocess.Decode(bytes.NewReader(data))
	if err != nil {
		return "", nil, err
	}
	ext, ok := extensions[format]
	if !ok {
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedImage, format)
	}

	key := uuid.NewString() + ext
	path := filepath.Join(s.dir, key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", nil, fmt.Errorf("failed to write upload: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", nil, fmt.Errorf("failed to store upload: %w", err)
	}
	return key, img, nil
}
