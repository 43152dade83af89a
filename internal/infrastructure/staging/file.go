package staging

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"PartsScanner/internal/domain"
	"PartsScanner/internal/ports"
)

// FileStaging keeps one JSON document per category under a directory.
type FileStaging struct {
	dir string
}

var _ ports.SpecStaging = (*FileStaging)(nil)

// NewFileStaging stores files under dir.
func NewFileStaging(dir string) *FileStaging {
	return &FileStaging{dir: dir}
}

// Path returns the staging file of category.
func (s *FileStaging) Path(category domain.Category) string {
	return filepath.Join(s.dir, category.Lower()+"_specs.json")
}

// Load reads the staged elements; ok is false when nothing is staged yet.
func (s *FileStaging) Load(category domain.Category) ([]domain.SpecElement, bool, error) {
	raw, err := os.ReadFile(s.Path(category))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read staging: %w", err)
	}

	var elements []domain.SpecElement
	if err := json.Unmarshal(raw, &elements); err != nil {
		return nil, false, fmt.Errorf("decode staging %s: %w", s.Path(category), err)
	}
	return elements, true, nil
}

// Save replaces the staged elements through a temporary file and a rename.
func (s *FileStaging) Save(category domain.Category, elements []domain.SpecElement) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}

	raw, err := json.MarshalIndent(elements, "", "  ")
	if err != nil {
		return fmt.Errorf("encode staging: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, category.Lower()+"_specs_*.tmp")
	if err != nil {
		return fmt.Errorf("create staging temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write staging: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close staging: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path(category)); err != nil {
		return fmt.Errorf("replace staging: %w", err)
	}
	return nil
}
