package payload

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// writeBody is replaced in tests to simulate a failed write
var writeBody = (*os.File).Write

// Store materializes payloads as <dir>/<id>.json so a later run can read
// them back through OpenDir.
type Store struct {
	dir string
}

// NewStore creates dir if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create payload dir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Save writes p and returns the file path. Existing files are not overwritten.
// A file that could not be written completely is removed.
func (s *Store) Save(p Payload) (string, error) {
	if p.ID == "" || strings.ContainsAny(p.ID, `/\`) {
		return "", fmt.Errorf("save payload: invalid id %q", p.ID)
	}
	path := filepath.Join(s.dir, p.ID+".json")

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("save payload %s: %w", path, err)
	}
	if _, err := writeBody(f, p.Body); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("save payload %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("save payload %s: %w", path, err)
	}
	return path, nil
}
