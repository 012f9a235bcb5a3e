package payload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// DirSource iterates the regular files of a directory in name order.
// The listing is taken once at open; skip and limit apply to positions in it.
type DirSource struct {
	dir   string
	names []string
	pos   int
}

// OpenDir lists dir and keeps the window [skip, skip+limit). limit 0 means
// everything after skip. A directory that cannot be listed is returned as an
// error and should abort the run.
func OpenDir(dir string, skip, limit int) (*DirSource, error) {
	if skip < 0 || limit < 0 {
		return nil, fmt.Errorf("open payload dir %s: negative skip or limit", dir)
	}
	entries, err := os.ReadDir(dir) // sorted by file name
	if err != nil {
		return nil, fmt.Errorf("open payload dir %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}

	if skip >= len(names) {
		names = nil
	} else {
		names = names[skip:]
	}
	if limit > 0 && limit < len(names) {
		names = names[:limit]
	}

	return &DirSource{dir: dir, names: names}, nil
}

// Len is the number of positions left to read
func (s *DirSource) Len() int {
	return len(s.names) - s.pos
}

// Next reads the next file. A read or parse failure consumes the position and
// returns a *ReadError; callers may keep calling Next.
func (s *DirSource) Next(ctx context.Context) (Payload, error) {
	if err := ctx.Err(); err != nil {
		return Payload{}, err
	}
	if s.pos >= len(s.names) {
		return Payload{}, io.EOF
	}
	name := s.names[s.pos]
	s.pos++

	path := filepath.Join(s.dir, name)
	body, err := os.ReadFile(path)
	if err != nil {
		return Payload{}, &ReadError{Path: path, Err: err}
	}
	if !json.Valid(body) {
		return Payload{}, &ReadError{Path: path, Err: errors.New("not valid JSON")}
	}
	return Payload{ID: name, Body: body}, nil
}

// GeneratorSource produces payloads on demand and never reports io.EOF on its
// own; the dispatcher's limit bounds it.
type GeneratorSource struct {
	mu       sync.Mutex
	producer Producer
}

func NewGeneratorSource(p Producer) *GeneratorSource {
	return &GeneratorSource{producer: p}
}

func (s *GeneratorSource) Next(ctx context.Context) (Payload, error) {
	if err := ctx.Err(); err != nil {
		return Payload{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.producer.Produce(ctx)
	if err != nil {
		var perr *ProductionError
		if errors.As(err, &perr) {
			return Payload{}, err
		}
		return Payload{}, &ProductionError{Err: err}
	}
	return p, nil
}
