package collector

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/austindbirch/relay_load/internal/record"
)

// FileLog appends one JSON line per record. The file is opened in append
// mode and never truncated or rewritten.
type FileLog struct {
	path string
	f    *os.File
	w    *bufio.Writer
}

func OpenFileLog(path string) (*FileLog, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open result log %s: %w", path, err)
	}
	return &FileLog{path: path, f: f, w: bufio.NewWriter(f)}, nil
}

func (l *FileLog) Name() string { return "file:" + l.path }

func (l *FileLog) Write(_ context.Context, rec record.Record) error {
	line, err := record.MarshalLine(rec)
	if err != nil {
		return err
	}
	if _, err := l.w.Write(line); err != nil {
		return err
	}
	return l.w.Flush()
}

func (l *FileLog) Close() error {
	if err := l.w.Flush(); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}
