package payload

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
}

func drain(t *testing.T, s Source) (ids []string, readErrs int) {
	t.Helper()
	ctx := context.Background()
	for {
		p, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return ids, readErrs
		}
		var rerr *ReadError
		if errors.As(err, &rerr) {
			readErrs++
			continue
		}
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}
}

func TestOpenDir_Window(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"a.json": `{"n":0}`,
		"b.json": `{"n":1}`,
		"c.json": `{"n":2}`,
		"d.json": `{"n":3}`,
		"e.json": `{"n":4}`,
	})
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	tests := []struct {
		name  string
		skip  int
		limit int
		want  []string
	}{
		{name: "everything", skip: 0, limit: 0, want: []string{"a.json", "b.json", "c.json", "d.json", "e.json"}},
		{name: "skip two", skip: 2, limit: 0, want: []string{"c.json", "d.json", "e.json"}},
		{name: "limit two", skip: 0, limit: 2, want: []string{"a.json", "b.json"}},
		{name: "window", skip: 1, limit: 3, want: []string{"b.json", "c.json", "d.json"}},
		{name: "limit past end", skip: 3, limit: 10, want: []string{"d.json", "e.json"}},
		{name: "skip past end", skip: 9, limit: 1, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := OpenDir(dir, tt.skip, tt.limit)
			require.NoError(t, err)
			assert.Equal(t, len(tt.want), src.Len())

			ids, readErrs := drain(t, src)
			assert.Zero(t, readErrs)
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestOpenDir_MissingDir(t *testing.T) {
	_, err := OpenDir(filepath.Join(t.TempDir(), "missing"), 0, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestOpenDir_NegativeWindow(t *testing.T) {
	_, err := OpenDir(t.TempDir(), -1, 0)
	assert.Error(t, err)
}

func TestDirSource_BadFileConsumesPosition(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"1.json": `{"ok":true}`,
		"2.json": `not json`,
		"3.json": `{"ok":true}`,
	})

	src, err := OpenDir(dir, 0, 2)
	require.NoError(t, err)

	p, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.json", p.ID)
	assert.JSONEq(t, `{"ok":true}`, string(p.Body))

	_, err = src.Next(context.Background())
	var rerr *ReadError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, filepath.Join(dir, "2.json"), rerr.Path)

	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestDirSource_CanceledContext(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"a.json": `{}`})
	src, err := OpenDir(dir, 0, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, src.Len())
}

func TestRandomProducer(t *testing.T) {
	p := NewRandomProducer(map[string]any{"proof": "0xabc", "memo": "m"})

	first, err := p.Produce(context.Background())
	require.NoError(t, err)
	second, err := p.Produce(context.Background())
	require.NoError(t, err)

	assert.Len(t, first.ID, 64)
	assert.NotEqual(t, first.ID, second.ID)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(first.Body, &doc))
	assert.Equal(t, first.ID, doc[NullifierField])
	assert.Equal(t, "0xabc", doc["proof"])
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestGeneratorSource_ProductionError(t *testing.T) {
	p := NewRandomProducer(nil)
	p.rand = failingReader{}

	_, err := NewGeneratorSource(p).Next(context.Background())
	var perr *ProductionError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, err.Error(), "entropy exhausted")
}

type stubProducer struct{ err error }

func (s stubProducer) Produce(context.Context) (Payload, error) {
	return Payload{}, s.err
}

func TestGeneratorSource_WrapsPlainErrors(t *testing.T) {
	_, err := NewGeneratorSource(stubProducer{err: errors.New("prover offline")}).Next(context.Background())
	var perr *ProductionError
	require.ErrorAs(t, err, &perr)
}

func TestLoadTemplate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tmpl.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"kind":"transfer"}`), 0o644))

	tmpl, err := LoadTemplate(path)
	require.NoError(t, err)
	assert.Equal(t, "transfer", tmpl["kind"])

	require.NoError(t, os.WriteFile(path, []byte(`[1,2]`), 0o644))
	_, err = LoadTemplate(path)
	assert.Error(t, err)
}

func TestStore_SaveThenRead(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "txs")
	store, err := NewStore(dir)
	require.NoError(t, err)

	gen := NewGeneratorSource(NewRandomProducer(nil))
	var saved []string
	for i := 0; i < 3; i++ {
		p, err := gen.Next(context.Background())
		require.NoError(t, err)
		path, err := store.Save(p)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, p.ID+".json"), path)
		saved = append(saved, p.ID+".json")
	}

	src, err := OpenDir(dir, 0, 0)
	require.NoError(t, err)
	ids, readErrs := drain(t, src)
	assert.Zero(t, readErrs)
	assert.ElementsMatch(t, saved, ids)
}

func TestStore_RejectsBadIDs(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	for _, id := range []string{"", "../escape", `a\b`} {
		_, err := store.Save(Payload{ID: id, Body: []byte(`{}`)})
		assert.Error(t, err, "id %q", id)
	}
}

func TestStore_NoOverwrite(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	p := Payload{ID: "same", Body: []byte(`{}`)}
	_, err = store.Save(p)
	require.NoError(t, err)
	_, err = store.Save(p)
	assert.ErrorIs(t, err, os.ErrExist)
}

func TestStore_FailedWriteLeavesNoFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	errShort := errors.New("no space left on device")
	defer func(prev func(*os.File, []byte) (int, error)) { writeBody = prev }(writeBody)
	writeBody = func(f *os.File, b []byte) (int, error) {
		n, _ := f.Write(b[:len(b)/2])
		return n, errShort
	}

	_, err = store.Save(Payload{ID: "partial", Body: []byte(`{"tx":"0123456789"}`)})
	require.ErrorIs(t, err, errShort)
	_, statErr := os.Stat(filepath.Join(dir, "partial.json"))
	assert.ErrorIs(t, statErr, os.ErrNotExist)

	// the id stays usable once writes succeed again
	writeBody = (*os.File).Write
	_, err = store.Save(Payload{ID: "partial", Body: []byte(`{}`)})
	assert.NoError(t, err)
}
