package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mentor/internal/apperr"
	"mentor/internal/vectorstore"
)

func sampleIndex(t *testing.T, location string) vectorstore.Index {
	t.Helper()
	idx := Backend{}.Create(location, "test-model")
	require.NoError(t, idx.Add(
		[]vectorstore.Document{
			{ID: "0", Text: "1 apple", Metadata: vectorstore.Metadata{SourceFile: "a.csv", RowIndex: 0, Columns: []string{"id", "name"}}},
			{ID: "1", Text: "2 pear", Metadata: vectorstore.Metadata{SourceFile: "a.csv", RowIndex: 1, Columns: []string{"id", "name"}}},
			{ID: "2", Text: "3 plum", Metadata: vectorstore.Metadata{SourceFile: "b.csv", RowIndex: 0, Columns: []string{"x"}}},
		},
		[][]float32{{1, 0, 0}, {0.5, 0.5, 0}, {0, 0, 1}},
	))
	return idx
}

func TestExists_FalseBeforeTrueAfterPersist(t *testing.T) {
	location := filepath.Join(t.TempDir(), "nested", "index.db")
	b := Backend{}

	ok, err := b.Exists(location)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, sampleIndex(t, location).Persist(context.Background()))

	ok, err = b.Exists(location)
	require.NoError(t, err)
	assert.True(t, ok)

	entries, err := os.ReadDir(filepath.Dir(location))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "only the database file remains")
}

func TestLoad_RoundTripSearchIsIdentical(t *testing.T) {
	location := filepath.Join(t.TempDir(), "index.db")
	idx := sampleIndex(t, location)
	require.NoError(t, idx.Persist(context.Background()))

	loaded, err := Backend{}.Load(context.Background(), location, vectorstore.Compat{Dimension: 3, Model: "test-model"})
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Len())
	assert.Equal(t, "test-model", loaded.Model())

	query := []float32{1, 0.2, 0.1}
	want, err := idx.Search(query, 2)
	require.NoError(t, err)
	got, err := loaded.Search(query, 2)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	d, ok := loaded.Get("2")
	require.True(t, ok)
	assert.Equal(t, vectorstore.Metadata{SourceFile: "b.csv", RowIndex: 0, Columns: []string{"x"}}, d.Metadata)
	v, ok := loaded.Vector("1")
	require.True(t, ok)
	assert.Equal(t, []float32{0.5, 0.5, 0}, v)
}

func TestLoad_DimensionMismatchIsCorrupt(t *testing.T) {
	location := filepath.Join(t.TempDir(), "index.db")
	require.NoError(t, sampleIndex(t, location).Persist(context.Background()))

	_, err := Backend{}.Load(context.Background(), location, vectorstore.Compat{Dimension: 8})
	require.Error(t, err)
	assert.True(t, apperr.IsCorruptIndex(err))
}

func TestCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	b := Backend{}

	foreign := filepath.Join(dir, "foreign.db")
	require.NoError(t, os.WriteFile(foreign, []byte("definitely not sqlite"), 0o644))
	_, err := b.Exists(foreign)
	assert.True(t, apperr.IsCorruptIndex(err))
	_, err = b.Load(context.Background(), foreign, vectorstore.Compat{})
	assert.True(t, apperr.IsCorruptIndex(err))

	// A SQLite database that is not an index.
	other := filepath.Join(dir, "other.db")
	db, err := sql.Open("sqlite", other)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE things (x INTEGER)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = b.Exists(other)
	assert.True(t, apperr.IsCorruptIndex(err))
	_, err = b.Load(context.Background(), other, vectorstore.Compat{})
	assert.True(t, apperr.IsCorruptIndex(err))
}

func TestPersist_FailureLeavesNoArtifact(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	err := sampleIndex(t, filepath.Join(blocker, "index.db")).Persist(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperr.CodeIndexPersistFailure, apperr.CodeOf(err))
}

func TestPersist_CancelledContextRemovesTemp(t *testing.T) {
	dir := t.TempDir()
	location := filepath.Join(dir, "index.db")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sampleIndex(t, location).Persist(ctx)
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRemove(t *testing.T) {
	location := filepath.Join(t.TempDir(), "index.db")
	require.NoError(t, sampleIndex(t, location).Persist(context.Background()))
	require.NoError(t, os.WriteFile(location+"-journal", nil, 0o644))

	require.NoError(t, Backend{}.Remove(location))
	_, err := os.Stat(location)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(location + "-journal")
	assert.True(t, os.IsNotExist(err))
}
