package loader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mentor/internal/apperr"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadDir_RowsAndMetadata(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "math.csv", " question , answer \n2+2,4\n3+3,6\n")

	res, err := NewCSVLoader(Config{}, zap.NewNop()).LoadDir(context.Background(), dir)
	require.NoError(t, err)

	require.Len(t, res.Rows, 2)
	assert.Equal(t, []string{"math.csv"}, res.Files)
	assert.Empty(t, res.Skipped)

	first := res.Rows[0]
	assert.Equal(t, "2+2 4", first.Text)
	assert.Equal(t, "math.csv", first.SourceFile)
	assert.Equal(t, 0, first.RowIndex)
	assert.Equal(t, []string{"question", "answer"}, first.Columns)
	assert.Equal(t, 1, res.Rows[1].RowIndex)
	assert.Equal(t, "3+3 6", res.Rows[1].Text)
}

func TestLoadDir_FilesInLexicalOrder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "b.csv", "h\nsecond\n")
	writeFile(t, dir, "a.CSV", "h\nfirst\n")
	writeFile(t, dir, "notes.txt", "ignored")

	res, err := NewCSVLoader(Config{}, nil).LoadDir(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"a.CSV", "b.csv"}, res.Files)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "first", res.Rows[0].Text)
	assert.Equal(t, "second", res.Rows[1].Text)
}

func TestLoadDir_SkipsMalformedRows(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "data.csv", "a,b\n1,2\n1,2,3\n4\n5,6\n")

	res, err := NewCSVLoader(Config{}, zap.NewNop()).LoadDir(context.Background(), dir)
	require.NoError(t, err)

	require.Len(t, res.Rows, 3)
	assert.Equal(t, 1, res.SkippedRows)
	assert.Equal(t, "1 2", res.Rows[0].Text)
	assert.Equal(t, "4 ", res.Rows[1].Text, "short rows are padded")
	assert.Equal(t, "5 6", res.Rows[2].Text)
	assert.Equal(t, 2, res.Rows[2].RowIndex, "row index counts surviving rows")
}

func TestLoadDir_SkipsUnparseableFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "good.csv", "q,a\nhello,world\n")
	writeFile(t, dir, "empty.csv", "")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "folder.csv"), 0o755))

	res, err := NewCSVLoader(Config{}, zap.NewNop()).LoadDir(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"good.csv"}, res.Files)
	require.Len(t, res.Rows, 1)
	require.Len(t, res.Skipped, 2)
	assert.Equal(t, "empty.csv", res.Skipped[0].File)
	assert.Contains(t, res.Skipped[0].Reason, "no header row")
	assert.Equal(t, "folder.csv", res.Skipped[1].File)
}

func TestLoadDir_SkipsNonUTF8File(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "good.csv", "q,a\nhello,world\n")
	writeFile(t, dir, "binary.csv", "\xff\xfeq,\x00a\n\x89PNG\x1a,\xc3\x28\n")
	writeFile(t, dir, "latin1.csv", "q,a\ncaf\xe9,coffee\n")

	res, err := NewCSVLoader(Config{}, zap.NewNop()).LoadDir(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"good.csv"}, res.Files)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "hello world", res.Rows[0].Text)
	require.Len(t, res.Skipped, 2)
	assert.Equal(t, "binary.csv", res.Skipped[0].File)
	assert.Contains(t, res.Skipped[0].Reason, "UTF-8")
	assert.Equal(t, "latin1.csv", res.Skipped[1].File)
}

func TestLoadDir_NoFilesIsConfigurationError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "readme.md", "# nothing here")

	_, err := NewCSVLoader(Config{}, zap.NewNop()).LoadDir(context.Background(), dir)
	require.Error(t, err)
	assert.True(t, apperr.IsConfiguration(err))
	assert.Equal(t, apperr.CodeConfigSourceNotFound, apperr.CodeOf(err))
}

func TestLoadDir_MissingDirectory(t *testing.T) {
	t.Parallel()

	_, err := NewCSVLoader(Config{}, zap.NewNop()).LoadDir(context.Background(), filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.True(t, apperr.IsConfiguration(err))
}

func TestLoadDir_CustomDelimiterAndBOM(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "semi.tsv", "\ufeffterm\tmeaning\nbit\tsmallest unit\n")

	res, err := NewCSVLoader(Config{Delimiter: '\t', Extension: "tsv"}, zap.NewNop()).LoadDir(context.Background(), dir)
	require.NoError(t, err)

	require.Len(t, res.Rows, 1)
	assert.Equal(t, []string{"term", "meaning"}, res.Rows[0].Columns)
	assert.Equal(t, "bit smallest unit", res.Rows[0].Text)
}

func TestLoadDir_CancelledContext(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "a.csv", "h\nx\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewCSVLoader(Config{}, zap.NewNop()).LoadDir(ctx, dir)
	assert.ErrorIs(t, err, context.Canceled)
}
