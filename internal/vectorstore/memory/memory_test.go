package memory

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mentor/internal/apperr"
	"mentor/internal/vectorstore"
)

func doc(id string) vectorstore.Document {
	return vectorstore.Document{ID: id, Text: "row " + id, Metadata: vectorstore.Metadata{SourceFile: "a.csv"}}
}

func ids(matches []vectorstore.Match) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.ID
	}
	return out
}

func TestAdd_FixesDimensionAndSearches(t *testing.T) {
	s := NewStorage(0)
	require.NoError(t, s.Add(
		[]vectorstore.Document{doc("0"), doc("1"), doc("2")},
		[][]float32{{1, 0}, {0, 1}, {1, 1}},
	))
	assert.Equal(t, 2, s.Dimension())
	assert.Equal(t, 3, s.Len())

	res, err := s.Search([]float32{1, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "2"}, ids(res))
	assert.InDelta(t, 1.0, res[0].Score, 1e-9)
	assert.InDelta(t, 0.7071, res[1].Score, 1e-4)
}

func TestSearch_ResultLengthIsMinOfKAndSize(t *testing.T) {
	s := NewStorage(2)
	require.NoError(t, s.Add([]vectorstore.Document{doc("0"), doc("1")}, [][]float32{{1, 0}, {0, 1}}))

	res, err := s.Search([]float32{1, 1}, 10)
	require.NoError(t, err)
	assert.Len(t, res, 2)

	res, err = s.Search([]float32{1, 1}, 1)
	require.NoError(t, err)
	assert.Len(t, res, 1)
}

func TestSearch_TiesBrokenByNumericID(t *testing.T) {
	s := NewStorage(2)
	var docs []vectorstore.Document
	var vecs [][]float32
	for _, id := range []string{"10", "2", "1"} {
		docs = append(docs, doc(id))
		vecs = append(vecs, []float32{1, 0})
	}
	require.NoError(t, s.Add(docs, vecs))

	for i := 0; i < 5; i++ {
		res, err := s.Search([]float32{3, 0}, 3)
		require.NoError(t, err)
		assert.Equal(t, []string{"1", "2", "10"}, ids(res))
	}
}

func TestSearch_InvalidInput(t *testing.T) {
	s := NewStorage(2)
	require.NoError(t, s.Add([]vectorstore.Document{doc("0")}, [][]float32{{1, 0}}))

	_, err := s.Search([]float32{1, 0}, 0)
	assert.True(t, apperr.IsInvalidInput(err))

	_, err = s.Search([]float32{1, 0, 0}, 1)
	assert.True(t, apperr.IsInvalidInput(err))
}

func TestSearch_EmptyIndex(t *testing.T) {
	res, err := NewStorage(0).Search([]float32{1}, 3)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestSearch_ZeroQueryScoresZero(t *testing.T) {
	s := NewStorage(2)
	require.NoError(t, s.Add([]vectorstore.Document{doc("1"), doc("0")}, [][]float32{{1, 0}, {0, 1}}))

	res, err := s.Search([]float32{0, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1"}, ids(res))
	assert.Zero(t, res[0].Score)
}

func TestAdd_DuplicateIDIsAtomic(t *testing.T) {
	s := NewStorage(1)
	require.NoError(t, s.Add([]vectorstore.Document{doc("0")}, [][]float32{{1}}))

	err := s.Add([]vectorstore.Document{doc("1"), doc("0")}, [][]float32{{1}, {1}})
	require.Error(t, err)
	assert.True(t, apperr.IsDuplicateID(err))
	assert.Equal(t, 1, s.Len())
	_, ok := s.Get("1")
	assert.False(t, ok)

	err = s.Add([]vectorstore.Document{doc("5"), doc("5")}, [][]float32{{1}, {1}})
	assert.True(t, apperr.IsDuplicateID(err))
	assert.Equal(t, 1, s.Len())
}

func TestAdd_InvalidInput(t *testing.T) {
	s := NewStorage(2)

	err := s.Add([]vectorstore.Document{doc("0")}, nil)
	assert.True(t, apperr.IsInvalidInput(err))

	err = s.Add([]vectorstore.Document{doc("0")}, [][]float32{{1, 2, 3}})
	assert.True(t, apperr.IsInvalidInput(err))

	err = s.Add([]vectorstore.Document{{ID: ""}}, [][]float32{{1, 2}})
	assert.True(t, apperr.IsInvalidInput(err))
	assert.Zero(t, s.Len())
}

func TestGetVectorAndEntries(t *testing.T) {
	s := NewStorage(0)
	require.NoError(t, s.Add([]vectorstore.Document{doc("0"), doc("1")}, [][]float32{{1, 2}, {3, 4}}))

	d, ok := s.Get("1")
	require.True(t, ok)
	assert.Equal(t, "row 1", d.Text)

	v, ok := s.Vector("0")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2}, v)

	docs, vecs := s.Entries()
	assert.Equal(t, []string{"0", "1"}, []string{docs[0].ID, docs[1].ID})
	assert.Equal(t, [][]float32{{1, 2}, {3, 4}}, vecs)
}

func TestSearch_ConcurrentReaders(t *testing.T) {
	s := NewStorage(2)
	var docs []vectorstore.Document
	var vecs [][]float32
	for i := 0; i < 50; i++ {
		docs = append(docs, doc(fmt.Sprint(i)))
		vecs = append(vecs, []float32{float32(i), 1})
	}
	require.NoError(t, s.Add(docs, vecs))

	want, err := s.Search([]float32{1, 0}, 5)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := s.Search([]float32{1, 0}, 5)
			assert.NoError(t, err)
			assert.Equal(t, want, got)
		}()
	}
	wg.Wait()
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{2, 0}, []float32{5, 0}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, Cosine([]float32{0, 0}, []float32{0, 1}))
}
