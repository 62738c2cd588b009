// Package memory is the in-memory search core shared by the persistent
// vector store backends.
package memory

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"mentor/internal/apperr"
	"mentor/internal/vectorstore"
)

// Storage is an in-memory vector index using brute-force cosine similarity.
type Storage struct {
	mu        sync.RWMutex
	dimension int
	docs      []vectorstore.Document
	vectors   [][]float32
	norms     []float64
	byID      map[string]int
}

// NewStorage returns an empty index. A zero dimension is fixed by the first
// vector added.
func NewStorage(dimension int) *Storage {
	if dimension < 0 {
		dimension = 0
	}
	return &Storage{dimension: dimension, byID: make(map[string]int)}
}

// Add appends documents and their vectors. The whole batch is validated
// before anything is stored.
func (s *Storage) Add(docs []vectorstore.Document, vectors [][]float32) error {
	if len(docs) != len(vectors) {
		return apperr.New(apperr.CodeIndexInputInvalid,
			fmt.Sprintf("documents and vectors length mismatch: %d != %d", len(docs), len(vectors)))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dim := s.dimension
	seen := make(map[string]struct{}, len(docs))
	for i, d := range docs {
		if d.ID == "" {
			return apperr.New(apperr.CodeIndexInputInvalid, fmt.Sprintf("document %d has an empty id", i))
		}
		if _, ok := s.byID[d.ID]; ok {
			return apperr.New(apperr.CodeIndexAddDuplicateID, "duplicate document id", apperr.FieldDocumentID(d.ID))
		}
		if _, ok := seen[d.ID]; ok {
			return apperr.New(apperr.CodeIndexAddDuplicateID, "duplicate document id in batch", apperr.FieldDocumentID(d.ID))
		}
		seen[d.ID] = struct{}{}

		if dim == 0 {
			dim = len(vectors[i])
		}
		if len(vectors[i]) == 0 || len(vectors[i]) != dim {
			return apperr.New(apperr.CodeIndexInputInvalid,
				fmt.Sprintf("vector dimension mismatch for document %s: got %d, want %d", d.ID, len(vectors[i]), dim),
				apperr.FieldDocumentID(d.ID))
		}
	}

	s.dimension = dim
	for i, d := range docs {
		s.byID[d.ID] = len(s.docs)
		s.docs = append(s.docs, d)
		s.vectors = append(s.vectors, vectors[i])
		s.norms = append(s.norms, norm(vectors[i]))
	}
	return nil
}

// Search ranks every document by cosine similarity to vector.
func (s *Storage) Search(vector []float32, topK int) ([]vectorstore.Match, error) {
	if topK <= 0 {
		return nil, apperr.New(apperr.CodeIndexInputInvalid, fmt.Sprintf("k must be positive, got %d", topK))
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.docs) == 0 {
		return []vectorstore.Match{}, nil
	}
	if len(vector) != s.dimension {
		return nil, apperr.New(apperr.CodeIndexInputInvalid,
			fmt.Sprintf("query dimension mismatch: got %d, want %d", len(vector), s.dimension))
	}

	qn := norm(vector)
	matches := make([]vectorstore.Match, len(s.docs))
	for i := range s.docs {
		matches[i] = vectorstore.Match{ID: s.docs[i].ID, Score: cosine(vector, qn, s.vectors[i], s.norms[i])}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return vectorstore.CompareIDs(matches[i].ID, matches[j].ID) < 0
	})
	if topK > len(matches) {
		topK = len(matches)
	}
	return matches[:topK], nil
}

func (s *Storage) Get(id string) (vectorstore.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byID[id]
	if !ok {
		return vectorstore.Document{}, false
	}
	return s.docs[i], true
}

func (s *Storage) Vector(id string) ([]float32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return s.vectors[i], true
}

func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func (s *Storage) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

// Entries returns the documents and vectors in insertion order. The slices
// are copies; their elements must not be modified.
func (s *Storage) Entries() ([]vectorstore.Document, [][]float32) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([]vectorstore.Document, len(s.docs))
	copy(docs, s.docs)
	vecs := make([][]float32, len(s.vectors))
	copy(vecs, s.vectors)
	return docs, vecs
}

// Cosine returns the cosine similarity of a and b, or 0 if either is a zero
// vector.
func Cosine(a, b []float32) float64 {
	return cosine(a, norm(a), b, norm(b))
}

func cosine(a []float32, an float64, b []float32, bn float64) float64 {
	if an == 0 || bn == 0 {
		return 0
	}
	return dot(a, b) / (an * bn)
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func norm(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}
