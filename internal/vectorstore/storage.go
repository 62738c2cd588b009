// Package vectorstore defines the persisted vector index and the backends
// that create, persist and reload it.
package vectorstore

import (
	"context"
	"strconv"
)

// Metadata describes where an indexed document came from.
type Metadata struct {
	SourceFile string   `json:"source_file" cbor:"source_file"`
	RowIndex   int      `json:"row_index" cbor:"row_index"`
	Columns    []string `json:"columns" cbor:"columns"`
}

// Document is the persisted unit of the index. It is immutable once added.
type Document struct {
	ID       string   `json:"id" cbor:"id"`
	Text     string   `json:"text" cbor:"text"`
	Metadata Metadata `json:"metadata" cbor:"metadata"`
}

// Match is a single search hit.
type Match struct {
	ID    string
	Score float64
}

// Index stores documents with their embeddings and answers nearest-neighbour
// queries. Add is only called by the builder before the index is published;
// every other method is safe for concurrent use.
type Index interface {
	// Add appends documents with their parallel embeddings. Ids must be
	// unique across the whole index; on error nothing is added.
	Add(docs []Document, vectors [][]float32) error
	// Search returns min(k, Len()) matches by descending cosine similarity,
	// ties broken by ascending id.
	Search(query []float32, k int) ([]Match, error)
	Get(id string) (Document, bool)
	Vector(id string) ([]float32, bool)
	Len() int
	Dimension() int
	// Model is the embedding model the vectors were produced with.
	Model() string
	// Persist writes the index to its location. A reader never observes a
	// partially written artifact.
	Persist(ctx context.Context) error
}

// Compat describes what a loaded index must match. Zero fields are not
// checked.
type Compat struct {
	Dimension int
	Model     string
}

// Backend creates and reloads indexes at a filesystem location.
type Backend interface {
	Name() string
	// Exists reports whether a persisted index is present at location. A
	// file that is present but is not an index of this backend yields a
	// corrupt-index error.
	Exists(location string) (bool, error)
	// Load reconstructs a persisted index. Unreadable or incompatible
	// artifacts yield a corrupt-index error.
	Load(ctx context.Context, location string, want Compat) (Index, error)
	// Create returns an empty index that persists to location.
	Create(location string, model string) Index
	// Remove deletes the artifact at location, if any.
	Remove(location string) error
}

// CompareIDs orders ids numerically when both are integers and lexically
// otherwise.
func CompareIDs(a, b string) int {
	ai, aerr := strconv.ParseInt(a, 10, 64)
	bi, berr := strconv.ParseInt(b, 10, 64)
	if aerr == nil && berr == nil {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
