// Package embedding defines the text-to-vector contract shared by the
// indexing and query paths.
package embedding

import "context"

// Embedder converts free text into a fixed-length vector. For a given
// Model() the same text always yields the same vector.
type Embedder interface {
	Name() string
	Model() string
	// Dimension is the vector length, or 0 while a remote backend has not
	// answered yet.
	Dimension() int
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedMany embeds texts and returns vectors in input order.
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
}
