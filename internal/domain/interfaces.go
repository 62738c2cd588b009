package domain

import (
	"context"

	"mentor/internal/vectorstore"
)

// Hit is a retrieved document with its relevance score.
type Hit struct {
	Document vectorstore.Document
	Score    float64
}

// Answer is the mentor's reply to a question.
type Answer struct {
	Text string
	// Sources are the documents the answer was grounded on. Empty when the
	// fallback context was used.
	Sources []Hit
}

// Retriever finds the documents most relevant to a question.
type Retriever interface {
	Retrieve(ctx context.Context, question string) ([]Hit, error)
	// ContextFor returns the prompt context for question. Retrieval failures
	// are absorbed into a fixed fallback text.
	ContextFor(ctx context.Context, question string) (string, []Hit)
}

// Generator produces an answer from retrieved context.
type Generator interface {
	Model() string
	Generate(ctx context.Context, contextText, question string) (string, error)
}

// MentorService defines the operations exposed by the application core.
type MentorService interface {
	Ask(ctx context.Context, question string) (Answer, error)
	Search(ctx context.Context, question string) ([]Hit, error)
}
