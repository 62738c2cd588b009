package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"mentor/internal/apperr"
	"mentor/internal/domain"
)

// RetrieverSource hands out the retriever once the index is ready.
type RetrieverSource interface {
	Get() (domain.Retriever, error)
}

var _ domain.MentorService = (*MentorServiceImpl)(nil)

type MentorServiceImpl struct {
	retrievers RetrieverSource
	generator  domain.Generator
	logger     *zap.Logger
}

func NewMentorService(retrievers RetrieverSource, generator domain.Generator, logger *zap.Logger) *MentorServiceImpl {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MentorServiceImpl{
		retrievers: retrievers,
		generator:  generator,
		logger:     logger.With(zap.String("component", "mentor")),
	}
}

// Ask answers question from the retrieved context. Retrieval problems never
// fail the call; generation problems do.
func (s *MentorServiceImpl) Ask(ctx context.Context, question string) (domain.Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return domain.Answer{}, apperr.New(apperr.CodeRequestInvalid, "question is required")
	}
	r, err := s.retrievers.Get()
	if err != nil {
		return domain.Answer{}, err
	}

	contextText, hits := r.ContextFor(ctx, question)
	s.logger.Debug("context retrieved", zap.Int("hits", len(hits)), zap.Int("context_len", len(contextText)))

	text, err := s.generator.Generate(ctx, contextText, question)
	if err != nil {
		return domain.Answer{}, err
	}
	return domain.Answer{Text: text, Sources: hits}, nil
}

// Search returns the retrieval hits for question without generating.
func (s *MentorServiceImpl) Search(ctx context.Context, question string) ([]domain.Hit, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, apperr.New(apperr.CodeRequestInvalid, "question is required")
	}
	r, err := s.retrievers.Get()
	if err != nil {
		return nil, err
	}
	return r.Retrieve(ctx, question)
}
