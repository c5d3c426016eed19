package service

import (
	"context"

	"github.com/lavaspoon/vectorrag/internal/domain"
	"github.com/lavaspoon/vectorrag/internal/logger"
	"github.com/lavaspoon/vectorrag/internal/repository"
)

// Embedder produces embedding vectors for transcript text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// vectorSearcher is the slice of the Qdrant repository retrieval needs.
type vectorSearcher interface {
	Search(ctx context.Context, vector []float32, topK int, scoreThreshold float32) ([]repository.SearchResult, error)
}

// RetrievalService finds previously analyzed consultations similar to the
// transcript under analysis. Retrieval is an enrichment step: any failure
// here degrades to an empty match list so analysis proceeds without
// reference context instead of failing the record.
type RetrievalService struct {
	embedder  Embedder
	searcher  vectorSearcher
	topK      int
	threshold float32
	logger    *logger.Logger
}

// NewRetrievalService creates a new RetrievalService.
func NewRetrievalService(embedder Embedder, searcher vectorSearcher, topK int, threshold float32, log *logger.Logger) *RetrievalService {
	return &RetrievalService{
		embedder:  embedder,
		searcher:  searcher,
		topK:      topK,
		threshold: threshold,
		logger:    log,
	}
}

// SearchSimilar embeds the content and queries the index for the topK most
// similar consultations at or above the configured threshold.
func (s *RetrievalService) SearchSimilar(ctx context.Context, content string) []domain.SimilarityMatch {
	vector, err := s.embedder.EmbedQuery(ctx, content)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to embed query, using empty context")
		return nil
	}

	results, err := s.searcher.Search(ctx, vector, s.topK, s.threshold)
	if err != nil {
		s.logger.WithError(err).Warn("Similarity search failed, using empty context")
		return nil
	}

	matches := make([]domain.SimilarityMatch, 0, len(results))
	for _, res := range results {
		if res.Payload == nil {
			continue
		}
		matches = append(matches, domain.SimilarityMatch{
			Content:            res.Payload.Content,
			Score:              res.Score,
			ConsultationNumber: res.Payload.ConsultationNumber,
			Consultant:         res.Payload.Consultant,
			AnalysisResult:     res.Payload.AnalysisResult,
			ConsultationTime:   res.Payload.ConsultationTime,
		})
	}

	return matches
}
