package service

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/lavaspoon/vectorrag/internal/config"
)

const jinaEndpoint = "https://api.jina.ai/v1/embeddings"

// Jina task hints. Stored consultation transcripts embed as passages; the
// transcript under analysis embeds as the query against them.
const (
	taskPassage = "retrieval.passage"
	taskQuery   = "retrieval.query"
)

// EmbeddingService turns consultation text into vectors for the similarity
// index via the Jina embeddings API. One transcript per call: both the index
// mirror and the retrieval path work record by record.
type EmbeddingService struct {
	client     *resty.Client
	model      string
	dimensions int
}

// NewEmbeddingService creates a new embedding service.
func NewEmbeddingService(cfg *config.EmbeddingConfig) *EmbeddingService {
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")

	return &EmbeddingService{
		client:     client,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}
}

// GetModel returns the model name being used.
func (s *EmbeddingService) GetModel() string {
	return s.model
}

type jinaRequest struct {
	Model         string   `json:"model"`
	Task          string   `json:"task,omitempty"`
	Dimensions    int      `json:"dimensions,omitempty"`
	Input         []string `json:"input"`
	EmbeddingType string   `json:"embedding_type,omitempty"`
}

type jinaResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Detail string `json:"detail,omitempty"`
}

// Embed vectorizes a consultation transcript for indexing.
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.embed(ctx, text, taskPassage)
}

// EmbedQuery vectorizes a transcript for searching the index of prior cases.
func (s *EmbeddingService) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return s.embed(ctx, query, taskQuery)
}

func (s *EmbeddingService) embed(ctx context.Context, text, task string) ([]float32, error) {
	req := jinaRequest{
		Model:         s.model,
		Task:          task,
		Dimensions:    s.dimensions,
		Input:         []string{text},
		EmbeddingType: "float",
	}

	var resp jinaResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		Post(jinaEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to call Jina API: %w", err)
	}

	if httpResp.StatusCode() != 200 {
		if resp.Detail != "" {
			return nil, fmt.Errorf("Jina API error: %s", resp.Detail)
		}
		return nil, fmt.Errorf("Jina API error: status %d", httpResp.StatusCode())
	}

	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return resp.Data[0].Embedding, nil
}
