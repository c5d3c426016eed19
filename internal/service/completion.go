package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/lavaspoon/vectorrag/internal/config"
)

// CompletionService calls an OpenAI-compatible chat completions endpoint to
// run the nudge analysis prompt.
type CompletionService struct {
	client      *resty.Client
	model       string
	temperature float32
	maxTokens   int
}

// NewCompletionService creates a new completion service
func NewCompletionService(cfg *config.CompletionConfig) *CompletionService {
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/"))
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")

	return &CompletionService{
		client:      client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

// GetModel returns the model name being used
func (s *CompletionService) GetModel() string {
	return s.model
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Complete sends the prompt as a single user message and returns the raw
// model output. A blank response is an error so retry can kick in; client
// errors (4xx) are wrapped as permanent because repeating the same request
// cannot succeed.
func (s *CompletionService) Complete(ctx context.Context, prompt string) (string, error) {
	req := chatRequest{
		Model: s.model,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
		Temperature: s.temperature,
		MaxTokens:   s.maxTokens,
	}

	var resp chatResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		SetError(&resp).
		Post("/chat/completions")

	if err != nil {
		return "", fmt.Errorf("failed to call completion API: %w", err)
	}

	if httpResp.StatusCode() != 200 {
		apiErr := fmt.Errorf("completion API error: status %d", httpResp.StatusCode())
		if resp.Error != nil && resp.Error.Message != "" {
			apiErr = fmt.Errorf("completion API error: %s", resp.Error.Message)
		}
		if httpResp.StatusCode() >= 400 && httpResp.StatusCode() < 500 && httpResp.StatusCode() != 429 {
			return "", backoff.Permanent(apiErr)
		}
		return "", apiErr
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completion API returned no choices")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("completion API returned empty content")
	}

	return content, nil
}
