package zai

import (
	"context"
	"fmt"

	"github.com/harunnryd/tally/internal/model/contract"
	openaiProvider "github.com/harunnryd/tally/internal/model/providers/openai"

	"github.com/sashabaranov/go-openai"
)

const (
	DefaultBaseURL = "https://api.z.ai/api/paas/v4/"
	DefaultModel   = "glm-4.5-air"
)

type Provider struct {
	client *openai.Client
	model  string
}

func New(apiKey, baseURL, model string) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	config := openai.DefaultConfig(apiKey)
	config.BaseURL = baseURL

	return &Provider{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}, nil
}

func (p *Provider) Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	resp, err := openaiProvider.Complete(ctx, p.client, p.model, req)
	if err != nil {
		return nil, fmt.Errorf("zai: %w", err)
	}
	return resp, nil
}
