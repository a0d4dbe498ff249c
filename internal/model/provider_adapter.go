package model

import (
	"context"
	"time"

	"github.com/harunnryd/tally/internal/model/contract"
)

// ProviderAdapter binds a provider client to one registry entry: it fills
// in the model name and bounds every call by the entry's request timeout.
type ProviderAdapter struct {
	provider     generator
	name         string
	providerType string
	timeout      time.Duration
}

func (a *ProviderAdapter) Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	if req.Model == "" {
		req.Model = a.name
	}

	resp, err := a.provider.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Model == "" {
		resp.Model = a.name
	}
	return resp, nil
}

func (a *ProviderAdapter) Name() string {
	return a.name
}

func (a *ProviderAdapter) Type() string {
	return a.providerType
}
