package model

import (
	"context"

	"github.com/harunnryd/tally/internal/model/contract"
)

// Completer is what the classifier's text service needs from the router.
type Completer interface {
	Route(ctx context.Context, model string, req contract.CompletionRequest) (*contract.CompletionResponse, error)
}

type Provider interface {
	Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error)
	Name() string
	Type() string
}

// generator is implemented by every concrete provider package.
type generator interface {
	Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error)
}
