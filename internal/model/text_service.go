package model

import (
	"context"

	"github.com/harunnryd/tally/internal/model/contract"
)

// TextService sends a system and user prompt to a routed model and
// returns the raw text of the reply. It satisfies classifier.TextService.
type TextService struct {
	router Completer
	model  string
}

func NewTextService(router Completer, model string) *TextService {
	return &TextService{router: router, model: model}
}

func (s *TextService) ClassifyText(ctx context.Context, system, prompt string) (string, error) {
	resp, err := s.router.Route(ctx, s.model, contract.CompletionRequest{
		Messages: []contract.Message{
			{Role: contract.RoleSystem, Content: system},
			{Role: contract.RoleUser, Content: prompt},
		},
		JSONMode:  true,
		MaxTokens: 512,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
