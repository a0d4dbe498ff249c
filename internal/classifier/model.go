package classifier

import (
	"context"
	"fmt"
	"strings"

	tallyErrors "github.com/harunnryd/tally/internal/errors"
	"github.com/harunnryd/tally/internal/policy"
)

// TextService is the external text-classification model.
type TextService interface {
	ClassifyText(ctx context.Context, system, prompt string) (string, error)
}

// Model classifies through a TextService. Any service failure or
// non-conforming response is returned as an error.
type Model struct {
	service TextService
}

func NewModel(service TextService) *Model {
	return &Model{service: service}
}

func (m *Model) Classify(ctx context.Context, text string, catalog []policy.Category) (Verdict, error) {
	if strings.TrimSpace(text) == "" {
		return Verdict{}, tallyErrors.InvalidInput("empty reply text")
	}

	raw, err := m.service.ClassifyText(ctx, systemPrompt, buildPrompt(text, catalog))
	if err != nil {
		return Verdict{}, fmt.Errorf("classification service: %w", tallyErrors.MapError(err))
	}

	v, err := parseVerdict(raw)
	if err != nil {
		return Verdict{}, err
	}
	if c, ok := findCategory(catalog, v.CategoryID); ok && c.RequiresApproval {
		v.RequiresApproval = true
	}
	return v, nil
}

func findCategory(catalog []policy.Category, id string) (policy.Category, bool) {
	for _, c := range catalog {
		if c.ID == id {
			return c, true
		}
	}
	return policy.Category{}, false
}
