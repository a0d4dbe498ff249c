package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/harunnryd/tally/internal/config"
	tallyErrors "github.com/harunnryd/tally/internal/errors"
	"github.com/harunnryd/tally/internal/logger"
	"github.com/harunnryd/tally/internal/model/contract"
	anthropicProvider "github.com/harunnryd/tally/internal/model/providers/anthropic"
	geminiProvider "github.com/harunnryd/tally/internal/model/providers/gemini"
	openaiProvider "github.com/harunnryd/tally/internal/model/providers/openai"
	zaiProvider "github.com/harunnryd/tally/internal/model/providers/zai"
)

// Router sends a completion to the requested model and, when that fails,
// to the configured fallback model. Registry entries that cannot be built
// (usually a missing API key) are skipped with a warning.
type Router struct {
	cfg       config.ModelsConfig
	providers map[string]Provider
	mu        sync.RWMutex
}

func NewModelRouter(cfg config.ModelsConfig) (*Router, error) {
	r := &Router{cfg: cfg, providers: make(map[string]Provider)}

	var skipped []string
	for _, entry := range cfg.Registry {
		p, err := createProvider(entry)
		if err != nil {
			skipped = append(skipped, entry.Name)
			logger.From(context.Background()).Warn("Model unavailable", "model", entry.Name, "provider", entry.Provider, "error", err)
			continue
		}
		r.providers[entry.Name] = p
	}

	if len(r.providers) == 0 && len(cfg.Registry) > 0 {
		return nil, tallyErrors.Internal(fmt.Sprintf("no usable model in registry (skipped %s)", strings.Join(skipped, ", ")))
	}
	return r, nil
}

// Register adds or replaces the provider serving name.
func (r *Router) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

// Route tries each model of the chain in turn, at most MaxFallbackAttempts
// calls. A cancelled context ends the chain immediately.
func (r *Router) Route(ctx context.Context, model string, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	chain := r.chain(model)
	if len(chain) == 0 {
		if model == "" {
			model = r.cfg.Default
		}
		return nil, tallyErrors.NotFound(fmt.Sprintf("model %s", model))
	}

	attempts := r.cfg.MaxFallbackAttempts
	if attempts <= 0 {
		attempts = config.DefaultModelMaxFallbackAttempts
	}
	if attempts > len(chain) {
		attempts = len(chain)
	}

	log := logger.From(ctx)
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return nil, tallyErrors.Wrap(err, "model request cancelled")
		}

		link := chain[i]
		attempt := req
		attempt.Model = link.model
		resp, err := link.provider.Generate(ctx, attempt)
		if err == nil {
			log.Debug("Model answered", "model", link.model, "attempt", i+1)
			return resp, nil
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}

		lastErr = tallyErrors.MapError(err)
		log.Warn("Model request failed", "model", link.model, "attempt", i+1, "error", err)
	}

	return nil, tallyErrors.Wrap(lastErr, fmt.Sprintf("model %s", chain[0].model))
}

type link struct {
	model    string
	provider Provider
}

// chain lists the registered models to try: the requested one (or the
// default) and then the fallback.
func (r *Router) chain(model string) []link {
	if model == "" {
		model = r.cfg.Default
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []link
	for _, name := range []string{model, r.cfg.Fallback} {
		if name == "" || (len(out) > 0 && out[0].model == name) {
			continue
		}
		if p, ok := r.providers[name]; ok {
			out = append(out, link{model: name, provider: p})
		}
	}
	return out
}

type providerFactory func(entry config.ModelRegistry) (generator, error)

var providerFactories = map[string]providerFactory{
	"openai": func(e config.ModelRegistry) (generator, error) {
		if e.APIKey == "" {
			return nil, tallyErrors.InvalidInput("API key required for OpenAI provider")
		}
		return openaiProvider.New(e.APIKey, orDefault(e.BaseURL, config.DefaultOpenAIBaseURL), e.Name), nil
	},
	"ollama": func(e config.ModelRegistry) (generator, error) {
		apiKey := orDefault(e.APIKey, config.DefaultOllamaAPIKey)
		return openaiProvider.New(apiKey, orDefault(e.BaseURL, config.DefaultOllamaBaseURL), e.Name), nil
	},
	"anthropic": func(e config.ModelRegistry) (generator, error) {
		if e.APIKey == "" {
			return nil, tallyErrors.InvalidInput("API key required for Anthropic provider")
		}
		return anthropicProvider.New(e.APIKey), nil
	},
	"gemini": func(e config.ModelRegistry) (generator, error) {
		if e.APIKey == "" {
			return nil, tallyErrors.InvalidInput("API key required for Gemini provider")
		}
		p, err := geminiProvider.New(e.APIKey)
		if err != nil {
			return nil, tallyErrors.WrapWithCategory(err, "create Gemini client", tallyErrors.ErrInternal)
		}
		return p, nil
	},
	"zai": func(e config.ModelRegistry) (generator, error) {
		p, err := zaiProvider.New(e.APIKey, e.BaseURL, e.Name)
		if err != nil {
			return nil, tallyErrors.InvalidInput(fmt.Sprintf("zai provider: %v", err))
		}
		return p, nil
	},
}

func createProvider(entry config.ModelRegistry) (Provider, error) {
	timeout, err := config.DurationOrDefault(entry.RequestTimeout, config.DefaultModelRequestTimeout)
	if err != nil {
		return nil, tallyErrors.InvalidInput(fmt.Sprintf("invalid request_timeout for model %s: %v", entry.Name, err))
	}

	factory, ok := providerFactories[entry.Provider]
	if !ok {
		return nil, tallyErrors.InvalidInput(fmt.Sprintf("unknown provider type: %s", entry.Provider))
	}
	gen, err := factory(entry)
	if err != nil {
		return nil, err
	}
	return &ProviderAdapter{provider: gen, name: entry.Name, providerType: entry.Provider, timeout: timeout}, nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
