package llm

import (
	"context"
	"fmt"
	"net/http"

	"singularity-rmk/internal/config"
	"singularity-rmk/internal/llm/anthropic"
	"singularity-rmk/internal/llm/google"
	"singularity-rmk/internal/llm/openai"
)

// NewProviderFromConfig selects and constructs a Provider per cfg.Provider.
// An empty provider name is valid and yields (nil, nil): callers degrade to
// their no-LLM fallback path rather than treating this as an error.
func NewProviderFromConfig(ctx context.Context, cfg config.LLMConfig) (Provider, error) {
	client := http.DefaultClient
	switch cfg.Provider {
	case "":
		return nil, nil
	case "anthropic":
		return anthropic.New(cfg.APIKey, cfg.Model, client), nil
	case "openai":
		return openai.New(cfg.APIKey, cfg.Model, "", client), nil
	case "google":
		return google.New(ctx, cfg.APIKey, cfg.Model, client)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}
