// ABOUTME: Provider selection for the langchaingo chat model.
// ABOUTME: Supports anthropic and openai with optional key, model and base URL

package agent

import (
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"
)

// ModelConfig selects a provider and model.
type ModelConfig struct {
	Provider string // "anthropic" or "openai"
	APIKey   string
	BaseURL  string
	Model    string
}

// NewModel builds the llms.Model for cfg. An empty APIKey leaves the
// provider's own environment variable in effect.
func NewModel(cfg ModelConfig) (llms.Model, error) {
	switch cfg.Provider {
	case "", "anthropic":
		var opts []anthropic.Option
		if cfg.APIKey != "" {
			opts = append(opts, anthropic.WithToken(cfg.APIKey))
		}
		if cfg.Model != "" {
			opts = append(opts, anthropic.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		m, err := anthropic.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("anthropic: %w", err)
		}
		return m, nil
	case "openai":
		var opts []openai.Option
		if cfg.APIKey != "" {
			opts = append(opts, openai.WithToken(cfg.APIKey))
		}
		if cfg.Model != "" {
			opts = append(opts, openai.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		m, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("openai: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
