package llm

import (
	"context"

	"github.com/m4xw311/shellmind/config"
	"github.com/m4xw311/shellmind/errors"
)

// NewClient builds the provider client selected by the configuration.
// Missing credentials are reported as a fatal gateway error.
func NewClient(ctx context.Context, cfg *config.Config) (Client, error) {
	provider := cfg.LLM.Provider
	var (
		client Client
		err    error
	)
	switch provider {
	case config.ProviderGroq:
		client, err = newCompatible(cfg, "GROQ_API_KEY", GroqBaseURL)
	case config.ProviderOpenRouter:
		client, err = newCompatible(cfg, "OPENROUTER_API_KEY", OpenRouterBaseURL)
	case config.ProviderOpenAI:
		client, err = newCompatible(cfg, "OPENAI_API_KEY", "")
	case config.ProviderAnthropic:
		client, err = NewAnthropicClient(cfg.APIKey(), cfg.LLM.Model)
	case config.ProviderBedrock:
		client, err = NewBedrockClient(ctx, cfg.LLM.Model)
	case config.ProviderGemini:
		client, err = NewGeminiClient(ctx, cfg.APIKey(), cfg.LLM.Model)
	case config.ProviderMock:
		client = &MockClient{}
	default:
		return nil, fatalf(provider, "unknown llm provider %q", provider)
	}
	if err != nil {
		var gerr *GatewayError
		if errors.As(err, &gerr) {
			return nil, gerr
		}
		return nil, &GatewayError{Kind: Fatal, Provider: provider, Err: err}
	}
	return client, nil
}

func newCompatible(cfg *config.Config, keyVar, baseURL string) (Client, error) {
	if cfg.APIKey() == "" {
		return nil, fatalf(cfg.LLM.Provider, "%s environment variable not set", keyVar)
	}
	if cfg.LLM.BaseURL != "" {
		baseURL = cfg.LLM.BaseURL
	}
	return NewOpenAIClient(cfg.APIKey(), baseURL, cfg.LLM.Model)
}
