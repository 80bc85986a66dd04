package llm

import (
	"context"
	"fmt"

	"github.com/abhisek/sensei/internal/logger"
	"github.com/abhisek/sensei/internal/store"
)

// NewProvider creates a Provider from configuration, wrapped with a
// per-call timeout, retry and event logging. events may be nil to skip the
// request log.
func NewProvider(ctx context.Context, cfg Config, events store.EventRepo, log *logger.Logger) (Provider, error) {
	var base Provider
	var err error

	switch cfg.Provider {
	case "anthropic":
		base, err = NewAnthropicProvider(cfg.Anthropic)
	case "openai":
		base, err = NewOpenAIProvider(cfg.OpenAI)
	case "gemini":
		base, err = NewGeminiProvider(ctx, cfg.Gemini)
	case "openrouter":
		base, err = NewOpenRouterProvider(cfg.OpenRouter)
	case "mock":
		base = NewMockProvider()
	default:
		return nil, fmt.Errorf("unknown LLM provider: %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing %s provider: %w", cfg.Provider, err)
	}

	// caller → timeout → retry → logging → base
	logged := WithLogging(base, events, log)
	return WithTimeout(WithRetry(logged, cfg.Retry), cfg.Timeout), nil
}

// NewProviderFromEnv resolves configuration from SENSEI_* variables, falling
// back to the vendors' standard key variables, and builds a Provider.
func NewProviderFromEnv(ctx context.Context, events store.EventRepo, log *logger.Logger) (Provider, error) {
	cfg := ConfigFromEnv()
	if err := cfg.Validate(); err != nil {
		discovered, ok := DiscoverConfig()
		if !ok {
			return nil, err
		}
		cfg = discovered
	}
	return NewProvider(ctx, cfg, events, log)
}
