package llm

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every provider environment variable.
const EnvPrefix = "SENSEI_"

// Config holds all LLM provider configuration.
type Config struct {
	// Provider selects which LLM provider judges answers.
	// Values: "anthropic", "openai", "gemini", "openrouter", "mock"
	Provider string

	Anthropic  AnthropicConfig
	OpenAI     OpenAIConfig
	Gemini     GeminiConfig
	OpenRouter OpenRouterConfig
	Retry      RetryConfig

	// Timeout bounds one Generate call, retries and backoff included.
	// Zero disables it. Default: 30s.
	Timeout time.Duration
}

// AnthropicConfig holds Anthropic-specific configuration.
type AnthropicConfig struct {
	APIKey  string
	Model   string // Default: "claude-haiku"
	BaseURL string // Optional. Overrides the API endpoint.
}

// OpenAIConfig holds OpenAI-specific configuration.
type OpenAIConfig struct {
	APIKey  string
	Model   string // Default: "gpt-4o-mini"
	BaseURL string // Optional. Any OpenAI-compatible endpoint.
}

// GeminiConfig holds Gemini-specific configuration.
type GeminiConfig struct {
	APIKey  string
	Model   string // Default: "gemini-flash"
	BaseURL string // Optional. Overrides the API endpoint.
}

// OpenRouterConfig holds OpenRouter-specific configuration.
type OpenRouterConfig struct {
	APIKey  string
	Model   string // Default: "google/gemini-2.0-flash-exp"
	BaseURL string // Default: "https://openrouter.ai/api/v1"
}

// RetryConfig configures retry behavior for transient failures.
type RetryConfig struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
}

// DefaultConfig returns a Config with sensible defaults. A judgment is one
// provider call, so retries are off unless SENSEI_LLM_MAX_ATTEMPTS asks for
// them.
func DefaultConfig() Config {
	return Config{
		Provider:   "anthropic",
		Anthropic:  AnthropicConfig{Model: "claude-haiku"},
		OpenAI:     OpenAIConfig{Model: "gpt-4o-mini"},
		Gemini:     GeminiConfig{Model: "gemini-flash"},
		OpenRouter: OpenRouterConfig{Model: "google/gemini-2.0-flash-exp"},
		Retry: RetryConfig{
			MaxAttempts: 1,
			InitialWait: 500 * time.Millisecond,
			MaxWait:     4 * time.Second,
			Multiplier:  2.0,
		},
		Timeout: 30 * time.Second,
	}
}

// envBinding maps one SENSEI_* variable onto a Config field.
type envBinding struct {
	name string
	set  func(*Config, string)
}

var envBindings = []envBinding{
	{"LLM_PROVIDER", func(c *Config, v string) { c.Provider = v }},
	{"ANTHROPIC_API_KEY", func(c *Config, v string) { c.Anthropic.APIKey = v }},
	{"ANTHROPIC_MODEL", func(c *Config, v string) { c.Anthropic.Model = v }},
	{"ANTHROPIC_BASE_URL", func(c *Config, v string) { c.Anthropic.BaseURL = v }},
	{"OPENAI_API_KEY", func(c *Config, v string) { c.OpenAI.APIKey = v }},
	{"OPENAI_MODEL", func(c *Config, v string) { c.OpenAI.Model = v }},
	{"OPENAI_BASE_URL", func(c *Config, v string) { c.OpenAI.BaseURL = v }},
	{"GEMINI_API_KEY", func(c *Config, v string) { c.Gemini.APIKey = v }},
	{"GEMINI_MODEL", func(c *Config, v string) { c.Gemini.Model = v }},
	{"GEMINI_BASE_URL", func(c *Config, v string) { c.Gemini.BaseURL = v }},
	{"OPENROUTER_API_KEY", func(c *Config, v string) { c.OpenRouter.APIKey = v }},
	{"OPENROUTER_MODEL", func(c *Config, v string) { c.OpenRouter.Model = v }},
	{"OPENROUTER_BASE_URL", func(c *Config, v string) { c.OpenRouter.BaseURL = v }},
	{"LLM_MAX_ATTEMPTS", func(c *Config, v string) {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Retry.MaxAttempts = n
		}
	}},
	{"LLM_TIMEOUT", func(c *Config, v string) {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Timeout = d
		}
	}},
}

// ConfigFromEnv builds a Config from SENSEI_* environment variables,
// falling back to defaults for unset values.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	for _, b := range envBindings {
		if v := os.Getenv(EnvPrefix + b.name); v != "" {
			b.set(&cfg, v)
		}
	}
	return cfg
}

// DiscoverConfig probes the vendors' standard API key variables in priority
// order (Anthropic → OpenAI → Gemini → OpenRouter) and returns a Config for
// the first one found. Returns (Config{}, false) if none is set.
func DiscoverConfig() (Config, bool) {
	cfg := DefaultConfig()
	probes := []struct {
		env      string
		provider string
		set      func(string)
	}{
		{"ANTHROPIC_API_KEY", "anthropic", func(k string) { cfg.Anthropic.APIKey = k }},
		{"OPENAI_API_KEY", "openai", func(k string) { cfg.OpenAI.APIKey = k }},
		{"GEMINI_API_KEY", "gemini", func(k string) { cfg.Gemini.APIKey = k }},
		{"OPENROUTER_API_KEY", "openrouter", func(k string) { cfg.OpenRouter.APIKey = k }},
	}
	for _, p := range probes {
		if k := os.Getenv(p.env); k != "" {
			cfg.Provider = p.provider
			p.set(k)
			return cfg, true
		}
	}
	return Config{}, false
}

// HasCredentials reports whether the selected provider has an API key.
func (c Config) HasCredentials() bool {
	return c.Validate() == nil
}

// Validate checks that the selected provider has its required API key set.
func (c Config) Validate() error {
	var key string
	switch c.Provider {
	case "anthropic":
		key = c.Anthropic.APIKey
	case "openai":
		key = c.OpenAI.APIKey
	case "gemini":
		key = c.Gemini.APIKey
	case "openrouter":
		key = c.OpenRouter.APIKey
	case "mock":
		return nil
	default:
		return fmt.Errorf("unknown LLM provider: %q", c.Provider)
	}
	if key == "" {
		return fmt.Errorf("%s%s_API_KEY is required for the %s provider", EnvPrefix, strings.ToUpper(c.Provider), c.Provider)
	}
	return nil
}
