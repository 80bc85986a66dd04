// Package config loads sensei configuration from a YAML file and SENSEI_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/abhisek/sensei/internal/engagement"
	"github.com/abhisek/sensei/internal/evaluation"
	"github.com/abhisek/sensei/internal/frustration"
	"github.com/abhisek/sensei/internal/ledger"
	"github.com/abhisek/sensei/internal/llm"
	"github.com/abhisek/sensei/internal/rubric"
)

// Config is the complete configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	LLM      LLMConfig      `koanf:"llm"`
	Tutoring TutoringConfig `koanf:"tutoring"`
	Logging  LoggingConfig  `koanf:"logging"`
	Tracing  TracingConfig  `koanf:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	Mode            string        `koanf:"mode"` // gin mode: debug, release, test
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig selects the store. An empty DSN uses the default SQLite
// file.
type DatabaseConfig struct {
	DSN string `koanf:"dsn"`
}

// LLMConfig overrides the provider chosen from the environment.
// Credentials always come from SENSEI_<PROVIDER>_API_KEY.
type LLMConfig struct {
	Provider string        `koanf:"provider"`
	Model    string        `koanf:"model"`
	Timeout  time.Duration `koanf:"timeout"`
}

// TutoringConfig holds the progression rules.
type TutoringConfig struct {
	AttemptLimit       int           `koanf:"attempt_limit"`
	CertificationDays  int           `koanf:"certification_days"`
	FrustrationPhrases []string      `koanf:"frustration_phrases"`
	FrustrationWindow  int           `koanf:"frustration_window"`
	HandoffThreshold   float64       `koanf:"handoff_threshold"`
	EvaluationTimeout  time.Duration `koanf:"evaluation_timeout"`
	MaxUtteranceRunes  int           `koanf:"max_utterance_runes"`
	ContextTurns       int           `koanf:"context_turns"`
}

// LoggingConfig selects the zap preset and level.
type LoggingConfig struct {
	Mode  string `koanf:"mode"` // development or production
	Level string `koanf:"level"`
}

// TracingConfig controls span export.
type TracingConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Insecure    bool    `koanf:"insecure"`
	SampleRatio float64 `koanf:"sample_ratio"`
	ServiceName string  `koanf:"service_name"`
}

// CertificationPeriod returns the default certification period.
func (t TutoringConfig) CertificationPeriod() time.Duration {
	return time.Duration(t.CertificationDays) * 24 * time.Hour
}

// ApplyLLM overlays the file and SENSEI_LLM_* settings onto an LLM
// provider configuration.
func (c *Config) ApplyLLM(base llm.Config) llm.Config {
	if c.LLM.Provider != "" {
		base.Provider = c.LLM.Provider
	}
	if c.LLM.Timeout > 0 {
		base.Timeout = c.LLM.Timeout
	}
	if m := c.LLM.Model; m != "" {
		switch base.Provider {
		case "anthropic":
			base.Anthropic.Model = m
		case "openai":
			base.OpenAI.Model = m
		case "gemini":
			base.Gemini.Model = m
		case "openrouter":
			base.OpenRouter.Model = m
		}
	}
	return base
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "release"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	t := &cfg.Tutoring
	if t.AttemptLimit == 0 {
		t.AttemptLimit = ledger.DefaultAttemptLimit
	}
	if t.CertificationDays == 0 {
		t.CertificationDays = int(rubric.DefaultCertificationPeriod / (24 * time.Hour))
	}
	if len(t.FrustrationPhrases) == 0 {
		t.FrustrationPhrases = append([]string(nil), frustration.DefaultPhrases...)
	}
	if t.FrustrationWindow == 0 {
		t.FrustrationWindow = frustration.DefaultWindow
	}
	if t.HandoffThreshold == 0 {
		t.HandoffThreshold = engagement.DefaultThreshold
	}
	if t.EvaluationTimeout == 0 {
		t.EvaluationTimeout = evaluation.DefaultTimeout
	}
	if t.MaxUtteranceRunes == 0 {
		t.MaxUtteranceRunes = 4000
	}
	if t.ContextTurns == 0 {
		t.ContextTurns = 6
	}

	if cfg.Logging.Mode == "" {
		cfg.Logging.Mode = "production"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "sensei"
	}
	if cfg.Tracing.SampleRatio == 0 {
		cfg.Tracing.SampleRatio = 0.1
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error
	t := c.Tutoring
	if t.AttemptLimit < 1 {
		errs = append(errs, fmt.Errorf("tutoring.attempt_limit must be at least 1, got %d", t.AttemptLimit))
	}
	if t.CertificationDays < 1 {
		errs = append(errs, fmt.Errorf("tutoring.certification_days must be at least 1, got %d", t.CertificationDays))
	}
	if t.FrustrationWindow < 1 {
		errs = append(errs, fmt.Errorf("tutoring.frustration_window must be at least 1, got %d", t.FrustrationWindow))
	}
	if t.HandoffThreshold <= 0 || t.HandoffThreshold > 1 {
		errs = append(errs, fmt.Errorf("tutoring.handoff_threshold must be in (0, 1], got %v", t.HandoffThreshold))
	}
	if t.EvaluationTimeout < 0 {
		errs = append(errs, fmt.Errorf("tutoring.evaluation_timeout must not be negative"))
	}
	if t.MaxUtteranceRunes < 1 {
		errs = append(errs, fmt.Errorf("tutoring.max_utterance_runes must be at least 1"))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_ratio must be in [0, 1], got %v", c.Tracing.SampleRatio))
	}
	switch strings.ToLower(c.Logging.Mode) {
	case "development", "production":
	default:
		errs = append(errs, fmt.Errorf("logging.mode must be development or production, got %q", c.Logging.Mode))
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		errs = append(errs, fmt.Errorf("server.mode must be debug, release or test, got %q", c.Server.Mode))
	}
	return errors.Join(errs...)
}
