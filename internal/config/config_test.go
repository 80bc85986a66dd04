package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/sensei/internal/llm"
)

// isolate points the default config path at an empty directory.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return dir
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 3, cfg.Tutoring.AttemptLimit)
	assert.Equal(t, 90, cfg.Tutoring.CertificationDays)
	assert.Equal(t, 90*24*time.Hour, cfg.Tutoring.CertificationPeriod())
	assert.Equal(t, 5, cfg.Tutoring.FrustrationWindow)
	assert.Equal(t, 0.5, cfg.Tutoring.HandoffThreshold)
	assert.Equal(t, 20*time.Second, cfg.Tutoring.EvaluationTimeout)
	assert.Contains(t, cfg.Tutoring.FrustrationPhrases, "i give up")
	assert.Equal(t, "sensei", cfg.Tracing.ServiceName)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := isolate(t)
	path := writeConfig(t, dir, `
server:
  addr: 127.0.0.1:9000
  mode: debug
tutoring:
  attempt_limit: 5
  certification_days: 30
  handoff_threshold: 0.75
  evaluation_timeout: 5s
  frustration_phrases:
    - "nope"
    - "enough"
tracing:
  enabled: true
  endpoint: localhost:4318
  sample_ratio: 1
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Server.Mode)
	assert.Equal(t, 5, cfg.Tutoring.AttemptLimit)
	assert.Equal(t, 30*24*time.Hour, cfg.Tutoring.CertificationPeriod())
	assert.Equal(t, 0.75, cfg.Tutoring.HandoffThreshold)
	assert.Equal(t, 5*time.Second, cfg.Tutoring.EvaluationTimeout)
	assert.Equal(t, []string{"nope", "enough"}, cfg.Tutoring.FrustrationPhrases)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, 1.0, cfg.Tracing.SampleRatio)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := isolate(t)
	path := writeConfig(t, dir, "tutoring:\n  attempt_limit: 5\n")

	t.Setenv("SENSEI_TUTORING_ATTEMPT_LIMIT", "4")
	t.Setenv("SENSEI_TUTORING_HANDOFF_THRESHOLD", "0.6")
	t.Setenv("SENSEI_DATABASE_DSN", "postgres://localhost/sensei")
	t.Setenv("SENSEI_LLM_PROVIDER", "mock")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Tutoring.AttemptLimit)
	assert.Equal(t, 0.6, cfg.Tutoring.HandoffThreshold)
	assert.Equal(t, "postgres://localhost/sensei", cfg.Database.DSN)
	assert.Equal(t, "mock", cfg.LLM.Provider)
}

func TestLoad_EnvListSplitsOnCommas(t *testing.T) {
	dir := isolate(t)
	path := writeConfig(t, dir, "tutoring:\n  frustration_phrases: [give up]\n")

	t.Setenv("SENSEI_TUTORING_FRUSTRATION_PHRASES", "i quit, no more ,,this is pointless")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"i quit", "no more", "this is pointless"}, cfg.Tutoring.FrustrationPhrases)
}

func TestEnvValue(t *testing.T) {
	key, v := envValue("SENSEI_TUTORING_FRUSTRATION_PHRASES", "i quit,no more")
	assert.Equal(t, "tutoring.frustration_phrases", key)
	assert.Equal(t, []string{"i quit", "no more"}, v)

	key, v = envValue("SENSEI_SERVER_ADDR", ":9090,:9091")
	assert.Equal(t, "server.addr", key)
	assert.Equal(t, ":9090,:9091", v)
}

func TestLoad_DefaultPathIsOptional(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sensei"), 0o700))
	writeConfig(t, filepath.Join(dir, "sensei"), "server:\n  addr: :7070\n")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
}

func TestLoad_Errors(t *testing.T) {
	dir := isolate(t)

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err, "explicit missing path")

	bad := writeConfig(t, dir, "tutoring:\n  handoff_threshold: 1.5\n")
	_, err = Load(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tutoring.handoff_threshold")

	_, err = Load(dir)
	assert.Error(t, err, "directory path")
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Tutoring.AttemptLimit = -1
	cfg.Logging.Mode = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "attempt_limit")
	assert.Contains(t, err.Error(), "logging.mode")
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"SENSEI_TUTORING_ATTEMPT_LIMIT": "tutoring.attempt_limit",
		"SENSEI_SERVER_ADDR":            "server.addr",
		"SENSEI_DB":                     "db",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKey(in), in)
	}
}

func TestApplyLLM(t *testing.T) {
	cfg := Default()
	cfg.LLM = LLMConfig{Provider: "openai", Model: "gpt-4.1-mini", Timeout: 7 * time.Second}

	got := cfg.ApplyLLM(llm.DefaultConfig())
	assert.Equal(t, "openai", got.Provider)
	assert.Equal(t, "gpt-4.1-mini", got.OpenAI.Model)
	assert.Equal(t, 7*time.Second, got.Timeout)
	assert.Equal(t, "claude-haiku", got.Anthropic.Model)
}
