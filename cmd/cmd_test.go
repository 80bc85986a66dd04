package cmd

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	config string
	db     string
}

func newEnv(t *testing.T) env {
	t.Helper()
	dir := t.TempDir()
	cfg := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("logging:\n  mode: development\n  level: error\n"), 0o644))
	return env{config: cfg, db: filepath.Join(dir, "data", "sensei.db")}
}

// execute runs the root command with the environment's config and database.
func (e env) execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	require.NoError(t, seedCmd.Flags().Set("force", "false"))
	require.NoError(t, handoffCmd.Flags().Set("override", ""))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(append(args, "--config", e.config, "--db", e.db))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (e env) seed(t *testing.T) {
	t.Helper()
	out, err := e.execute(t, "seed", "../configs/catalog.yaml")
	require.NoError(t, err)
	require.Contains(t, out, "Seeded catalog 1.0.0: 3 goals, 9 items.")
}

func TestSeed(t *testing.T) {
	e := newEnv(t)
	e.seed(t)

	// Reseeding the same version is allowed.
	_, err := e.execute(t, "seed", "../configs/catalog.yaml")
	require.NoError(t, err)
}

func TestSeed_RefusesDowngrade(t *testing.T) {
	e := newEnv(t)
	e.seed(t)

	older := filepath.Join(t.TempDir(), "old.yaml")
	require.NoError(t, os.WriteFile(older, []byte(`version: 0.9.0
goals:
  - id: recursion
    title: Recursion
    items:
      - id: base_case
        criterion: Explains the base case.
        pass_indicators: [stops, returns]
        hints: [When does it stop?]
`), 0o644))

	_, err := e.execute(t, "seed", older)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "older than the stored 1.0.0")

	out, err := e.execute(t, "seed", older, "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "Seeded catalog 0.9.0: 1 goals, 1 items.")
}

func TestSeed_InvalidCatalog(t *testing.T) {
	e := newEnv(t)
	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(`version: 1.0.0
goals:
  - id: g
    items:
      - id: a
        criterion: ""
`), 0o644))

	_, err := e.execute(t, "seed", bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty criterion")
}

func TestProgress(t *testing.T) {
	e := newEnv(t)
	e.seed(t)

	out, err := e.execute(t, "progress", "learner-1", "recursion")
	require.NoError(t, err)
	assert.Contains(t, out, "Base case")
	assert.Contains(t, out, "Tail calls")
	assert.Contains(t, out, "locked")
	assert.Contains(t, out, "Engagement 0/4 (0%), handoff threshold 50%")
}

func TestProgress_UnknownGoal(t *testing.T) {
	e := newEnv(t)
	e.seed(t)

	_, err := e.execute(t, "progress", "learner-1", "astronomy")
	require.Error(t, err)
}

func TestHandoff(t *testing.T) {
	e := newEnv(t)
	e.seed(t)

	out, err := e.execute(t, "handoff", "learner-1", "recursion")
	require.NoError(t, err)
	assert.Contains(t, out, "Handoff not yet allowed. Engagement 0%, 2 more concepts needed.")

	out, err = e.execute(t, "handoff", "learner-1", "recursion", "--override", "instructor review")
	require.NoError(t, err)
	assert.Contains(t, out, "Handoff granted by override (instructor review).")
}

func TestLLMList_Empty(t *testing.T) {
	e := newEnv(t)

	out, err := e.execute(t, "llm", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No LLM events found.")

	out, err = e.execute(t, "llm", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "No LLM usage recorded yet.")
}

func TestVersion(t *testing.T) {
	e := newEnv(t)
	out, err := e.execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "sensei (devel)\n", out)
}
