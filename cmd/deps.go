package cmd

import (
	"context"
	"fmt"

	"github.com/abhisek/sensei/internal/config"
	"github.com/abhisek/sensei/internal/engagement"
	"github.com/abhisek/sensei/internal/evaluation"
	"github.com/abhisek/sensei/internal/frustration"
	"github.com/abhisek/sensei/internal/ledger"
	"github.com/abhisek/sensei/internal/llm"
	"github.com/abhisek/sensei/internal/logger"
	"github.com/abhisek/sensei/internal/session"
	"github.com/abhisek/sensei/internal/store"
	"github.com/abhisek/sensei/internal/tracing"
	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// runtime holds everything a command needs to serve session operations.
type runtime struct {
	cfg   *config.Config
	log   *logger.Logger
	store *store.Store
	tp    *sdktrace.TracerProvider
	gate  *engagement.Gate
	orch  *session.Orchestrator
}

// buildOptions tune buildRuntime for the calling command.
type buildOptions struct {
	// requireLLM fails when no provider is configured. Commands that never
	// judge an attempt fall back to an offline provider.
	requireLLM bool
	// quiet discards logs, for the terminal client.
	quiet bool
}

func buildRuntime(cmd *cobra.Command, opts buildOptions) (*runtime, error) {
	ctx := cmd.Context()

	st, cfg, err := openStore(cmd)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, store: st}

	if opts.quiet {
		rt.log = logger.NewNop()
	} else {
		rt.log, err = logger.New(cfg.Logging.Mode, cfg.Logging.Level)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("init logger: %w", err)
		}
	}

	rt.tp, err = tracing.Init(ctx, rt.log, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Version:     version,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		rt.close(ctx)
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	provider, err := newProvider(ctx, cfg, st.EventRepo(), rt.log)
	if err != nil {
		if opts.requireLLM {
			rt.close(ctx)
			return nil, fmt.Errorf("LLM provider not configured: %w", err)
		}
		rt.log.Debug("LLM provider not configured, judging disabled", "error", err)
		provider = llm.NewMockProvider()
	}

	judge, err := evaluation.NewJudge(provider, evaluation.Config{
		Timeout: cfg.Tutoring.EvaluationTimeout,
	}, rt.log)
	if err != nil {
		rt.close(ctx)
		return nil, fmt.Errorf("init judge: %w", err)
	}

	t := cfg.Tutoring
	rt.gate = engagement.New(t.HandoffThreshold)
	rt.orch, err = session.New(session.Deps{
		Store:    st,
		Ledger:   ledger.New(ledger.Policy{AttemptLimit: t.AttemptLimit}, rt.log),
		Judge:    judge,
		Detector: frustration.New(t.FrustrationPhrases, t.FrustrationWindow),
		Gate:     rt.gate,
		Tracer:   tracing.NewPropagator(rt.tp),
		Logger:   rt.log,
	}, session.Options{
		MaxUtteranceRunes: t.MaxUtteranceRunes,
		ContextTurns:      t.ContextTurns,
	})
	if err != nil {
		rt.close(ctx)
		return nil, fmt.Errorf("init orchestrator: %w", err)
	}
	return rt, nil
}

// newProvider resolves credentials from the environment and overlays the
// config file's provider and model choice.
func newProvider(ctx context.Context, cfg *config.Config, events store.EventRepo, log *logger.Logger) (llm.Provider, error) {
	base := llm.ConfigFromEnv()
	if cfg.LLM.Provider == "" && base.Validate() != nil {
		if discovered, ok := llm.DiscoverConfig(); ok {
			base = discovered
		}
	}
	lc := cfg.ApplyLLM(base)
	if err := lc.Validate(); err != nil {
		return nil, err
	}
	return llm.NewProvider(ctx, lc, events, log)
}

func (rt *runtime) close(ctx context.Context) {
	if rt.tp != nil {
		if err := rt.tp.Shutdown(ctx); err != nil && rt.log != nil {
			rt.log.Warn("tracer shutdown failed", "error", err)
		}
	}
	if rt.log != nil {
		rt.log.Sync()
	}
	rt.store.Close()
}
