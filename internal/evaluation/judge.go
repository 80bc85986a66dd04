package evaluation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/abhisek/sensei/internal/llm"
	"github.com/abhisek/sensei/internal/logger"
	"github.com/abhisek/sensei/internal/metrics"
)

// Purpose tags judge calls in the LLM request log.
const Purpose = "evaluation"

// DefaultTimeout bounds one judge call.
const DefaultTimeout = 20 * time.Second

// Config holds judge settings.
type Config struct {
	MaxTokens     int
	Temperature   float64
	Timeout       time.Duration
	MinIndicators int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxTokens:     200,
		Temperature:   0,
		Timeout:       DefaultTimeout,
		MinIndicators: 2,
	}
}

// Judge evaluates attempts with one provider call each.
type Judge struct {
	provider llm.Provider
	cfg      Config
	system   string
	log      *logger.Logger
	metrics  *metrics.Metrics
}

// NewJudge creates a Judge. Zero config fields take their defaults.
func NewJudge(provider llm.Provider, cfg Config, log *logger.Logger) (*Judge, error) {
	def := DefaultConfig()
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MinIndicators <= 0 {
		cfg.MinIndicators = def.MinIndicators
	}
	if log == nil {
		log = logger.NewNop()
	}
	system, err := buildSystemPrompt(cfg.MinIndicators)
	if err != nil {
		return nil, fmt.Errorf("build judge prompt: %w", err)
	}
	return &Judge{
		provider: provider,
		cfg:      cfg,
		system:   system,
		log:      log.With("service", "evaluation"),
		metrics:  metrics.Get(),
	}, nil
}

type verdictOutput struct {
	Passed    *bool   `json:"passed"`
	Rationale *string `json:"rationale"`
}

// Evaluate judges req. On error the attempt must be treated as not passed
// and not counted; the error is a *ParseError or a *ServiceError.
func (j *Judge) Evaluate(ctx context.Context, req *Request) (*Result, error) {
	if strings.TrimSpace(req.Criterion) == "" {
		return nil, fmt.Errorf("evaluate %s: empty criterion", req.ItemID)
	}
	userMsg, err := buildUserMessage(req)
	if err != nil {
		return nil, fmt.Errorf("build judge message: %w", err)
	}

	// One verdict, one provider call.
	ctx = llm.WithSingleAttempt(llm.WithPurpose(ctx, Purpose))
	ctx, cancel := context.WithTimeout(ctx, j.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := j.provider.Generate(ctx, llm.Request{
		System:      j.system,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: userMsg}},
		Schema:      VerdictSchema,
		MaxTokens:   j.cfg.MaxTokens,
		Temperature: j.cfg.Temperature,
	})
	latency := time.Since(start)

	if err != nil {
		err = classify(ctx, err)
		j.fail(req, err, latency)
		return nil, err
	}

	out, err := parseVerdict(resp.Content)
	if err != nil {
		j.fail(req, err, latency)
		return nil, err
	}

	j.metrics.RecordVerdict(out.Passed, latency)
	j.log.Debug("attempt judged", "item_id", req.ItemID, "passed", out.Passed, "latency_ms", latency.Milliseconds())
	out.Model = resp.Model
	out.Latency = latency
	return out, nil
}

func (j *Judge) fail(req *Request, err error, latency time.Duration) {
	kind := Kind(err)
	j.metrics.RecordEvaluationError(kind, latency)
	j.log.Warn("evaluation failed closed", "item_id", req.ItemID, "kind", kind, "error", err)
}

// classify maps a provider error to ParseError or ServiceError.
func classify(ctx context.Context, err error) error {
	var invalid *llm.ErrInvalidResponse
	if errors.As(err, &invalid) {
		return &ParseError{Content: invalid.Content, Err: err}
	}
	var truncated *llm.ErrMaxTokensExceeded
	if errors.As(err, &truncated) {
		return &ParseError{Content: truncated.Content, Err: err}
	}
	var timedOut *llm.ErrTimeout
	timeout := errors.As(err, &timedOut) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(ctx.Err(), context.DeadlineExceeded)
	return &ServiceError{Timeout: timeout, Err: err}
}

// parseVerdict decodes content strictly: exactly one JSON object with both
// fields and nothing else.
func parseVerdict(content json.RawMessage) (*Result, error) {
	dec := json.NewDecoder(bytes.NewReader(content))
	dec.DisallowUnknownFields()

	var out verdictOutput
	if err := dec.Decode(&out); err != nil {
		return nil, &ParseError{Content: content, Err: err}
	}
	if dec.More() {
		return nil, &ParseError{Content: content, Err: errors.New("trailing data after verdict")}
	}
	if out.Passed == nil {
		return nil, &ParseError{Content: content, Err: errors.New("missing passed")}
	}
	if out.Rationale == nil {
		return nil, &ParseError{Content: content, Err: errors.New("missing rationale")}
	}
	return &Result{Passed: *out.Passed, Rationale: strings.TrimSpace(*out.Rationale)}, nil
}
