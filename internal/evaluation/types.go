// Package evaluation judges one learner attempt against one rubric item
// with a single language-model call. It fails closed: anything other than
// a well-formed verdict is an error, never a pass.
package evaluation

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Turn is one transcript line offered to the judge as context.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RubricContext is optional background for the judge. The zero value means
// no context.
type RubricContext struct {
	GoalTitle       string
	RecentTurns     []Turn
	ArtifactExcerpt string
}

// IsZero reports whether no context was supplied.
func (c RubricContext) IsZero() bool {
	return c.GoalTitle == "" && len(c.RecentTurns) == 0 && c.ArtifactExcerpt == ""
}

// Request is the input for one evaluation.
type Request struct {
	ItemID         string
	ItemTitle      string
	Criterion      string
	PassIndicators []string
	Utterance      string
	Context        RubricContext
}

// Result is a verdict from the judge.
type Result struct {
	Passed    bool
	Rationale string
	Model     string
	Latency   time.Duration
}

// ParseError means the judge answered but the answer was not a valid
// verdict.
type ParseError struct {
	Content json.RawMessage
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unparseable verdict: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ServiceError means no verdict was obtained: transport, provider or
// timeout failure.
type ServiceError struct {
	Timeout bool
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("judge timed out: %v", e.Err)
	}
	return fmt.Sprintf("judge unavailable: %v", e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Kind labels an evaluation error for metrics and logs: "parse",
// "service", or "" when err is neither.
func Kind(err error) string {
	var pe *ParseError
	if errors.As(err, &pe) {
		return "parse"
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return "service"
	}
	return ""
}
