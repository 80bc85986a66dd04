package ledger

import (
	"time"
	"unicode/utf8"

	"github.com/abhisek/sensei/internal/rubric"
	"github.com/abhisek/sensei/internal/store"
)

// DefaultAttemptLimit is the number of judged attempts before an item is
// marked engaged.
const DefaultAttemptLimit = 3

const excerptRunes = 280

// Verdict is the judge's decision on one attempt.
type Verdict struct {
	Passed    bool
	Rationale string
}

// Outcome says what an attempt did to the item.
type Outcome int

const (
	OutcomeRetry     Outcome = iota // failed, attempts remain
	OutcomePassed                   // passed, certification set
	OutcomeExhausted                // failed on the last allowed attempt
)

// Policy holds the progress rules.
type Policy struct {
	AttemptLimit int
}

// DefaultPolicy returns the standard policy.
func DefaultPolicy() Policy {
	return Policy{AttemptLimit: DefaultAttemptLimit}
}

// ApplyAttempt mutates rec for one judged attempt and reports the outcome.
// It never lets attempts exceed the limit and never downgrades a current
// pass.
func (p Policy) ApplyAttempt(rec *store.ProgressRecord, goal *rubric.Goal, utterance string, v Verdict, now time.Time) (Outcome, error) {
	if rec.Attempts < p.AttemptLimit {
		rec.Attempts++
	}

	verdict := "fail"
	if v.Passed {
		verdict = "pass"
	}
	err := rec.AppendTrace(store.TraceEntry{
		Attempt:   rec.Attempts,
		Utterance: excerpt(utterance),
		Verdict:   verdict,
		Rationale: v.Rationale,
		At:        now,
	})
	if err != nil {
		return OutcomeRetry, err
	}

	current := EffectiveStatus(rec, now)
	switch {
	case v.Passed:
		rec.Status = string(StatusPassed)
		rec.ExpiresAt = goal.ExpiryFrom(now)
		passedAt := now
		rec.PassedAt = &passedAt
		rec.CertificationCount++
		return OutcomePassed, nil

	case rec.Attempts >= p.AttemptLimit:
		if current != StatusPassed {
			rec.Status = string(StatusEngaged)
		}
		return OutcomeExhausted, nil

	default:
		if current == StatusLocked || current == StatusExpired {
			rec.Status = string(StatusInProgress)
		}
		return OutcomeRetry, nil
	}
}

// BeginTopic prepares a record when the learner starts (or returns to) the
// item. Engaged items keep their status but get a fresh attempt budget.
func (p Policy) BeginTopic(rec *store.ProgressRecord, now time.Time) {
	switch EffectiveStatus(rec, now) {
	case StatusLocked, StatusExpired:
		rec.Status = string(StatusInProgress)
		rec.Attempts = 0
	case StatusEngaged:
		rec.Attempts = 0
	}
}

// ForceEngaged ends the item early: the status becomes engaged unless the
// item is currently passed, and attempts reset.
func (p Policy) ForceEngaged(rec *store.ProgressRecord, now time.Time) {
	if EffectiveStatus(rec, now) != StatusPassed {
		rec.Status = string(StatusEngaged)
	}
	rec.Attempts = 0
}

// Abandon drops the in-flight attempt count without touching the status.
func (p Policy) Abandon(rec *store.ProgressRecord) {
	rec.Attempts = 0
}

func excerpt(s string) string {
	if utf8.RuneCountInString(s) <= excerptRunes {
		return s
	}
	r := []rune(s)
	return string(r[:excerptRunes]) + "…"
}
