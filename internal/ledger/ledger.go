package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abhisek/sensei/internal/logger"
	"github.com/abhisek/sensei/internal/rubric"
	"github.com/abhisek/sensei/internal/store"
)

const maxConflictRetries = 5

// Ledger reads and mutates progress records. Every mutation is a
// read-modify-write guarded by the record version, so the attempt increment
// and the status change land together or not at all.
type Ledger struct {
	policy Policy
	log    *logger.Logger
	now    func() time.Time
}

// New creates a Ledger.
func New(policy Policy, log *logger.Logger) *Ledger {
	if policy.AttemptLimit <= 0 {
		policy.AttemptLimit = DefaultAttemptLimit
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Ledger{policy: policy, log: log.With("service", "ledger"), now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the clock. Used by tests.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Now returns the ledger's current time.
func (l *Ledger) Now() time.Time {
	return l.now()
}

// Policy returns the active policy.
func (l *Ledger) Policy() Policy {
	return l.policy
}

// GetOrCreate returns the record for key, creating a locked record if none
// exists.
func (l *Ledger) GetOrCreate(ctx context.Context, repo store.ProgressRepo, key store.ProgressKey) (*store.ProgressRecord, error) {
	rec, err := repo.GetOrCreate(ctx, key, string(StatusLocked))
	if err != nil {
		return nil, fmt.Errorf("get or create progress %s/%s: %w", key.GoalID, key.ItemID, err)
	}
	return rec, nil
}

// EnsureGoal returns one record per goal item, in declared order.
func (l *Ledger) EnsureGoal(ctx context.Context, repo store.ProgressRepo, userID string, goal *rubric.Goal) ([]*store.ProgressRecord, error) {
	out := make([]*store.ProgressRecord, 0, len(goal.Items))
	for _, it := range goal.Items {
		rec, err := l.GetOrCreate(ctx, repo, store.ProgressKey{UserID: userID, GoalID: goal.ID, ItemID: it.ID})
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// RecordAttempt applies one judged attempt.
func (l *Ledger) RecordAttempt(ctx context.Context, repo store.ProgressRepo, key store.ProgressKey, goal *rubric.Goal, utterance string, v Verdict) (*store.ProgressRecord, Outcome, *Transition, error) {
	var outcome Outcome
	rec, tr, err := l.mutate(ctx, repo, key, func(rec *store.ProgressRecord, now time.Time) (string, error) {
		var err error
		outcome, err = l.policy.ApplyAttempt(rec, goal, utterance, v, now)
		switch outcome {
		case OutcomePassed:
			return "pass", err
		case OutcomeExhausted:
			return "attempt-limit", err
		}
		return "", err
	})
	if err != nil {
		return nil, outcome, nil, err
	}
	l.log.Debug("attempt recorded",
		"goal_id", key.GoalID, "item_id", key.ItemID,
		"attempts", rec.Attempts, "status", rec.Status, "passed", v.Passed)
	return rec, outcome, tr, nil
}

// BeginTopic marks the item as started and stores its topic trace token.
func (l *Ledger) BeginTopic(ctx context.Context, repo store.ProgressRepo, key store.ProgressKey, traceToken string) (*store.ProgressRecord, *Transition, error) {
	return l.mutate(ctx, repo, key, func(rec *store.ProgressRecord, now time.Time) (string, error) {
		l.policy.BeginTopic(rec, now)
		rec.TraceToken = traceToken
		return "topic-start", nil
	})
}

// ForceEngaged ends the item early, e.g. on learner frustration.
func (l *Ledger) ForceEngaged(ctx context.Context, repo store.ProgressRepo, key store.ProgressKey, trigger string) (*store.ProgressRecord, *Transition, error) {
	return l.mutate(ctx, repo, key, func(rec *store.ProgressRecord, now time.Time) (string, error) {
		l.policy.ForceEngaged(rec, now)
		return trigger, nil
	})
}

// Abandon drops the in-flight attempts on an item.
func (l *Ledger) Abandon(ctx context.Context, repo store.ProgressRepo, key store.ProgressKey) (*store.ProgressRecord, error) {
	rec, _, err := l.mutate(ctx, repo, key, func(rec *store.ProgressRecord, _ time.Time) (string, error) {
		l.policy.Abandon(rec)
		return "", nil
	})
	return rec, err
}

// mutate loads the record, applies fn and writes it back, re-reading and
// re-applying when a concurrent writer bumped the version in between.
func (l *Ledger) mutate(ctx context.Context, repo store.ProgressRepo, key store.ProgressKey, fn func(*store.ProgressRecord, time.Time) (string, error)) (*store.ProgressRecord, *Transition, error) {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		rec, err := l.GetOrCreate(ctx, repo, key)
		if err != nil {
			return nil, nil, err
		}
		now := l.now()
		from := EffectiveStatus(rec, now)

		trigger, err := fn(rec, now)
		if err != nil {
			return nil, nil, err
		}

		err = repo.Update(ctx, rec)
		if errors.Is(err, store.ErrConflict) {
			l.log.Debug("progress update conflict, retrying", "goal_id", key.GoalID, "item_id", key.ItemID, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, nil, err
		}

		var tr *Transition
		if to := EffectiveStatus(rec, now); to != from {
			tr = &Transition{ItemID: key.ItemID, From: from, To: to, Trigger: trigger}
		}
		return rec, tr, nil
	}
	return nil, nil, fmt.Errorf("progress %s/%s: %w after %d retries", key.GoalID, key.ItemID, store.ErrConflict, maxConflictRetries)
}

// ItemProgress is the read view of one item.
type ItemProgress struct {
	ItemID             string     `json:"item_id"`
	Title              string     `json:"title"`
	Status             Status     `json:"status"`
	Attempts           int        `json:"attempts"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	CertificationCount int        `json:"certification_count"`
}

// Progress returns the effective status of every goal item in declared
// order. Items without a record read as locked; nothing is created.
func (l *Ledger) Progress(ctx context.Context, repo store.ProgressRepo, userID string, goal *rubric.Goal) ([]ItemProgress, error) {
	recs, err := repo.ListByGoal(ctx, userID, goal.ID)
	if err != nil {
		return nil, err
	}
	byItem := make(map[string]*store.ProgressRecord, len(recs))
	for _, r := range recs {
		byItem[r.ItemID] = r
	}

	now := l.now()
	out := make([]ItemProgress, 0, len(goal.Items))
	for _, it := range goal.Items {
		ip := ItemProgress{ItemID: it.ID, Title: it.DisplayTitle(), Status: StatusLocked}
		if r, ok := byItem[it.ID]; ok {
			ip.Status = EffectiveStatus(r, now)
			ip.Attempts = r.Attempts
			ip.ExpiresAt = r.ExpiresAt
			ip.CertificationCount = r.CertificationCount
		}
		out = append(out, ip)
	}
	return out, nil
}
