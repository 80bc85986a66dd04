// Package engagement decides whether a learner has covered enough of a goal
// to be handed off for human review.
package engagement

import (
	"math"
	"strings"
	"time"

	"github.com/abhisek/sensei/internal/ledger"
	"github.com/abhisek/sensei/internal/rubric"
	"github.com/abhisek/sensei/internal/store"
)

// DefaultThreshold is the minimum engagement ratio for a handoff.
const DefaultThreshold = 0.5

// Decision is the gate's answer for one user and goal.
type Decision struct {
	Allowed    bool    `json:"allowed"`
	Ratio      float64 `json:"ratio"`
	Counted    int     `json:"counted"`
	Total      int     `json:"total"`
	Needed     int     `json:"needed"`
	Overridden bool    `json:"overridden"`
	Reason     string  `json:"override_reason,omitempty"`
}

// Gate computes engagement ratios against a threshold.
type Gate struct {
	threshold float64
}

// New creates a Gate. A threshold outside (0, 1] falls back to
// DefaultThreshold.
func New(threshold float64) *Gate {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Gate{threshold: threshold}
}

// Threshold returns the configured threshold.
func (g *Gate) Threshold() float64 {
	return g.threshold
}

// Ratio returns the share of goal items whose effective status is passed or
// engaged, and that count. Items with no record count as locked. A goal
// with no items has ratio 1.
func Ratio(goal *rubric.Goal, recs []*store.ProgressRecord, now time.Time) (float64, int) {
	total := len(goal.Items)
	if total == 0 {
		return 1, 0
	}
	byItem := make(map[string]*store.ProgressRecord, len(recs))
	for _, r := range recs {
		byItem[r.ItemID] = r
	}
	counted := 0
	for _, it := range goal.Items {
		r, ok := byItem[it.ID]
		if ok && ledger.EffectiveStatus(r, now).Terminal() {
			counted++
		}
	}
	return float64(counted) / float64(total), counted
}

// Decide evaluates the gate. A non-blank overrideReason allows the handoff
// regardless of the ratio; the caller records the reason.
func (g *Gate) Decide(goal *rubric.Goal, recs []*store.ProgressRecord, now time.Time, overrideReason string) Decision {
	ratio, counted := Ratio(goal, recs, now)
	total := len(goal.Items)

	d := Decision{
		Ratio:   ratio,
		Counted: counted,
		Total:   total,
		Allowed: ratio >= g.threshold,
	}
	if need := int(math.Ceil(g.threshold*float64(total)-1e-9)) - counted; need > 0 {
		d.Needed = need
	}
	if reason := strings.TrimSpace(overrideReason); reason != "" {
		d.Reason = reason
		if !d.Allowed {
			d.Allowed = true
			d.Overridden = true
		}
	}
	return d
}
