// Package rubric defines learning goals and the rubric items a learner must
// demonstrate to complete them. Definitions are admin-authored and read-only
// at runtime.
package rubric

import (
	"context"
	"errors"
	"time"
)

// DefaultCertificationPeriod applies to goals that do not declare one.
const DefaultCertificationPeriod = 90 * 24 * time.Hour

// ErrGoalNotFound is returned by a Source for an unknown goal ID.
var ErrGoalNotFound = errors.New("learning goal not found")

// Item is a single gradable criterion within a goal.
type Item struct {
	ID             string   `yaml:"id" json:"id"`
	Title          string   `yaml:"title" json:"title"`
	Criterion      string   `yaml:"criterion" json:"criterion"`
	PassIndicators []string `yaml:"pass_indicators" json:"pass_indicators"`
	Hints          []string `yaml:"hints" json:"hints"`
}

// Hint returns the hint to issue after the given number of failed attempts.
// Later attempts keep returning the most directive hint.
func (it Item) Hint(attempts int) string {
	if len(it.Hints) == 0 {
		return ""
	}
	idx := attempts
	if idx < 0 {
		idx = 0
	}
	if idx > len(it.Hints)-1 {
		idx = len(it.Hints) - 1
	}
	return it.Hints[idx]
}

// DisplayTitle falls back to the item ID when no title was authored.
func (it Item) DisplayTitle() string {
	if it.Title != "" {
		return it.Title
	}
	return it.ID
}

// Goal is a learning goal with its ordered rubric items.
type Goal struct {
	ID          string
	Title       string
	Description string

	// CertificationPeriod is how long a pass stays valid. Nil means a pass
	// never expires.
	CertificationPeriod *time.Duration

	Items []Item
}

// ItemIndex returns the declared position of an item, or -1.
func (g *Goal) ItemIndex(itemID string) int {
	for i, it := range g.Items {
		if it.ID == itemID {
			return i
		}
	}
	return -1
}

// Item looks up an item by ID.
func (g *Goal) Item(itemID string) (Item, bool) {
	if i := g.ItemIndex(itemID); i >= 0 {
		return g.Items[i], true
	}
	return Item{}, false
}

// ExpiryFrom computes the certification expiry for a pass at now.
func (g *Goal) ExpiryFrom(now time.Time) *time.Time {
	if g.CertificationPeriod == nil {
		return nil
	}
	t := now.Add(*g.CertificationPeriod)
	return &t
}

// Source provides read access to goal definitions.
type Source interface {
	Goal(ctx context.Context, goalID string) (*Goal, error)
	ListGoals(ctx context.Context) ([]*Goal, error)
}
