// Package ledger applies the progress policy to per-item records: attempt
// counting, the attempt limit, certification expiry and forced transitions.
package ledger

import (
	"time"

	"github.com/abhisek/sensei/internal/store"
)

// Status is an item's position in the progress lifecycle.
type Status string

const (
	StatusLocked     Status = "locked"
	StatusInProgress Status = "in_progress"
	StatusEngaged    Status = "engaged"
	StatusPassed     Status = "passed"

	// StatusExpired is only ever derived on read. It is never stored.
	StatusExpired Status = "expired"
)

// Terminal reports whether the status counts as finished for the goal.
func (s Status) Terminal() bool {
	return s == StatusPassed || s == StatusEngaged
}

// Glyph is a compact marker for menus and tables.
func (s Status) Glyph() string {
	switch s {
	case StatusPassed:
		return "●"
	case StatusEngaged:
		return "◐"
	case StatusExpired:
		return "↻"
	case StatusInProgress:
		return "◌"
	default:
		return "○"
	}
}

// EffectiveStatus is the status used for every aggregate: a pass whose
// certification lapsed before now reads as expired.
func EffectiveStatus(rec *store.ProgressRecord, now time.Time) Status {
	st := Status(rec.Status)
	if st == StatusPassed && rec.ExpiresAt != nil && rec.ExpiresAt.Before(now) {
		return StatusExpired
	}
	return st
}

// Transition records a status change for responses and logs.
type Transition struct {
	ItemID  string `json:"item_id"`
	From    Status `json:"from"`
	To      Status `json:"to"`
	Trigger string `json:"trigger"` // "pass", "attempt-limit", "frustration", "topic-start"
}
