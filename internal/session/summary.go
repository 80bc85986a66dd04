package session

import (
	"fmt"
	"strings"

	"github.com/abhisek/sensei/internal/engagement"
	"github.com/abhisek/sensei/internal/ledger"
	"github.com/abhisek/sensei/internal/rubric"
)

// Summary is the synthesis shown when a session completes.
type Summary struct {
	GoalTitle string  `json:"goal_title"`
	Total     int     `json:"total"`
	Passed    int     `json:"passed"`
	Engaged   int     `json:"engaged"`
	Expired   int     `json:"expired"`
	Remaining int     `json:"remaining"`
	Ratio     float64 `json:"ratio"`

	HandoffAllowed bool `json:"handoff_allowed"`
	Needed         int  `json:"needed"`
}

// BuildSummary counts item outcomes. It depends only on its inputs.
func BuildSummary(goal *rubric.Goal, statuses []ledger.Status, dec engagement.Decision) *Summary {
	s := &Summary{
		GoalTitle:      goalTitle(goal),
		Total:          len(goal.Items),
		Ratio:          dec.Ratio,
		HandoffAllowed: dec.Allowed,
		Needed:         dec.Needed,
	}
	for _, st := range statuses {
		switch st {
		case ledger.StatusPassed:
			s.Passed++
		case ledger.StatusEngaged:
			s.Engaged++
		case ledger.StatusExpired:
			s.Expired++
			s.Remaining++
		default:
			s.Remaining++
		}
	}
	return s
}

// Text renders the summary for the learner.
func (s *Summary) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "That wraps up %s.\n", s.GoalTitle)
	fmt.Fprintf(&b, "Passed: %d of %d. Engaged: %d of %d.", s.Passed, s.Total, s.Engaged, s.Total)
	if s.Remaining > 0 {
		fmt.Fprintf(&b, " Not yet covered: %d.", s.Remaining)
	}
	fmt.Fprintf(&b, "\nEngagement: %.0f%%.\n", s.Ratio*100)
	if s.HandoffAllowed {
		b.WriteString(unlockText)
	} else {
		fmt.Fprintf(&b, "Cover %d more %s to unlock instructor feedback.", s.Needed, plural(s.Needed, "concept", "concepts"))
	}
	return b.String()
}

const unlockText = "You've unlocked instructor feedback."

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
