package session

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/abhisek/sensei/internal/ledger"
	"github.com/abhisek/sensei/internal/rubric"
	"github.com/abhisek/sensei/internal/store"
)

var (
	leadingNumber = regexp.MustCompile(`^(\d+)(?:[.,\s]|$)`)
	switchTarget  = regexp.MustCompile(`\bswitch to\s+(.+)$`)
)

var guidePhrases = []string{"guide me", "all of them"}

var switchPhrases = []string{"switch topic", "change topic", "different topic", "another topic"}

// itemStatuses returns the effective status of every goal item in declared
// order. Items without a record read as locked.
func itemStatuses(goal *rubric.Goal, recs []*store.ProgressRecord, now time.Time) []ledger.Status {
	byItem := make(map[string]*store.ProgressRecord, len(recs))
	for _, r := range recs {
		byItem[r.ItemID] = r
	}
	out := make([]ledger.Status, len(goal.Items))
	for i, it := range goal.Items {
		out[i] = ledger.StatusLocked
		if r, ok := byItem[it.ID]; ok {
			out[i] = ledger.EffectiveStatus(r, now)
		}
	}
	return out
}

// nextItem returns the earliest item that is not finished, or -1.
func nextItem(statuses []ledger.Status) int {
	for i, st := range statuses {
		if !st.Terminal() {
			return i
		}
	}
	return -1
}

func renderMenu(goal *rubric.Goal, statuses []ledger.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Which concept in %s would you like to work on?\n", goalTitle(goal))
	for i, it := range goal.Items {
		fmt.Fprintf(&b, "%d. %s %s", i+1, statuses[i].Glyph(), it.DisplayTitle())
		if statuses[i] != ledger.StatusLocked {
			fmt.Fprintf(&b, " (%s)", strings.ReplaceAll(string(statuses[i]), "_", " "))
		}
		b.WriteByte('\n')
	}
	b.WriteString(`Reply with a number or a title, say "guide me" to go through them in order, or "suggest" for a recommendation.`)
	return b.String()
}

func goalTitle(goal *rubric.Goal) string {
	if goal.Title != "" {
		return goal.Title
	}
	return goal.ID
}

// parseSelection matches a menu choice: an exact number, a leading "N."
// or "N,", or an item title making up at least half of the message.
// It returns the item index or -1.
func parseSelection(msg string, goal *rubric.Goal) int {
	msg = strings.TrimSpace(msg)
	n := len(goal.Items)

	if i, err := strconv.Atoi(msg); err == nil {
		if i >= 1 && i <= n {
			return i - 1
		}
		return -1
	}
	if m := leadingNumber.FindStringSubmatch(msg); m != nil {
		if i, err := strconv.Atoi(m[1]); err == nil && i >= 1 && i <= n {
			return i - 1
		}
	}

	lower := strings.ToLower(msg)
	msgLen := utf8.RuneCountInString(lower)
	for i, it := range goal.Items {
		title := strings.ToLower(it.DisplayTitle())
		if title == "" || !strings.Contains(lower, title) {
			continue
		}
		if 2*utf8.RuneCountInString(title) >= msgLen {
			return i
		}
	}
	return -1
}

func wantsGuide(msg string) bool {
	return containsAny(strings.ToLower(msg), guidePhrases)
}

func wantsSuggestion(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "suggest")
}

// parseSwitch recognizes a request to leave the current topic. target is
// the requested item index, or -1 when the learner did not name one.
func parseSwitch(msg string, goal *rubric.Goal) (ok bool, target int) {
	lower := strings.ToLower(strings.TrimSpace(msg))
	if m := switchTarget.FindStringSubmatch(lower); m != nil {
		if idx := parseSelection(m[1], goal); idx >= 0 {
			return true, idx
		}
		return true, -1
	}
	return containsAny(lower, switchPhrases), -1
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
