// Package frustration spots learners who want out of the current topic.
package frustration

import "strings"

// DefaultWindow is how many recent user messages are scanned for signals.
const DefaultWindow = 5

// DefaultPhrases are matched case-insensitively as substrings.
var DefaultPhrases = []string{
	"i don't understand",
	"can we move on",
	"this is confusing",
	"skip this",
	"i give up",
	"this doesn't make sense",
	"i'm lost",
	"too hard",
	"makes no sense",
	"forget it",
	"whatever",
	"just tell me",
	"i'm stuck",
	"help me",
	"i'm confused",
	"move on",
	"next topic",
}

// Signal is the detector's result for one turn.
type Signal struct {
	Frustrated bool   `json:"frustrated"`
	Matched    string `json:"matched,omitempty"`
	WindowHits int    `json:"window_hits"`
}

// Detector matches phrases against the latest utterance and a short window
// of earlier ones. It has no state and is safe for concurrent use.
type Detector struct {
	phrases []string
	window  int
}

// New creates a Detector. An empty phrase list uses DefaultPhrases and a
// non-positive window uses DefaultWindow.
func New(phrases []string, window int) *Detector {
	if len(phrases) == 0 {
		phrases = DefaultPhrases
	}
	if window <= 0 {
		window = DefaultWindow
	}
	norm := make([]string, 0, len(phrases))
	for _, p := range phrases {
		p = normalize(p)
		if p != "" {
			norm = append(norm, p)
		}
	}
	return &Detector{phrases: norm, window: window}
}

// Window returns the number of user messages the caller should pass as
// recent.
func (d *Detector) Window() int {
	return d.window
}

// Detect reports whether latest carries a frustration phrase. recent holds
// earlier user messages oldest first; only the last Window()-1 of them are
// counted, and they never trigger on their own.
func (d *Detector) Detect(latest string, recent []string) Signal {
	var sig Signal
	if m := d.match(latest); m != "" {
		sig.Frustrated = true
		sig.Matched = m
		sig.WindowHits++
	}

	if n := d.window - 1; len(recent) > n {
		recent = recent[len(recent)-n:]
	}
	for _, msg := range recent {
		if d.match(msg) != "" {
			sig.WindowHits++
		}
	}
	return sig
}

func (d *Detector) match(s string) string {
	s = normalize(s)
	if s == "" {
		return ""
	}
	for _, p := range d.phrases {
		if strings.Contains(s, p) {
			return p
		}
	}
	return ""
}

// normalize lowercases and folds typographic apostrophes so "I’m lost"
// matches "i'm lost".
func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("’", "'", "‘", "'").Replace(s)
}
