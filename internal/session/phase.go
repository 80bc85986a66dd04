package session

import (
	"fmt"
	"slices"
)

// Mode selects how the next topic is chosen.
type Mode string

const (
	ModeFreeChoice Mode = "free_choice" // learner picks from the menu
	ModeGuided     Mode = "guided"      // items in declared order
)

// ParseMode validates a mode name. The empty string means free choice.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeFreeChoice:
		return ModeFreeChoice, nil
	case ModeGuided:
		return ModeGuided, nil
	}
	return "", &ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown mode %q", s)}
}

// Phase is the orchestrator's position in a session.
type Phase string

const (
	PhaseInitializing  Phase = "initializing"
	PhaseAwaitingTopic Phase = "awaiting_topic_choice"
	PhaseConversing    Phase = "conversing"
	PhaseEvaluating    Phase = "evaluating"
	PhaseTransitioning Phase = "transitioning"
	PhaseFrustrated    Phase = "frustrated"
	PhaseSynthesizing  Phase = "synthesizing"
	PhaseCompleted     Phase = "completed"
)

// edges lists every legal phase change. A session only rests between turns
// in awaiting_topic_choice, conversing or completed.
var edges = map[Phase][]Phase{
	PhaseInitializing:  {PhaseAwaitingTopic, PhaseConversing, PhaseSynthesizing},
	PhaseAwaitingTopic: {PhaseConversing, PhaseSynthesizing},
	PhaseConversing:    {PhaseEvaluating, PhaseFrustrated, PhaseTransitioning, PhaseSynthesizing},
	PhaseEvaluating:    {PhaseConversing, PhaseTransitioning},
	PhaseTransitioning: {PhaseConversing, PhaseAwaitingTopic, PhaseSynthesizing},
	PhaseFrustrated:    {PhaseAwaitingTopic, PhaseSynthesizing},
	PhaseSynthesizing:  {PhaseCompleted},
	PhaseCompleted:     nil,
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Phase) bool {
	return slices.Contains(edges[from], to)
}

// resting reports whether a session may be persisted in p.
func (p Phase) resting() bool {
	return p == PhaseAwaitingTopic || p == PhaseConversing || p == PhaseCompleted
}

// TransitionError is an illegal phase change. It indicates a bug, not bad
// input.
type TransitionError struct {
	From, To Phase
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal phase transition %s -> %s", e.From, e.To)
}

// path records the phases one turn traverses.
type path struct {
	phases []Phase
}

func newPath(start Phase) *path {
	return &path{phases: []Phase{start}}
}

func (p *path) current() Phase {
	return p.phases[len(p.phases)-1]
}

func (p *path) to(next Phase) error {
	if from := p.current(); !CanTransition(from, next) {
		return &TransitionError{From: from, To: next}
	}
	p.phases = append(p.phases, next)
	return nil
}

func (p *path) list() []Phase {
	return slices.Clone(p.phases)
}
