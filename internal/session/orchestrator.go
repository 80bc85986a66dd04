// Package session runs tutoring sessions as a persisted state machine.
//
// A session row holds everything a turn needs: the phase, the current item
// pointer and the trace tokens. Each turn loads the row, walks the phase
// table, and commits the progress update, the session update and the
// transcript lines in one transaction. Nothing is kept in memory between
// turns, so any orchestrator instance can serve any turn.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/abhisek/sensei/internal/engagement"
	"github.com/abhisek/sensei/internal/evaluation"
	"github.com/abhisek/sensei/internal/frustration"
	"github.com/abhisek/sensei/internal/ledger"
	"github.com/abhisek/sensei/internal/logger"
	"github.com/abhisek/sensei/internal/metrics"
	"github.com/abhisek/sensei/internal/rubric"
	"github.com/abhisek/sensei/internal/store"
	"github.com/abhisek/sensei/internal/tracing"
)

// Defaults for Options.
const (
	DefaultMaxUtteranceRunes = 4000
	DefaultContextTurns      = 6
)

const (
	retryText       = "I couldn't evaluate that just now. Please try again."
	frustrationText = "Let's set this one aside. You've put real effort into it, and we can pick something else."
)

// Evaluator judges one attempt. *evaluation.Judge implements it.
type Evaluator interface {
	Evaluate(ctx context.Context, req *evaluation.Request) (*evaluation.Result, error)
}

// Options tune turn handling. Zero fields take their defaults.
type Options struct {
	MaxUtteranceRunes int
	ContextTurns      int // transcript lines offered to the judge
}

// Deps are the orchestrator's collaborators. Store, Ledger and Judge are
// required; the rest default.
type Deps struct {
	Store    *store.Store
	Goals    rubric.Source // defaults to the store's goal repository
	Ledger   *ledger.Ledger
	Judge    Evaluator
	Detector *frustration.Detector
	Gate     *engagement.Gate
	Tracer   *tracing.Propagator
	Logger   *logger.Logger
}

// Orchestrator serves the session operations.
type Orchestrator struct {
	store    *store.Store
	goals    rubric.Source
	ledger   *ledger.Ledger
	judge    Evaluator
	detector *frustration.Detector
	gate     *engagement.Gate
	tracer   *tracing.Propagator
	metrics  *metrics.Metrics
	log      *logger.Logger
	opts     Options
}

// New creates an Orchestrator.
func New(deps Deps, opts Options) (*Orchestrator, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("session: store is required")
	case deps.Ledger == nil:
		return nil, errors.New("session: ledger is required")
	case deps.Judge == nil:
		return nil, errors.New("session: judge is required")
	}
	if deps.Goals == nil {
		deps.Goals = deps.Store.GoalRepo()
	}
	if deps.Detector == nil {
		deps.Detector = frustration.New(nil, 0)
	}
	if deps.Gate == nil {
		deps.Gate = engagement.New(engagement.DefaultThreshold)
	}
	if deps.Tracer == nil {
		deps.Tracer = tracing.NewPropagator(nil)
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	if opts.MaxUtteranceRunes <= 0 {
		opts.MaxUtteranceRunes = DefaultMaxUtteranceRunes
	}
	if opts.ContextTurns <= 0 {
		opts.ContextTurns = DefaultContextTurns
	}
	return &Orchestrator{
		store:    deps.Store,
		goals:    deps.Goals,
		ledger:   deps.Ledger,
		judge:    deps.Judge,
		detector: deps.Detector,
		gate:     deps.Gate,
		tracer:   deps.Tracer,
		metrics:  metrics.Get(),
		log:      deps.Logger.With("service", "session"),
		opts:     opts,
	}, nil
}

// StartResult is returned by StartSession.
type StartResult struct {
	SessionID     string              `json:"session_id"`
	OpeningPrompt string              `json:"opening_prompt"`
	Phase         Phase               `json:"phase"`
	Mode          Mode                `json:"mode"`
	CurrentItemID string              `json:"current_item_id,omitempty"`
	Phases        []Phase             `json:"phases"`
	Delta         []ledger.Transition `json:"item_status_delta"`
}

// TurnResult is returned by SubmitTurn and EndSession.
type TurnResult struct {
	SessionID           string              `json:"session_id"`
	ResponseText        string              `json:"response_text"`
	ItemStatusDelta     []ledger.Transition `json:"item_status_delta"`
	EngagementRatio     float64             `json:"engagement_ratio"`
	FrustrationDetected bool                `json:"frustration_detected"`
	Phase               Phase               `json:"phase"`
	Phases              []Phase             `json:"phases"`
	CurrentItemID       string              `json:"current_item_id,omitempty"`
	Retryable           bool                `json:"retryable"`
	Completed           bool                `json:"completed"`
	Summary             *Summary            `json:"summary,omitempty"`
}

// turn carries the state of one request through the phase table.
type turn struct {
	sess    *store.Session
	goal    *rubric.Goal
	path    *path
	now     time.Time
	deltas  []ledger.Transition
	ratio   float64
	summary *Summary

	frustrated bool
	retryable  bool
}

func (o *Orchestrator) newTurn(sess *store.Session, goal *rubric.Goal) *turn {
	return &turn{
		sess:   sess,
		goal:   goal,
		path:   newPath(Phase(sess.Phase)),
		now:    o.ledger.Now(),
		deltas: []ledger.Transition{},
	}
}

func (t *turn) record(tr *ledger.Transition) {
	if tr != nil {
		t.deltas = append(t.deltas, *tr)
	}
}

func (t *turn) itemID() string {
	if t.sess.CurrentItemID == nil {
		return ""
	}
	return *t.sess.CurrentItemID
}

func (t *turn) clearTopic() {
	t.sess.CurrentItemID = nil
	t.sess.TopicTraceToken = ""
}

func (t *turn) key(itemID string) store.ProgressKey {
	return store.ProgressKey{UserID: t.sess.UserID, GoalID: t.goal.ID, ItemID: itemID}
}

func (t *turn) result(text string) *TurnResult {
	return &TurnResult{
		SessionID:           t.sess.ID,
		ResponseText:        text,
		ItemStatusDelta:     t.deltas,
		EngagementRatio:     t.ratio,
		FrustrationDetected: t.frustrated,
		Phase:               t.path.current(),
		Phases:              t.path.list(),
		CurrentItemID:       t.itemID(),
		Retryable:           t.retryable,
		Completed:           t.path.current() == PhaseCompleted,
		Summary:             t.summary,
	}
}

// step is the transactional part of a turn. It returns the tutor's reply.
type step func(ctx context.Context, tx *store.Store) (string, error)

// StartSession opens a session on a goal. Every item gets a progress
// record. Free choice sessions open with the topic menu; guided sessions
// start on the first unfinished item.
func (o *Orchestrator) StartSession(ctx context.Context, userID, goalID string, mode Mode) (*StartResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, &ValidationError{Field: "user_id", Reason: "must not be blank"}
	}
	mode, err := ParseMode(string(mode))
	if err != nil {
		return nil, err
	}
	goal, err := o.loadGoal(ctx, goalID)
	if err != nil {
		return nil, err
	}
	if _, err := o.ledger.EnsureGoal(ctx, o.store.ProgressRepo(), userID, goal); err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}

	sess := &store.Session{
		ID:     uuid.NewString(),
		UserID: userID,
		GoalID: goal.ID,
		Mode:   string(mode),
		Phase:  string(PhaseInitializing),
	}
	sess.SessionTraceToken = string(o.boundary(ctx, "", "session",
		attribute.String("sensei.session_id", sess.ID),
		attribute.String("sensei.goal_id", goal.ID),
		attribute.String("sensei.mode", string(mode))))

	t := o.newTurn(sess, goal)
	var text string
	err = o.store.Transaction(ctx, func(tx *store.Store) error {
		recs, statuses, err := o.snapshot(ctx, tx, t)
		if err != nil {
			return err
		}
		next, err := o.next(ctx, tx, t, recs, statuses, mode == ModeGuided)
		if err != nil {
			return err
		}
		text = fmt.Sprintf("Welcome! %s has %d %s to work through.\n\n%s",
			goalTitle(goal), len(goal.Items), plural(len(goal.Items), "concept", "concepts"), next)

		if recs, _, err = o.snapshot(ctx, tx, t); err != nil {
			return err
		}
		t.ratio = o.gate.Decide(goal, recs, t.now, "").Ratio

		sess.Phase = string(t.path.current())
		if err := tx.SessionRepo().Create(ctx, sess); err != nil {
			return err
		}
		return tx.MessageRepo().Append(ctx, &store.Message{
			SessionID: sess.ID, Role: store.RoleTutor, ItemID: t.itemID(), Content: text,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}

	o.metrics.SessionsStarted.WithLabelValues(string(mode)).Inc()
	o.countTransitions(t)
	o.log.Info("session started",
		"session_id", sess.ID, "user_id", userID, "goal_id", goal.ID,
		"mode", mode, "phase", sess.Phase)

	return &StartResult{
		SessionID:     sess.ID,
		OpeningPrompt: text,
		Phase:         t.path.current(),
		Mode:          mode,
		CurrentItemID: t.itemID(),
		Phases:        t.path.list(),
		Delta:         t.deltas,
	}, nil
}

// SubmitTurn processes one learner utterance.
func (o *Orchestrator) SubmitTurn(ctx context.Context, sessionID, utterance string) (*TurnResult, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return nil, &ValidationError{Field: "utterance", Reason: "must not be blank"}
	}
	if n := utf8.RuneCountInString(utterance); n > o.opts.MaxUtteranceRunes {
		return nil, &ValidationError{
			Field:  "utterance",
			Reason: fmt.Sprintf("%d characters exceeds the limit of %d", n, o.opts.MaxUtteranceRunes),
		}
	}

	sess, err := o.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	phase := Phase(sess.Phase)
	if phase == PhaseCompleted {
		return nil, ErrSessionCompleted
	}
	if !phase.resting() {
		return nil, fmt.Errorf("session %s persisted in transient phase %s", sess.ID, phase)
	}
	goal, err := o.loadGoal(ctx, sess.GoalID)
	if err != nil {
		return nil, err
	}

	parent := sess.TopicTraceToken
	if parent == "" {
		parent = sess.SessionTraceToken
	}
	ctx, span := o.startSpan(ctx, tracing.Token(parent), "turn",
		attribute.String("sensei.session_id", sess.ID),
		attribute.String("sensei.goal_id", goal.ID),
		attribute.Int("sensei.turn", sess.TurnCount+1))
	defer span.End()

	t := o.newTurn(sess, goal)
	var fn step
	switch phase {
	case PhaseAwaitingTopic:
		fn = func(ctx context.Context, tx *store.Store) (string, error) {
			return o.chooseTopic(ctx, tx, t, utterance)
		}
	case PhaseConversing:
		fn, err = o.converse(ctx, t, utterance)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "turn failed")
			return nil, err
		}
	}

	text, err := o.commit(ctx, t, utterance, fn)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "turn failed")
		return nil, fmt.Errorf("submit turn: %w", err)
	}

	span.SetAttributes(attribute.String("sensei.phase", string(t.path.current())))
	o.metrics.TurnsTotal.WithLabelValues(string(t.path.current())).Inc()
	o.countTransitions(t)
	o.log.Debug("turn processed",
		"session_id", sess.ID, "user_id", sess.UserID,
		"phases", t.path.list(), "retryable", t.retryable, "frustrated", t.frustrated)

	return t.result(text), nil
}

// EndSession closes a session early with a summary. The persisted trace
// tokens are cleared. Item progress is left as it is.
func (o *Orchestrator) EndSession(ctx context.Context, sessionID string) (*TurnResult, error) {
	sess, err := o.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if Phase(sess.Phase) == PhaseCompleted {
		return nil, ErrSessionCompleted
	}
	goal, err := o.loadGoal(ctx, sess.GoalID)
	if err != nil {
		return nil, err
	}

	ctx, span := o.startSpan(ctx, tracing.Token(sess.SessionTraceToken), "end",
		attribute.String("sensei.session_id", sess.ID))
	defer span.End()

	t := o.newTurn(sess, goal)
	var text string
	err = o.store.Transaction(ctx, func(tx *store.Store) error {
		recs, statuses, err := o.snapshot(ctx, tx, t)
		if err != nil {
			return err
		}
		if text, err = o.synthesize(t, recs, statuses); err != nil {
			return err
		}
		t.ratio = t.summary.Ratio
		sess.Phase = string(t.path.current())
		if err := tx.SessionRepo().Update(ctx, sess); err != nil {
			return err
		}
		return tx.MessageRepo().Append(ctx, &store.Message{
			SessionID: sess.ID, Role: store.RoleTutor, Content: text,
		})
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("end session: %w", err)
	}

	o.log.Info("session ended", "session_id", sess.ID, "user_id", sess.UserID, "turns", sess.TurnCount)
	return t.result(text), nil
}

// GetProgress returns the effective status of every item of a goal.
func (o *Orchestrator) GetProgress(ctx context.Context, userID, goalID string) ([]ledger.ItemProgress, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, &ValidationError{Field: "user_id", Reason: "must not be blank"}
	}
	goal, err := o.loadGoal(ctx, goalID)
	if err != nil {
		return nil, err
	}
	return o.ledger.Progress(ctx, o.store.ProgressRepo(), userID, goal)
}

// RequestHandoff evaluates the engagement gate and records the request. A
// non-blank override reason allows the handoff regardless of the ratio.
func (o *Orchestrator) RequestHandoff(ctx context.Context, userID, goalID, overrideReason string) (*engagement.Decision, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, &ValidationError{Field: "user_id", Reason: "must not be blank"}
	}
	goal, err := o.loadGoal(ctx, goalID)
	if err != nil {
		return nil, err
	}
	recs, err := o.store.ProgressRepo().ListByGoal(ctx, userID, goal.ID)
	if err != nil {
		return nil, fmt.Errorf("request handoff: %w", err)
	}

	dec := o.gate.Decide(goal, recs, o.ledger.Now(), overrideReason)
	err = o.store.HandoffRepo().Append(ctx, &store.HandoffRequest{
		UserID:         userID,
		GoalID:         goal.ID,
		Ratio:          dec.Ratio,
		Allowed:        dec.Allowed,
		Overridden:     dec.Overridden,
		OverrideReason: dec.Reason,
	})
	if err != nil {
		return nil, fmt.Errorf("request handoff: %w", err)
	}

	o.metrics.RecordHandoff(dec.Allowed, dec.Overridden)
	o.log.Info("handoff requested",
		"user_id", userID, "goal_id", goal.ID,
		"ratio", dec.Ratio, "allowed", dec.Allowed, "overridden", dec.Overridden)
	return &dec, nil
}

// chooseTopic handles a reply to the topic menu.
func (o *Orchestrator) chooseTopic(ctx context.Context, tx *store.Store, t *turn, utterance string) (string, error) {
	recs, statuses, err := o.snapshot(ctx, tx, t)
	if err != nil {
		return "", err
	}

	switch {
	case wantsGuide(utterance):
		t.sess.Mode = string(ModeGuided)
		return o.next(ctx, tx, t, recs, statuses, true)

	case wantsSuggestion(utterance):
		idx := nextItem(statuses)
		if idx < 0 {
			return o.synthesize(t, recs, statuses)
		}
		return fmt.Sprintf("I'd suggest starting with %d. %s. Reply with its number to begin.",
			idx+1, t.goal.Items[idx].DisplayTitle()), nil
	}

	idx := parseSelection(utterance, t.goal)
	if idx < 0 {
		return "I didn't catch which concept you meant.\n\n" + renderMenu(t.goal, statuses), nil
	}
	if statuses[idx] == ledger.StatusPassed {
		return fmt.Sprintf("You've already passed %s. Pick another concept.\n\n%s",
			t.goal.Items[idx].DisplayTitle(), renderMenu(t.goal, statuses)), nil
	}
	return o.enterTopic(ctx, tx, t, idx)
}

// converse runs the non-transactional part of a turn on the current item:
// the frustration check, the switch check, and the judge call. The judge
// is never called inside a transaction.
func (o *Orchestrator) converse(ctx context.Context, t *turn, utterance string) (step, error) {
	if t.sess.CurrentItemID == nil {
		return nil, fmt.Errorf("session %s is conversing without a current item", t.sess.ID)
	}
	idx := t.goal.ItemIndex(*t.sess.CurrentItemID)
	if idx < 0 {
		return nil, fmt.Errorf("session %s: item %q is not part of goal %s", t.sess.ID, *t.sess.CurrentItemID, t.goal.ID)
	}
	item := t.goal.Items[idx]
	key := t.key(item.ID)

	recent, err := o.recentUserMessages(ctx, t.sess.ID)
	if err != nil {
		return nil, err
	}
	if sig := o.detector.Detect(utterance, recent); sig.Frustrated {
		t.frustrated = true
		o.metrics.FrustrationTotal.Inc()
		o.log.Info("frustration detected",
			"session_id", t.sess.ID, "item_id", item.ID,
			"matched", sig.Matched, "window_hits", sig.WindowHits)
		return func(ctx context.Context, tx *store.Store) (string, error) {
			if err := t.path.to(PhaseFrustrated); err != nil {
				return "", err
			}
			_, tr, err := o.ledger.ForceEngaged(ctx, tx.ProgressRepo(), key, "frustration")
			if err != nil {
				return "", err
			}
			t.record(tr)
			t.clearTopic()
			next, err := o.nextAfter(ctx, tx, t, false)
			if err != nil {
				return "", err
			}
			return frustrationText + "\n\n" + next, nil
		}, nil
	}

	if ok, target := parseSwitch(utterance, t.goal); ok {
		o.metrics.TopicSwitchesTotal.Inc()
		return func(ctx context.Context, tx *store.Store) (string, error) {
			if err := t.path.to(PhaseTransitioning); err != nil {
				return "", err
			}
			if _, err := o.ledger.Abandon(ctx, tx.ProgressRepo(), key); err != nil {
				return "", err
			}
			t.clearTopic()

			recs, statuses, err := o.snapshot(ctx, tx, t)
			if err != nil {
				return "", err
			}
			if target >= 0 && target != idx && statuses[target] != ledger.StatusPassed {
				return o.enterTopic(ctx, tx, t, target)
			}
			next, err := o.next(ctx, tx, t, recs, statuses, false)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("No problem, we'll leave %s for now.\n\n%s", item.DisplayTitle(), next), nil
		}, nil
	}

	if err := t.path.to(PhaseEvaluating); err != nil {
		return nil, err
	}
	req, err := o.evaluationRequest(ctx, t, item, utterance)
	if err != nil {
		return nil, err
	}
	res, err := o.evaluate(ctx, req)
	if err != nil {
		if evaluation.Kind(err) == "" {
			return nil, fmt.Errorf("evaluate %s: %w", item.ID, err)
		}
		t.retryable = true
		return func(context.Context, *store.Store) (string, error) {
			if err := t.path.to(PhaseConversing); err != nil {
				return "", err
			}
			return retryText, nil
		}, nil
	}

	verdict := ledger.Verdict{Passed: res.Passed, Rationale: res.Rationale}
	return func(ctx context.Context, tx *store.Store) (string, error) {
		rec, outcome, tr, err := o.ledger.RecordAttempt(ctx, tx.ProgressRepo(), key, t.goal, utterance, verdict)
		if err != nil {
			return "", err
		}
		t.record(tr)

		var lead string
		switch outcome {
		case ledger.OutcomeRetry:
			if err := t.path.to(PhaseConversing); err != nil {
				return "", err
			}
			limit := o.ledger.Policy().AttemptLimit
			return fmt.Sprintf("Not quite yet. %s\n(%d of %d attempts used)", prompt(item, rec.Attempts), rec.Attempts, limit), nil
		case ledger.OutcomePassed:
			lead = fmt.Sprintf("Nice work, that covers %s.", item.DisplayTitle())
		default:
			lead = fmt.Sprintf("Let's leave %s there. You've worked through it fully.", item.DisplayTitle())
		}

		if err := t.path.to(PhaseTransitioning); err != nil {
			return "", err
		}
		t.clearTopic()
		next, err := o.nextAfter(ctx, tx, t, Mode(t.sess.Mode) == ModeGuided)
		if err != nil {
			return "", err
		}
		return lead + "\n\n" + next, nil
	}, nil
}

// evaluate calls the judge under an "evaluate" span parented by the turn
// span's own token.
func (o *Orchestrator) evaluate(ctx context.Context, req *evaluation.Request) (*evaluation.Result, error) {
	turnTok, err := o.tracer.Encode(ctx)
	if err != nil {
		o.log.Warn("turn span not encodable", "error", err)
	}
	evalCtx, span := o.startSpan(ctx, turnTok, "evaluate", attribute.String("sensei.item_id", req.ItemID))
	defer span.End()

	res, err := o.judge.Evaluate(evalCtx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "evaluation failed closed")
		span.SetAttributes(attribute.String("sensei.evaluation.error", evaluation.Kind(err)))
		return nil, err
	}
	span.SetAttributes(attribute.Bool("sensei.passed", res.Passed))
	return res, nil
}

func (o *Orchestrator) evaluationRequest(ctx context.Context, t *turn, item rubric.Item, utterance string) (*evaluation.Request, error) {
	msgs, err := o.store.MessageRepo().Recent(ctx, t.sess.ID, "", o.opts.ContextTurns)
	if err != nil {
		return nil, err
	}
	turns := make([]evaluation.Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, evaluation.Turn{Role: m.Role, Content: m.Content})
	}
	return &evaluation.Request{
		ItemID:         item.ID,
		ItemTitle:      item.DisplayTitle(),
		Criterion:      item.Criterion,
		PassIndicators: item.PassIndicators,
		Utterance:      utterance,
		Context: evaluation.RubricContext{
			GoalTitle:   goalTitle(t.goal),
			RecentTurns: turns,
		},
	}, nil
}

func (o *Orchestrator) recentUserMessages(ctx context.Context, sessionID string) ([]string, error) {
	n := o.detector.Window() - 1
	if n <= 0 {
		return nil, nil
	}
	msgs, err := o.store.MessageRepo().Recent(ctx, sessionID, store.RoleUser, n)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out, nil
}

// commit runs fn in a transaction and writes the session row and both
// transcript lines with it. A concurrent turn on the same session fails
// the version check with store.ErrConflict.
func (o *Orchestrator) commit(ctx context.Context, t *turn, utterance string, fn step) (string, error) {
	userItem := t.itemID()
	var text string
	err := o.store.Transaction(ctx, func(tx *store.Store) error {
		before, _, err := o.snapshot(ctx, tx, t)
		if err != nil {
			return err
		}
		wasAllowed := o.gate.Decide(t.goal, before, t.now, "").Allowed

		if text, err = fn(ctx, tx); err != nil {
			return err
		}

		after, _, err := o.snapshot(ctx, tx, t)
		if err != nil {
			return err
		}
		dec := o.gate.Decide(t.goal, after, t.now, "")
		t.ratio = dec.Ratio
		if dec.Allowed && !wasAllowed && t.path.current() != PhaseCompleted {
			text += "\n\n" + unlockText
		}

		t.sess.Phase = string(t.path.current())
		t.sess.TurnCount++
		if err := tx.SessionRepo().Update(ctx, t.sess); err != nil {
			return err
		}
		return tx.MessageRepo().Append(ctx,
			&store.Message{SessionID: t.sess.ID, Role: store.RoleUser, ItemID: userItem, Content: utterance},
			&store.Message{SessionID: t.sess.ID, Role: store.RoleTutor, ItemID: t.itemID(), Content: text},
		)
	})
	return text, err
}

// nextAfter re-reads progress and moves on from a finished or abandoned
// item.
func (o *Orchestrator) nextAfter(ctx context.Context, tx *store.Store, t *turn, autoSelect bool) (string, error) {
	recs, statuses, err := o.snapshot(ctx, tx, t)
	if err != nil {
		return "", err
	}
	return o.next(ctx, tx, t, recs, statuses, autoSelect)
}

// next picks what follows: the earliest unfinished item when autoSelect is
// set, otherwise the menu. With nothing left the session is synthesized.
func (o *Orchestrator) next(ctx context.Context, tx *store.Store, t *turn, recs []*store.ProgressRecord, statuses []ledger.Status, autoSelect bool) (string, error) {
	idx := nextItem(statuses)
	if idx < 0 {
		return o.synthesize(t, recs, statuses)
	}
	if autoSelect {
		return o.enterTopic(ctx, tx, t, idx)
	}
	if err := t.path.to(PhaseAwaitingTopic); err != nil {
		return "", err
	}
	return renderMenu(t.goal, statuses), nil
}

// enterTopic pins the item as the current topic under a fresh topic span
// and returns its opening prompt.
func (o *Orchestrator) enterTopic(ctx context.Context, tx *store.Store, t *turn, idx int) (string, error) {
	item := t.goal.Items[idx]
	tok := o.boundary(ctx, tracing.Token(t.sess.SessionTraceToken), "topic",
		attribute.String("sensei.session_id", t.sess.ID),
		attribute.String("sensei.goal_id", t.goal.ID),
		attribute.String("sensei.item_id", item.ID))

	rec, tr, err := o.ledger.BeginTopic(ctx, tx.ProgressRepo(), t.key(item.ID), string(tok))
	if err != nil {
		return "", err
	}
	if err := t.path.to(PhaseConversing); err != nil {
		return "", err
	}
	t.record(tr)

	id := item.ID
	t.sess.CurrentItemID = &id
	t.sess.TopicTraceToken = string(tok)
	return fmt.Sprintf("Let's work on %d. %s.\n\n%s", idx+1, item.DisplayTitle(), prompt(item, rec.Attempts)), nil
}

// synthesize completes the session with a summary. The pointer and both
// trace tokens are cleared.
func (o *Orchestrator) synthesize(t *turn, recs []*store.ProgressRecord, statuses []ledger.Status) (string, error) {
	if err := t.path.to(PhaseSynthesizing); err != nil {
		return "", err
	}
	t.summary = BuildSummary(t.goal, statuses, o.gate.Decide(t.goal, recs, t.now, ""))
	if err := t.path.to(PhaseCompleted); err != nil {
		return "", err
	}
	t.clearTopic()
	t.sess.SessionTraceToken = ""
	ended := t.now
	t.sess.EndedAt = &ended
	return t.summary.Text(), nil
}

func (o *Orchestrator) snapshot(ctx context.Context, tx *store.Store, t *turn) ([]*store.ProgressRecord, []ledger.Status, error) {
	recs, err := tx.ProgressRepo().ListByGoal(ctx, t.sess.UserID, t.goal.ID)
	if err != nil {
		return nil, nil, err
	}
	return recs, itemStatuses(t.goal, recs, t.now), nil
}

func (o *Orchestrator) countTransitions(t *turn) {
	for _, tr := range t.deltas {
		o.metrics.TransitionsTotal.WithLabelValues(string(tr.To)).Inc()
	}
}

func (o *Orchestrator) loadGoal(ctx context.Context, goalID string) (*rubric.Goal, error) {
	if strings.TrimSpace(goalID) == "" {
		return nil, &ValidationError{Field: "goal_id", Reason: "must not be blank"}
	}
	goal, err := o.goals.Goal(ctx, goalID)
	if errors.Is(err, rubric.ErrGoalNotFound) {
		return nil, &ValidationError{Field: "goal_id", Reason: fmt.Sprintf("unknown goal %q", goalID), NotFound: true}
	}
	if err != nil {
		return nil, err
	}
	return goal, nil
}

func (o *Orchestrator) loadSession(ctx context.Context, sessionID string) (*store.Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, &ValidationError{Field: "session_id", Reason: "must not be blank"}
	}
	sess, err := o.store.SessionRepo().Get(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &ValidationError{Field: "session_id", Reason: fmt.Sprintf("unknown session %q", sessionID), NotFound: true}
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// startSpan starts a child of parent. An unreadable token starts a new
// trace instead of failing the request.
func (o *Orchestrator) startSpan(ctx context.Context, parent tracing.Token, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	spanCtx, span, err := o.tracer.StartChild(ctx, parent, name, attrs...)
	if err != nil {
		o.log.Warn("discarding unreadable trace token", "span", name, "error", err)
		spanCtx, span, _ = o.tracer.StartChild(ctx, "", name, attrs...)
	}
	return spanCtx, span
}

func (o *Orchestrator) boundary(ctx context.Context, parent tracing.Token, name string, attrs ...attribute.KeyValue) tracing.Token {
	tok, err := o.tracer.Boundary(ctx, parent, name, attrs...)
	if err != nil {
		o.log.Warn("discarding unreadable trace token", "span", name, "error", err)
		tok, _ = o.tracer.Boundary(ctx, "", name, attrs...)
	}
	return tok
}

// prompt is the question to put to the learner after the given number of
// failed attempts.
func prompt(item rubric.Item, attempts int) string {
	if h := item.Hint(attempts); h != "" {
		return h
	}
	return item.Criterion
}
