package store

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

func allModels() []any {
	return []any{
		&GoalRecord{},
		&CatalogMeta{},
		&ProgressRecord{},
		&Session{},
		&Message{},
		&HandoffRequest{},
		&LLMRequestEvent{},
	}
}

// GoalRecord is a seeded learning goal. Items hold the ordered rubric items
// as JSON.
type GoalRecord struct {
	ID          string `gorm:"primaryKey;size:128"`
	Title       string
	Description string
	Position    int

	// CertificationSeconds is nil when passes never expire.
	CertificationSeconds *int64

	Items     datatypes.JSON
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CatalogMeta records the version of the last seeded catalog.
type CatalogMeta struct {
	ID        int `gorm:"primaryKey"`
	Version   string
	SeededAt  time.Time
	GoalCount int
}

// ProgressRecord is the per (user, goal, item) ledger row.
type ProgressRecord struct {
	ID     uint   `gorm:"primaryKey"`
	UserID string `gorm:"size:128;not null;uniqueIndex:idx_progress_key,priority:1"`
	GoalID string `gorm:"size:128;not null;uniqueIndex:idx_progress_key,priority:2"`
	ItemID string `gorm:"size:128;not null;uniqueIndex:idx_progress_key,priority:3"`

	Status   string `gorm:"size:32;not null"`
	Attempts int    `gorm:"not null;default:0"`

	// ExpiresAt is set when the record reaches passed.
	ExpiresAt          *time.Time
	PassedAt           *time.Time
	CertificationCount int `gorm:"not null;default:0"`

	RubricTrace datatypes.JSON
	TraceToken  string

	Version   int `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TraceEntry is one judged attempt in a record's rubric trace.
type TraceEntry struct {
	Attempt   int       `json:"attempt"`
	Utterance string    `json:"utterance"`
	Verdict   string    `json:"verdict"`
	Rationale string    `json:"rationale,omitempty"`
	At        time.Time `json:"at"`
}

// Trace decodes the rubric trace.
func (r *ProgressRecord) Trace() ([]TraceEntry, error) {
	if len(r.RubricTrace) == 0 {
		return nil, nil
	}
	var out []TraceEntry
	if err := json.Unmarshal(r.RubricTrace, &out); err != nil {
		return nil, fmt.Errorf("decode rubric trace: %w", err)
	}
	return out, nil
}

// AppendTrace adds an entry to the rubric trace.
func (r *ProgressRecord) AppendTrace(e TraceEntry) error {
	entries, err := r.Trace()
	if err != nil {
		return err
	}
	b, err := json.Marshal(append(entries, e))
	if err != nil {
		return fmt.Errorf("encode rubric trace: %w", err)
	}
	r.RubricTrace = datatypes.JSON(b)
	return nil
}

// Session is the persisted state of one tutoring session. Nothing about a
// session lives in memory between turns.
type Session struct {
	ID     string `gorm:"primaryKey;size:36"`
	UserID string `gorm:"size:128;not null;index:idx_session_user_goal,priority:1"`
	GoalID string `gorm:"size:128;not null;index:idx_session_user_goal,priority:2"`
	Mode   string `gorm:"size:32;not null"`
	Phase  string `gorm:"size:32;not null"`

	CurrentItemID *string `gorm:"size:128"`

	SessionTraceToken string
	TopicTraceToken   string

	TurnCount int `gorm:"not null;default:0"`
	Version   int `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
	EndedAt   *time.Time
}

// Message is one line of the session transcript.
type Message struct {
	ID        uint   `gorm:"primaryKey"`
	SessionID string `gorm:"size:36;not null;index"`
	Role      string `gorm:"size:16;not null"`
	ItemID    string `gorm:"size:128"`
	Content   string `gorm:"not null"`
	CreatedAt time.Time
}

// Message roles.
const (
	RoleUser  = "user"
	RoleTutor = "tutor"
)

// HandoffRequest audits a downstream handoff decision.
type HandoffRequest struct {
	ID             uint    `gorm:"primaryKey"`
	UserID         string  `gorm:"size:128;not null;index:idx_handoff_user_goal,priority:1"`
	GoalID         string  `gorm:"size:128;not null;index:idx_handoff_user_goal,priority:2"`
	Ratio          float64 `gorm:"not null"`
	Allowed        bool    `gorm:"not null"`
	Overridden     bool    `gorm:"not null"`
	OverrideReason string
	CreatedAt      time.Time
}

// LLMRequestEvent records a single call to the language model.
type LLMRequestEvent struct {
	ID           int       `gorm:"primaryKey"`
	Timestamp    time.Time `gorm:"index"`
	Provider     string
	Model        string
	Purpose      string `gorm:"index"`
	InputTokens  int
	OutputTokens int
	LatencyMs    int64
	Success      bool
	ErrorMessage string
	RequestBody  string
	ResponseBody string
}
