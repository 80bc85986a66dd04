package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// SessionRepo manages Session rows.
type SessionRepo interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)

	// Update writes s if its version is current and bumps the version.
	// Returns ErrConflict when another request updated the session first.
	Update(ctx context.Context, s *Session) error
}

type sessionRepo struct {
	db *gorm.DB
}

func (r *sessionRepo) Create(ctx context.Context, s *Session) error {
	if err := r.db.WithContext(ctx).Create(s).Error; err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (r *sessionRepo) Get(ctx context.Context, id string) (*Session, error) {
	var s Session
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *sessionRepo) Update(ctx context.Context, s *Session) error {
	prev := s.Version
	res := r.db.WithContext(ctx).
		Model(&Session{}).
		Where("id = ? AND version = ?", s.ID, prev).
		Updates(map[string]any{
			"mode":                s.Mode,
			"phase":               s.Phase,
			"current_item_id":     s.CurrentItemID,
			"session_trace_token": s.SessionTraceToken,
			"topic_trace_token":   s.TopicTraceToken,
			"turn_count":          s.TurnCount,
			"ended_at":            s.EndedAt,
			"version":             prev + 1,
		})
	if res.Error != nil {
		return fmt.Errorf("update session %s: %w", s.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	s.Version = prev + 1
	return nil
}
