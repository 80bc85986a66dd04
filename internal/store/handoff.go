package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// HandoffRepo audits handoff decisions.
type HandoffRepo interface {
	Append(ctx context.Context, h *HandoffRequest) error
	List(ctx context.Context, userID, goalID string) ([]*HandoffRequest, error)
}

type handoffRepo struct {
	db *gorm.DB
}

func (r *handoffRepo) Append(ctx context.Context, h *HandoffRequest) error {
	if err := r.db.WithContext(ctx).Create(h).Error; err != nil {
		return fmt.Errorf("append handoff request: %w", err)
	}
	return nil
}

func (r *handoffRepo) List(ctx context.Context, userID, goalID string) ([]*HandoffRequest, error) {
	out := []*HandoffRequest{}
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND goal_id = ?", userID, goalID).
		Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list handoff requests: %w", err)
	}
	return out, nil
}
