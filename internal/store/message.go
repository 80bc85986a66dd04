package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// MessageRepo stores the session transcript.
type MessageRepo interface {
	Append(ctx context.Context, msgs ...*Message) error

	// Recent returns up to limit of the latest messages for a session in
	// chronological order. An empty role matches every role.
	Recent(ctx context.Context, sessionID, role string, limit int) ([]*Message, error)
}

type messageRepo struct {
	db *gorm.DB
}

func (r *messageRepo) Append(ctx context.Context, msgs ...*Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(&msgs).Error; err != nil {
		return fmt.Errorf("append messages: %w", err)
	}
	return nil
}

func (r *messageRepo) Recent(ctx context.Context, sessionID, role string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 20
	}
	q := r.db.WithContext(ctx).Where("session_id = ?", sessionID)
	if role != "" {
		q = q.Where("role = ?", role)
	}
	out := []*Message{}
	if err := q.Order("id DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
