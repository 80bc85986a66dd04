package store

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProgressKey identifies a ledger row.
type ProgressKey struct {
	UserID string
	GoalID string
	ItemID string
}

func (k ProgressKey) String() string {
	return k.UserID + "\x00" + k.GoalID + "\x00" + k.ItemID
}

// ProgressRepo manages ProgressRecord rows.
type ProgressRepo interface {
	// GetOrCreate returns the record for key, creating it with
	// initialStatus when missing. Safe under concurrent and duplicate calls:
	// exactly one row exists per key afterwards and no duplicate-key error
	// is returned.
	GetOrCreate(ctx context.Context, key ProgressKey, initialStatus string) (*ProgressRecord, error)

	// Get returns the record for key or ErrNotFound.
	Get(ctx context.Context, key ProgressKey) (*ProgressRecord, error)

	// ListByGoal returns every record a user has for a goal.
	ListByGoal(ctx context.Context, userID, goalID string) ([]*ProgressRecord, error)

	// Update writes rec if its version still equals the stored version and
	// bumps the version. Returns ErrConflict if another writer got there
	// first.
	Update(ctx context.Context, rec *ProgressRecord) error
}

type progressRepo struct {
	db     *gorm.DB
	flight *singleflight.Group
}

func (r *progressRepo) GetOrCreate(ctx context.Context, key ProgressKey, initialStatus string) (*ProgressRecord, error) {
	if r.flight == nil {
		return r.getOrCreate(ctx, key, initialStatus)
	}
	// The flight outlives whichever caller started it, so it must not
	// inherit that caller's cancellation. Each caller still stops waiting
	// when its own ctx ends.
	ch := r.flight.DoChan(key.String(), func() (any, error) {
		return r.getOrCreate(context.WithoutCancel(ctx), key, initialStatus)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		// Callers sharing a flight must not share the pointer.
		rec := *res.Val.(*ProgressRecord)
		return &rec, nil
	}
}

func (r *progressRepo) getOrCreate(ctx context.Context, key ProgressKey, initialStatus string) (*ProgressRecord, error) {
	rec := &ProgressRecord{
		UserID: key.UserID,
		GoalID: key.GoalID,
		ItemID: key.ItemID,
		Status: initialStatus,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "goal_id"}, {Name: "item_id"}},
			DoNothing: true,
		}).
		Create(rec).Error
	if err != nil {
		return nil, fmt.Errorf("insert progress record: %w", err)
	}
	return r.Get(ctx, key)
}

func (r *progressRepo) Get(ctx context.Context, key ProgressKey) (*ProgressRecord, error) {
	var rec ProgressRecord
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND goal_id = ? AND item_id = ?", key.UserID, key.GoalID, key.ItemID).
		First(&rec).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

func (r *progressRepo) ListByGoal(ctx context.Context, userID, goalID string) ([]*ProgressRecord, error) {
	out := []*ProgressRecord{}
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND goal_id = ?", userID, goalID).
		Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list progress records: %w", err)
	}
	return out, nil
}

func (r *progressRepo) Update(ctx context.Context, rec *ProgressRecord) error {
	prev := rec.Version
	res := r.db.WithContext(ctx).
		Model(&ProgressRecord{}).
		Where("id = ? AND version = ?", rec.ID, prev).
		Updates(map[string]any{
			"status":              rec.Status,
			"attempts":            rec.Attempts,
			"expires_at":          rec.ExpiresAt,
			"passed_at":           rec.PassedAt,
			"certification_count": rec.CertificationCount,
			"rubric_trace":        rec.RubricTrace,
			"trace_token":         rec.TraceToken,
			"version":             prev + 1,
		})
	if res.Error != nil {
		return fmt.Errorf("update progress record %d: %w", rec.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	rec.Version = prev + 1
	return nil
}
