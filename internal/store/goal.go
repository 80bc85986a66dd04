package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/abhisek/sensei/internal/rubric"
)

// GoalRepo stores seeded rubric goals and serves them as a rubric.Source.
type GoalRepo interface {
	rubric.Source

	// SaveCatalog upserts every goal in the catalog and records its version.
	// Goals missing from the catalog are kept so existing progress still
	// resolves.
	SaveCatalog(ctx context.Context, c *rubric.Catalog) error

	// CatalogVersion returns the version of the last seeded catalog, or ""
	// when nothing has been seeded.
	CatalogVersion(ctx context.Context) (string, error)
}

type goalRepo struct {
	db *gorm.DB
}

const catalogMetaID = 1

func (r *goalRepo) SaveCatalog(ctx context.Context, c *rubric.Catalog) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, g := range c.Goals {
			row, err := goalToRecord(g, i)
			if err != nil {
				return err
			}
			err = tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"title", "description", "position", "certification_seconds", "items", "updated_at"}),
			}).Create(row).Error
			if err != nil {
				return fmt.Errorf("save goal %q: %w", g.ID, err)
			}
		}
		meta := &CatalogMeta{
			ID:        catalogMetaID,
			Version:   c.Version,
			SeededAt:  time.Now().UTC(),
			GoalCount: len(c.Goals),
		}
		if err := tx.Save(meta).Error; err != nil {
			return fmt.Errorf("save catalog meta: %w", err)
		}
		return nil
	})
}

func (r *goalRepo) CatalogVersion(ctx context.Context) (string, error) {
	var meta CatalogMeta
	err := r.db.WithContext(ctx).Where("id = ?", catalogMetaID).First(&meta).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query catalog meta: %w", err)
	}
	return meta.Version, nil
}

func (r *goalRepo) Goal(ctx context.Context, goalID string) (*rubric.Goal, error) {
	var row GoalRecord
	err := r.db.WithContext(ctx).Where("id = ?", goalID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %q", rubric.ErrGoalNotFound, goalID)
	}
	if err != nil {
		return nil, fmt.Errorf("query goal %q: %w", goalID, err)
	}
	return recordToGoal(&row)
}

func (r *goalRepo) ListGoals(ctx context.Context) ([]*rubric.Goal, error) {
	var rows []GoalRecord
	if err := r.db.WithContext(ctx).Order("position ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	out := make([]*rubric.Goal, 0, len(rows))
	for i := range rows {
		g, err := recordToGoal(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

func goalToRecord(g *rubric.Goal, position int) (*GoalRecord, error) {
	items, err := json.Marshal(g.Items)
	if err != nil {
		return nil, fmt.Errorf("encode items for goal %q: %w", g.ID, err)
	}
	row := &GoalRecord{
		ID:          g.ID,
		Title:       g.Title,
		Description: g.Description,
		Position:    position,
		Items:       datatypes.JSON(items),
	}
	if g.CertificationPeriod != nil {
		secs := int64(g.CertificationPeriod.Seconds())
		row.CertificationSeconds = &secs
	}
	return row, nil
}

func recordToGoal(row *GoalRecord) (*rubric.Goal, error) {
	g := &rubric.Goal{
		ID:          row.ID,
		Title:       row.Title,
		Description: row.Description,
	}
	if len(row.Items) > 0 {
		if err := json.Unmarshal(row.Items, &g.Items); err != nil {
			return nil, fmt.Errorf("decode items for goal %q: %w", row.ID, err)
		}
	}
	if row.CertificationSeconds != nil {
		p := time.Duration(*row.CertificationSeconds) * time.Second
		g.CertificationPeriod = &p
	}
	return g, nil
}
