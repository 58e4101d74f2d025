package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/DanielCayresFilho/NoVendx/internal/apperrors"
	"github.com/DanielCayresFilho/NoVendx/internal/model"
	"github.com/DanielCayresFilho/NoVendx/pkg/utils"
)

// --- Control Panel Methods ---

func segmentScope(db *gorm.DB, segmentID *int64) *gorm.DB {
	if segmentID == nil {
		return db.Where("segment_id IS NULL")
	}
	return db.Where("segment_id = ?", *segmentID)
}

// FindControlPanel returns the configuration row for exactly segmentID.
func (r *PostgresRepo) FindControlPanel(ctx context.Context, segmentID *int64) (*model.ControlPanelConfig, error) {
	var cfg model.ControlPanelConfig
	operation := func() error {
		if err := segmentScope(r.db.WithContext(ctx), segmentID).First(&cfg).Error; err != nil {
			return notFoundOr(err, "control panel")
		}
		return nil
	}
	if err := r.observed(ctx, readRetryMaxElapsedTime, "find", "control_panel", operation); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &cfg, nil
}

// UpsertControlPanel creates or replaces the row for cfg.SegmentID.
func (r *PostgresRepo) UpsertControlPanel(ctx context.Context, cfg model.ControlPanelConfig) (*model.ControlPanelConfig, error) {
	var stored model.ControlPanelConfig
	operation := func() error {
		return r.withTx(ctx, func(tx *gorm.DB) error {
			stored = model.ControlPanelConfig{}
			err := segmentScope(tx.Clauses(clause.Locking{Strength: "UPDATE"}), cfg.SegmentID).First(&stored).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				stored = cfg
				stored.ID = 0
				return checkConstraintViolation(tx.Create(&stored).Error)
			}
			if err != nil {
				return fmt.Errorf("%w: lock control panel failed: %w", apperrors.ErrDatabase, err)
			}

			id, createdAt := stored.ID, stored.CreatedAt
			stored = cfg
			stored.ID = id
			stored.CreatedAt = createdAt
			stored.UpdatedAt = utils.Now()
			err = tx.Model(&model.ControlPanelConfig{}).
				Where("id = ?", id).
				Select(model.ControlPanelUpdateColumns()).
				Updates(&stored).Error
			if err != nil {
				return checkConstraintViolation(err)
			}
			return nil
		})
	}
	if err := r.observed(ctx, commitRetryMaxElapsedTime, "upsert", "control_panel", operation); err != nil {
		return nil, err
	}
	return &stored, nil
}
