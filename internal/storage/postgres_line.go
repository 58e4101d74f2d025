package storage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/DanielCayresFilho/NoVendx/internal/apperrors"
	"github.com/DanielCayresFilho/NoVendx/internal/model"
	"github.com/DanielCayresFilho/NoVendx/pkg/logger"
	"github.com/DanielCayresFilho/NoVendx/pkg/utils"
)

// occupantRow is one binding joined with the bound operator's segment.
type occupantRow struct {
	LineID     int64  `gorm:"column:line_id"`
	OperatorID int64  `gorm:"column:operator_id"`
	SegmentID  *int64 `gorm:"column:segment_id"`
}

// --- Line Pool Methods ---

// GetAvailableLines lists active lines whose gateway instance is active (or unset), with occupants.
func (r *PostgresRepo) GetAvailableLines(ctx context.Context, segmentID *int64) ([]model.LineWithOccupancy, error) {
	var lines []model.Line
	var occupants []occupantRow

	operation := func() error {
		lines = lines[:0]
		occupants = occupants[:0]

		q := r.db.WithContext(ctx).
			Model(&model.Line{}).
			Select("lines.*").
			Joins("LEFT JOIN gateway_instances gi ON gi.name = lines.gateway_name").
			Where("lines.status = ?", model.LineActive).
			Where("(lines.gateway_name = '' OR lines.gateway_name IS NULL OR gi.active = ?)", true)
		if segmentID != nil {
			q = q.Where("lines.segment_id = ?", *segmentID)
		}
		if err := q.Order("lines.phone").Find(&lines).Error; err != nil {
			return fmt.Errorf("%w: query available lines failed: %w", apperrors.ErrDatabase, err)
		}
		if len(lines) == 0 {
			return nil
		}

		ids := make([]int64, len(lines))
		for i, l := range lines {
			ids[i] = l.ID
		}
		err := r.db.WithContext(ctx).
			Table("line_operators").
			Select("line_operators.line_id, line_operators.operator_id, operators.segment_id").
			Joins("LEFT JOIN operators ON operators.id = line_operators.operator_id").
			Where("line_operators.line_id IN ?", ids).
			Order("line_operators.id").
			Scan(&occupants).Error
		if err != nil {
			return fmt.Errorf("%w: query line occupants failed: %w", apperrors.ErrDatabase, err)
		}
		return nil
	}

	if err := r.observed(ctx, readRetryMaxElapsedTime, "get_available_lines", "line", operation); err != nil {
		logger.FromContext(ctx).Error("Failed to list available lines", zap.Error(err))
		return nil, err
	}

	byLine := make(map[int64][]model.LineOccupant, len(lines))
	for _, o := range occupants {
		byLine[o.LineID] = append(byLine[o.LineID], model.LineOccupant{OperatorID: o.OperatorID, SegmentID: o.SegmentID})
	}
	result := make([]model.LineWithOccupancy, 0, len(lines))
	for _, l := range lines {
		result = append(result, model.LineWithOccupancy{Line: l, Occupants: byLine[l.ID]})
	}
	return result, nil
}

// lockLine selects the line row FOR UPDATE inside tx.
func lockLine(tx *gorm.DB, lineID int64) (*model.Line, error) {
	var line model.Line
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", lineID).
		First(&line).Error
	if err != nil {
		return nil, notFoundOr(err, fmt.Sprintf("line %d", lineID))
	}
	return &line, nil
}

// BindOperator binds operatorID to lineID under a row lock on the line.
func (r *PostgresRepo) BindOperator(ctx context.Context, lineID, operatorID int64) error {
	capacity := int64(r.capacity())

	operation := func() error {
		return r.withTx(ctx, func(tx *gorm.DB) error {
			line, err := lockLine(tx, lineID)
			if err != nil {
				return err
			}
			if !line.IsActive() {
				return fmt.Errorf("%w: line %d is %s", apperrors.ErrLineUnavailable, lineID, line.Status)
			}

			var existing int64
			if err := tx.Model(&model.LineBinding{}).Where("operator_id = ?", operatorID).Count(&existing).Error; err != nil {
				return fmt.Errorf("%w: count operator bindings failed: %w", apperrors.ErrDatabase, err)
			}
			if existing > 0 {
				return fmt.Errorf("%w: operator %d", apperrors.ErrAlreadyBound, operatorID)
			}

			var occupied int64
			if err := tx.Model(&model.LineBinding{}).Where("line_id = ?", lineID).Count(&occupied).Error; err != nil {
				return fmt.Errorf("%w: count line bindings failed: %w", apperrors.ErrDatabase, err)
			}
			if occupied >= capacity {
				return fmt.Errorf("%w: line %d holds %d operators", apperrors.ErrCapacityExceeded, lineID, occupied)
			}

			binding := model.LineBinding{LineID: lineID, OperatorID: operatorID}
			if err := tx.Create(&binding).Error; err != nil {
				mapped := checkConstraintViolation(err)
				// A concurrent bind of the same operator on another line lost the unique index race.
				if errors.Is(mapped, apperrors.ErrDuplicate) {
					return fmt.Errorf("%w: operator %d: %w", apperrors.ErrAlreadyBound, operatorID, err)
				}
				return mapped
			}
			return nil
		})
	}

	err := r.observed(ctx, commitRetryMaxElapsedTime, "bind_operator", "line", operation)
	if err != nil && !apperrors.IsContention(err) && !errors.Is(err, apperrors.ErrLineUnavailable) {
		logger.FromContext(ctx).Error("Failed to bind operator to line",
			zap.Int64("line_id", lineID),
			zap.Int64("operator_id", operatorID),
			zap.Error(err))
	}
	return err
}

// UnbindOperator deletes the binding. Missing bindings are not an error.
func (r *PostgresRepo) UnbindOperator(ctx context.Context, lineID, operatorID int64) error {
	operation := func() error {
		err := r.db.WithContext(ctx).
			Where("line_id = ? AND operator_id = ?", lineID, operatorID).
			Delete(&model.LineBinding{}).Error
		if err != nil {
			return fmt.Errorf("%w: delete binding failed: %w", apperrors.ErrDatabase, err)
		}
		return nil
	}
	return r.observed(ctx, commitRetryMaxElapsedTime, "unbind_operator", "line", operation)
}

// MarkBanned bans the line and clears its bindings in one transaction.
func (r *PostgresRepo) MarkBanned(ctx context.Context, lineID int64) ([]int64, error) {
	var former []int64

	operation := func() error {
		former = former[:0]
		return r.withTx(ctx, func(tx *gorm.DB) error {
			if _, err := lockLine(tx, lineID); err != nil {
				return err
			}
			if err := tx.Model(&model.LineBinding{}).
				Where("line_id = ?", lineID).
				Order("id").
				Pluck("operator_id", &former).Error; err != nil {
				return fmt.Errorf("%w: list bindings failed: %w", apperrors.ErrDatabase, err)
			}
			if err := tx.Where("line_id = ?", lineID).Delete(&model.LineBinding{}).Error; err != nil {
				return fmt.Errorf("%w: delete bindings failed: %w", apperrors.ErrDatabase, err)
			}
			err := tx.Model(&model.Line{}).
				Where("id = ?", lineID).
				Updates(map[string]interface{}{"status": model.LineBanned, "updated_at": utils.Now()}).Error
			if err != nil {
				return fmt.Errorf("%w: ban line failed: %w", apperrors.ErrDatabase, err)
			}
			return nil
		})
	}

	if err := r.observed(ctx, commitRetryMaxElapsedTime, "mark_banned", "line", operation); err != nil {
		logger.FromContext(ctx).Error("Failed to mark line banned", zap.Int64("line_id", lineID), zap.Error(err))
		return nil, err
	}
	return former, nil
}

// PromoteSegment assigns segmentID to a line that has no segment yet.
func (r *PostgresRepo) PromoteSegment(ctx context.Context, lineID, segmentID int64) error {
	operation := func() error {
		err := r.db.WithContext(ctx).
			Model(&model.Line{}).
			Where("id = ? AND segment_id IS NULL", lineID).
			Updates(map[string]interface{}{"segment_id": segmentID, "updated_at": utils.Now()}).Error
		if err != nil {
			return fmt.Errorf("%w: promote line segment failed: %w", apperrors.ErrDatabase, err)
		}
		return nil
	}
	return r.observed(ctx, commitRetryMaxElapsedTime, "promote_segment", "line", operation)
}

// CurrentLine resolves the operator's line through the binding table.
func (r *PostgresRepo) CurrentLine(ctx context.Context, operatorID int64) (*model.Line, error) {
	var line model.Line
	operation := func() error {
		err := r.db.WithContext(ctx).
			Model(&model.Line{}).
			Select("lines.*").
			Joins("JOIN line_operators ON line_operators.line_id = lines.id").
			Where("line_operators.operator_id = ?", operatorID).
			Take(&line).Error
		if err != nil {
			return notFoundOr(err, fmt.Sprintf("line of operator %d", operatorID))
		}
		return nil
	}
	if err := r.observed(ctx, readRetryMaxElapsedTime, "current_line", "line", operation); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &line, nil
}

// FindLineByID finds a line by primary key.
func (r *PostgresRepo) FindLineByID(ctx context.Context, lineID int64) (*model.Line, error) {
	var line model.Line
	operation := func() error {
		if err := r.db.WithContext(ctx).Where("id = ?", lineID).First(&line).Error; err != nil {
			return notFoundOr(err, fmt.Sprintf("line %d", lineID))
		}
		return nil
	}
	if err := r.observed(ctx, readRetryMaxElapsedTime, "find_by_id", "line", operation); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &line, nil
}

// FindLineByPhone finds a line by its digits-only phone.
func (r *PostgresRepo) FindLineByPhone(ctx context.Context, phone string) (*model.Line, error) {
	digits := utils.NormalizePhone(phone)
	var line model.Line
	operation := func() error {
		if err := r.db.WithContext(ctx).Where("phone = ?", digits).First(&line).Error; err != nil {
			return notFoundOr(err, "line phone "+digits)
		}
		return nil
	}
	if err := r.observed(ctx, readRetryMaxElapsedTime, "find_by_phone", "line", operation); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &line, nil
}

// SaveLine inserts a line or updates it by phone.
func (r *PostgresRepo) SaveLine(ctx context.Context, line *model.Line) error {
	line.Phone = utils.NormalizePhone(line.Phone)
	if line.Status == "" {
		line.Status = model.LineActive
	}
	operation := func() error {
		err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "phone"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "segment_id", "gateway_name", "updated_at"}),
		}).Create(line).Error
		return checkConstraintViolation(err)
	}
	return r.observed(ctx, commitRetryMaxElapsedTime, "save", "line", operation)
}
