package storage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/DanielCayresFilho/NoVendx/internal/apperrors"
	"github.com/DanielCayresFilho/NoVendx/internal/model"
	"github.com/DanielCayresFilho/NoVendx/pkg/logger"
)

// --- Operator Repository Methods ---

// fillLineProjection sets LineID on each operator from the binding table.
func fillLineProjection(db *gorm.DB, ops []model.Operator) error {
	if len(ops) == 0 {
		return nil
	}
	ids := make([]int64, len(ops))
	for i, op := range ops {
		ids[i] = op.ID
	}
	var bindings []model.LineBinding
	if err := db.Where("operator_id IN ?", ids).Find(&bindings).Error; err != nil {
		return fmt.Errorf("%w: load operator bindings failed: %w", apperrors.ErrDatabase, err)
	}
	byOperator := make(map[int64]int64, len(bindings))
	for _, b := range bindings {
		byOperator[b.OperatorID] = b.LineID
	}
	for i := range ops {
		ops[i].LineID = nil
		if lineID, ok := byOperator[ops[i].ID]; ok {
			lineID := lineID
			ops[i].LineID = &lineID
		}
	}
	return nil
}

// FindOperatorByID loads an operator and its current line.
func (r *PostgresRepo) FindOperatorByID(ctx context.Context, id int64) (*model.Operator, error) {
	var op model.Operator
	operation := func() error {
		db := r.db.WithContext(ctx)
		if err := db.Where("id = ?", id).First(&op).Error; err != nil {
			return notFoundOr(err, fmt.Sprintf("operator %d", id))
		}
		ops := []model.Operator{op}
		if err := fillLineProjection(db, ops); err != nil {
			return err
		}
		op = ops[0]
		return nil
	}
	if err := r.observed(ctx, readRetryMaxElapsedTime, "find_by_id", "operator", operation); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		logger.FromContext(ctx).Error("Failed to find operator", zap.Int64("operator_id", id), zap.Error(err))
		return nil, err
	}
	return &op, nil
}

func (r *PostgresRepo) listOperators(ctx context.Context, opName string, scope func(*gorm.DB) *gorm.DB) ([]model.Operator, error) {
	var ops []model.Operator
	operation := func() error {
		db := r.db.WithContext(ctx)
		if err := scope(db.Model(&model.Operator{})).Order("id").Find(&ops).Error; err != nil {
			return fmt.Errorf("%w: list operators failed: %w", apperrors.ErrDatabase, err)
		}
		return fillLineProjection(db, ops)
	}
	if err := r.observed(ctx, readRetryMaxElapsedTime, opName, "operator", operation); err != nil {
		return nil, err
	}
	return ops, nil
}

// ListOnlineOperators returns every online operator with role operator.
func (r *PostgresRepo) ListOnlineOperators(ctx context.Context) ([]model.Operator, error) {
	return r.listOperators(ctx, "list_online", func(db *gorm.DB) *gorm.DB {
		return db.Where("status = ? AND role = ?", model.OperatorOnline, model.RoleOperator)
	})
}

// ListSupervisors returns the supervisors of a segment.
func (r *PostgresRepo) ListSupervisors(ctx context.Context, segmentID int64) ([]model.Operator, error) {
	return r.listOperators(ctx, "list_supervisors", func(db *gorm.DB) *gorm.DB {
		return db.Where("role = ? AND segment_id = ?", model.RoleSupervisor, segmentID)
	})
}

// ListLineOperators returns the operators bound to lineID.
func (r *PostgresRepo) ListLineOperators(ctx context.Context, lineID int64) ([]model.Operator, error) {
	return r.listOperators(ctx, "list_by_line", func(db *gorm.DB) *gorm.DB {
		return db.Where("id IN (?)", r.db.Model(&model.LineBinding{}).Select("operator_id").Where("line_id = ?", lineID))
	})
}

// SaveOperator inserts or updates an operator. LineID is ignored.
func (r *PostgresRepo) SaveOperator(ctx context.Context, op *model.Operator) error {
	operation := func() error {
		return checkConstraintViolation(r.db.WithContext(ctx).Save(op).Error)
	}
	return r.observed(ctx, commitRetryMaxElapsedTime, "save", "operator", operation)
}
