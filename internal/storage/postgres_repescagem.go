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

// --- Repescagem Repository Methods ---

// FindRepescagem loads the state of one (contact, operator) pair.
func (r *PostgresRepo) FindRepescagem(ctx context.Context, phone string, operatorID int64) (*model.RepescagemState, error) {
	digits := utils.NormalizePhone(phone)
	var state model.RepescagemState
	operation := func() error {
		err := r.db.WithContext(ctx).
			Where("contact_phone = ? AND operator_id = ?", digits, operatorID).
			First(&state).Error
		if err != nil {
			return notFoundOr(err, "repescagem state")
		}
		return nil
	}
	if err := r.observed(ctx, readRetryMaxElapsedTime, "find", "repescagem", operation); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &state, nil
}

// MutateRepescagem applies fn to the pair state while holding its row lock.
func (r *PostgresRepo) MutateRepescagem(ctx context.Context, phone string, operatorID int64, fn func(*model.RepescagemState) bool) (*model.RepescagemState, error) {
	digits := utils.NormalizePhone(phone)
	var state model.RepescagemState

	operation := func() error {
		return r.withTx(ctx, func(tx *gorm.DB) error {
			seed := model.RepescagemState{ContactPhone: digits, OperatorID: operatorID}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "contact_phone"}, {Name: "operator_id"}},
				DoNothing: true,
			}).Create(&seed).Error; err != nil {
				return checkConstraintViolation(err)
			}

			state = model.RepescagemState{}
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("contact_phone = ? AND operator_id = ?", digits, operatorID).
				First(&state).Error; err != nil {
				return notFoundOr(err, "repescagem state")
			}

			if !fn(&state) {
				return nil
			}
			state.UpdatedAt = utils.Now()
			err := tx.Model(&model.RepescagemState{}).
				Where("id = ?", state.ID).
				Select(model.RepescagemUpdateColumns()).
				Updates(&state).Error
			if err != nil {
				return fmt.Errorf("%w: update repescagem failed: %w", apperrors.ErrDatabase, err)
			}
			return nil
		})
	}

	if err := r.observed(ctx, commitRetryMaxElapsedTime, "mutate", "repescagem", operation); err != nil {
		logger.FromContext(ctx).Error("Failed to update repescagem state",
			zap.String("contact_phone", digits),
			zap.Int64("operator_id", operatorID),
			zap.Error(err))
		return nil, err
	}
	return &state, nil
}

// ResetRepescagemForContact clears the counter and temporary block of every operator pair for phone.
func (r *PostgresRepo) ResetRepescagemForContact(ctx context.Context, phone string) (int64, error) {
	digits := utils.NormalizePhone(phone)
	var affected int64
	operation := func() error {
		res := r.db.WithContext(ctx).
			Model(&model.RepescagemState{}).
			Where("contact_phone = ?", digits).
			Updates(map[string]interface{}{
				"messages_count": 0,
				"blocked_until":  nil,
				"updated_at":     utils.Now(),
			})
		if res.Error != nil {
			return fmt.Errorf("%w: reset repescagem failed: %w", apperrors.ErrDatabase, res.Error)
		}
		affected = res.RowsAffected
		return nil
	}
	if err := r.observed(ctx, commitRetryMaxElapsedTime, "reset_contact", "repescagem", operation); err != nil {
		return 0, err
	}
	return affected, nil
}

// ClearRepescagem is the administrative reset of one pair, including the permanent block.
func (r *PostgresRepo) ClearRepescagem(ctx context.Context, phone string, operatorID int64) error {
	digits := utils.NormalizePhone(phone)
	operation := func() error {
		err := r.db.WithContext(ctx).
			Model(&model.RepescagemState{}).
			Where("contact_phone = ? AND operator_id = ?", digits, operatorID).
			Updates(map[string]interface{}{
				"messages_count":  0,
				"attempts":        0,
				"blocked_until":   nil,
				"permanent_block": false,
				"updated_at":      utils.Now(),
			}).Error
		if err != nil {
			return fmt.Errorf("%w: clear repescagem failed: %w", apperrors.ErrDatabase, err)
		}
		return nil
	}
	return r.observed(ctx, commitRetryMaxElapsedTime, "clear", "repescagem", operation)
}
