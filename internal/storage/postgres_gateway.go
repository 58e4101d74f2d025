package storage

import (
	"context"
	"errors"

	"gorm.io/gorm/clause"

	"github.com/DanielCayresFilho/NoVendx/internal/apperrors"
	"github.com/DanielCayresFilho/NoVendx/internal/model"
)

// --- Gateway Instance Methods ---

// FindGatewayInstance finds a gateway instance by name.
func (r *PostgresRepo) FindGatewayInstance(ctx context.Context, name string) (*model.GatewayInstance, error) {
	var gi model.GatewayInstance
	operation := func() error {
		if err := r.db.WithContext(ctx).Where("name = ?", name).First(&gi).Error; err != nil {
			return notFoundOr(err, "gateway instance "+name)
		}
		return nil
	}
	if err := r.observed(ctx, readRetryMaxElapsedTime, "find", "gateway_instance", operation); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &gi, nil
}

// SaveGatewayInstance inserts or updates an instance by name.
func (r *PostgresRepo) SaveGatewayInstance(ctx context.Context, gi *model.GatewayInstance) error {
	operation := func() error {
		err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"base_url", "api_key", "active", "updated_at"}),
		}).Create(gi).Error
		return checkConstraintViolation(err)
	}
	return r.observed(ctx, commitRetryMaxElapsedTime, "save", "gateway_instance", operation)
}
