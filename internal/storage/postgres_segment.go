package storage

import (
	"context"
	"strings"

	"gorm.io/gorm/clause"

	"github.com/DanielCayresFilho/NoVendx/internal/apperrors"
	"github.com/DanielCayresFilho/NoVendx/internal/model"
)

// --- Segment Repository Methods ---

// EnsureSegment returns the segment called name, creating it first if needed.
func (r *PostgresRepo) EnsureSegment(ctx context.Context, name string) (*model.Segment, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.ErrValidation
	}
	var seg model.Segment
	operation := func() error {
		db := r.db.WithContext(ctx)
		insert := model.Segment{Name: name}
		if err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoNothing: true,
		}).Create(&insert).Error; err != nil {
			return checkConstraintViolation(err)
		}
		if err := db.Where("name = ?", name).First(&seg).Error; err != nil {
			return notFoundOr(err, "segment "+name)
		}
		return nil
	}
	if err := r.observed(ctx, commitRetryMaxElapsedTime, "ensure", "segment", operation); err != nil {
		return nil, err
	}
	return &seg, nil
}
