package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm/clause"

	"github.com/DanielCayresFilho/NoVendx/internal/apperrors"
	"github.com/DanielCayresFilho/NoVendx/internal/model"
	"github.com/DanielCayresFilho/NoVendx/pkg/logger"
	"github.com/DanielCayresFilho/NoVendx/pkg/utils"
)

// --- Contact Repository Methods ---

// FindContactByPhone finds a contact by its phone number.
func (r *PostgresRepo) FindContactByPhone(ctx context.Context, phone string) (*model.Contact, error) {
	digits := utils.NormalizePhone(phone)
	var contact model.Contact
	operation := func() error {
		if err := r.db.WithContext(ctx).Where("phone = ?", digits).First(&contact).Error; err != nil {
			return notFoundOr(err, "contact phone "+digits)
		}
		return nil
	}
	if err := r.observed(ctx, readRetryMaxElapsedTime, "find_by_phone", "contact", operation); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		logger.FromContext(ctx).Error("Failed to find contact by phone after retries", zap.String("phone", digits), zap.Error(err))
		return nil, err
	}
	return &contact, nil
}

// EnsureContact inserts the contact if its phone is new, then returns the stored row.
func (r *PostgresRepo) EnsureContact(ctx context.Context, contact model.Contact) (*model.Contact, error) {
	contact.Phone = utils.NormalizePhone(contact.Phone)
	var stored model.Contact
	operation := func() error {
		db := r.db.WithContext(ctx)
		insert := contact
		if err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "phone"}},
			DoNothing: true,
		}).Create(&insert).Error; err != nil {
			return checkConstraintViolation(err)
		}
		if err := db.Where("phone = ?", contact.Phone).First(&stored).Error; err != nil {
			return notFoundOr(err, "contact phone "+contact.Phone)
		}
		return nil
	}
	if err := r.observed(ctx, commitRetryMaxElapsedTime, "ensure", "contact", operation); err != nil {
		return nil, err
	}
	return &stored, nil
}

// SetContactCPC updates the CPC flag. Marking CPC also stamps lastCPCAt.
func (r *PostgresRepo) SetContactCPC(ctx context.Context, phone string, isCPC bool, at time.Time) error {
	digits := utils.NormalizePhone(phone)
	updates := map[string]interface{}{"is_cpc": isCPC, "updated_at": utils.Now()}
	if isCPC {
		updates["last_cpc_at"] = at
	}
	operation := func() error {
		res := r.db.WithContext(ctx).Model(&model.Contact{}).Where("phone = ?", digits).Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("%w: update contact cpc failed: %w", apperrors.ErrDatabase, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: contact phone %s", apperrors.ErrNotFound, digits)
		}
		return nil
	}
	return r.observed(ctx, commitRetryMaxElapsedTime, "set_cpc", "contact", operation)
}

// --- Blocklist Repository Methods ---

// IsBlocklisted reports whether phone is on the blocklist.
func (r *PostgresRepo) IsBlocklisted(ctx context.Context, phone string) (bool, error) {
	digits := utils.NormalizePhone(phone)
	var count int64
	operation := func() error {
		if err := r.db.WithContext(ctx).Model(&model.BlocklistEntry{}).Where("phone = ?", digits).Count(&count).Error; err != nil {
			return fmt.Errorf("%w: blocklist lookup failed: %w", apperrors.ErrDatabase, err)
		}
		return nil
	}
	if err := r.observed(ctx, readRetryMaxElapsedTime, "is_blocklisted", "blocklist", operation); err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListBlocklistedPhones returns every blocklisted phone.
func (r *PostgresRepo) ListBlocklistedPhones(ctx context.Context) ([]string, error) {
	var phones []string
	operation := func() error {
		if err := r.db.WithContext(ctx).Model(&model.BlocklistEntry{}).Pluck("phone", &phones).Error; err != nil {
			return fmt.Errorf("%w: list blocklist failed: %w", apperrors.ErrDatabase, err)
		}
		return nil
	}
	if err := r.observed(ctx, readRetryMaxElapsedTime, "list", "blocklist", operation); err != nil {
		return nil, err
	}
	return phones, nil
}

// AddToBlocklist inserts a phone; an existing entry is left as is.
func (r *PostgresRepo) AddToBlocklist(ctx context.Context, entry model.BlocklistEntry) error {
	entry.Phone = utils.NormalizePhone(entry.Phone)
	operation := func() error {
		err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "phone"}},
			DoNothing: true,
		}).Create(&entry).Error
		return checkConstraintViolation(err)
	}
	return r.observed(ctx, commitRetryMaxElapsedTime, "add", "blocklist", operation)
}
