package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/DanielCayresFilho/NoVendx/internal/apperrors"
	"github.com/DanielCayresFilho/NoVendx/internal/model"
	"github.com/DanielCayresFilho/NoVendx/pkg/utils"
)

// --- Send History Methods ---

// SaveSendHistory appends one send record.
func (r *PostgresRepo) SaveSendHistory(ctx context.Context, entry model.SendHistory) error {
	entry.ContactPhone = utils.NormalizePhone(entry.ContactPhone)
	if entry.SentAt.IsZero() {
		entry.SentAt = utils.Now()
	}
	operation := func() error {
		return checkConstraintViolation(r.db.WithContext(ctx).Create(&entry).Error)
	}
	return r.observed(ctx, commitRetryMaxElapsedTime, "save", "send_history", operation)
}

// LastSendAt returns the most recent send time for phone.
func (r *PostgresRepo) LastSendAt(ctx context.Context, phone string) (*time.Time, error) {
	digits := utils.NormalizePhone(phone)
	var last model.SendHistory
	found := true
	operation := func() error {
		err := r.db.WithContext(ctx).
			Where("contact_phone = ?", digits).
			Order("sent_at DESC").
			Take(&last).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			found = false
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: last send lookup failed: %w", apperrors.ErrDatabase, err)
		}
		found = true
		return nil
	}
	if err := r.observed(ctx, readRetryMaxElapsedTime, "last_send", "send_history", operation); err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &last.SentAt, nil
}

// --- Outbound Message Methods ---

// CountOutboundSince counts pending and sent messages on a line since a point in time.
func (r *PostgresRepo) CountOutboundSince(ctx context.Context, lineID int64, since time.Time) (int64, error) {
	var count int64
	operation := func() error {
		err := r.db.WithContext(ctx).
			Model(&model.OutboundMessage{}).
			Where("line_id = ? AND created_at >= ? AND status IN ?", lineID, since,
				[]model.OutboundStatus{model.OutboundPending, model.OutboundSent}).
			Count(&count).Error
		if err != nil {
			return fmt.Errorf("%w: count outbound failed: %w", apperrors.ErrDatabase, err)
		}
		return nil
	}
	if err := r.observed(ctx, readRetryMaxElapsedTime, "count_since", "outbound_message", operation); err != nil {
		return 0, err
	}
	return count, nil
}

// SaveOutboundMessage inserts msg and fills its ID.
func (r *PostgresRepo) SaveOutboundMessage(ctx context.Context, msg *model.OutboundMessage) error {
	msg.ContactPhone = utils.NormalizePhone(msg.ContactPhone)
	if msg.Status == "" {
		msg.Status = model.OutboundPending
	}
	operation := func() error {
		return checkConstraintViolation(r.db.WithContext(ctx).Create(msg).Error)
	}
	return r.observed(ctx, commitRetryMaxElapsedTime, "save", "outbound_message", operation)
}

// UpdateOutboundStatus records the delivery result of an outbound message.
func (r *PostgresRepo) UpdateOutboundStatus(ctx context.Context, id int64, status model.OutboundStatus, attempts int, errMsg string) error {
	operation := func() error {
		res := r.db.WithContext(ctx).
			Model(&model.OutboundMessage{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"status":     status,
				"attempts":   attempts,
				"error":      errMsg,
				"updated_at": utils.Now(),
			})
		if res.Error != nil {
			return fmt.Errorf("%w: update outbound status failed: %w", apperrors.ErrDatabase, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: outbound message %d", apperrors.ErrNotFound, id)
		}
		return nil
	}
	return r.observed(ctx, commitRetryMaxElapsedTime, "update_status", "outbound_message", operation)
}
