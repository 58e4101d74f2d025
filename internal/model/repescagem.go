package model

import (
	"time"

	"gorm.io/gorm/schema"
)

// RepescagemState represents the contact_repescagens table: per (contact, operator)
// anti-spam counters.
type RepescagemState struct {
	ID             int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	ContactPhone   string     `json:"contact_phone" gorm:"column:contact_phone;type:text;uniqueIndex:idx_repescagem_pair"`
	OperatorID     int64      `json:"operator_id" gorm:"column:operator_id;uniqueIndex:idx_repescagem_pair"`
	MessagesCount  int        `json:"messages_count" gorm:"column:messages_count;default:0"`
	Attempts       int        `json:"attempts" gorm:"column:attempts;default:0"`
	BlockedUntil   *time.Time `json:"blocked_until,omitempty" gorm:"column:blocked_until"`
	PermanentBlock bool       `json:"permanent_block" gorm:"column:permanent_block;default:false"`
	LastMessageAt  *time.Time `json:"last_message_at,omitempty" gorm:"column:last_message_at"`
	CreatedAt      time.Time  `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time  `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (RepescagemState) TableName(namer schema.Namer) string {
	return namer.TableName("contact_repescagens")
}

// BlockedAt reports whether the pair is under a temporary block at now.
// A blockedUntil in the past counts as no block.
func (r *RepescagemState) BlockedAt(now time.Time) bool {
	return r != nil && r.BlockedUntil != nil && r.BlockedUntil.After(now)
}

// RepescagemUpdateColumns returns the columns rewritten on every state transition.
func RepescagemUpdateColumns() []string {
	return []string{
		"messages_count",
		"attempts",
		"blocked_until",
		"permanent_block",
		"last_message_at",
		"updated_at",
	}
}
