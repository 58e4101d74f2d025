package model

import (
	"time"

	"gorm.io/gorm/schema"
)

// SendHistory represents the send_histories table. Rows are append-only.
type SendHistory struct {
	ID           int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	ContactPhone string    `json:"contact_phone" gorm:"column:contact_phone;type:text;index:idx_send_history_phone_sent"`
	LineID       int64     `json:"line_id" gorm:"column:line_id;index"`
	CampaignID   *int64    `json:"campaign_id,omitempty" gorm:"column:campaign_id"`
	SentAt       time.Time `json:"sent_at" gorm:"column:sent_at;index:idx_send_history_phone_sent"`
}

// TableName specifies the table name for GORM.
func (SendHistory) TableName(namer schema.Namer) string {
	return namer.TableName("send_histories")
}

// OutboundStatus is the delivery state of an outbound message.
type OutboundStatus string

const (
	OutboundPending OutboundStatus = "pending"
	OutboundSent    OutboundStatus = "sent"
	OutboundFailed  OutboundStatus = "failed"
)

// OutboundMessage represents the outbound_messages table. Rate windows count
// rows in pending or sent status per line.
type OutboundMessage struct {
	ID           int64          `json:"id" gorm:"primaryKey;autoIncrement"`
	LineID       int64          `json:"line_id" gorm:"column:line_id;index:idx_outbound_line_created"`
	OperatorID   int64          `json:"operator_id" gorm:"column:operator_id;index"`
	ContactPhone string         `json:"contact_phone" gorm:"column:contact_phone;type:text" validate:"required,phone"`
	Text         string         `json:"text,omitempty" gorm:"column:text;type:text"`
	MediaURL     string         `json:"media_url,omitempty" gorm:"column:media_url;type:text" validate:"omitempty,url"`
	Status       OutboundStatus `json:"status" gorm:"column:status;type:text;default:pending" validate:"required,oneof=pending sent failed"`
	Attempts     int            `json:"attempts" gorm:"column:attempts;default:0"`
	Error        string         `json:"error,omitempty" gorm:"column:error;type:text"`
	CreatedAt    time.Time      `json:"created_at" gorm:"column:created_at;autoCreateTime;index:idx_outbound_line_created"`
	UpdatedAt    time.Time      `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (OutboundMessage) TableName(namer schema.Namer) string {
	return namer.TableName("outbound_messages")
}
