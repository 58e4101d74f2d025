package model

import (
	"time"

	"gorm.io/gorm/schema"
)

// Contact represents the contacts table: a customer reachable on WhatsApp.
type Contact struct {
	ID        int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	Phone     string     `json:"phone" gorm:"column:phone;uniqueIndex;type:text" validate:"required,phone"`
	Name      string     `json:"name,omitempty" gorm:"column:name;type:text"`
	SegmentID *int64     `json:"segment_id,omitempty" gorm:"column:segment_id;index"`
	IsCPC     bool       `json:"is_cpc" gorm:"column:is_cpc;default:false"`
	LastCPCAt *time.Time `json:"last_cpc_at,omitempty" gorm:"column:last_cpc_at"`
	CreatedAt time.Time  `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time  `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for the Contact model, respecting the Namer.
func (Contact) TableName(namer schema.Namer) string {
	return namer.TableName("contacts")
}

// BlocklistEntry represents the blocklist table: phones that must never be contacted.
type BlocklistEntry struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Phone     string    `json:"phone" gorm:"column:phone;uniqueIndex;type:text" validate:"required,phone"`
	Reason    string    `json:"reason,omitempty" gorm:"column:reason;type:text"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM.
func (BlocklistEntry) TableName(namer schema.Namer) string {
	return namer.TableName("blocklist")
}
