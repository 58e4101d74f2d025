package model

import (
	"time"

	"gorm.io/gorm/schema"
)

// LineStatus is the lifecycle state of a phone line.
type LineStatus string

const (
	LineActive   LineStatus = "active"
	LineBanned   LineStatus = "banned"
	LineInactive LineStatus = "inactive"
)

// DefaultSegmentName is the fallback segment any operator may be placed on.
const DefaultSegmentName = "Padrão"

// Line represents the lines table: one WhatsApp number registered on a gateway instance.
type Line struct {
	// ID is the internal database primary key.
	ID int64 `json:"id" gorm:"primaryKey;autoIncrement"`
	// Phone is the line number, digits only.
	Phone string `json:"phone" gorm:"column:phone;uniqueIndex;type:text" validate:"required,phone"`
	// Status gates every use of the line; banned lines never hold bindings.
	Status LineStatus `json:"status" gorm:"column:status;type:text;index;default:active" validate:"required,oneof=active banned inactive"`
	// SegmentID is nil until the first operator promotes the line into their segment.
	SegmentID *int64 `json:"segment_id,omitempty" gorm:"column:segment_id;index"`
	// GatewayName references the GatewayInstance that holds the credentials for this line.
	GatewayName string    `json:"gateway_name,omitempty" gorm:"column:gateway_name;type:text"`
	CreatedAt   time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (Line) TableName(namer schema.Namer) string {
	return namer.TableName("lines")
}

// IsActive reports whether the line can take bindings and sends.
func (l *Line) IsActive() bool {
	return l != nil && l.Status == LineActive
}

// LineBinding represents the line_operators table. It is the single source of truth
// for which operator holds which line.
type LineBinding struct {
	ID         int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	LineID     int64     `json:"line_id" gorm:"column:line_id;not null;index"`
	OperatorID int64     `json:"operator_id" gorm:"column:operator_id;not null;uniqueIndex"`
	CreatedAt  time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM.
func (LineBinding) TableName(namer schema.Namer) string {
	return namer.TableName("line_operators")
}

// LineOccupant is one operator currently bound to a line, with that operator's segment.
type LineOccupant struct {
	OperatorID int64  `json:"operator_id" gorm:"column:operator_id"`
	SegmentID  *int64 `json:"segment_id,omitempty" gorm:"column:segment_id"`
}

// LineWithOccupancy is a line together with its current occupants.
type LineWithOccupancy struct {
	Line      Line           `json:"line"`
	Occupants []LineOccupant `json:"occupants"`
}

// HasFreeSlot reports whether the line holds fewer than capacity operators.
func (l LineWithOccupancy) HasFreeSlot(capacity int) bool {
	return len(l.Occupants) < capacity
}

// OnlySegment reports whether every occupant belongs to segmentID. An empty line qualifies.
func (l LineWithOccupancy) OnlySegment(segmentID int64) bool {
	for _, o := range l.Occupants {
		if o.SegmentID == nil || *o.SegmentID != segmentID {
			return false
		}
	}
	return true
}

// HasOccupant reports whether operatorID is bound to the line.
func (l LineWithOccupancy) HasOccupant(operatorID int64) bool {
	for _, o := range l.Occupants {
		if o.OperatorID == operatorID {
			return true
		}
	}
	return false
}

// Segment represents the segments table.
type Segment struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Name      string    `json:"name" gorm:"column:name;uniqueIndex;type:text" validate:"required"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM.
func (Segment) TableName(namer schema.Namer) string {
	return namer.TableName("segments")
}

// GatewayInstance represents the gateway_instances table: an Evolution API deployment.
type GatewayInstance struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Name      string    `json:"name" gorm:"column:name;uniqueIndex;type:text" validate:"required"`
	BaseURL   string    `json:"base_url" gorm:"column:base_url;type:text" validate:"required,url"`
	APIKey    string    `json:"-" gorm:"column:api_key;type:text" validate:"required"`
	Active    bool      `json:"active" gorm:"column:active;default:true"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (GatewayInstance) TableName(namer schema.Namer) string {
	return namer.TableName("gateway_instances")
}
