package model

import (
	"time"

	"gorm.io/gorm/schema"
)

// OperatorRole is the access role of a call-center user.
type OperatorRole string

const (
	RoleOperator   OperatorRole = "operator"
	RoleSupervisor OperatorRole = "supervisor"
	RoleAdmin      OperatorRole = "admin"
)

// OperatorStatus is the presence state of an operator.
type OperatorStatus string

const (
	OperatorOnline  OperatorStatus = "Online"
	OperatorOffline OperatorStatus = "Offline"
)

// Operator represents the operators table.
type Operator struct {
	ID        int64          `json:"id" gorm:"primaryKey;autoIncrement"`
	Name      string         `json:"name" gorm:"column:name;type:text" validate:"required"`
	Email     string         `json:"email,omitempty" gorm:"column:email;uniqueIndex;type:text" validate:"omitempty,email"`
	Role      OperatorRole   `json:"role" gorm:"column:role;type:text;default:operator" validate:"required,oneof=operator supervisor admin"`
	SegmentID *int64         `json:"segment_id,omitempty" gorm:"column:segment_id;index"`
	Status    OperatorStatus `json:"status" gorm:"column:status;type:text;default:Offline" validate:"required,oneof=Online Offline"`
	// LineID is derived from line_operators on read and never persisted on this row.
	LineID    *int64    `json:"line_id,omitempty" gorm:"-"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (Operator) TableName(namer schema.Namer) string {
	return namer.TableName("operators")
}

// IsOnline reports whether the operator is connected.
func (o *Operator) IsOnline() bool {
	return o != nil && o.Status == OperatorOnline
}
