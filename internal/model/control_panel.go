package model

import (
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// ControlPanelConfig represents the control_panels table. A nil SegmentID is the global row.
type ControlPanelConfig struct {
	ID        int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	SegmentID *int64 `json:"segment_id,omitempty" gorm:"column:segment_id;uniqueIndex"`

	BlockPhrasesEnabled bool `json:"block_phrases_enabled" gorm:"column:block_phrases_enabled"`
	// BlockPhrases is a JSON array of strings. Order is kept but does not affect matching.
	BlockPhrases      datatypes.JSON `json:"block_phrases" gorm:"column:block_phrases;type:jsonb"`
	BlockTabulationID *int64         `json:"block_tabulation_id,omitempty" gorm:"column:block_tabulation_id"`

	CPCCooldownEnabled bool `json:"cpc_cooldown_enabled" gorm:"column:cpc_cooldown_enabled"`
	CPCCooldownHours   int  `json:"cpc_cooldown_hours" gorm:"column:cpc_cooldown_hours" validate:"gte=0"`

	ResendCooldownEnabled bool `json:"resend_cooldown_enabled" gorm:"column:resend_cooldown_enabled"`
	ResendCooldownHours   int  `json:"resend_cooldown_hours" gorm:"column:resend_cooldown_hours" validate:"gte=0"`

	RepescagemEnabled       bool `json:"repescagem_enabled" gorm:"column:repescagem_enabled"`
	RepescagemMaxMessages   int  `json:"repescagem_max_messages" gorm:"column:repescagem_max_messages" validate:"gte=1"`
	RepescagemCooldownHours int  `json:"repescagem_cooldown_hours" gorm:"column:repescagem_cooldown_hours" validate:"gte=0"`
	// RepescagemMaxAttempts of 0 disables the permanent block.
	RepescagemMaxAttempts int `json:"repescagem_max_attempts" gorm:"column:repescagem_max_attempts" validate:"gte=0"`

	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (ControlPanelConfig) TableName(namer schema.Namer) string {
	return namer.TableName("control_panels")
}

// DefaultControlPanelConfig is used when no row exists for a segment nor globally.
func DefaultControlPanelConfig() ControlPanelConfig {
	return ControlPanelConfig{
		BlockPhrasesEnabled:     true,
		BlockPhrases:            datatypes.JSON("[]"),
		CPCCooldownEnabled:      true,
		CPCCooldownHours:        24,
		ResendCooldownEnabled:   true,
		ResendCooldownHours:     24,
		RepescagemEnabled:       false,
		RepescagemMaxMessages:   2,
		RepescagemCooldownHours: 24,
		RepescagemMaxAttempts:   2,
	}
}

// Phrases decodes BlockPhrases. A malformed or empty column yields no phrases.
func (c *ControlPanelConfig) Phrases() []string {
	if c == nil || len(c.BlockPhrases) == 0 {
		return nil
	}
	var phrases []string
	if err := json.Unmarshal(c.BlockPhrases, &phrases); err != nil {
		return nil
	}
	return phrases
}

// SetPhrases encodes phrases into BlockPhrases, dropping blanks and case-insensitive duplicates.
func (c *ControlPanelConfig) SetPhrases(phrases []string) {
	seen := make(map[string]struct{}, len(phrases))
	out := make([]string, 0, len(phrases))
	for _, p := range phrases {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		key := strings.ToLower(p)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	b, _ := json.Marshal(out)
	c.BlockPhrases = datatypes.JSON(b)
}

// ControlPanelUpdateColumns returns the columns an admin upsert may change.
func ControlPanelUpdateColumns() []string {
	return []string{
		"block_phrases_enabled",
		"block_phrases",
		"block_tabulation_id",
		"cpc_cooldown_enabled",
		"cpc_cooldown_hours",
		"resend_cooldown_enabled",
		"resend_cooldown_hours",
		"repescagem_enabled",
		"repescagem_max_messages",
		"repescagem_cooldown_hours",
		"repescagem_max_attempts",
		"updated_at",
	}
}
