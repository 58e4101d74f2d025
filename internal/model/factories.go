package model

import (
	"encoding/json"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/DanielCayresFilho/NoVendx/pkg/utils"
)

// init ensures gofakeit is seeded.
func init() {
	gofakeit.Seed(time.Now().UnixNano())
}

// FakePhone returns a Brazilian mobile number, digits only.
func FakePhone() string {
	return "55" + gofakeit.Numerify("119########")
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 {
	return &v
}

// NewLine creates a new active Line with fake data. Non-zero override fields replace the defaults.
func NewLine(overrideDefaults ...*Line) *Line {
	base := &Line{
		ID:          gofakeit.Int64()&0xffffff + 1,
		Phone:       FakePhone(),
		Status:      LineActive,
		GatewayName: "evolution-" + gofakeit.LetterN(4),
		CreatedAt:   utils.Now().Add(-time.Duration(gofakeit.Number(31, 365)) * 24 * time.Hour),
		UpdatedAt:   utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != 0 {
			base.ID = ovr.ID
		}
		if ovr.Phone != "" {
			base.Phone = ovr.Phone
		}
		if ovr.Status != "" {
			base.Status = ovr.Status
		}
		if ovr.GatewayName != "" {
			base.GatewayName = ovr.GatewayName
		}
		base.SegmentID = ovr.SegmentID
		if !ovr.CreatedAt.IsZero() {
			base.CreatedAt = ovr.CreatedAt
		}
	}
	return base
}

// NewOperator creates a new online operator with fake data.
func NewOperator(overrideDefaults ...*Operator) *Operator {
	base := &Operator{
		ID:        gofakeit.Int64()&0xffffff + 1,
		Name:      gofakeit.Name(),
		Email:     gofakeit.Email(),
		Role:      RoleOperator,
		Status:    OperatorOnline,
		CreatedAt: utils.Now().Add(-time.Duration(gofakeit.Number(1, 100)) * time.Hour),
		UpdatedAt: utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != 0 {
			base.ID = ovr.ID
		}
		if ovr.Name != "" {
			base.Name = ovr.Name
		}
		if ovr.Role != "" {
			base.Role = ovr.Role
		}
		if ovr.Status != "" {
			base.Status = ovr.Status
		}
		base.SegmentID = ovr.SegmentID
		base.LineID = ovr.LineID
	}
	return base
}

// NewContact creates a new Contact with fake data.
func NewContact(overrideDefaults ...*Contact) *Contact {
	base := &Contact{
		ID:        gofakeit.Int64()&0xffffff + 1,
		Phone:     FakePhone(),
		Name:      gofakeit.Name(),
		CreatedAt: utils.Now(),
		UpdatedAt: utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.Phone != "" {
			base.Phone = ovr.Phone
		}
		if ovr.Name != "" {
			base.Name = ovr.Name
		}
		base.SegmentID = ovr.SegmentID
		base.IsCPC = ovr.IsCPC
		base.LastCPCAt = ovr.LastCPCAt
	}
	return base
}

// NewRepescagemState creates an open state for a random pair.
func NewRepescagemState(overrideDefaults ...*RepescagemState) *RepescagemState {
	base := &RepescagemState{
		ContactPhone: FakePhone(),
		OperatorID:   gofakeit.Int64()&0xffffff + 1,
		CreatedAt:    utils.Now(),
		UpdatedAt:    utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ContactPhone != "" {
			base.ContactPhone = ovr.ContactPhone
		}
		if ovr.OperatorID != 0 {
			base.OperatorID = ovr.OperatorID
		}
		base.MessagesCount = ovr.MessagesCount
		base.Attempts = ovr.Attempts
		base.BlockedUntil = ovr.BlockedUntil
		base.PermanentBlock = ovr.PermanentBlock
		base.LastMessageAt = ovr.LastMessageAt
	}
	return base
}

// NewOutboundMessage creates a pending outbound text message.
func NewOutboundMessage(overrideDefaults ...*OutboundMessage) *OutboundMessage {
	base := &OutboundMessage{
		LineID:       gofakeit.Int64()&0xffffff + 1,
		OperatorID:   gofakeit.Int64()&0xffffff + 1,
		ContactPhone: FakePhone(),
		Text:         gofakeit.Sentence(8),
		Status:       OutboundPending,
		CreatedAt:    utils.Now(),
		UpdatedAt:    utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.LineID != 0 {
			base.LineID = ovr.LineID
		}
		if ovr.OperatorID != 0 {
			base.OperatorID = ovr.OperatorID
		}
		if ovr.ContactPhone != "" {
			base.ContactPhone = ovr.ContactPhone
		}
		if ovr.Status != "" {
			base.Status = ovr.Status
		}
		if !ovr.CreatedAt.IsZero() {
			base.CreatedAt = ovr.CreatedAt
		}
	}
	return base
}

// NewMessageUpsertEvent builds an inbound messages.upsert webhook from contactPhone to linePhone.
func NewMessageUpsertEvent(linePhone, contactPhone, text string) *GatewayEvent {
	data := MessageUpsertData{
		Key: MessageKey{
			RemoteJid: contactPhone + "@s.whatsapp.net",
			ID:        gofakeit.UUID(),
		},
		PushName: gofakeit.FirstName(),
		Message:  &MessageContent{Conversation: text},
	}
	raw, _ := json.Marshal(data)
	return &GatewayEvent{
		Event:    string(EventMessagesUpsert),
		Instance: utils.InstanceName(linePhone),
		Data:     raw,
	}
}

// NewConnectionUpdateEvent builds a connection.update webhook for linePhone.
func NewConnectionUpdateEvent(linePhone, state string) *GatewayEvent {
	raw, _ := json.Marshal(ConnectionUpdateData{State: state})
	return &GatewayEvent{
		Event:    string(EventConnectionUpdate),
		Instance: utils.InstanceName(linePhone),
		Data:     raw,
	}
}
