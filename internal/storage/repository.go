package storage

import (
	"context"
	"time"

	"github.com/DanielCayresFilho/NoVendx/internal/model"
)

// LinePool owns lines and their operator bindings. The binding table is the only
// record of which operator holds which line.
type LinePool interface {
	// GetAvailableLines returns active lines on an active gateway instance, ordered by phone,
	// each with its current occupants. A nil segmentID returns every such line.
	GetAvailableLines(ctx context.Context, segmentID *int64) ([]model.LineWithOccupancy, error)
	// BindOperator atomically adds operatorID to lineID. It fails with ErrLineUnavailable,
	// ErrAlreadyBound or ErrCapacityExceeded without changing anything.
	BindOperator(ctx context.Context, lineID, operatorID int64) error
	// UnbindOperator removes the binding if present.
	UnbindOperator(ctx context.Context, lineID, operatorID int64) error
	// MarkBanned bans the line, removes every binding and returns the former occupants.
	MarkBanned(ctx context.Context, lineID int64) ([]int64, error)
	// PromoteSegment sets the line segment only if it has none.
	PromoteSegment(ctx context.Context, lineID, segmentID int64) error
	// CurrentLine returns the line operatorID is bound to, or ErrNotFound.
	CurrentLine(ctx context.Context, operatorID int64) (*model.Line, error)
	FindLineByID(ctx context.Context, lineID int64) (*model.Line, error)
	FindLineByPhone(ctx context.Context, phone string) (*model.Line, error)
	SaveLine(ctx context.Context, line *model.Line) error
}

// OperatorRepo reads operators. Returned operators carry the LineID projection.
type OperatorRepo interface {
	FindOperatorByID(ctx context.Context, id int64) (*model.Operator, error)
	ListOnlineOperators(ctx context.Context) ([]model.Operator, error)
	ListSupervisors(ctx context.Context, segmentID int64) ([]model.Operator, error)
	ListLineOperators(ctx context.Context, lineID int64) ([]model.Operator, error)
	SaveOperator(ctx context.Context, op *model.Operator) error
}

// ContactRepo stores contacts and their CPC flag.
type ContactRepo interface {
	FindContactByPhone(ctx context.Context, phone string) (*model.Contact, error)
	// EnsureContact inserts the contact when its phone is unknown and returns the stored row.
	EnsureContact(ctx context.Context, contact model.Contact) (*model.Contact, error)
	SetContactCPC(ctx context.Context, phone string, isCPC bool, at time.Time) error
}

// BlocklistRepo stores phones that must never be contacted.
type BlocklistRepo interface {
	IsBlocklisted(ctx context.Context, phone string) (bool, error)
	ListBlocklistedPhones(ctx context.Context) ([]string, error)
	AddToBlocklist(ctx context.Context, entry model.BlocklistEntry) error
}

// RepescagemRepo stores per (contact, operator) anti-spam state.
type RepescagemRepo interface {
	// FindRepescagem returns ErrNotFound when the pair has no state yet.
	FindRepescagem(ctx context.Context, phone string, operatorID int64) (*model.RepescagemState, error)
	// MutateRepescagem loads the pair state (creating it when absent) under an exclusive
	// lock, calls fn and persists the state when fn reports a change.
	MutateRepescagem(ctx context.Context, phone string, operatorID int64, fn func(*model.RepescagemState) bool) (*model.RepescagemState, error)
	// ResetRepescagemForContact clears messagesCount and blockedUntil of every pair for phone.
	// Attempts and permanentBlock are untouched.
	ResetRepescagemForContact(ctx context.Context, phone string) (int64, error)
	// ClearRepescagem resets every field of one pair, including permanentBlock.
	ClearRepescagem(ctx context.Context, phone string, operatorID int64) error
}

// SendHistoryRepo stores the append-only send history.
type SendHistoryRepo interface {
	SaveSendHistory(ctx context.Context, entry model.SendHistory) error
	// LastSendAt returns the time of the latest send to phone, or nil when none exists.
	LastSendAt(ctx context.Context, phone string) (*time.Time, error)
}

// OutboundRepo stores outbound messages, which back the per-line rate windows.
type OutboundRepo interface {
	// CountOutboundSince counts pending and sent messages on lineID created at or after since.
	CountOutboundSince(ctx context.Context, lineID int64, since time.Time) (int64, error)
	SaveOutboundMessage(ctx context.Context, msg *model.OutboundMessage) error
	UpdateOutboundStatus(ctx context.Context, id int64, status model.OutboundStatus, attempts int, errMsg string) error
}

// ControlPanelRepo stores per-segment and global admission configuration.
type ControlPanelRepo interface {
	// FindControlPanel returns the row for exactly segmentID (nil = global) or ErrNotFound.
	FindControlPanel(ctx context.Context, segmentID *int64) (*model.ControlPanelConfig, error)
	UpsertControlPanel(ctx context.Context, cfg model.ControlPanelConfig) (*model.ControlPanelConfig, error)
}

// GatewayInstanceRepo stores gateway deployments and their credentials.
type GatewayInstanceRepo interface {
	FindGatewayInstance(ctx context.Context, name string) (*model.GatewayInstance, error)
	SaveGatewayInstance(ctx context.Context, gi *model.GatewayInstance) error
}

// SegmentRepo stores business segments.
type SegmentRepo interface {
	// EnsureSegment returns the segment with the given name, creating it when absent.
	EnsureSegment(ctx context.Context, name string) (*model.Segment, error)
}

// Store is the full persistence surface used by the service.
type Store interface {
	LinePool
	SegmentRepo
	OperatorRepo
	ContactRepo
	BlocklistRepo
	RepescagemRepo
	SendHistoryRepo
	OutboundRepo
	ControlPanelRepo
	GatewayInstanceRepo
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

var _ Store = (*PostgresRepo)(nil)
