package mock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/DanielCayresFilho/NoVendx/internal/model"
	"github.com/DanielCayresFilho/NoVendx/internal/storage"
)

var _ storage.Store = (*StoreMock)(nil)

// StoreMock mocks storage.Store.
type StoreMock struct {
	mock.Mock
}

// --- LinePool ---

// GetAvailableLines mocks the GetAvailableLines method
func (m *StoreMock) GetAvailableLines(ctx context.Context, segmentID *int64) ([]model.LineWithOccupancy, error) {
	args := m.Called(ctx, segmentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.LineWithOccupancy), args.Error(1)
}

// BindOperator mocks the BindOperator method
func (m *StoreMock) BindOperator(ctx context.Context, lineID, operatorID int64) error {
	args := m.Called(ctx, lineID, operatorID)
	return args.Error(0)
}

// UnbindOperator mocks the UnbindOperator method
func (m *StoreMock) UnbindOperator(ctx context.Context, lineID, operatorID int64) error {
	args := m.Called(ctx, lineID, operatorID)
	return args.Error(0)
}

// MarkBanned mocks the MarkBanned method
func (m *StoreMock) MarkBanned(ctx context.Context, lineID int64) ([]int64, error) {
	args := m.Called(ctx, lineID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}

// PromoteSegment mocks the PromoteSegment method
func (m *StoreMock) PromoteSegment(ctx context.Context, lineID, segmentID int64) error {
	args := m.Called(ctx, lineID, segmentID)
	return args.Error(0)
}

// CurrentLine mocks the CurrentLine method
func (m *StoreMock) CurrentLine(ctx context.Context, operatorID int64) (*model.Line, error) {
	args := m.Called(ctx, operatorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Line), args.Error(1)
}

// FindLineByID mocks the FindLineByID method
func (m *StoreMock) FindLineByID(ctx context.Context, lineID int64) (*model.Line, error) {
	args := m.Called(ctx, lineID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Line), args.Error(1)
}

// FindLineByPhone mocks the FindLineByPhone method
func (m *StoreMock) FindLineByPhone(ctx context.Context, phone string) (*model.Line, error) {
	args := m.Called(ctx, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Line), args.Error(1)
}

// SaveLine mocks the SaveLine method
func (m *StoreMock) SaveLine(ctx context.Context, line *model.Line) error {
	args := m.Called(ctx, line)
	return args.Error(0)
}

// --- OperatorRepo ---

// FindOperatorByID mocks the FindOperatorByID method
func (m *StoreMock) FindOperatorByID(ctx context.Context, id int64) (*model.Operator, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Operator), args.Error(1)
}

// ListOnlineOperators mocks the ListOnlineOperators method
func (m *StoreMock) ListOnlineOperators(ctx context.Context) ([]model.Operator, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Operator), args.Error(1)
}

// ListSupervisors mocks the ListSupervisors method
func (m *StoreMock) ListSupervisors(ctx context.Context, segmentID int64) ([]model.Operator, error) {
	args := m.Called(ctx, segmentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Operator), args.Error(1)
}

// ListLineOperators mocks the ListLineOperators method
func (m *StoreMock) ListLineOperators(ctx context.Context, lineID int64) ([]model.Operator, error) {
	args := m.Called(ctx, lineID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Operator), args.Error(1)
}

// SaveOperator mocks the SaveOperator method
func (m *StoreMock) SaveOperator(ctx context.Context, op *model.Operator) error {
	args := m.Called(ctx, op)
	return args.Error(0)
}

// --- ContactRepo ---

// FindContactByPhone mocks the FindContactByPhone method
func (m *StoreMock) FindContactByPhone(ctx context.Context, phone string) (*model.Contact, error) {
	args := m.Called(ctx, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Contact), args.Error(1)
}

// EnsureContact mocks the EnsureContact method
func (m *StoreMock) EnsureContact(ctx context.Context, contact model.Contact) (*model.Contact, error) {
	args := m.Called(ctx, contact)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Contact), args.Error(1)
}

// SetContactCPC mocks the SetContactCPC method
func (m *StoreMock) SetContactCPC(ctx context.Context, phone string, isCPC bool, at time.Time) error {
	args := m.Called(ctx, phone, isCPC, at)
	return args.Error(0)
}

// --- BlocklistRepo ---

// IsBlocklisted mocks the IsBlocklisted method
func (m *StoreMock) IsBlocklisted(ctx context.Context, phone string) (bool, error) {
	args := m.Called(ctx, phone)
	return args.Bool(0), args.Error(1)
}

// ListBlocklistedPhones mocks the ListBlocklistedPhones method
func (m *StoreMock) ListBlocklistedPhones(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// AddToBlocklist mocks the AddToBlocklist method
func (m *StoreMock) AddToBlocklist(ctx context.Context, entry model.BlocklistEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

// --- RepescagemRepo ---

// FindRepescagem mocks the FindRepescagem method
func (m *StoreMock) FindRepescagem(ctx context.Context, phone string, operatorID int64) (*model.RepescagemState, error) {
	args := m.Called(ctx, phone, operatorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.RepescagemState), args.Error(1)
}

// MutateRepescagem mocks the MutateRepescagem method. When the first return value is a
// *model.RepescagemState, fn is applied to a copy of it.
func (m *StoreMock) MutateRepescagem(ctx context.Context, phone string, operatorID int64, fn func(*model.RepescagemState) bool) (*model.RepescagemState, error) {
	args := m.Called(ctx, phone, operatorID, fn)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	state := *args.Get(0).(*model.RepescagemState)
	if args.Error(1) == nil {
		fn(&state)
	}
	return &state, args.Error(1)
}

// ResetRepescagemForContact mocks the ResetRepescagemForContact method
func (m *StoreMock) ResetRepescagemForContact(ctx context.Context, phone string) (int64, error) {
	args := m.Called(ctx, phone)
	return args.Get(0).(int64), args.Error(1)
}

// ClearRepescagem mocks the ClearRepescagem method
func (m *StoreMock) ClearRepescagem(ctx context.Context, phone string, operatorID int64) error {
	args := m.Called(ctx, phone, operatorID)
	return args.Error(0)
}

// --- SendHistoryRepo ---

// SaveSendHistory mocks the SaveSendHistory method
func (m *StoreMock) SaveSendHistory(ctx context.Context, entry model.SendHistory) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

// LastSendAt mocks the LastSendAt method
func (m *StoreMock) LastSendAt(ctx context.Context, phone string) (*time.Time, error) {
	args := m.Called(ctx, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*time.Time), args.Error(1)
}

// --- OutboundRepo ---

// CountOutboundSince mocks the CountOutboundSince method
func (m *StoreMock) CountOutboundSince(ctx context.Context, lineID int64, since time.Time) (int64, error) {
	args := m.Called(ctx, lineID, since)
	return args.Get(0).(int64), args.Error(1)
}

// SaveOutboundMessage mocks the SaveOutboundMessage method
func (m *StoreMock) SaveOutboundMessage(ctx context.Context, msg *model.OutboundMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// UpdateOutboundStatus mocks the UpdateOutboundStatus method
func (m *StoreMock) UpdateOutboundStatus(ctx context.Context, id int64, status model.OutboundStatus, attempts int, errMsg string) error {
	args := m.Called(ctx, id, status, attempts, errMsg)
	return args.Error(0)
}

// --- ControlPanelRepo ---

// FindControlPanel mocks the FindControlPanel method
func (m *StoreMock) FindControlPanel(ctx context.Context, segmentID *int64) (*model.ControlPanelConfig, error) {
	args := m.Called(ctx, segmentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ControlPanelConfig), args.Error(1)
}

// UpsertControlPanel mocks the UpsertControlPanel method
func (m *StoreMock) UpsertControlPanel(ctx context.Context, cfg model.ControlPanelConfig) (*model.ControlPanelConfig, error) {
	args := m.Called(ctx, cfg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ControlPanelConfig), args.Error(1)
}

// --- GatewayInstanceRepo ---

// FindGatewayInstance mocks the FindGatewayInstance method
func (m *StoreMock) FindGatewayInstance(ctx context.Context, name string) (*model.GatewayInstance, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.GatewayInstance), args.Error(1)
}

// SaveGatewayInstance mocks the SaveGatewayInstance method
func (m *StoreMock) SaveGatewayInstance(ctx context.Context, gi *model.GatewayInstance) error {
	args := m.Called(ctx, gi)
	return args.Error(0)
}

// --- SegmentRepo ---

// EnsureSegment mocks the EnsureSegment method
func (m *StoreMock) EnsureSegment(ctx context.Context, name string) (*model.Segment, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Segment), args.Error(1)
}

// Ping mocks the Ping method
func (m *StoreMock) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// Close mocks the Close method
func (m *StoreMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
