package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DanielCayresFilho/NoVendx/internal/apperrors"
	"github.com/DanielCayresFilho/NoVendx/internal/assignment"
	"github.com/DanielCayresFilho/NoVendx/internal/model"
	"github.com/DanielCayresFilho/NoVendx/internal/storage/memory"
	"github.com/DanielCayresFilho/NoVendx/pkg/logger"
)

type inboundMock struct {
	mock.Mock
}

func (m *inboundMock) RegisterInbound(ctx context.Context, phone string) error {
	return m.Called(ctx, phone).Error(0)
}

type sentEvent struct {
	operatorID int64
	event      string
	payload    interface{}
}

type recordingNotifier struct {
	mu          sync.Mutex
	operators   []sentEvent
	supervisors []sentEvent
}

func (r *recordingNotifier) NotifyOperator(_ context.Context, operatorID int64, event string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.operators = append(r.operators, sentEvent{operatorID, event, payload})
}

func (r *recordingNotifier) NotifySegmentSupervisors(_ context.Context, segmentID int64, event string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.supervisors = append(r.supervisors, sentEvent{segmentID, event, payload})
}

type handlersFixture struct {
	store    *memory.Store
	inbound  *inboundMock
	notifier *recordingNotifier
	handlers *Handlers
}

func newHandlersFixture(t *testing.T) *handlersFixture {
	logger.Log = zaptest.NewLogger(t)
	store := memory.New()
	f := &handlersFixture{
		store:    store,
		inbound:  new(inboundMock),
		notifier: &recordingNotifier{},
	}
	engine := assignment.NewEngine(store, assignment.WithNotifier(f.notifier))
	f.handlers = NewHandlers(store, f.inbound, engine, f.notifier)
	return f
}

func (f *handlersFixture) line(t *testing.T, id int64, phone string, seg *int64) {
	t.Helper()
	require.NoError(t, f.store.SaveLine(context.Background(), model.NewLine(&model.Line{ID: id, Phone: phone, SegmentID: seg})))
}

func (f *handlersFixture) operatorOn(t *testing.T, id, lineID int64, seg *int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.SaveOperator(ctx, model.NewOperator(&model.Operator{ID: id, SegmentID: seg})))
	require.NoError(t, f.store.BindOperator(ctx, lineID, id))
}

func upsert(linePhone, contactPhone string, mutate func(*model.MessageUpsertData)) *model.GatewayEvent {
	ev := model.NewMessageUpsertEvent(linePhone, contactPhone, "Quero negociar")
	if mutate != nil {
		var data model.MessageUpsertData
		_ = json.Unmarshal(ev.Data, &data)
		mutate(&data)
		ev.Data, _ = json.Marshal(data)
	}
	return ev
}

func TestHandleMessageUpsert(t *testing.T) {
	ctx := context.Background()
	seg := model.Int64Ptr(3)

	t.Run("registers inbound and notifies occupants", func(t *testing.T) {
		f := newHandlersFixture(t)
		f.line(t, 1, "5511900000001", seg)
		f.operatorOn(t, 10, 1, seg)
		f.operatorOn(t, 11, 1, seg)
		f.inbound.On("RegisterInbound", mock.Anything, "5511988887777").Return(nil).Once()

		ev := upsert("5511900000001", "5511988887777", func(d *model.MessageUpsertData) { d.PushName = "Maria" })
		require.NoError(t, f.handlers.HandleMessageUpsert(ctx, ev, nil))

		contact, err := f.store.FindContactByPhone(ctx, "5511988887777")
		require.NoError(t, err)
		assert.Equal(t, "Maria", contact.Name)
		assert.Equal(t, seg, contact.SegmentID)

		require.Len(t, f.notifier.operators, 2)
		for _, sent := range f.notifier.operators {
			assert.Equal(t, model.NotifyNewMessage, sent.event)
			payload := sent.payload.(model.InboundMessagePayload)
			assert.Equal(t, int64(1), payload.LineID)
			assert.Equal(t, "Quero negociar", payload.Text)
			assert.Equal(t, "text", payload.MessageType)
			assert.Equal(t, "Maria", payload.ContactName)
		}
		f.inbound.AssertExpectations(t)
	})

	t.Run("contact name falls back to phone", func(t *testing.T) {
		f := newHandlersFixture(t)
		f.line(t, 1, "5511900000001", nil)
		f.inbound.On("RegisterInbound", mock.Anything, mock.Anything).Return(nil)

		ev := upsert("5511900000001", "5511988887777", func(d *model.MessageUpsertData) { d.PushName = "" })
		require.NoError(t, f.handlers.HandleMessageUpsert(ctx, ev, nil))

		contact, err := f.store.FindContactByPhone(ctx, "5511988887777")
		require.NoError(t, err)
		assert.Equal(t, "5511988887777", contact.Name)
	})

	t.Run("ignored messages", func(t *testing.T) {
		tests := []struct {
			name   string
			line   string
			mutate func(*model.MessageUpsertData)
		}{
			{"sent by the line", "5511900000001", func(d *model.MessageUpsertData) { d.Key.FromMe = true }},
			{"group chat", "5511900000001", func(d *model.MessageUpsertData) { d.Key.RemoteJid = "1203630@g.us" }},
			{"no sender", "5511900000001", func(d *model.MessageUpsertData) { d.Key.RemoteJid = "" }},
			{"unknown line", "5511900000099", nil},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				f := newHandlersFixture(t)
				f.line(t, 1, "5511900000001", nil)

				require.NoError(t, f.handlers.HandleMessageUpsert(ctx, upsert(tt.line, "5511988887777", tt.mutate), nil))
				f.inbound.AssertNotCalled(t, "RegisterInbound", mock.Anything, mock.Anything)
				assert.Empty(t, f.notifier.operators)
			})
		}
	})

	t.Run("bad data is fatal", func(t *testing.T) {
		f := newHandlersFixture(t)
		ev := &model.GatewayEvent{Event: "messages.upsert", Instance: "line_5511900000001", Data: json.RawMessage(`"nope"`)}
		assert.True(t, apperrors.IsFatal(f.handlers.HandleMessageUpsert(ctx, ev, nil)))
	})

	t.Run("registrar errors", func(t *testing.T) {
		f := newHandlersFixture(t)
		f.line(t, 1, "5511900000001", nil)
		f.inbound.On("RegisterInbound", mock.Anything, mock.Anything).Return(apperrors.ErrDatabase).Once()

		err := f.handlers.HandleMessageUpsert(ctx, upsert("5511900000001", "5511988887777", nil), nil)
		assert.True(t, apperrors.IsRetryable(err))

		f.inbound.On("RegisterInbound", mock.Anything, mock.Anything).Return(apperrors.ErrValidation).Once()
		err = f.handlers.HandleMessageUpsert(ctx, upsert("5511900000001", "5511988887777", nil), nil)
		assert.True(t, apperrors.IsFatal(err))
	})
}

func TestHandleConnectionUpdate(t *testing.T) {
	ctx := context.Background()
	seg := model.Int64Ptr(3)

	t.Run("close bans the line and moves occupants", func(t *testing.T) {
		f := newHandlersFixture(t)
		f.line(t, 1, "5511900000001", seg)
		f.line(t, 2, "5511900000002", seg)
		f.operatorOn(t, 10, 1, seg)

		require.NoError(t, f.handlers.HandleConnectionUpdate(ctx, model.NewConnectionUpdateEvent("5511900000001", "close"), nil))

		banned, err := f.store.FindLineByID(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, model.LineBanned, banned.Status)

		current, err := f.store.CurrentLine(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, int64(2), current.ID)

		require.Len(t, f.notifier.operators, 1)
		assert.Equal(t, model.NotifyLineReallocated, f.notifier.operators[0].event)
	})

	t.Run("top level state from older gateways", func(t *testing.T) {
		f := newHandlersFixture(t)
		f.line(t, 1, "5511900000001", nil)

		ev := &model.GatewayEvent{Event: "CONNECTION_UPDATE", InstanceName: "line_5511900000001", State: "DISCONNECTED"}
		require.NoError(t, f.handlers.HandleConnectionUpdate(ctx, ev, nil))

		banned, err := f.store.FindLineByID(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, model.LineBanned, banned.Status)
	})

	t.Run("open state is ignored", func(t *testing.T) {
		f := newHandlersFixture(t)
		f.line(t, 1, "5511900000001", nil)

		require.NoError(t, f.handlers.HandleConnectionUpdate(ctx, model.NewConnectionUpdateEvent("5511900000001", "open"), nil))

		line, err := f.store.FindLineByID(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, model.LineActive, line.Status)
	})

	t.Run("unknown line is ignored", func(t *testing.T) {
		f := newHandlersFixture(t)
		assert.NoError(t, f.handlers.HandleConnectionUpdate(ctx, model.NewConnectionUpdateEvent("5511900000099", "close"), nil))
	})

	t.Run("ban failure is retryable", func(t *testing.T) {
		f := newHandlersFixture(t)
		f.line(t, 1, "5511900000001", nil)
		f.handlers.bans = failingBans{}

		err := f.handlers.HandleConnectionUpdate(ctx, model.NewConnectionUpdateEvent("5511900000001", "close"), nil)
		assert.True(t, apperrors.IsRetryable(err))
	})
}

type failingBans struct{}

func (failingBans) HandleBannedLine(context.Context, int64) ([]assignment.Reallocation, error) {
	return nil, errors.New("db down")
}

func TestHandlers_RegisterWiresRouter(t *testing.T) {
	f := newHandlersFixture(t)
	router := NewRouter()
	f.handlers.Register(router)

	assert.Contains(t, router.handlers, model.EventMessagesUpsert)
	assert.Contains(t, router.handlers, model.EventConnectionUpdate)
}
