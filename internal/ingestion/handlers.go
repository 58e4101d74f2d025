package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/DanielCayresFilho/NoVendx/internal/apperrors"
	"github.com/DanielCayresFilho/NoVendx/internal/assignment"
	"github.com/DanielCayresFilho/NoVendx/internal/model"
	"github.com/DanielCayresFilho/NoVendx/internal/notifier"
	"github.com/DanielCayresFilho/NoVendx/pkg/logger"
	"github.com/DanielCayresFilho/NoVendx/pkg/utils"
)

// Store is the persistence the event handlers read and write.
type Store interface {
	FindLineByPhone(ctx context.Context, phone string) (*model.Line, error)
	ListLineOperators(ctx context.Context, lineID int64) ([]model.Operator, error)
	EnsureContact(ctx context.Context, contact model.Contact) (*model.Contact, error)
}

// InboundRegistrar records that a contact replied.
type InboundRegistrar interface {
	RegisterInbound(ctx context.Context, phone string) error
}

// BanHandler bans a line and moves its occupants.
type BanHandler interface {
	HandleBannedLine(ctx context.Context, lineID int64) ([]assignment.Reallocation, error)
}

// Handlers turns gateway webhooks into admission and assignment calls.
type Handlers struct {
	store    Store
	inbound  InboundRegistrar
	bans     BanHandler
	notifier notifier.Notifier
}

// NewHandlers creates the gateway event handlers. A nil notifier drops new-message events.
func NewHandlers(store Store, inbound InboundRegistrar, bans BanHandler, n notifier.Notifier) *Handlers {
	if n == nil {
		n = notifier.Nop{}
	}
	return &Handlers{store: store, inbound: inbound, bans: bans, notifier: n}
}

// Register binds the handlers to their event types on r.
func (h *Handlers) Register(r *Router) {
	r.Register(model.EventMessagesUpsert, h.HandleMessageUpsert)
	r.Register(model.EventConnectionUpdate, h.HandleConnectionUpdate)
}

// lineForInstance resolves the line behind a "line_<digits>" instance. A nil
// line with a nil error means the instance is not one of ours.
func (h *Handlers) lineForInstance(ctx context.Context, instance string) (*model.Line, error) {
	phone := utils.PhoneFromInstance(instance)
	if phone == "" {
		return nil, nil
	}
	line, err := h.store.FindLineByPhone(ctx, phone)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewRetryable(err, "failed to find line %s", phone)
	}
	return line, nil
}

// HandleMessageUpsert handles a message received on one of our lines: the
// contact is created on first contact, repescagem reopens and the line
// occupants get a new-message event. Messages sent by the line itself are ignored.
func (h *Handlers) HandleMessageUpsert(ctx context.Context, event *model.GatewayEvent, _ *model.MessageMetadata) error {
	log := logger.FromContext(ctx)

	var data model.MessageUpsertData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return apperrors.NewFatal(err, "invalid messages.upsert data")
	}
	if data.Key.FromMe {
		log.Debug("Ignoring message sent by the line")
		return nil
	}
	if strings.HasSuffix(data.Key.RemoteJid, "@g.us") {
		log.Debug("Ignoring group message")
		return nil
	}
	from := utils.NormalizePhone(data.SenderPhone())
	if from == "" {
		log.Warn("Message without sender, ignoring")
		return nil
	}

	line, err := h.lineForInstance(ctx, event.InstanceID())
	if err != nil {
		return err
	}
	if line == nil {
		log.Warn("Line not found for instance, ignoring")
		return nil
	}
	log = log.With(zap.Int64("line_id", line.ID))

	name := data.PushName
	if name == "" {
		name = from
	}
	contact, err := h.store.EnsureContact(ctx, model.Contact{Phone: from, Name: name, SegmentID: line.SegmentID})
	if err != nil {
		return apperrors.NewRetryable(err, "failed to ensure contact")
	}

	if err := h.inbound.RegisterInbound(ctx, from); err != nil {
		if errors.Is(err, apperrors.ErrValidation) {
			return apperrors.NewFatal(err, "invalid sender %s", from)
		}
		return apperrors.NewRetryable(err, "failed to register inbound message")
	}

	operators, err := h.store.ListLineOperators(ctx, line.ID)
	if err != nil {
		return apperrors.NewRetryable(err, "failed to list operators of line %d", line.ID)
	}
	payload := model.InboundMessagePayload{
		LineID:       line.ID,
		ContactPhone: from,
		ContactName:  contact.Name,
		Text:         data.Text(),
		MessageType:  data.MessageType(),
		MediaURL:     data.MediaURL(),
	}
	for _, op := range operators {
		h.notifier.NotifyOperator(ctx, op.ID, model.NotifyNewMessage, payload)
	}

	log.Info("Inbound message registered", zap.Int("operators_notified", len(operators)))
	return nil
}

// HandleConnectionUpdate treats a closed session as a ban and reallocates the
// line occupants. Other states are ignored.
func (h *Handlers) HandleConnectionUpdate(ctx context.Context, event *model.GatewayEvent, _ *model.MessageMetadata) error {
	log := logger.FromContext(ctx)

	var data model.ConnectionUpdateData
	if len(event.Data) > 0 {
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return apperrors.NewFatal(err, "invalid connection.update data")
		}
	}
	if data.State == "" {
		data.State = event.State
	}
	if !data.IsDisconnect() {
		log.Debug("Connection state change ignored", zap.String("state", data.State))
		return nil
	}

	line, err := h.lineForInstance(ctx, event.InstanceID())
	if err != nil {
		return err
	}
	if line == nil {
		log.Warn("Disconnected instance has no line, ignoring")
		return nil
	}

	moves, err := h.bans.HandleBannedLine(ctx, line.ID)
	if err != nil {
		return apperrors.NewRetryable(err, "failed to handle banned line %d", line.ID)
	}
	log.Info("Line disconnected, occupants reallocated",
		zap.Int64("line_id", line.ID),
		zap.String("state", data.State),
		zap.Int("operators", len(moves)))
	return nil
}
