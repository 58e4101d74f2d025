package ingestion

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/DanielCayresFilho/NoVendx/internal/apperrors"
	"github.com/DanielCayresFilho/NoVendx/internal/model"
	"github.com/DanielCayresFilho/NoVendx/pkg/logger"
)

// EventHandler processes one decoded gateway event.
type EventHandler func(ctx context.Context, event *model.GatewayEvent, metadata *model.MessageMetadata) error

// Router routes events to the appropriate handler based on event type
type Router struct {
	handlers map[model.EventType]EventHandler
	// Default handler for unknown event types
	defaultHandler EventHandler
}

// NewRouter creates a new event router
func NewRouter() *Router {
	return &Router{
		handlers: make(map[model.EventType]EventHandler),
	}
}

// Register registers a handler for an event type
func (r *Router) Register(eventType model.EventType, handler EventHandler) {
	r.handlers[eventType] = handler
}

// RegisterDefault registers a default handler for unknown event types
func (r *Router) RegisterDefault(handler EventHandler) {
	r.defaultHandler = handler
}

// ResolveEventType takes the event type from the subject, falling back to the
// envelope's event name.
func ResolveEventType(subject string, event *model.GatewayEvent) model.EventType {
	if et, ok := model.MapSubjectToEventType(subject); ok {
		return et
	}
	if event != nil {
		return model.NormalizeEventType(event.Event)
	}
	return ""
}

// Route decodes the envelope and calls the handler for its event type. A body
// that is not a gateway envelope is a fatal error. Unhandled types are
// acknowledged when no default handler is set.
func (r *Router) Route(ctx context.Context, metadata *model.MessageMetadata, rawEvent []byte) error {
	log := logger.FromContext(ctx).With(
		zap.String("subject", metadata.MessageSubject),
		zap.String("event_id", metadata.MessageID),
	)

	var event model.GatewayEvent
	if err := json.Unmarshal(rawEvent, &event); err != nil {
		return apperrors.NewFatal(err, "failed to unmarshal gateway event")
	}

	eventType := ResolveEventType(metadata.MessageSubject, &event)
	log = log.With(zap.String("event_type", string(eventType)), zap.String("instance", event.InstanceID()))
	ctx = logger.WithLogger(ctx, log)

	log.Debug("Event received", zap.Int("payload_bytes", len(rawEvent)))

	handler, ok := r.handlers[eventType]
	if !ok {
		if r.defaultHandler != nil {
			return r.defaultHandler(ctx, &event, metadata)
		}
		log.Debug("No handler registered for event type, ignoring")
		return nil
	}
	return handler(ctx, &event, metadata)
}
