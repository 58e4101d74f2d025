package notifier

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/DanielCayresFilho/NoVendx/internal/model"
	"github.com/DanielCayresFilho/NoVendx/internal/observer"
	"github.com/DanielCayresFilho/NoVendx/pkg/logger"
)

// MsgPublisher is satisfied by *nats.Conn.
type MsgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATSPublisher publishes notifications as JSON on core NATS subjects
// "<prefix>.operator.<id>" and "<prefix>.segment.<id>.supervisors".
type NATSPublisher struct {
	pub    MsgPublisher
	prefix string
}

// NewNATSPublisher creates a publisher. An empty prefix defaults to "events".
func NewNATSPublisher(pub MsgPublisher, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = "events"
	}
	return &NATSPublisher{pub: pub, prefix: prefix}
}

// OperatorSubject returns the subject for operatorID.
func (p *NATSPublisher) OperatorSubject(operatorID int64) string {
	return fmt.Sprintf("%s.operator.%d", p.prefix, operatorID)
}

// SupervisorsSubject returns the subject for segmentID's supervisors.
func (p *NATSPublisher) SupervisorsSubject(segmentID int64) string {
	return fmt.Sprintf("%s.segment.%d.supervisors", p.prefix, segmentID)
}

// NotifyOperator implements Notifier.
func (p *NATSPublisher) NotifyOperator(ctx context.Context, operatorID int64, event string, payload interface{}) {
	p.publish(ctx, p.OperatorSubject(operatorID), event, payload)
}

// NotifySegmentSupervisors implements Notifier.
func (p *NATSPublisher) NotifySegmentSupervisors(ctx context.Context, segmentID int64, event string, payload interface{}) {
	p.publish(ctx, p.SupervisorsSubject(segmentID), event, payload)
}

func (p *NATSPublisher) publish(ctx context.Context, subject, event string, payload interface{}) {
	data, err := json.Marshal(model.Notification{Event: event, Data: payload})
	if err != nil {
		logger.FromContext(ctx).Error("Failed to marshal notification", zap.String("event", event), zap.Error(err))
		return
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, uuid.NewString())
	msg.Header.Set("Event", event)

	err = p.pub.PublishMsg(msg)
	observer.IncNotification("nats", err)
	if err != nil {
		logger.FromContext(ctx).Warn("Failed to publish notification",
			zap.String("subject", subject),
			zap.String("event", event),
			zap.Error(err))
	}
}
