package admission

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/DanielCayresFilho/NoVendx/internal/gateway"
	"github.com/DanielCayresFilho/NoVendx/internal/model"
	"github.com/DanielCayresFilho/NoVendx/pkg/logger"
	"github.com/DanielCayresFilho/NoVendx/pkg/utils"
)

// ErrSenderNotConfigured is returned by SendAdmitted on a pipeline built without WithSender.
var ErrSenderNotConfigured = errors.New("admission: sender not configured")

// Outbox stores outbound messages, which feed the rate windows.
type Outbox interface {
	SendLog
	FindLineByID(ctx context.Context, lineID int64) (*model.Line, error)
	UpdateOutboundStatus(ctx context.Context, id int64, status model.OutboundStatus, attempts int, errMsg string) error
}

// Sender delivers admitted messages through the gateway under a retry policy.
type Sender struct {
	gateway gateway.Sender
	policy  gateway.RetryPolicy
	outbox  Outbox
}

// NewSender creates a Sender.
func NewSender(gw gateway.Sender, policy gateway.RetryPolicy, outbox Outbox) *Sender {
	return &Sender{gateway: gw, policy: policy, outbox: outbox}
}

// SendResult is the outcome of SendAdmitted. Outcome is zero when the message was denied.
type SendResult struct {
	Decision  Decision        `json:"decision"`
	MessageID int64           `json:"message_id,omitempty"`
	Outcome   gateway.Outcome `json:"-"`
}

// SendAdmitted admits req and, when allowed, sends it from the admitted line.
// The message is recorded as pending before the first attempt and as sent or
// failed afterwards. A successful send updates send history and repescagem
// like ConfirmSend, without a second outbound row. A gateway failure is
// reported in the result, not as an error.
func (p *Pipeline) SendAdmitted(ctx context.Context, req Request, media *gateway.Media) (SendResult, error) {
	if p.sender == nil {
		return SendResult{}, ErrSenderNotConfigured
	}
	decision, err := p.AdmitOutboundMessage(ctx, req)
	if err != nil {
		return SendResult{}, err
	}
	result := SendResult{Decision: decision}
	if !decision.Allowed {
		return result, nil
	}

	s := p.sender
	line, err := s.outbox.FindLineByID(ctx, decision.LineID)
	if err != nil {
		return result, fmt.Errorf("failed to load admitted line %d: %w", decision.LineID, err)
	}

	phone := utils.NormalizePhone(req.ContactPhone)
	msg := &model.OutboundMessage{
		LineID:       line.ID,
		OperatorID:   req.OperatorID,
		ContactPhone: phone,
		Text:         req.Text,
		Status:       model.OutboundPending,
	}
	if media != nil {
		msg.MediaURL = media.URL
	}
	if err := s.outbox.SaveOutboundMessage(ctx, msg); err != nil {
		return result, fmt.Errorf("failed to record outbound message: %w", err)
	}
	result.MessageID = msg.ID

	result.Outcome = s.policy.Do(ctx, func(ctx context.Context) error {
		if media != nil {
			m := *media
			if m.Caption == "" {
				m.Caption = req.Text
			}
			return s.gateway.SendMedia(ctx, line, phone, m)
		}
		return s.gateway.SendText(ctx, line, phone, req.Text)
	})

	log := logger.FromContext(ctx).With(
		zap.Int64("message_id", msg.ID),
		zap.Int64("line_id", line.ID),
		zap.Int("attempts", result.Outcome.Attempts))

	if result.Outcome.Failed() {
		log.Warn("Outbound message failed", zap.Error(result.Outcome.Err))
		if err := s.outbox.UpdateOutboundStatus(ctx, msg.ID, model.OutboundFailed, result.Outcome.Attempts, result.Outcome.Err.Error()); err != nil {
			return result, fmt.Errorf("failed to mark message %d failed: %w", msg.ID, err)
		}
		return result, nil
	}

	if err := s.outbox.UpdateOutboundStatus(ctx, msg.ID, model.OutboundSent, result.Outcome.Attempts, ""); err != nil {
		return result, fmt.Errorf("failed to mark message %d sent: %w", msg.ID, err)
	}
	err = p.recordSend(ctx, SendConfirmation{
		OperatorID:   req.OperatorID,
		ContactPhone: phone,
		LineID:       line.ID,
		SegmentID:    req.SegmentID,
		CampaignID:   req.CampaignID,
	})
	if err != nil {
		return result, err
	}
	log.Info("Outbound message sent")
	return result, nil
}
