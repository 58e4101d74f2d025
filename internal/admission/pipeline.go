// Package admission decides whether an operator may send a message to a contact
// right now, and on which line.
package admission

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/DanielCayresFilho/NoVendx/internal/apperrors"
	"github.com/DanielCayresFilho/NoVendx/internal/assignment"
	"github.com/DanielCayresFilho/NoVendx/internal/guard"
	"github.com/DanielCayresFilho/NoVendx/internal/model"
	"github.com/DanielCayresFilho/NoVendx/internal/observer"
	"github.com/DanielCayresFilho/NoVendx/internal/validator"
	"github.com/DanielCayresFilho/NoVendx/pkg/logger"
	"github.com/DanielCayresFilho/NoVendx/pkg/utils"
)

// Denial codes. CodeAllowed is reported for allowed decisions.
const (
	CodeAllowed        = "allowed"
	CodeBlocklisted    = "blocklisted"
	CodeBlockPhrase    = "block_phrase"
	CodeCPCCooldown    = "cpc_cooldown"
	CodeResendCooldown = "resend_cooldown"
	CodeRepescagem     = "repescagem"
	CodeNoLine         = "no_line"
	CodeRateLimited    = "rate_limited"
)

// Request is an outbound message an operator wants to send.
type Request struct {
	OperatorID   int64  `json:"operator_id" validate:"required,gt=0"`
	ContactPhone string `json:"contact_phone" validate:"required,phone"`
	Text         string `json:"text"`
	SegmentID    *int64 `json:"segment_id,omitempty"`
	CampaignID   *int64 `json:"campaign_id,omitempty"`
}

// Decision is the admission verdict. LineID and LinePhone are set when allowed,
// and on a rate limit denial. HoursRemaining is set for time-based denials.
type Decision struct {
	Allowed        bool   `json:"allowed"`
	LineID         int64  `json:"line_id,omitempty"`
	LinePhone      string `json:"line_phone,omitempty"`
	Reason         string `json:"reason,omitempty"`
	Code           string `json:"code"`
	HoursRemaining int    `json:"hours_remaining,omitempty"`
}

// SendConfirmation records a message the caller actually sent.
type SendConfirmation struct {
	OperatorID   int64  `json:"operator_id" validate:"required,gt=0"`
	ContactPhone string `json:"contact_phone" validate:"required,phone"`
	LineID       int64  `json:"line_id" validate:"required,gt=0"`
	SegmentID    *int64 `json:"segment_id,omitempty"`
	CampaignID   *int64 `json:"campaign_id,omitempty"`
	Text         string `json:"text,omitempty"`
}

// SendLog records outbound messages. The rate limiter counts its rows.
type SendLog interface {
	SaveOutboundMessage(ctx context.Context, msg *model.OutboundMessage) error
}

// Guard is the subset of guard.Guard the pipeline uses.
type Guard interface {
	IsBlocked(ctx context.Context, phone string) (bool, error)
	CheckBlockPhrases(ctx context.Context, text string, segmentID *int64) (bool, error)
	CanContactCPC(ctx context.Context, phone string, segmentID *int64) (guard.Decision, error)
	CanResend(ctx context.Context, phone string, segmentID *int64) (guard.Decision, error)
	CheckRepescagem(ctx context.Context, phone string, operatorID int64, segmentID *int64) (guard.Decision, error)
	RegisterSend(ctx context.Context, phone string, lineID int64, campaignID *int64) error
	RegisterOperatorMessage(ctx context.Context, phone string, operatorID int64, segmentID *int64) (*model.RepescagemState, error)
	RegisterClientResponse(ctx context.Context, phone string) error
}

// LineFinder resolves the operator's line, binding one when needed.
type LineFinder interface {
	FindAvailableLineForOperator(ctx context.Context, operatorID int64, segmentID, excludeLineID *int64) (assignment.Result, error)
}

// RateLimiter checks the per-line send windows.
type RateLimiter interface {
	CanSend(ctx context.Context, lineID int64) (bool, error)
}

// Pipeline runs the admission checks in order, stopping at the first denial.
type Pipeline struct {
	guard   Guard
	lines   LineFinder
	limiter RateLimiter
	sends   SendLog
	sender  *Sender
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSender enables SendAdmitted.
func WithSender(s *Sender) Option {
	return func(p *Pipeline) { p.sender = s }
}

// NewPipeline creates a Pipeline.
func NewPipeline(g Guard, lines LineFinder, limiter RateLimiter, sends SendLog, opts ...Option) *Pipeline {
	p := &Pipeline{guard: g, lines: lines, limiter: limiter, sends: sends}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func denied(code, reason string, hours int) Decision {
	return Decision{Code: code, Reason: reason, HoursRemaining: hours}
}

func fromGuard(code string, d guard.Decision) Decision {
	return denied(code, d.Reason, d.HoursRemaining)
}

// AdmitOutboundMessage evaluates blocklist, block phrases, CPC cooldown, resend
// cooldown, repescagem, line and rate limit. Apart from the engine binding a line
// to an operator that has none, it changes nothing. Expected denials are values;
// only persistence failures are returned as errors.
func (p *Pipeline) AdmitOutboundMessage(ctx context.Context, req Request) (Decision, error) {
	if err := validator.Validate(req); err != nil {
		return Decision{}, err
	}
	phone := utils.NormalizePhone(req.ContactPhone)

	decision, err := p.evaluate(ctx, req, phone)
	if err != nil {
		logger.FromContext(ctx).Error("Admission check failed",
			zap.Int64("operator_id", req.OperatorID),
			zap.String("contact_phone", phone),
			zap.Error(err))
		return Decision{}, err
	}

	observer.IncAdmissionDecision(decision.Allowed, decision.Code)
	if !decision.Allowed {
		logger.FromContext(ctx).Info("Outbound message denied",
			zap.Int64("operator_id", req.OperatorID),
			zap.String("contact_phone", phone),
			zap.String("code", decision.Code),
			zap.Int("hours_remaining", decision.HoursRemaining))
	}
	return decision, nil
}

func (p *Pipeline) evaluate(ctx context.Context, req Request, phone string) (Decision, error) {
	blocked, err := p.guard.IsBlocked(ctx, phone)
	if err != nil {
		return Decision{}, fmt.Errorf("blocklist check: %w", err)
	}
	if blocked {
		return denied(CodeBlocklisted, "Contato na lista de bloqueio.", 0), nil
	}

	if req.Text != "" {
		hit, err := p.guard.CheckBlockPhrases(ctx, req.Text, req.SegmentID)
		if err != nil {
			return Decision{}, fmt.Errorf("block phrase check: %w", err)
		}
		if hit {
			return denied(CodeBlockPhrase, "Mensagem contém frase bloqueada.", 0), nil
		}
	}

	checks := []struct {
		code  string
		check func() (guard.Decision, error)
	}{
		{CodeCPCCooldown, func() (guard.Decision, error) { return p.guard.CanContactCPC(ctx, phone, req.SegmentID) }},
		{CodeResendCooldown, func() (guard.Decision, error) { return p.guard.CanResend(ctx, phone, req.SegmentID) }},
		{CodeRepescagem, func() (guard.Decision, error) {
			return p.guard.CheckRepescagem(ctx, phone, req.OperatorID, req.SegmentID)
		}},
	}
	for _, c := range checks {
		d, err := c.check()
		if err != nil {
			return Decision{}, fmt.Errorf("%s check: %w", c.code, err)
		}
		if !d.Allowed {
			return fromGuard(c.code, d), nil
		}
	}

	line, err := p.lines.FindAvailableLineForOperator(ctx, req.OperatorID, req.SegmentID, nil)
	if errors.Is(err, apperrors.ErrNoLineAvailable) {
		return denied(CodeNoLine, "Nenhuma linha disponível.", 0), nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("line lookup: %w", err)
	}

	ok, err := p.limiter.CanSend(ctx, line.LineID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return denied(CodeNoLine, "Linha não encontrada.", 0), nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit check: %w", err)
	}
	if !ok {
		d := denied(CodeRateLimited, "Limite de envios da linha atingido. Tente novamente mais tarde.", 0)
		d.LineID, d.LinePhone = line.LineID, line.LinePhone
		return d, nil
	}

	return Decision{Allowed: true, Code: CodeAllowed, LineID: line.LineID, LinePhone: line.LinePhone}, nil
}

// ConfirmSend records a message the caller sent on an admitted line: a sent
// outbound message counted by the rate windows, the send history entry behind
// the resend cooldown and one message on the repescagem counter. The CPC flag
// is not touched; MarkAsCPC sets it.
func (p *Pipeline) ConfirmSend(ctx context.Context, c SendConfirmation) error {
	if err := validator.Validate(c); err != nil {
		return err
	}
	msg := &model.OutboundMessage{
		LineID:       c.LineID,
		OperatorID:   c.OperatorID,
		ContactPhone: utils.NormalizePhone(c.ContactPhone),
		Text:         c.Text,
		Status:       model.OutboundSent,
		Attempts:     1,
	}
	if err := p.sends.SaveOutboundMessage(ctx, msg); err != nil {
		return fmt.Errorf("failed to record outbound message: %w", err)
	}
	return p.recordSend(ctx, c)
}

// recordSend updates the contact side of a send whose outbound message is
// already stored.
func (p *Pipeline) recordSend(ctx context.Context, c SendConfirmation) error {
	if err := p.guard.RegisterSend(ctx, c.ContactPhone, c.LineID, c.CampaignID); err != nil {
		return fmt.Errorf("failed to register send: %w", err)
	}
	if _, err := p.guard.RegisterOperatorMessage(ctx, c.ContactPhone, c.OperatorID, c.SegmentID); err != nil {
		return err
	}
	return nil
}

// RegisterInbound handles a message from the contact. It reopens repescagem for
// every operator; the CPC flag is left alone.
func (p *Pipeline) RegisterInbound(ctx context.Context, phone string) error {
	if err := validator.ValidateVar(phone, "required,phone"); err != nil {
		return err
	}
	return p.guard.RegisterClientResponse(ctx, phone)
}
