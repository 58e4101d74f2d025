// Package guard holds the per-contact admission checks: blocklist, block phrases,
// CPC and resend cooldowns, and the repescagem anti-spam state machine.
package guard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DanielCayresFilho/NoVendx/internal/apperrors"
	"github.com/DanielCayresFilho/NoVendx/internal/controlpanel"
	"github.com/DanielCayresFilho/NoVendx/internal/model"
	"github.com/DanielCayresFilho/NoVendx/internal/storage"
	"github.com/DanielCayresFilho/NoVendx/pkg/logger"
	"github.com/DanielCayresFilho/NoVendx/pkg/utils"
)

// Decision is the outcome of one check. HoursRemaining is set only for time-based denials.
type Decision struct {
	Allowed        bool   `json:"allowed"`
	Reason         string `json:"reason,omitempty"`
	HoursRemaining int    `json:"hours_remaining,omitempty"`
}

// Allow is the zero-cost allowed decision.
var Allow = Decision{Allowed: true}

func deny(reason string, hours int) Decision {
	return Decision{Allowed: false, Reason: reason, HoursRemaining: hours}
}

// Blocklist answers blocklist membership. cache.BlocklistFilter and the storage layer both satisfy it.
type Blocklist interface {
	IsBlocklisted(ctx context.Context, phone string) (bool, error)
}

// Store is the persistence Guard needs.
type Store interface {
	storage.ContactRepo
	storage.RepescagemRepo
	storage.SendHistoryRepo
}

// Guard evaluates and records per-contact admission state.
type Guard struct {
	store     Store
	blocklist Blocklist
	config    controlpanel.Provider
	clock     utils.Clock
}

// New creates a Guard. A nil blocklist falls back to nothing being blocklisted.
func New(store Store, blocklist Blocklist, config controlpanel.Provider, clock utils.Clock) *Guard {
	if clock == nil {
		clock = utils.SystemClock
	}
	return &Guard{store: store, blocklist: blocklist, config: config, clock: clock}
}

// IsBlocked reports whether phone is on the blocklist.
func (g *Guard) IsBlocked(ctx context.Context, phone string) (bool, error) {
	if g.blocklist == nil {
		return false, nil
	}
	return g.blocklist.IsBlocklisted(ctx, utils.NormalizePhone(phone))
}

// CheckBlockPhrases reports whether text contains any configured phrase, ignoring case.
func (g *Guard) CheckBlockPhrases(ctx context.Context, text string, segmentID *int64) (bool, error) {
	cfg, err := g.config.Find(ctx, segmentID)
	if err != nil {
		return false, err
	}
	if !cfg.BlockPhrasesEnabled {
		return false, nil
	}
	lower := strings.ToLower(text)
	for _, p := range cfg.Phrases() {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return true, nil
		}
	}
	return false, nil
}

// CanContactCPC denies while a CPC contact is inside its cooldown.
func (g *Guard) CanContactCPC(ctx context.Context, phone string, segmentID *int64) (Decision, error) {
	cfg, err := g.config.Find(ctx, segmentID)
	if err != nil {
		return Decision{}, err
	}
	if !cfg.CPCCooldownEnabled {
		return Allow, nil
	}

	contact, err := g.store.FindContactByPhone(ctx, utils.NormalizePhone(phone))
	if errors.Is(err, apperrors.ErrNotFound) {
		return Allow, nil
	}
	if err != nil {
		return Decision{}, err
	}
	if !contact.IsCPC || contact.LastCPCAt == nil {
		return Allow, nil
	}

	remaining := contact.LastCPCAt.Add(hours(cfg.CPCCooldownHours)).Sub(g.clock())
	if remaining > 0 {
		h := utils.CeilHours(remaining)
		return deny(fmt.Sprintf("CPC em período de espera. Aguarde %d hora(s).", h), h), nil
	}
	return Allow, nil
}

// CanResend denies while the last send to phone is inside the resend cooldown.
func (g *Guard) CanResend(ctx context.Context, phone string, segmentID *int64) (Decision, error) {
	cfg, err := g.config.Find(ctx, segmentID)
	if err != nil {
		return Decision{}, err
	}
	if !cfg.ResendCooldownEnabled {
		return Allow, nil
	}

	last, err := g.store.LastSendAt(ctx, utils.NormalizePhone(phone))
	if err != nil {
		return Decision{}, err
	}
	if last == nil {
		return Allow, nil
	}

	remaining := last.Add(hours(cfg.ResendCooldownHours)).Sub(g.clock())
	if remaining > 0 {
		h := utils.CeilHours(remaining)
		return deny(fmt.Sprintf("Aguarde %d hora(s) para reenviar para este contato.", h), h), nil
	}
	return Allow, nil
}

// CheckRepescagem denies permanently blocked pairs and pairs still cooling down.
// An elapsed blockedUntil is treated as no block without being written back.
func (g *Guard) CheckRepescagem(ctx context.Context, phone string, operatorID int64, segmentID *int64) (Decision, error) {
	cfg, err := g.config.Find(ctx, segmentID)
	if err != nil {
		return Decision{}, err
	}
	if !cfg.RepescagemEnabled {
		return Allow, nil
	}

	state, err := g.store.FindRepescagem(ctx, utils.NormalizePhone(phone), operatorID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return Allow, nil
	}
	if err != nil {
		return Decision{}, err
	}

	if state.PermanentBlock {
		return deny("Limite de repescagens atingido. Aguarde o cliente entrar em contato.", 0), nil
	}
	now := g.clock()
	if state.BlockedAt(now) {
		h := utils.CeilHours(state.BlockedUntil.Sub(now))
		return deny(fmt.Sprintf("Aguarde %d hora(s) para enviar nova mensagem.", h), h), nil
	}
	return Allow, nil
}

// advanceRepescagem applies one outbound message to state. It reports whether state changed.
func advanceRepescagem(state *model.RepescagemState, cfg model.ControlPanelConfig, now time.Time) bool {
	if state.PermanentBlock {
		return false
	}
	newCount := state.MessagesCount + 1
	t := now
	state.LastMessageAt = &t

	if newCount < cfg.RepescagemMaxMessages {
		state.MessagesCount = newCount
		return true
	}

	state.Attempts++
	state.MessagesCount = 0
	if cfg.RepescagemMaxAttempts > 0 && state.Attempts >= cfg.RepescagemMaxAttempts {
		state.PermanentBlock = true
		state.BlockedUntil = nil
		return true
	}
	until := now.Add(hours(cfg.RepescagemCooldownHours))
	state.BlockedUntil = &until
	return true
}

// RegisterOperatorMessage counts one outbound message for the pair under its row lock.
func (g *Guard) RegisterOperatorMessage(ctx context.Context, phone string, operatorID int64, segmentID *int64) (*model.RepescagemState, error) {
	cfg, err := g.config.Find(ctx, segmentID)
	if err != nil {
		return nil, err
	}
	if !cfg.RepescagemEnabled {
		return nil, nil
	}

	now := g.clock()
	limitReached := false
	state, err := g.store.MutateRepescagem(ctx, utils.NormalizePhone(phone), operatorID, func(s *model.RepescagemState) bool {
		before := s.Attempts
		changed := advanceRepescagem(s, cfg, now)
		limitReached = s.Attempts != before
		return changed
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register operator message: %w", err)
	}

	if limitReached {
		logger.FromContext(ctx).Info("Repescagem limit reached",
			zap.String("contact_phone", state.ContactPhone),
			zap.Int64("operator_id", operatorID),
			zap.Int("attempts", state.Attempts),
			zap.Bool("permanent", state.PermanentBlock))
	}
	return state, nil
}

// RegisterClientResponse resets the counter and temporary block of every operator
// pair for phone. Attempts and permanent blocks are kept.
func (g *Guard) RegisterClientResponse(ctx context.Context, phone string) error {
	n, err := g.store.ResetRepescagemForContact(ctx, utils.NormalizePhone(phone))
	if err != nil {
		return fmt.Errorf("failed to reset repescagem: %w", err)
	}
	logger.FromContext(ctx).Debug("Repescagem reset on client response",
		zap.String("contact_phone", utils.NormalizePhone(phone)),
		zap.Int64("pairs", n))
	return nil
}

// ResetRepescagem is the administrative reset of one pair, clearing the permanent block.
func (g *Guard) ResetRepescagem(ctx context.Context, phone string, operatorID int64) error {
	if err := g.store.ClearRepescagem(ctx, utils.NormalizePhone(phone), operatorID); err != nil {
		return fmt.Errorf("failed to clear repescagem: %w", err)
	}
	logger.FromContext(ctx).Info("Repescagem cleared by administrator",
		zap.String("contact_phone", utils.NormalizePhone(phone)),
		zap.Int64("operator_id", operatorID))
	return nil
}

// RegisterSend appends to the send history that backs the resend cooldown.
func (g *Guard) RegisterSend(ctx context.Context, phone string, lineID int64, campaignID *int64) error {
	return g.store.SaveSendHistory(ctx, model.SendHistory{
		ContactPhone: utils.NormalizePhone(phone),
		LineID:       lineID,
		CampaignID:   campaignID,
		SentAt:       g.clock(),
	})
}

// MarkAsCPC sets or clears the CPC flag. Marking stamps lastCPCAt with the current time.
func (g *Guard) MarkAsCPC(ctx context.Context, phone string, isCPC bool) error {
	digits := utils.NormalizePhone(phone)
	if _, err := g.store.EnsureContact(ctx, model.Contact{Phone: digits}); err != nil {
		return err
	}
	return g.store.SetContactCPC(ctx, digits, isCPC, g.clock())
}

func hours(n int) time.Duration {
	return time.Duration(n) * time.Hour
}
