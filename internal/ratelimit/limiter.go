// Package ratelimit enforces per-line daily and hourly send windows sized by line age
// and, when available, line reputation.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DanielCayresFilho/NoVendx/internal/apperrors"
	"github.com/DanielCayresFilho/NoVendx/internal/model"
	"github.com/DanielCayresFilho/NoVendx/internal/observer"
	"github.com/DanielCayresFilho/NoVendx/pkg/logger"
	"github.com/DanielCayresFilho/NoVendx/pkg/utils"
)

// Limits is a pair of window caps.
type Limits struct {
	Daily  int `json:"daily"`
	Hourly int `json:"hourly"`
}

var (
	newLineLimits    = Limits{Daily: 20, Hourly: 5}
	warmingUpLimits  = Limits{Daily: 50, Hourly: 10}
	matureLineLimits = Limits{Daily: 150, Hourly: 30}
)

// TierLimits returns the base limits for a line of the given age in whole days.
func TierLimits(ageDays int) Limits {
	switch {
	case ageDays < 7:
		return newLineLimits
	case ageDays < 30:
		return warmingUpLimits
	default:
		return matureLineLimits
	}
}

// ReputationOracle returns the reputation-based daily allowance of a line.
type ReputationOracle interface {
	DailyAllowance(ctx context.Context, lineID int64) (int, error)
}

// LineReader is the line lookup the limiter needs.
type LineReader interface {
	FindLineByID(ctx context.Context, lineID int64) (*model.Line, error)
}

// SendCounter counts outbound messages of a line.
type SendCounter interface {
	CountOutboundSince(ctx context.Context, lineID int64, since time.Time) (int64, error)
}

// Info is a snapshot of a line's rate windows.
type Info struct {
	LineID       int64  `json:"line_id"`
	AgeDays      int    `json:"age_days"`
	Limits       Limits `json:"limits"`
	SentToday    int64  `json:"sent_today"`
	SentLastHour int64  `json:"sent_last_hour"`
	CanSend      bool   `json:"can_send"`
}

// Limiter evaluates the send windows of a line.
type Limiter struct {
	lines      LineReader
	counter    SendCounter
	reputation ReputationOracle
	loc        *time.Location
	clock      utils.Clock
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithReputation sets the reputation oracle. Without one, tier limits apply.
func WithReputation(oracle ReputationOracle) Option {
	return func(l *Limiter) { l.reputation = oracle }
}

// WithLocation sets the zone whose midnight starts the daily window.
func WithLocation(loc *time.Location) Option {
	return func(l *Limiter) {
		if loc != nil {
			l.loc = loc
		}
	}
}

// WithClock overrides the time source.
func WithClock(c utils.Clock) Option {
	return func(l *Limiter) {
		if c != nil {
			l.clock = c
		}
	}
}

// NewLimiter creates a Limiter over the line and outbound stores.
func NewLimiter(lines LineReader, counter SendCounter, opts ...Option) *Limiter {
	l := &Limiter{
		lines:   lines,
		counter: counter,
		loc:     time.UTC,
		clock:   utils.SystemClock,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CanSend reports whether lineID is below both its daily and hourly caps.
func (l *Limiter) CanSend(ctx context.Context, lineID int64) (bool, error) {
	info, err := l.Info(ctx, lineID)
	if err != nil {
		return false, err
	}
	if !info.CanSend {
		observer.IncRateLimitDenied()
		logger.FromContext(ctx).Warn("Line reached its send limit",
			zap.Int64("line_id", lineID),
			zap.Int64("sent_today", info.SentToday),
			zap.Int("daily_limit", info.Limits.Daily),
			zap.Int64("sent_last_hour", info.SentLastHour),
			zap.Int("hourly_limit", info.Limits.Hourly))
	}
	return info.CanSend, nil
}

// Info computes the current windows of lineID. An unknown line yields ErrNotFound.
func (l *Limiter) Info(ctx context.Context, lineID int64) (Info, error) {
	line, err := l.lines.FindLineByID(ctx, lineID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return Info{}, fmt.Errorf("%w: line %d", apperrors.ErrNotFound, lineID)
		}
		return Info{}, err
	}

	now := l.clock()
	age := utils.AgeInDays(line.CreatedAt, now)
	limits := l.limitsFor(ctx, lineID, age)

	today, err := l.counter.CountOutboundSince(ctx, lineID, utils.StartOfDay(now, l.loc))
	if err != nil {
		return Info{}, fmt.Errorf("failed to count today's sends: %w", err)
	}
	lastHour, err := l.counter.CountOutboundSince(ctx, lineID, now.Add(-time.Hour))
	if err != nil {
		return Info{}, fmt.Errorf("failed to count last hour sends: %w", err)
	}

	return Info{
		LineID:       lineID,
		AgeDays:      age,
		Limits:       limits,
		SentToday:    today,
		SentLastHour: lastHour,
		CanSend:      today < int64(limits.Daily) && lastHour < int64(limits.Hourly),
	}, nil
}

// limitsFor caps the tier by reputation. Oracle failures fall back to the tier.
func (l *Limiter) limitsFor(ctx context.Context, lineID int64, age int) Limits {
	tier := TierLimits(age)
	if l.reputation == nil {
		return tier
	}
	rep, err := l.reputation.DailyAllowance(ctx, lineID)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			logger.FromContext(ctx).Warn("Reputation lookup failed, using tier limits",
				zap.Int64("line_id", lineID), zap.Error(err))
		}
		return tier
	}
	if rep < 0 {
		rep = 0
	}
	return Limits{
		Daily:  min(tier.Daily, rep),
		Hourly: min(tier.Hourly, rep/6),
	}
}
