package gateway

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/DanielCayresFilho/NoVendx/internal/apperrors"
	"github.com/DanielCayresFilho/NoVendx/internal/config"
	"github.com/DanielCayresFilho/NoVendx/pkg/logger"
)

const (
	defaultMaxAttempts  = 3
	defaultInitialDelay = 500 * time.Millisecond
	defaultMaxDelay     = 5 * time.Second
)

// Outcome is the result of a send under a RetryPolicy: either Sent, or failed
// after Attempts tries with Err as the last error.
type Outcome struct {
	Sent     bool
	Attempts int
	Err      error
}

// Failed reports whether every attempt failed.
func (o Outcome) Failed() bool { return !o.Sent }

// RetryPolicy bounds how a send is retried. Without Backoff attempts follow each
// other immediately.
type RetryPolicy struct {
	MaxAttempts  int
	Backoff      bool
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// NewRetryPolicy builds the policy from the gateway config.
func NewRetryPolicy(cfg config.GatewayConfig) RetryPolicy {
	p := RetryPolicy{
		MaxAttempts:  cfg.MaxAttempts,
		Backoff:      cfg.Backoff,
		InitialDelay: cfg.InitialDelay,
		MaxDelay:     cfg.MaxDelay,
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = defaultInitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}
	return p
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOffContext {
	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if p.Backoff {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = p.InitialDelay
		exp.MaxInterval = p.MaxDelay
		exp.MaxElapsedTime = 0
		exp.Reset()
		b = exp
	}
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// Do runs send until it succeeds, fails fatally or the attempts run out.
func (p RetryPolicy) Do(ctx context.Context, send func(ctx context.Context) error) Outcome {
	var out Outcome
	notify := func(err error, d time.Duration) {
		logger.FromContext(ctx).Warn("Retrying gateway send",
			zap.Int("attempt", out.Attempts),
			zap.Error(err),
			zap.Duration("after", d))
	}

	err := backoff.RetryNotify(func() error {
		out.Attempts++
		err := send(ctx)
		if err != nil && apperrors.IsFatal(err) {
			return backoff.Permanent(err)
		}
		return err
	}, p.backOff(ctx), notify)

	out.Sent = err == nil
	out.Err = err
	return out
}
