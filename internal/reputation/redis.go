// Package reputation reads the per-line reputation allowance published by the
// reputation scorer into Redis.
package reputation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/DanielCayresFilho/NoVendx/internal/apperrors"
	"github.com/DanielCayresFilho/NoVendx/internal/observer"
	"github.com/DanielCayresFilho/NoVendx/pkg/logger"
)

// KeyPrefix prefixes the per-line allowance key.
const KeyPrefix = "line:reputation:"

// Key returns the Redis key holding lineID's daily allowance.
func Key(lineID int64) string {
	return KeyPrefix + strconv.FormatInt(lineID, 10)
}

// Getter is the subset of the Redis client the oracle uses.
type Getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisOracle implements ratelimit.ReputationOracle.
type RedisOracle struct {
	client  Getter
	timeout time.Duration
}

// NewRedisOracle creates an oracle. A positive timeout bounds each lookup.
func NewRedisOracle(client Getter, timeout time.Duration) *RedisOracle {
	return &RedisOracle{client: client, timeout: timeout}
}

// DailyAllowance returns the stored allowance, or ErrNotFound when the line has no score.
func (o *RedisOracle) DailyAllowance(ctx context.Context, lineID int64) (int, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	n, err := o.client.Get(ctx, Key(lineID)).Int()
	switch {
	case errors.Is(err, redis.Nil):
		observer.IncReputationLookup("miss")
		return 0, fmt.Errorf("%w: reputation of line %d", apperrors.ErrNotFound, lineID)
	case err != nil:
		observer.IncReputationLookup("error")
		logger.FromContext(ctx).Debug("Reputation lookup failed", zap.Int64("line_id", lineID), zap.Error(err))
		return 0, fmt.Errorf("reputation lookup for line %d: %w", lineID, err)
	}
	observer.IncReputationLookup("hit")
	return n, nil
}

// Connect parses url, creates a client and verifies it with a ping.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rc := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rc, nil
}
