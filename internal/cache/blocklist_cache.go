package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"go.uber.org/zap"

	"github.com/DanielCayresFilho/NoVendx/internal/observer"
	"github.com/DanielCayresFilho/NoVendx/pkg/logger"
	"github.com/DanielCayresFilho/NoVendx/pkg/utils"
)

const blocklistCacheName = "blocklist_bloom"

// BlocklistSource is the authoritative blocklist.
type BlocklistSource interface {
	IsBlocklisted(ctx context.Context, phone string) (bool, error)
	ListBlocklistedPhones(ctx context.Context) ([]string, error)
}

// BlocklistFilter answers "definitely not blocklisted" from a bloom filter and
// confirms possible hits against the source.
type BlocklistFilter struct {
	source   BlocklistSource
	expected uint
	fpRate   float64

	mu     sync.RWMutex
	filter *bloom.BloomFilter
	loaded bool

	hits           atomic.Int64
	misses         atomic.Int64
	falsePositives atomic.Int64
}

// NewBlocklistFilter creates an empty filter. Until Refresh succeeds every lookup goes to source.
func NewBlocklistFilter(source BlocklistSource, expected uint, fpRate float64) *BlocklistFilter {
	if expected == 0 {
		expected = 10000
	}
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = 0.01
	}
	return &BlocklistFilter{
		source:   source,
		expected: expected,
		fpRate:   fpRate,
		filter:   bloom.NewWithEstimates(expected, fpRate),
	}
}

// Refresh rebuilds the filter from the source.
func (c *BlocklistFilter) Refresh(ctx context.Context) error {
	phones, err := c.source.ListBlocklistedPhones(ctx)
	if err != nil {
		return err
	}
	size := c.expected
	if uint(len(phones)) > size {
		size = uint(len(phones)) * 2
	}
	next := bloom.NewWithEstimates(size, c.fpRate)
	for _, p := range phones {
		next.AddString(utils.NormalizePhone(p))
	}

	c.mu.Lock()
	c.filter = next
	c.loaded = true
	c.mu.Unlock()

	logger.FromContext(ctx).Debug("Blocklist filter refreshed", zap.Int("entries", len(phones)))
	return nil
}

// Add records a newly blocklisted phone without waiting for the next Refresh.
func (c *BlocklistFilter) Add(phone string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filter.AddString(utils.NormalizePhone(phone))
}

// IsBlocklisted reports whether phone is blocklisted.
func (c *BlocklistFilter) IsBlocklisted(ctx context.Context, phone string) (bool, error) {
	digits := utils.NormalizePhone(phone)

	c.mu.RLock()
	loaded := c.loaded
	maybe := c.filter.TestString(digits)
	c.mu.RUnlock()

	if loaded && !maybe {
		c.misses.Add(1)
		observer.IncCacheCheck(blocklistCacheName, "miss")
		return false, nil
	}

	blocked, err := c.source.IsBlocklisted(ctx, digits)
	if err != nil {
		return false, err
	}
	if loaded {
		if blocked {
			c.hits.Add(1)
			observer.IncCacheCheck(blocklistCacheName, "hit")
		} else {
			c.falsePositives.Add(1)
			observer.IncCacheCheck(blocklistCacheName, "false_positive")
		}
	} else {
		observer.IncCacheCheck(blocklistCacheName, "bypass")
	}
	return blocked, nil
}

// Run refreshes the filter every interval until ctx is done.
func (c *BlocklistFilter) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
				logger.FromContext(ctx).Warn("Blocklist filter refresh failed", zap.Error(err))
			}
		}
	}
}

// GetStats returns cache statistics.
func (c *BlocklistFilter) GetStats() BlocklistStats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	fps := c.falsePositives.Load()
	total := hits + misses + fps

	hitRate := float64(0)
	fpRate := float64(0)
	if total > 0 {
		hitRate = float64(hits) / float64(total)
		fpRate = float64(fps) / float64(total)
	}

	c.mu.RLock()
	size := uint64(c.filter.ApproximatedSize())
	c.mu.RUnlock()

	return BlocklistStats{
		Hits:              hits,
		Misses:            misses,
		HitRate:           hitRate,
		FalsePositives:    fps,
		FalsePositiveRate: fpRate,
		ApproximatedSize:  size,
	}
}

type BlocklistStats struct {
	Hits              int64
	Misses            int64
	HitRate           float64
	FalsePositives    int64
	FalsePositiveRate float64
	ApproximatedSize  uint64
}
