// Package controlpanel serves the per-segment admission configuration with a
// global row and a built-in default as fallbacks.
package controlpanel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/DanielCayresFilho/NoVendx/internal/apperrors"
	"github.com/DanielCayresFilho/NoVendx/internal/model"
	"github.com/DanielCayresFilho/NoVendx/internal/storage"
	"github.com/DanielCayresFilho/NoVendx/internal/validator"
	"github.com/DanielCayresFilho/NoVendx/pkg/logger"
	"github.com/DanielCayresFilho/NoVendx/pkg/utils"
)

// Provider resolves the effective configuration for a segment.
type Provider interface {
	Find(ctx context.Context, segmentID *int64) (model.ControlPanelConfig, error)
}

type cacheEntry struct {
	cfg       model.ControlPanelConfig
	expiresAt time.Time
}

// Service reads and updates ControlPanelConfig rows.
type Service struct {
	repo  storage.ControlPanelRepo
	ttl   time.Duration
	clock utils.Clock

	mu    sync.RWMutex
	cache map[string]cacheEntry
	group singleflight.Group
}

// NewService creates a Service. A ttl of 0 disables caching.
func NewService(repo storage.ControlPanelRepo, ttl time.Duration) *Service {
	return &Service{
		repo:  repo,
		ttl:   ttl,
		clock: utils.SystemClock,
		cache: make(map[string]cacheEntry),
	}
}

func cacheKey(segmentID *int64) string {
	if segmentID == nil {
		return "global"
	}
	return strconv.FormatInt(*segmentID, 10)
}

// Find returns the segment row, else the global row, else the built-in default.
// The returned config carries the requested SegmentID.
func (s *Service) Find(ctx context.Context, segmentID *int64) (model.ControlPanelConfig, error) {
	key := cacheKey(segmentID)
	if cfg, ok := s.cached(key); ok {
		return cfg, nil
	}

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		cfg, err := s.load(ctx, segmentID)
		if err != nil {
			return nil, err
		}
		s.store(key, cfg)
		return cfg, nil
	})
	if err != nil {
		return model.ControlPanelConfig{}, err
	}
	return v.(model.ControlPanelConfig), nil
}

func (s *Service) load(ctx context.Context, segmentID *int64) (model.ControlPanelConfig, error) {
	if segmentID != nil {
		row, err := s.repo.FindControlPanel(ctx, segmentID)
		if err == nil {
			return *row, nil
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			return model.ControlPanelConfig{}, err
		}
	}

	row, err := s.repo.FindControlPanel(ctx, nil)
	switch {
	case err == nil:
		cfg := *row
		cfg.SegmentID = segmentID
		return cfg, nil
	case errors.Is(err, apperrors.ErrNotFound):
		cfg := model.DefaultControlPanelConfig()
		cfg.SegmentID = segmentID
		return cfg, nil
	default:
		return model.ControlPanelConfig{}, err
	}
}

func (s *Service) cached(key string) (model.ControlPanelConfig, bool) {
	if s.ttl <= 0 {
		return model.ControlPanelConfig{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.cache[key]
	if !ok || !s.clock().Before(e.expiresAt) {
		return model.ControlPanelConfig{}, false
	}
	return e.cfg, true
}

func (s *Service) store(key string, cfg model.ControlPanelConfig) {
	if s.ttl <= 0 {
		return
	}
	s.mu.Lock()
	s.cache[key] = cacheEntry{cfg: cfg, expiresAt: s.clock().Add(s.ttl)}
	s.mu.Unlock()
}

// Invalidate drops every cached entry. Segment rows fall back to the global row,
// so a change to any row can affect every key.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.cache = make(map[string]cacheEntry)
	s.mu.Unlock()
}

// UpsertRequest is a partial update. Nil fields keep their stored value, or the
// default when the row does not exist yet.
type UpsertRequest struct {
	SegmentID *int64 `json:"segment_id,omitempty"`

	BlockPhrasesEnabled *bool    `json:"block_phrases_enabled,omitempty"`
	BlockPhrases        []string `json:"block_phrases,omitempty"`
	BlockTabulationID   *int64   `json:"block_tabulation_id,omitempty"`

	CPCCooldownEnabled *bool `json:"cpc_cooldown_enabled,omitempty"`
	CPCCooldownHours   *int  `json:"cpc_cooldown_hours,omitempty" validate:"omitempty,gte=0"`

	ResendCooldownEnabled *bool `json:"resend_cooldown_enabled,omitempty"`
	ResendCooldownHours   *int  `json:"resend_cooldown_hours,omitempty" validate:"omitempty,gte=0"`

	RepescagemEnabled       *bool `json:"repescagem_enabled,omitempty"`
	RepescagemMaxMessages   *int  `json:"repescagem_max_messages,omitempty" validate:"omitempty,gte=1"`
	RepescagemCooldownHours *int  `json:"repescagem_cooldown_hours,omitempty" validate:"omitempty,gte=0"`
	RepescagemMaxAttempts   *int  `json:"repescagem_max_attempts,omitempty" validate:"omitempty,gte=0"`
}

func (r UpsertRequest) apply(cfg *model.ControlPanelConfig) {
	if r.BlockPhrasesEnabled != nil {
		cfg.BlockPhrasesEnabled = *r.BlockPhrasesEnabled
	}
	if r.BlockPhrases != nil {
		cfg.SetPhrases(r.BlockPhrases)
	}
	if r.BlockTabulationID != nil {
		cfg.BlockTabulationID = r.BlockTabulationID
	}
	if r.CPCCooldownEnabled != nil {
		cfg.CPCCooldownEnabled = *r.CPCCooldownEnabled
	}
	if r.CPCCooldownHours != nil {
		cfg.CPCCooldownHours = *r.CPCCooldownHours
	}
	if r.ResendCooldownEnabled != nil {
		cfg.ResendCooldownEnabled = *r.ResendCooldownEnabled
	}
	if r.ResendCooldownHours != nil {
		cfg.ResendCooldownHours = *r.ResendCooldownHours
	}
	if r.RepescagemEnabled != nil {
		cfg.RepescagemEnabled = *r.RepescagemEnabled
	}
	if r.RepescagemMaxMessages != nil {
		cfg.RepescagemMaxMessages = *r.RepescagemMaxMessages
	}
	if r.RepescagemCooldownHours != nil {
		cfg.RepescagemCooldownHours = *r.RepescagemCooldownHours
	}
	if r.RepescagemMaxAttempts != nil {
		cfg.RepescagemMaxAttempts = *r.RepescagemMaxAttempts
	}
}

// Upsert merges req into the exact row for req.SegmentID, creating it from the default if absent.
func (s *Service) Upsert(ctx context.Context, req UpsertRequest) (*model.ControlPanelConfig, error) {
	if err := validator.Validate(req); err != nil {
		return nil, err
	}

	current, err := s.repo.FindControlPanel(ctx, req.SegmentID)
	var cfg model.ControlPanelConfig
	switch {
	case err == nil:
		cfg = *current
	case errors.Is(err, apperrors.ErrNotFound):
		cfg = model.DefaultControlPanelConfig()
		cfg.SegmentID = req.SegmentID
	default:
		return nil, err
	}

	req.apply(&cfg)
	if err := validator.Validate(cfg); err != nil {
		return nil, err
	}

	stored, err := s.repo.UpsertControlPanel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert control panel: %w", err)
	}
	s.Invalidate()

	logger.FromContext(ctx).Info("Control panel updated",
		zap.String("segment", cacheKey(req.SegmentID)),
		zap.Int("block_phrases", len(stored.Phrases())))
	return stored, nil
}

// AddBlockPhrase appends phrase to the effective list of segmentID and stores it on that row.
func (s *Service) AddBlockPhrase(ctx context.Context, phrase string, segmentID *int64) (*model.ControlPanelConfig, error) {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" {
		return nil, fmt.Errorf("%w: phrase is empty", apperrors.ErrValidation)
	}
	cfg, err := s.Find(ctx, segmentID)
	if err != nil {
		return nil, err
	}
	phrases := append(cfg.Phrases(), phrase)
	return s.Upsert(ctx, UpsertRequest{SegmentID: segmentID, BlockPhrases: phrases})
}

// RemoveBlockPhrase drops phrase (case-insensitive) from the effective list of segmentID.
func (s *Service) RemoveBlockPhrase(ctx context.Context, phrase string, segmentID *int64) (*model.ControlPanelConfig, error) {
	cfg, err := s.Find(ctx, segmentID)
	if err != nil {
		return nil, err
	}
	target := strings.ToLower(strings.TrimSpace(phrase))
	kept := make([]string, 0)
	for _, p := range cfg.Phrases() {
		if strings.ToLower(p) != target {
			kept = append(kept, p)
		}
	}
	return s.Upsert(ctx, UpsertRequest{SegmentID: segmentID, BlockPhrases: kept})
}
