// Package assignment binds operators to lines under the per-line capacity and
// segment-affinity rules, and moves them off lines that get banned.
package assignment

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/DanielCayresFilho/NoVendx/internal/apperrors"
	"github.com/DanielCayresFilho/NoVendx/internal/model"
	"github.com/DanielCayresFilho/NoVendx/internal/notifier"
	"github.com/DanielCayresFilho/NoVendx/internal/observer"
	"github.com/DanielCayresFilho/NoVendx/internal/storage"
	"github.com/DanielCayresFilho/NoVendx/pkg/logger"
)

// Store is the persistence the engine needs.
type Store interface {
	storage.LinePool
	FindOperatorByID(ctx context.Context, id int64) (*model.Operator, error)
	ListOnlineOperators(ctx context.Context) ([]model.Operator, error)
}

// Result is the line an operator ended up on.
type Result struct {
	LineID    int64  `json:"line_id"`
	LinePhone string `json:"line_phone"`
	// Reused is true when the operator already held the line.
	Reused bool `json:"reused"`
}

// Engine selects and binds lines.
type Engine struct {
	store            Store
	notifier         notifier.Notifier
	capacity         int
	defaultSegmentID *int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier sets where line change events go.
func WithNotifier(n notifier.Notifier) Option {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithCapacity sets the operators-per-line limit used when ranking candidates.
// The store enforces its own capacity on bind.
func WithCapacity(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.capacity = n
		}
	}
}

// WithDefaultSegment sets the id of the fallback segment ("Padrão").
func WithDefaultSegment(id int64) Option {
	return func(e *Engine) { e.defaultSegmentID = &id }
}

// NewEngine creates an Engine over store.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		notifier: notifier.Nop{},
		capacity: storage.DefaultLineCapacity,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func sameSegment(a, b *int64) bool {
	return a != nil && b != nil && *a == *b
}

// pickCandidate walks the priority tiers: own segment with no foreign occupant,
// unsegmented, default segment, then any line with room. Lines in skip are
// never picked.
func (e *Engine) pickCandidate(lines []model.LineWithOccupancy, segmentID, excludeLineID *int64, skip map[int64]bool) (model.LineWithOccupancy, bool) {
	usable := func(l model.LineWithOccupancy) bool {
		if excludeLineID != nil && l.Line.ID == *excludeLineID {
			return false
		}
		if skip[l.Line.ID] {
			return false
		}
		return l.Line.IsActive() && l.HasFreeSlot(e.capacity)
	}
	tiers := []func(model.LineWithOccupancy) bool{
		func(l model.LineWithOccupancy) bool {
			return segmentID != nil && sameSegment(l.Line.SegmentID, segmentID) && l.OnlySegment(*segmentID)
		},
		func(l model.LineWithOccupancy) bool { return l.Line.SegmentID == nil },
		func(l model.LineWithOccupancy) bool { return sameSegment(l.Line.SegmentID, e.defaultSegmentID) },
		func(model.LineWithOccupancy) bool { return true },
	}
	for _, match := range tiers {
		for _, l := range lines {
			if usable(l) && match(l) {
				return l, true
			}
		}
	}
	return model.LineWithOccupancy{}, false
}

// FindAvailableLineForOperator returns the operator's active line, or binds a new
// one. excludeLineID is never picked and, if currently held, is released first.
// It returns ErrNoLineAvailable when every candidate is full, excluded or inactive.
func (e *Engine) FindAvailableLineForOperator(ctx context.Context, operatorID int64, segmentID, excludeLineID *int64) (Result, error) {
	log := logger.FromContext(ctx).With(zap.Int64("operator_id", operatorID))

	current, err := e.store.CurrentLine(ctx, operatorID)
	switch {
	case err == nil:
		excluded := excludeLineID != nil && current.ID == *excludeLineID
		if current.IsActive() && !excluded {
			observer.IncAssignmentOutcome("reused")
			return Result{LineID: current.ID, LinePhone: current.Phone, Reused: true}, nil
		}
		if err := e.store.UnbindOperator(ctx, current.ID, operatorID); err != nil {
			return Result{}, fmt.Errorf("failed to release line %d: %w", current.ID, err)
		}
	case !errors.Is(err, apperrors.ErrNotFound):
		observer.IncAssignmentOutcome("error")
		return Result{}, err
	}

	// Every round tries a line not tried before, so the loop ends once each
	// candidate in the pool has been lost to a concurrent bind.
	tried := make(map[int64]bool)
	for round := 0; ; round++ {
		lines, err := e.store.GetAvailableLines(ctx, nil)
		if err != nil {
			observer.IncAssignmentOutcome("error")
			return Result{}, err
		}
		candidate, ok := e.pickCandidate(lines, segmentID, excludeLineID, tried)
		if !ok {
			break
		}
		tried[candidate.Line.ID] = true

		err = e.store.BindOperator(ctx, candidate.Line.ID, operatorID)
		switch {
		case err == nil:
			if candidate.Line.SegmentID == nil && segmentID != nil {
				if err := e.store.PromoteSegment(ctx, candidate.Line.ID, *segmentID); err != nil {
					log.Warn("Failed to promote line segment", zap.Int64("line_id", candidate.Line.ID), zap.Error(err))
				}
			}
			observer.IncAssignmentOutcome("assigned")
			log.Info("Line assigned to operator",
				zap.Int64("line_id", candidate.Line.ID),
				zap.String("line_phone", candidate.Line.Phone))
			return Result{LineID: candidate.Line.ID, LinePhone: candidate.Line.Phone}, nil

		case errors.Is(err, apperrors.ErrAlreadyBound):
			// A concurrent request for the same operator won; use its line.
			if line, cerr := e.store.CurrentLine(ctx, operatorID); cerr == nil && line.IsActive() {
				observer.IncAssignmentOutcome("reused")
				return Result{LineID: line.ID, LinePhone: line.Phone, Reused: true}, nil
			}
			observer.IncAssignmentOutcome("contention")

		case apperrors.IsContention(err), errors.Is(err, apperrors.ErrLineUnavailable):
			observer.IncAssignmentOutcome("contention")
			log.Debug("Lost race for line, retrying",
				zap.Int64("line_id", candidate.Line.ID), zap.Int("round", round), zap.Error(err))

		default:
			observer.IncAssignmentOutcome("error")
			return Result{}, err
		}
	}

	observer.IncAssignmentOutcome("no_line")
	log.Warn("No line available for operator", zap.Any("segment_id", segmentID))
	return Result{}, apperrors.ErrNoLineAvailable
}

// ReallocateLineForOperator moves the operator off oldLineID. With markAsBanned the
// line is banned and every occupant unbound; otherwise only this operator is released.
// A replacement is searched excluding oldLineID; failing to find one is returned, not retried.
func (e *Engine) ReallocateLineForOperator(ctx context.Context, operatorID int64, segmentID, oldLineID *int64, markAsBanned bool) (Result, error) {
	if oldLineID != nil {
		if markAsBanned {
			if _, err := e.ban(ctx, *oldLineID); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
				return Result{}, err
			}
		} else if err := e.store.UnbindOperator(ctx, *oldLineID, operatorID); err != nil {
			return Result{}, err
		}
	}
	return e.FindAvailableLineForOperator(ctx, operatorID, segmentID, oldLineID)
}

// ban marks lineID banned unless it already is, returning the former occupants.
func (e *Engine) ban(ctx context.Context, lineID int64) ([]int64, error) {
	line, err := e.store.FindLineByID(ctx, lineID)
	if err != nil {
		return nil, err
	}
	if line.Status == model.LineBanned {
		return nil, nil
	}
	former, err := e.store.MarkBanned(ctx, lineID)
	if err != nil {
		return nil, err
	}
	observer.IncLineBans()
	logger.FromContext(ctx).Warn("Line marked as banned",
		zap.Int64("line_id", lineID),
		zap.String("line_phone", line.Phone),
		zap.Int64s("former_operators", former))
	return former, nil
}

// Reallocation is the outcome for one operator moved off a banned line.
type Reallocation struct {
	OperatorID int64  `json:"operator_id"`
	LineID     *int64 `json:"line_id,omitempty"`
	LinePhone  string `json:"line_phone,omitempty"`
	Error      string `json:"error,omitempty"`
}

// HandleBannedLine bans lineID and tries to move each former occupant to a new
// line, notifying the operator and their segment supervisors either way.
// Banning an already banned line is a no-op.
func (e *Engine) HandleBannedLine(ctx context.Context, lineID int64) ([]Reallocation, error) {
	former, err := e.ban(ctx, lineID)
	if err != nil {
		return nil, err
	}

	results := make([]Reallocation, 0, len(former))
	for _, opID := range former {
		results = append(results, e.reallocateFormer(ctx, lineID, opID))
	}
	return results, nil
}

func (e *Engine) reallocateFormer(ctx context.Context, oldLineID, operatorID int64) Reallocation {
	log := logger.FromContext(ctx).With(zap.Int64("operator_id", operatorID), zap.Int64("old_line_id", oldLineID))
	out := Reallocation{OperatorID: operatorID}

	op, err := e.store.FindOperatorByID(ctx, operatorID)
	if err != nil {
		log.Error("Failed to load operator of banned line", zap.Error(err))
		out.Error = err.Error()
		return out
	}

	old := oldLineID
	payload := model.LineChangePayload{OperatorID: operatorID, OldLineID: &old}
	event := model.NotifyLineReallocated

	res, err := e.FindAvailableLineForOperator(ctx, operatorID, op.SegmentID, &oldLineID)
	if err != nil {
		log.Warn("No replacement line for operator of banned line", zap.Error(err))
		out.Error = err.Error()
		payload.Reason = "Nenhuma linha disponível"
		event = model.NotifyLineUnavailable
	} else {
		id := res.LineID
		out.LineID, out.LinePhone = &id, res.LinePhone
		payload.LineID, payload.LinePhone = &id, res.LinePhone
	}

	e.notifier.NotifyOperator(ctx, operatorID, event, payload)
	if op.SegmentID != nil {
		e.notifier.NotifySegmentSupervisors(ctx, *op.SegmentID, event, payload)
	}
	return out
}
