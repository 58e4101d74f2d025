package assignment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/DanielCayresFilho/NoVendx/internal/apperrors"
	"github.com/DanielCayresFilho/NoVendx/internal/config"
	"github.com/DanielCayresFilho/NoVendx/internal/model"
	"github.com/DanielCayresFilho/NoVendx/internal/observer"
	"github.com/DanielCayresFilho/NoVendx/pkg/logger"
	"github.com/DanielCayresFilho/NoVendx/pkg/utils"
)

// Sweep outcome statuses.
const (
	StatusAssigned       = "assigned"
	StatusSkipped        = "skipped"
	StatusAlreadyHasLine = "already_has_line"
)

// SweepDetail is the outcome for one operator.
type SweepDetail struct {
	OperatorID int64  `json:"operator_id"`
	SegmentID  *int64 `json:"segment_id,omitempty"`
	Status     string `json:"status"`
	LineID     int64  `json:"line_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// SweepReport summarizes one AssignAll run.
type SweepReport struct {
	Assigned int           `json:"assigned"`
	Skipped  int           `json:"skipped"`
	Details  []SweepDetail `json:"details"`
}

type segmentTask struct {
	ctx       context.Context
	operators []model.Operator
	collect   func([]SweepDetail)
	done      func()
}

// SweepWorker runs AssignAll segments on an ants pool.
type SweepWorker struct {
	engine *Engine
	pool   *ants.PoolWithFunc
	log    *zap.Logger
}

// NewSweepWorker creates the segment worker pool.
func NewSweepWorker(engine *Engine, cfg config.WorkerPoolConfig, baseLogger *zap.Logger) (*SweepWorker, error) {
	w := &SweepWorker{engine: engine, log: baseLogger.Named("sweep_worker")}

	size := cfg.PoolSize
	if size <= 0 {
		size = 4
	}
	opts := []ants.Option{
		ants.WithNonblocking(false),
		ants.WithMaxBlockingTasks(cfg.MaxBlock),
		ants.WithPanicHandler(func(p interface{}) {
			w.log.Error("Panic recovered in sweep worker", zap.Any("panic_error", p), zap.Stack("stack"))
		}),
	}
	if cfg.ExpiryTime > 0 {
		opts = append(opts, ants.WithExpiryDuration(cfg.ExpiryTime))
	}

	pool, err := ants.NewPoolWithFunc(size, func(i interface{}) {
		task, ok := i.(segmentTask)
		if !ok {
			w.log.Error("Invalid task data type received", zap.Any("data", i))
			return
		}
		defer task.done()
		task.collect(engine.assignSegment(task.ctx, task.operators))
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sweep worker pool: %w", err)
	}
	w.pool = pool
	return w, nil
}

// AssignAll gives a line to every online operator that lacks an active one.
// Segments run concurrently; operators within a segment run in order so they
// fill each other's lines. Individual failures are recorded, never returned.
func (w *SweepWorker) AssignAll(ctx context.Context) (SweepReport, error) {
	start := time.Now()
	ops, err := w.engine.store.ListOnlineOperators(ctx)
	if err != nil {
		return SweepReport{}, fmt.Errorf("failed to list online operators: %w", err)
	}

	var (
		mu      sync.Mutex
		details []SweepDetail
		wg      sync.WaitGroup
	)
	collect := func(d []SweepDetail) {
		mu.Lock()
		details = append(details, d...)
		mu.Unlock()
	}

	for _, group := range groupBySegment(ops) {
		wg.Add(1)
		task := segmentTask{ctx: ctx, operators: group, collect: collect, done: wg.Done}
		if err := w.pool.Invoke(task); err != nil {
			w.log.Warn("Sweep pool rejected segment, running inline", zap.Error(err))
			func() {
				defer wg.Done()
				collect(w.engine.assignSegment(ctx, group))
			}()
		}
	}
	wg.Wait()

	sort.Slice(details, func(i, j int) bool { return details[i].OperatorID < details[j].OperatorID })
	report := SweepReport{Details: details}
	for _, d := range details {
		if d.Status == StatusAssigned {
			report.Assigned++
		} else {
			report.Skipped++
		}
	}
	observer.ObserveSweep(time.Since(start), report.Assigned, report.Skipped)
	logger.FromContext(ctx).Info("Assignment sweep finished",
		zap.Int("operators", len(ops)),
		zap.Int("assigned", report.Assigned),
		zap.Int("skipped", report.Skipped),
		zap.Duration("duration", time.Since(start)))
	return report, nil
}

// Stop releases the pool.
func (w *SweepWorker) Stop() {
	if w.pool != nil {
		w.pool.Release()
	}
}

// groupBySegment buckets operators by segment; operators without one share a bucket.
func groupBySegment(ops []model.Operator) [][]model.Operator {
	index := make(map[int64]int)
	var groups [][]model.Operator
	for _, op := range ops {
		key := int64(-1)
		if op.SegmentID != nil {
			key = *op.SegmentID
		}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], op)
	}
	return groups
}

func (e *Engine) assignSegment(ctx context.Context, ops []model.Operator) []SweepDetail {
	out := make([]SweepDetail, 0, len(ops))
	for _, op := range ops {
		d := SweepDetail{OperatorID: op.ID, SegmentID: op.SegmentID}
		err := utils.RecoverToError(ctx, "assign_operator", func() error {
			res, err := e.FindAvailableLineForOperator(ctx, op.ID, op.SegmentID, nil)
			if err != nil {
				return err
			}
			d.LineID = res.LineID
			if res.Reused {
				d.Status = StatusAlreadyHasLine
				return nil
			}
			d.Status = StatusAssigned
			e.notifier.NotifyOperator(ctx, op.ID, model.NotifyLineAssigned, model.LineChangePayload{
				OperatorID: op.ID, LineID: &res.LineID, LinePhone: res.LinePhone,
			})
			return nil
		})
		if err != nil {
			d.Status = StatusSkipped
			d.Reason = err.Error()
			if errors.Is(err, apperrors.ErrNoLineAvailable) {
				d.Reason = "Nenhuma linha disponível"
			}
		}
		out = append(out, d)
	}
	return out
}

// Sweeper runs AssignAll on a fixed interval until its context ends.
type Sweeper struct {
	worker   *SweepWorker
	interval time.Duration
}

// NewSweeper creates a Sweeper. A non-positive interval makes Run return at once.
func NewSweeper(worker *SweepWorker, interval time.Duration) *Sweeper {
	return &Sweeper{worker: worker, interval: interval}
}

// Run blocks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.worker.AssignAll(ctx); err != nil {
				logger.FromContext(ctx).Error("Assignment sweep failed", zap.Error(err))
			}
		}
	}
}
