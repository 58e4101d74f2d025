package notifier

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/DanielCayresFilho/NoVendx/internal/model"
	"github.com/DanielCayresFilho/NoVendx/internal/observer"
	"github.com/DanielCayresFilho/NoVendx/pkg/logger"
)

// Conn is a live push connection held by the transport layer.
type Conn interface {
	Send(n model.Notification) error
}

// SupervisorLister resolves the supervisors of a segment.
type SupervisorLister interface {
	ListSupervisors(ctx context.Context, segmentID int64) ([]model.Operator, error)
}

// Registry maps connected operators to their live connection. Only the transport
// layer connects and disconnects; everything else goes through Notifier.
type Registry struct {
	mu          sync.RWMutex
	conns       map[int64]entry
	seq         uint64
	supervisors SupervisorLister
}

type entry struct {
	conn Conn
	seq  uint64
}

// NewRegistry creates an empty Registry.
func NewRegistry(supervisors SupervisorLister) *Registry {
	return &Registry{
		conns:       make(map[int64]entry),
		supervisors: supervisors,
	}
}

// Connect registers conn for operatorID, replacing any previous connection. The
// returned func disconnects it, and is a no-op once a newer connection replaced it.
func (r *Registry) Connect(operatorID int64, conn Conn) (disconnect func()) {
	r.mu.Lock()
	r.seq++
	seq := r.seq
	r.conns[operatorID] = entry{conn: conn, seq: seq}
	n := len(r.conns)
	r.mu.Unlock()
	observer.SetConnectedOperators(n)

	return func() {
		r.mu.Lock()
		if current, ok := r.conns[operatorID]; ok && current.seq == seq {
			delete(r.conns, operatorID)
		}
		n := len(r.conns)
		r.mu.Unlock()
		observer.SetConnectedOperators(n)
	}
}

// IsConnected reports whether operatorID has a live connection.
func (r *Registry) IsConnected(operatorID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[operatorID]
	return ok
}

// Len returns the number of connected operators.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) conn(operatorID int64) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[operatorID]
	return e.conn, ok
}

// NotifyOperator sends to the operator's connection, if any.
func (r *Registry) NotifyOperator(ctx context.Context, operatorID int64, event string, payload interface{}) {
	c, ok := r.conn(operatorID)
	if !ok {
		return
	}
	err := c.Send(model.Notification{Event: event, Data: payload})
	observer.IncNotification("registry", err)
	if err != nil {
		logger.FromContext(ctx).Warn("Failed to push notification",
			zap.Int64("operator_id", operatorID),
			zap.String("event", event),
			zap.Error(err))
	}
}

// NotifySegmentSupervisors sends to every connected supervisor of segmentID.
func (r *Registry) NotifySegmentSupervisors(ctx context.Context, segmentID int64, event string, payload interface{}) {
	if r.supervisors == nil {
		return
	}
	sups, err := r.supervisors.ListSupervisors(ctx, segmentID)
	if err != nil {
		logger.FromContext(ctx).Warn("Failed to list segment supervisors",
			zap.Int64("segment_id", segmentID), zap.Error(err))
		return
	}
	for _, s := range sups {
		r.NotifyOperator(ctx, s.ID, event, payload)
	}
}
