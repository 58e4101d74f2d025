// Package notifier pushes fire-and-forget events to operators and segment supervisors.
package notifier

import (
	"context"
)

// Notifier delivers events. Delivery failures are logged, never returned.
type Notifier interface {
	NotifyOperator(ctx context.Context, operatorID int64, event string, payload interface{})
	NotifySegmentSupervisors(ctx context.Context, segmentID int64, event string, payload interface{})
}

// Multi fans every call out to each notifier in order.
type Multi []Notifier

// NotifyOperator implements Notifier.
func (m Multi) NotifyOperator(ctx context.Context, operatorID int64, event string, payload interface{}) {
	for _, n := range m {
		if n != nil {
			n.NotifyOperator(ctx, operatorID, event, payload)
		}
	}
}

// NotifySegmentSupervisors implements Notifier.
func (m Multi) NotifySegmentSupervisors(ctx context.Context, segmentID int64, event string, payload interface{}) {
	for _, n := range m {
		if n != nil {
			n.NotifySegmentSupervisors(ctx, segmentID, event, payload)
		}
	}
}

// Nop drops every event.
type Nop struct{}

func (Nop) NotifyOperator(context.Context, int64, string, interface{}) {}

func (Nop) NotifySegmentSupervisors(context.Context, int64, string, interface{}) {}
