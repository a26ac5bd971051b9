package notify

import (
	"context"
	"fmt"

	"trip-reminders/internal/alert"
	"trip-reminders/internal/metrics"
	"trip-reminders/internal/store"
)

// CancelHandler terminates an alert's lifecycle: user dismissal and internal
// expiry both end up here. Cancelling an already-cancelled alert is a no-op.
type CancelHandler struct {
	store   store.Store
	coord   *Coordinator
	metrics *metrics.Collector
}

func NewCancelHandler(st store.Store, coord *Coordinator, m *metrics.Collector) *CancelHandler {
	return &CancelHandler{store: st, coord: coord, metrics: m}
}

// Cancel withdraws any visible notification and marks the record CANCELLED.
// The store's conditional update makes the second and later calls no-ops, so
// a cancel racing an in-flight poll always wins.
func (h *CancelHandler) Cancel(ctx context.Context, alertID int64) error {
	if err := h.coord.Withdraw(alertID); err != nil {
		return fmt.Errorf("withdraw notification for alert %d: %w", alertID, err)
	}
	if err := h.store.SetState(ctx, alertID, alert.StateCancelled); err != nil {
		return fmt.Errorf("cancel alert %d: %w", alertID, err)
	}
	if h.metrics != nil {
		h.metrics.Cancellations.WithLabelValues("user").Inc()
	}
	return nil
}
