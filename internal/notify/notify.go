package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"trip-reminders/internal/alert"
	"trip-reminders/internal/metrics"
	"trip-reminders/internal/store"
)

// Presenter is the user-facing notification surface, keyed by alert id.
// Show for an id that is already visible updates it in place; Withdraw
// removes it. dismiss is invoked when the user dismisses the notification.
type Presenter interface {
	Show(alertID int64, text string, dismiss func()) error
	Withdraw(alertID int64) error
}

// RouteNamer resolves a trip id to its route's display name.
type RouteNamer interface {
	RouteShortName(ctx context.Context, tripID string) string
}

// DismissFunc terminates an alert after the user dismisses its notification.
type DismissFunc func(ctx context.Context, alertID int64) error

// Coordinator turns threshold-crossed events into at most one visible
// notification per alert id, refreshing the text as the time-to-arrival
// changes across poll cycles.
type Coordinator struct {
	store     store.Store
	presenter Presenter
	namer     RouteNamer
	metrics   *metrics.Collector

	mu      sync.Mutex
	handles map[int64]struct{}
	dismiss DismissFunc
}

func NewCoordinator(st store.Store, presenter Presenter, namer RouteNamer, m *metrics.Collector) *Coordinator {
	return &Coordinator{
		store:     st,
		presenter: presenter,
		namer:     namer,
		metrics:   m,
		handles:   make(map[int64]struct{}),
	}
}

// SetDismissHandler wires the user-dismissal action. Set once during
// startup, before any notification is shown.
func (c *Coordinator) SetDismissHandler(fn DismissFunc) {
	c.mu.Lock()
	c.dismiss = fn
	c.mu.Unlock()
}

// OnThresholdCrossed shows or updates the notification for the alert.
// diff may be negative: the bus has already left, which is still worth
// telling the user about. An alert that was cancelled or deleted since the
// poll read it gets no notification.
func (c *Coordinator) OnThresholdCrossed(ctx context.Context, alertID int64, diff time.Duration) error {
	a, err := c.store.Get(ctx, alertID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read alert %d: %w", alertID, err)
	}
	if a.State == alert.StateCancelled {
		return nil
	}

	routeName := c.namer.RouteShortName(ctx, a.TripID)
	text := notifyText(routeName, diff)

	c.mu.Lock()
	c.handles[alertID] = struct{}{}
	dismiss := c.dismiss
	c.mu.Unlock()

	err = c.presenter.Show(alertID, text, func() {
		if dismiss == nil {
			return
		}
		if err := dismiss(context.Background(), alertID); err != nil {
			log.Printf("dismiss alert %d: %v", alertID, err)
		}
	})
	if err != nil {
		return fmt.Errorf("show notification for alert %d: %w", alertID, err)
	}
	if c.metrics != nil {
		c.metrics.Notifications.Inc()
	}

	// A cancel that ran while Show was in flight already withdrew and removed
	// the handle; take the republished notification back down.
	c.mu.Lock()
	_, live := c.handles[alertID]
	c.mu.Unlock()
	if !live {
		return c.presenter.Withdraw(alertID)
	}
	return nil
}

// Withdraw removes the alert's notification if one is visible.
func (c *Coordinator) Withdraw(alertID int64) error {
	c.mu.Lock()
	_, visible := c.handles[alertID]
	delete(c.handles, alertID)
	c.mu.Unlock()
	if !visible {
		return nil
	}
	return c.presenter.Withdraw(alertID)
}

func (c *Coordinator) visibleCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handles)
}

const oneMinute = time.Minute

func notifyText(routeName string, diff time.Duration) string {
	switch {
	case diff <= 0:
		return fmt.Sprintf("Route %s has already departed", routeName)
	case diff < oneMinute:
		return fmt.Sprintf("Route %s arrives in less than one minute", routeName)
	case diff < 2*oneMinute:
		return fmt.Sprintf("Route %s arrives in about one minute", routeName)
	default:
		return fmt.Sprintf("Route %s arrives in about %d minutes", routeName, int(diff/oneMinute))
	}
}
