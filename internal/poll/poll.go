package poll

import (
	"context"
	"errors"
	"log"
	"time"

	"trip-reminders/internal/alert"
	"trip-reminders/internal/arrivals"
	"trip-reminders/internal/keepalive"
	"trip-reminders/internal/metrics"
	"trip-reminders/internal/sched"
	"trip-reminders/internal/store"
)

const (
	// DefaultPollInterval is how far ahead each poll re-arms the next one.
	DefaultPollInterval = time.Minute
	// DefaultExpiryWindow is how long past its start time an alert is kept
	// polling before it is given up on and cancelled.
	DefaultExpiryWindow = 30 * time.Minute
)

// Notifier receives threshold-crossed events. diff is the remaining time to
// the predicted departure and may be negative.
type Notifier interface {
	OnThresholdCrossed(ctx context.Context, alertID int64, diff time.Duration) error
}

// Engine executes poll batches: per due alert it decides expiry, re-arms the
// next poll, and checks whether the reminder threshold has been crossed.
type Engine struct {
	store    store.Store
	fetcher  arrivals.Fetcher
	sched    sched.Scheduler
	notifier Notifier
	keep     *keepalive.Source
	metrics  *metrics.Collector

	pollInterval time.Duration
	expiryWindow time.Duration
	now          func() time.Time
}

func NewEngine(st store.Store, fetcher arrivals.Fetcher, scheduler sched.Scheduler, notifier Notifier, keep *keepalive.Source, m *metrics.Collector) *Engine {
	return &Engine{
		store:        st,
		fetcher:      fetcher,
		sched:        scheduler,
		notifier:     notifier,
		keep:         keep,
		metrics:      m,
		pollInterval: DefaultPollInterval,
		expiryWindow: DefaultExpiryWindow,
		now:          time.Now,
	}
}

// SetScheduler installs the scheduler after construction. The scheduler's
// timers call back into the engine, so one of the two has to be wired late.
func (e *Engine) SetScheduler(s sched.Scheduler) {
	e.sched = s
}

// SetIntervals overrides the poll-again interval and expiry window.
func (e *Engine) SetIntervals(pollInterval, expiryWindow time.Duration) {
	if pollInterval > 0 {
		e.pollInterval = pollInterval
	}
	if expiryWindow > 0 {
		e.expiryWindow = expiryWindow
	}
}

// SetClock replaces the wall clock, for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// RunPollBatch polls each due alert independently: a failure on one alert
// never aborts its siblings. The keepalive token is held for the whole
// batch and released on every exit path.
func (e *Engine) RunPollBatch(ctx context.Context, alertIDs []int64) {
	if e.keep != nil {
		tok := e.keep.Acquire()
		defer tok.Release()
	}
	for _, id := range alertIDs {
		e.pollOne(ctx, id)
	}
}

func (e *Engine) pollOne(ctx context.Context, alertID int64) {
	start := time.Now()
	if e.metrics != nil {
		e.metrics.Polls.Inc()
		defer func() {
			e.metrics.PollDuration.Observe(time.Since(start).Seconds())
		}()
	}

	a, err := e.store.Get(ctx, alertID)
	if errors.Is(err, store.ErrNotFound) {
		// Deleted out from under us; treat as an implicit cancellation.
		return
	}
	if err != nil {
		log.Printf("poll alert %d: read: %v", alertID, err)
		return
	}
	if a.State == alert.StateCancelled {
		return
	}

	now := e.now()

	// After the expiry window we give up on the trip entirely.
	if a.StartTime.Before(now.Add(-e.expiryWindow)) {
		if err := e.store.SetState(ctx, alertID, alert.StateCancelled); err != nil {
			log.Printf("poll alert %d: expire: %v", alertID, err)
			return
		}
		if e.metrics != nil {
			e.metrics.Cancellations.WithLabelValues("stale").Inc()
		}
		log.Printf("alert %d expired (trip start %s)", alertID, a.StartTime.Format(time.RFC3339))
		return
	}

	// Re-arm before anything else, fetch included, so the chain survives a
	// crash or a fetch failure. Do not reorder below the fetch.
	if err := e.sched.ScheduleAt(alertID, now.Add(e.pollInterval)); err != nil {
		// The chain for this alert is broken; the host has to intervene.
		log.Printf("poll alert %d: schedule next poll: %v", alertID, err)
		if e.metrics != nil {
			e.metrics.ScheduleFailures.Inc()
		}
	} else if e.metrics != nil {
		e.metrics.Reschedules.Inc()
	}

	if a.State == alert.StateScheduled {
		if err := e.store.SetState(ctx, alertID, alert.StatePolling); err != nil {
			log.Printf("poll alert %d: mark polling: %v", alertID, err)
		}
	}

	fetchStart := time.Now()
	arrs, err := e.fetcher.FetchArrivals(ctx, a.StopID)
	if e.metrics != nil {
		e.metrics.FetchDuration.Observe(time.Since(fetchStart).Seconds())
	}
	if err != nil {
		// Transient; the rearm above retries at the next cycle.
		if e.metrics != nil {
			e.metrics.FetchErrs.Inc()
		}
		log.Printf("poll alert %d: fetch stop %s: %v", alertID, a.StopID, err)
		return
	}

	depart, ok := departTimeForTrip(arrs, a.TripID)
	if !ok {
		// No arrival for our trip this cycle; wait for the next poll.
		return
	}

	diff := time.Duration(depart-now.UnixMilli()) * time.Millisecond
	if diff <= a.ReminderOffset {
		if err := e.notifier.OnThresholdCrossed(ctx, alertID, diff); err != nil {
			log.Printf("poll alert %d: notify: %v", alertID, err)
		}
	}
}

// departTimeForTrip scans the arrivals for the watched trip and picks the
// predicted time when one exists, the scheduled time otherwise.
func departTimeForTrip(arrs []arrivals.Arrival, tripID string) (int64, bool) {
	for _, ad := range arrs {
		if ad.TripID != tripID {
			continue
		}
		if ad.PredictedArrivalTime != 0 {
			return ad.PredictedArrivalTime, true
		}
		return ad.ScheduledArrivalTime, true
	}
	return 0, false
}
