package main

import (
	"context"
	"encoding/json"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"trip-reminders/internal/arrivals"
	"trip-reminders/internal/config"
	"trip-reminders/internal/keepalive"
	"trip-reminders/internal/metrics"
	"trip-reminders/internal/notify"
	"trip-reminders/internal/poll"
	"trip-reminders/internal/sched"
	"trip-reminders/internal/store"
)

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Alert store on Postgres
	sqlDB, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db open error: %v", err)
	}
	defer sqlDB.Close()
	if err := store.Ping(ctx, sqlDB); err != nil {
		log.Fatalf("db ping error: %v", err)
	}
	st := store.NewPostgres(sqlDB)
	if err := st.EnsureSchema(ctx); err != nil {
		log.Fatalf("db schema error: %v", err)
	}

	// Metrics setup
	var mcol *metrics.Collector
	var metricsSrvCancel context.CancelFunc
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.PollInterval, cfg.ExpiryWindow)
		mctx, mcancel := context.WithCancel(ctx)
		metricsSrvCancel = mcancel
		srv := mcol.Serve(cfg.MetricsAddr)
		go func() {
			<-mctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// NATS presenter for notifications and dismissals
	pres, err := notify.NewNATSPresenter(cfg.NATSURL, cfg.LogNATSSubjects, wrapPresenterMetrics(mcol))
	if err != nil {
		log.Fatalf("nats error: %v", err)
	}
	defer pres.Close()

	// Notification pipeline
	coord := notify.NewCoordinator(st, pres, st, mcol)
	canceller := notify.NewCancelHandler(st, coord, mcol)
	coord.SetDismissHandler(canceller.Cancel)

	// Arrivals client
	fetcher := arrivals.NewClient(cfg.OBAAPIURL, cfg.OBAAPIKey, cfg.FetchTimeout)

	// Keepalive gauge
	var keep *keepalive.Source
	if mcol != nil {
		keep = keepalive.NewSource(func(held int) { mcol.KeepaliveHeld.Set(float64(held)) })
	} else {
		keep = keepalive.NewSource(nil)
	}

	// Poll engine and timer scheduler; the scheduler calls back into the
	// engine, so wire through a small indirection.
	engine := poll.NewEngine(st, fetcher, nil, coord, keep, mcol)
	engine.SetIntervals(cfg.PollInterval, cfg.ExpiryWindow)
	scheduler := sched.NewTimerScheduler(ctx, engine.RunPollBatch, mcol)
	engine.SetScheduler(scheduler)

	// Re-arm persisted alerts; timers do not survive a restart
	if err := sched.ScheduleAll(ctx, st, scheduler, cfg.CleanupAge, time.Now().In(cfg.Location)); err != nil {
		log.Fatalf("schedule all error: %v", err)
	}

	// Accept new reminders over NATS
	sub, err := subscribeCreate(ctx, pres.Conn(), st, scheduler, cfg.Location)
	if err != nil {
		log.Fatalf("subscribe create error: %v", err)
	}
	defer sub.Unsubscribe()

	// Block until context cancelled
	<-ctx.Done()
	scheduler.Stop()
	if metricsSrvCancel != nil {
		metricsSrvCancel()
	}
	log.Println("shutdown complete")
}

// createRequest is the payload on reminders.create.
type createRequest struct {
	TripID         string    `json:"tripId"`
	StopID         string    `json:"stopId"`
	StartTime      time.Time `json:"startTime"`
	ReminderOffset int64     `json:"reminderOffsetMs"`
}

func subscribeCreate(ctx context.Context, nc *nats.Conn, st store.Store, scheduler sched.Scheduler, loc *time.Location) (*nats.Subscription, error) {
	return nc.Subscribe("reminders.create", func(msg *nats.Msg) {
		var req createRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			log.Printf("create reminder: bad payload: %v", err)
			return
		}
		if req.TripID == "" || req.StopID == "" {
			log.Printf("create reminder: tripId and stopId are required")
			return
		}
		offset := time.Duration(req.ReminderOffset) * time.Millisecond
		id, err := st.InsertIfAbsent(ctx, req.TripID, req.StopID, req.StartTime, offset)
		if err != nil {
			log.Printf("create reminder: %v", err)
			return
		}
		now := time.Now().In(loc)
		if err := scheduler.ScheduleAt(id, sched.TriggerTime(req.StartTime, offset, now)); err != nil {
			log.Printf("create reminder: schedule alert %d: %v", id, err)
			return
		}
		log.Printf("reminder %d created for trip %s stop %s", id, req.TripID, req.StopID)
	})
}

// wrapPresenterMetrics adapts our Collector to the PresenterMetrics interface.
func wrapPresenterMetrics(c *metrics.Collector) notify.PresenterMetrics {
	if c == nil {
		return nil
	}
	return &presMetrics{c: c}
}

type presMetrics struct{ c *metrics.Collector }

func (p *presMetrics) NATSPublishedInc()  { p.c.NATSPublished.Inc() }
func (p *presMetrics) NATSPublishErrInc() { p.c.NATSPublishErrs.Inc() }
func (p *presMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}
