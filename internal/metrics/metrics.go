package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	Polls            prometheus.Counter
	Reschedules      prometheus.Counter
	ScheduleFailures prometheus.Counter
	FetchErrs        prometheus.Counter
	Notifications    prometheus.Counter
	Cancellations    *prometheus.CounterVec // reason label: user|stale

	PendingPolls  prometheus.Gauge
	KeepaliveHeld prometheus.Gauge

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	PollDuration  prometheus.Histogram
	FetchDuration prometheus.Histogram

	PollInterval prometheus.Gauge // seconds
	ExpiryWindow prometheus.Gauge // seconds
}

func NewCollector(pollInterval, expiryWindow time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Polls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reminders_polls_total",
			Help: "Total per-alert poll executions.",
		}),
		Reschedules: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reminders_reschedules_total",
			Help: "Total poll-again registrations issued.",
		}),
		ScheduleFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reminders_schedule_failures_total",
			Help: "Total failed poll-again registrations (the alert's chain breaks).",
		}),
		FetchErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reminders_fetch_errors_total",
			Help: "Total arrival fetch failures, retried at the next poll.",
		}),
		Notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reminders_notifications_total",
			Help: "Total notifications shown or updated.",
		}),
		Cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reminders_cancellations_total",
			Help: "Total alert cancellations.",
		}, []string{"reason"}),
		PendingPolls: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reminders_pending_polls",
			Help: "Number of armed future poll timers.",
		}),
		KeepaliveHeld: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reminders_keepalive_tokens_held",
			Help: "Number of outstanding execution-keepalive tokens.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reminders_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reminders_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reminders_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reminders_poll_duration_seconds",
			Help:    "Duration of one per-alert poll, fetch included.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reminders_fetch_duration_seconds",
			Help:    "Duration of arrival fetches.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		PollInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reminders_poll_interval_seconds",
			Help: "Configured poll-again interval in seconds.",
		}),
		ExpiryWindow: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reminders_expiry_window_seconds",
			Help: "Configured stale-alert expiry window in seconds.",
		}),
	}

	// Register
	reg.MustRegister(
		c.Polls, c.Reschedules, c.ScheduleFailures, c.FetchErrs,
		c.Notifications, c.Cancellations,
		c.PendingPolls, c.KeepaliveHeld,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.PollDuration, c.FetchDuration,
		c.PollInterval, c.ExpiryWindow,
	)

	c.PollInterval.Set(pollInterval.Seconds())
	c.ExpiryWindow.Set(expiryWindow.Seconds())

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}
