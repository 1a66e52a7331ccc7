package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Notification outcomes recorded per class.
const (
	outcomeSent        = "sent"
	outcomeFailed      = "failed"
	outcomeUnavailable = "unavailable"
	outcomeStale       = "stale"
	outcomeQuiet       = "quiet"
	outcomeEmpty       = "empty"
)

// Metrics are the scheduler's Prometheus collectors.
type Metrics struct {
	ticks         prometheus.Counter
	skippedTicks  prometheus.Counter
	tickDuration  prometheus.Histogram
	notifications *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. A nil reg creates
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ticks: f.NewCounter(prometheus.CounterOpts{
			Namespace: "hometasks",
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Completed scheduler ticks.",
		}),
		skippedTicks: f.NewCounter(prometheus.CounterOpts{
			Namespace: "hometasks",
			Subsystem: "scheduler",
			Name:      "skipped_ticks_total",
			Help:      "Ticks skipped because the previous one was still running.",
		}),
		tickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hometasks",
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Duration of scheduler ticks.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hometasks",
			Subsystem: "scheduler",
			Name:      "notifications_total",
			Help:      "Notification decisions by class and outcome.",
		}, []string{"class", "outcome"}),
	}
}

func (m *Metrics) observeTick(d time.Duration) {
	m.ticks.Inc()
	m.tickDuration.Observe(d.Seconds())
}

func (m *Metrics) outcome(class, outcome string) {
	m.notifications.WithLabelValues(class, outcome).Inc()
}
