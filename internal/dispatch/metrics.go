package dispatch

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report dispatcher activity.
type Metrics struct {
	events          *prometheus.CounterVec
	outcomes        *prometheus.CounterVec
	attempts        *prometheus.CounterVec
	deliverySeconds prometheus.Histogram
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// defaultMetrics returns the package-level metrics registered once with the
// global Prometheus registry.
func defaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs Metrics registered on reg. Registration errors panic.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "reminder",
				Subsystem: "dispatch",
				Name:      "events_total",
				Help:      "Filtered schedule removals handed to the dispatcher.",
			},
			[]string{"decision"},
		),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "reminder",
				Subsystem: "dispatch",
				Name:      "outcomes_total",
				Help:      "Dispatch outcomes by terminal status, including suppressed duplicates.",
			},
			[]string{"status"},
		),
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "reminder",
				Subsystem: "dispatch",
				Name:      "delivery_attempts_total",
				Help:      "Delivery channel calls by result.",
			},
			[]string{"result"},
		),
		deliverySeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "reminder",
				Subsystem: "dispatch",
				Name:      "delivery_duration_seconds",
				Help:      "Time from claim to terminal status, including retry backoff.",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}

	reg.MustRegister(m.events, m.outcomes, m.attempts, m.deliverySeconds)

	return m
}

func (m *Metrics) event(decision string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(decision).Inc()
}

func (m *Metrics) outcome(status string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(status).Inc()
}

func (m *Metrics) attempt(result string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(result).Inc()
}

func (m *Metrics) observeDelivery(d time.Duration) {
	if m == nil {
		return
	}
	m.deliverySeconds.Observe(d.Seconds())
}
