package schedule

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultReapInterval  = 5 * time.Second
	defaultReapBatchSize = 100
)

// Reaper periodically removes expired entries from a Queue.
type Reaper struct {
	queue     *Queue
	interval  time.Duration
	batchSize int

	reaped  prometheus.Counter
	errors  prometheus.Counter
	pending prometheus.Gauge
}

// NewReaper creates a reaper. Counters are registered on reg when non-nil.
func NewReaper(queue *Queue, interval time.Duration, batchSize int, reg prometheus.Registerer) *Reaper {
	if interval <= 0 {
		interval = defaultReapInterval
	}

	if batchSize <= 0 {
		batchSize = defaultReapBatchSize
	}

	r := &Reaper{
		queue:     queue,
		interval:  interval,
		batchSize: batchSize,
		reaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reminder",
			Subsystem: "reaper",
			Name:      "entries_reaped_total",
			Help:      "Scheduled entries removed after expiry.",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reminder",
			Subsystem: "reaper",
			Name:      "errors_total",
			Help:      "Failed reap passes.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "reminder",
			Subsystem: "reaper",
			Name:      "pending_entries",
			Help:      "Live scheduled entries after the last pass.",
		}),
	}

	if reg != nil {
		reg.MustRegister(r.reaped, r.errors, r.pending)
	}

	return r
}

// Run reaps on every tick until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("reaper stopped")
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.errors.Inc()
				slog.Error("failed to reap expired entries", slog.String("error", err.Error()))
			}
		}
	}
}

// Sweep reaps full batches until fewer than batchSize entries are due.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	total := 0

	for {
		n, err := r.queue.Reap(ctx, r.batchSize)
		total += n
		r.reaped.Add(float64(n))

		if err != nil {
			return total, err
		}

		if n < r.batchSize || ctx.Err() != nil {
			break
		}
	}

	if total > 0 {
		slog.Info("reaped expired entries", slog.Int("count", total))
	}

	if pending, err := r.queue.Pending(ctx); err == nil {
		r.pending.Set(float64(pending))
	}

	return total, nil
}
