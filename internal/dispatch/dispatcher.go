// Package dispatch turns expiry events into idempotent, retried notifications.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/jnst/easy-reminder/internal/delivery"
	"github.com/jnst/easy-reminder/internal/model"
	"github.com/jnst/easy-reminder/internal/repository"
)

const (
	tracerName        = "github.com/jnst/easy-reminder/internal/dispatch"
	completeMaxTries  = 5
	suppressedOutcome = "suppressed"
)

// ErrInFlight is returned when another worker holds a fresh lease on the entry.
// The event must be retried later, not acknowledged.
var ErrInFlight = errors.New("dispatch in flight on another worker")

// Config holds retry, lease and throttling settings.
type Config struct {
	// MaxAttempts is the ceiling on delivery channel calls per dispatch.
	MaxAttempts    uint
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// Jitter is the backoff randomization factor in [0, 1).
	Jitter float64
	// Lease is how long a PENDING claim is honoured before another worker may take over.
	Lease time.Duration
	// RateLimit caps delivery calls per second; zero means unlimited.
	RateLimit     float64
	RateBurst     int
	SeenCacheSize int
}

// DefaultConfig returns the settings used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    5,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2,
		Jitter:         0.2,
		Lease:          5 * time.Minute,
		RateBurst:      1,
		SeenCacheSize:  10000,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxAttempts == 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = def.MaxBackoff
	}
	if c.Multiplier < 1 {
		c.Multiplier = def.Multiplier
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		c.Jitter = def.Jitter
	}
	if c.Lease <= 0 {
		c.Lease = def.Lease
	}
	if c.RateBurst <= 0 {
		c.RateBurst = def.RateBurst
	}
	if c.SeenCacheSize <= 0 {
		c.SeenCacheSize = def.SeenCacheSize
	}

	return c
}

// Outcome describes what OnFire did with an event.
type Outcome struct {
	ScheduledID string
	// Status is the terminal status written, empty when Suppressed.
	Status     model.DeliveryStatus
	Suppressed bool
	Attempts   int
	// Backoff is the total time spent waiting between attempts.
	Backoff   time.Duration
	MessageID string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// Dispatcher resolves fired reminders and drives the delivery channel.
type Dispatcher struct {
	reminders repository.ReminderRepository
	records   repository.DispatchRepository
	channel   delivery.Channel
	cfg       Config

	limiter *rate.Limiter
	seen    *lru.Cache[string, struct{}]
	metrics *Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// New creates a Dispatcher.
func New(
	reminders repository.ReminderRepository,
	records repository.DispatchRepository,
	channel delivery.Channel,
	cfg Config,
	opts ...Option,
) (*Dispatcher, error) {
	cfg = cfg.withDefaults()

	seen, err := lru.New[string, struct{}](cfg.SeenCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create seen cache: %w", err)
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	d := &Dispatcher{
		reminders: reminders,
		records:   records,
		channel:   channel,
		cfg:       cfg,
		limiter:   rate.NewLimiter(limit, cfg.RateBurst),
		seen:      seen,
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.metrics == nil {
		d.metrics = defaultMetrics()
	}

	return d, nil
}

// OnFire dispatches the notification of an expired entry. It returns an error
// only when the event must be redelivered; delivery failures are recorded, not returned.
func (d *Dispatcher) OnFire(ctx context.Context, event *model.ChangeEvent) (*Outcome, error) {
	d.metrics.event("fire")

	img := event.OldImage
	if img == nil || img.ReminderID == "" {
		slog.Warn("dropping fire event without reminder reference",
			slog.String("scheduled_id", event.ScheduledID),
			slog.String("sequence", event.Sequence),
		)

		return &Outcome{ScheduledID: event.ScheduledID, Suppressed: true}, nil
	}

	scheduledID := event.ScheduledID
	if scheduledID == "" {
		scheduledID = img.ID
	}

	ctx, span := d.tracer.Start(ctx, "dispatch.fire", trace.WithAttributes(
		attribute.String("scheduled_id", scheduledID),
		attribute.String("reminder_id", img.ReminderID),
	))
	defer span.End()

	outcome, err := d.fire(ctx, scheduledID, img.ReminderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return nil, err
	}

	span.SetAttributes(
		attribute.Bool("suppressed", outcome.Suppressed),
		attribute.String("status", string(outcome.Status)),
		attribute.Int("attempts", outcome.Attempts),
	)

	return outcome, nil
}

// OnAbort records that a cancelled entry was not dispatched.
func (d *Dispatcher) OnAbort(_ context.Context, event *model.ChangeEvent) {
	d.metrics.event("abort")

	attrs := []any{slog.String("scheduled_id", event.ScheduledID)}
	if event.OldImage != nil {
		attrs = append(attrs,
			slog.String("reminder_id", event.OldImage.ReminderID),
			slog.String("reason", string(event.OldImage.CancelReason)),
		)
	}

	slog.Info("scheduled entry aborted, not dispatching", attrs...)
}

func (d *Dispatcher) fire(ctx context.Context, scheduledID, reminderID string) (*Outcome, error) {
	if d.seen.Contains(scheduledID) {
		return d.suppressed(scheduledID), nil
	}

	claimedAt := d.now()

	claim, err := d.records.Claim(ctx, scheduledID, reminderID, claimedAt, d.cfg.Lease)
	if err != nil {
		return nil, err
	}

	switch claim {
	case model.ClaimCompleted:
		d.seen.Add(scheduledID, struct{}{})
		return d.suppressed(scheduledID), nil
	case model.ClaimInFlight:
		return nil, fmt.Errorf("%w: %s", ErrInFlight, scheduledID)
	case model.ClaimAcquired:
	}

	reminder, err := d.reminders.GetByID(ctx, reminderID)
	if err != nil {
		if errors.Is(err, model.ErrReminderNotFound) {
			slog.Warn("reminder deleted before dispatch, skipping",
				slog.String("scheduled_id", scheduledID),
				slog.String("reminder_id", reminderID),
			)

			return d.complete(ctx, &Outcome{ScheduledID: scheduledID, Status: model.DeliveryStatusSkipped}, claimedAt, "")
		}

		d.release(ctx, scheduledID, claimedAt)

		return nil, fmt.Errorf("failed to resolve reminder %s: %w", reminderID, err)
	}

	outcome := &Outcome{ScheduledID: scheduledID}

	res, sendErr := d.send(ctx, reminder, outcome)
	if sendErr != nil && ctx.Err() != nil {
		d.release(ctx, scheduledID, claimedAt)
		return nil, ctx.Err()
	}

	if sendErr != nil {
		outcome.Status = model.DeliveryStatusFailed

		slog.Error("delivery failed",
			slog.String("scheduled_id", scheduledID),
			slog.String("reminder_id", reminderID),
			slog.Int("attempts", outcome.Attempts),
			slog.Bool("permanent", delivery.IsPermanent(sendErr)),
			slog.String("error", sendErr.Error()),
		)

		return d.complete(ctx, outcome, claimedAt, sendErr.Error())
	}

	outcome.Status = model.DeliveryStatusDelivered
	outcome.MessageID = res.MessageID

	slog.Info("reminder delivered",
		slog.String("scheduled_id", scheduledID),
		slog.String("reminder_id", reminderID),
		slog.String("message_id", res.MessageID),
		slog.Int("attempts", outcome.Attempts),
	)

	return d.complete(ctx, outcome, claimedAt, "")
}

// send calls the delivery channel with bounded exponential backoff, recording
// attempts and total wait on outcome.
func (d *Dispatcher) send(ctx context.Context, reminder *model.Reminder, outcome *Outcome) (*delivery.Result, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.InitialBackoff
	b.MaxInterval = d.cfg.MaxBackoff
	b.Multiplier = d.cfg.Multiplier
	b.RandomizationFactor = d.cfg.Jitter

	return backoff.Retry(ctx, func() (*delivery.Result, error) {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}

		outcome.Attempts++

		res, err := d.channel.Send(ctx, reminder.Owner, reminder.Message)
		switch {
		case err == nil:
			d.metrics.attempt("success")
			return res, nil
		case delivery.IsPermanent(err):
			d.metrics.attempt("permanent")
			return nil, backoff.Permanent(err)
		default:
			d.metrics.attempt("transient")
			return nil, err
		}
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(d.cfg.MaxAttempts),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			outcome.Backoff += wait
			slog.Warn("delivery attempt failed, retrying",
				slog.String("scheduled_id", outcome.ScheduledID),
				slog.Int("attempt", outcome.Attempts),
				slog.Duration("retry_in", wait),
				slog.String("error", err.Error()),
			)
		}),
	)
}

// complete persists the terminal status. It keeps going after ctx is cancelled
// so a finished delivery is not redone.
func (d *Dispatcher) complete(ctx context.Context, outcome *Outcome, claimedAt time.Time, lastErr string) (*Outcome, error) {
	ctx = context.WithoutCancel(ctx)
	now := d.now()

	params := &model.CompleteDispatchParams{
		ScheduledID: outcome.ScheduledID,
		ClaimedAt:   claimedAt,
		Status:      outcome.Status,
		Attempts:    outcome.Attempts,
		LastError:   lastErr,
		UpdatedAt:   now,
	}
	if outcome.Status == model.DeliveryStatusDelivered {
		params.DispatchedAt = &now
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := d.records.Complete(ctx, params)
		if errors.Is(err, model.ErrLeaseLost) {
			return struct{}{}, backoff.Permanent(err)
		}

		return struct{}{}, err
	}, backoff.WithMaxTries(completeMaxTries))

	switch {
	case errors.Is(err, model.ErrLeaseLost):
		slog.Warn("dispatch lease was taken over before completion",
			slog.String("scheduled_id", outcome.ScheduledID),
			slog.String("status", string(outcome.Status)),
		)
	case err != nil:
		return nil, fmt.Errorf("failed to record dispatch %s as %s: %w", outcome.ScheduledID, outcome.Status, err)
	}

	d.seen.Add(outcome.ScheduledID, struct{}{})
	d.metrics.outcome(string(outcome.Status))
	d.metrics.observeDelivery(now.Sub(claimedAt))

	return outcome, nil
}

func (d *Dispatcher) release(ctx context.Context, scheduledID string, claimedAt time.Time) {
	if err := d.records.Release(context.WithoutCancel(ctx), scheduledID, claimedAt); err != nil {
		slog.Error("failed to release dispatch lease",
			slog.String("scheduled_id", scheduledID),
			slog.String("error", err.Error()),
		)
	}
}

func (d *Dispatcher) suppressed(scheduledID string) *Outcome {
	d.metrics.outcome(suppressedOutcome)

	slog.Debug("duplicate fire suppressed", slog.String("scheduled_id", scheduledID))

	return &Outcome{ScheduledID: scheduledID, Suppressed: true}
}
