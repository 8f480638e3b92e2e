package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnst/easy-reminder/internal/delivery"
	"github.com/jnst/easy-reminder/internal/model"
)

var reminder = &model.Reminder{ID: "r-1", Owner: "me@example.com", Message: "call mom"}

func fireEvent() *model.ChangeEvent {
	return &model.ChangeEvent{
		Kind:        model.ChangeKindRemove,
		ScheduledID: "s-1",
		Sequence:    "1-0",
		OldImage: &model.EntryImage{ScheduledEntry: model.ScheduledEntry{
			ID: "s-1", ReminderID: "r-1",
		}},
	}
}

func testConfig() Config {
	return Config{
		MaxAttempts:    5,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
		Multiplier:     2,
		Lease:          time.Minute,
	}
}

type harness struct {
	records   *fakeRecords
	reminders *fakeReminders
	channel   *fakeChannel
	metrics   *Metrics
	now       time.Time
}

func newHarness() *harness {
	return &harness{
		records:   newFakeRecords(),
		reminders: newFakeReminders(reminder),
		channel:   &fakeChannel{},
		metrics:   MustNewMetrics(prometheus.NewRegistry()),
		now:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func (h *harness) dispatcher(t *testing.T, cfg Config) *Dispatcher {
	t.Helper()

	d, err := New(h.reminders, h.records, h.channel, cfg,
		WithMetrics(h.metrics),
		WithClock(func() time.Time { return h.now }),
	)
	require.NoError(t, err)

	return d
}

func TestOnFire_DeliversAndRecords(t *testing.T) {
	h := newHarness()
	d := h.dispatcher(t, testConfig())

	outcome, err := d.OnFire(context.Background(), fireEvent())
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusDelivered, outcome.Status)
	assert.Equal(t, 1, outcome.Attempts)
	assert.Equal(t, "msg-1", outcome.MessageID)

	calls, sends := h.channel.snapshot()
	assert.Equal(t, 1, calls)
	assert.Equal(t, []sent{{recipient: "me@example.com", message: "call mom"}}, sends)

	rec, err := h.records.Get(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusDelivered, rec.Status)
	require.NotNil(t, rec.DispatchedAt)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.outcomes.WithLabelValues("DELIVERED")))
}

func TestOnFire_ReplayIsSuppressed(t *testing.T) {
	h := newHarness()
	d := h.dispatcher(t, testConfig())
	ctx := context.Background()

	_, err := d.OnFire(ctx, fireEvent())
	require.NoError(t, err)

	for range 3 {
		outcome, err := d.OnFire(ctx, fireEvent())
		require.NoError(t, err)
		assert.True(t, outcome.Suppressed)
	}

	// a restarted worker has an empty local cache and relies on the ledger
	restarted := h.dispatcher(t, testConfig())
	outcome, err := restarted.OnFire(ctx, fireEvent())
	require.NoError(t, err)
	assert.True(t, outcome.Suppressed)

	calls, _ := h.channel.snapshot()
	assert.Equal(t, 1, calls)
	assert.Len(t, h.records.records, 1)
	assert.Equal(t, 2, h.records.claims)
}

func TestOnFire_RetriesTransientFailures(t *testing.T) {
	h := newHarness()
	transient := errors.New("connection reset")
	h.channel.errs = []error{transient, delivery.Transient(transient), transient}
	cfg := testConfig()
	cfg.MaxBackoff = time.Second
	d := h.dispatcher(t, cfg)

	outcome, err := d.OnFire(context.Background(), fireEvent())
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusDelivered, outcome.Status)
	assert.Equal(t, 4, outcome.Attempts)
	// 1ms + 2ms + 4ms with no jitter
	assert.InDelta(t, float64(7*time.Millisecond), float64(outcome.Backoff), float64(time.Microsecond))

	assert.Len(t, h.records.records, 1)
	assert.Equal(t, float64(3), testutil.ToFloat64(h.metrics.attempts.WithLabelValues("transient")))
}

func TestOnFire_ExhaustedRetriesAreTerminal(t *testing.T) {
	h := newHarness()
	boom := errors.New("provider unavailable")
	h.channel.errs = []error{boom, boom, boom, boom}
	cfg := testConfig()
	cfg.MaxAttempts = 3
	d := h.dispatcher(t, cfg)

	outcome, err := d.OnFire(context.Background(), fireEvent())
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusFailed, outcome.Status)
	assert.Equal(t, 3, outcome.Attempts)

	rec, err := h.records.Get(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusFailed, rec.Status)
	assert.Contains(t, rec.LastError, "provider unavailable")

	// no further retry on redelivery
	again, err := d.OnFire(context.Background(), fireEvent())
	require.NoError(t, err)
	assert.True(t, again.Suppressed)

	calls, _ := h.channel.snapshot()
	assert.Equal(t, 3, calls)
}

func TestOnFire_PermanentFailureStopsImmediately(t *testing.T) {
	h := newHarness()
	h.channel.errs = []error{delivery.Permanent(errors.New("address rejected"))}
	d := h.dispatcher(t, testConfig())

	outcome, err := d.OnFire(context.Background(), fireEvent())
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusFailed, outcome.Status)
	assert.Equal(t, 1, outcome.Attempts)
	assert.Zero(t, outcome.Backoff)
}

func TestOnFire_DeletedReminderIsSkipped(t *testing.T) {
	h := newHarness()
	h.reminders = newFakeReminders()
	d := h.dispatcher(t, testConfig())

	outcome, err := d.OnFire(context.Background(), fireEvent())
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusSkipped, outcome.Status)

	calls, _ := h.channel.snapshot()
	assert.Zero(t, calls)

	rec, err := h.records.Get(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusSkipped, rec.Status)
}

func TestOnFire_InFlightLeaseIsRetriedThenTakenOver(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	outcome, err := h.records.Claim(ctx, "s-1", "r-1", h.now, time.Minute)
	require.NoError(t, err)
	require.Equal(t, model.ClaimAcquired, outcome)

	d := h.dispatcher(t, testConfig())

	_, err = d.OnFire(ctx, fireEvent())
	require.ErrorIs(t, err, ErrInFlight)

	h.now = h.now.Add(2 * time.Minute)
	fired, err := d.OnFire(ctx, fireEvent())
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusDelivered, fired.Status)
}

func TestOnFire_StaleWorkerCannotOverwriteTakenOverLease(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	takenOverAt := h.now.Add(2 * time.Minute)

	h.channel.onSend = func() {
		h.now = takenOverAt
		outcome, err := h.records.Claim(ctx, "s-1", "r-1", takenOverAt, time.Minute)
		require.NoError(t, err)
		require.Equal(t, model.ClaimAcquired, outcome)
	}

	d := h.dispatcher(t, testConfig())
	_, err := d.OnFire(ctx, fireEvent())
	require.NoError(t, err)

	rec, err := h.records.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusPending, rec.Status)
	assert.True(t, rec.ClaimedAt.Equal(takenOverAt))
}

func TestRelease_LeavesTakenOverLeaseAlone(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	firstClaim := h.now

	_, err := h.records.Claim(ctx, "s-1", "r-1", firstClaim, time.Minute)
	require.NoError(t, err)
	_, err = h.records.Claim(ctx, "s-1", "r-1", firstClaim.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)

	d := h.dispatcher(t, testConfig())
	d.release(ctx, "s-1", firstClaim)

	rec, err := h.records.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusPending, rec.Status)

	d.release(ctx, "s-1", rec.ClaimedAt)
	_, err = h.records.Get(ctx, "s-1")
	require.ErrorIs(t, err, model.ErrDispatchRecordNotFound)
}

func TestOnFire_ConcurrentReplaysDeliverOnce(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	workers := make([]*Dispatcher, 8)
	for i := range workers {
		workers[i] = h.dispatcher(t, testConfig())
	}

	var wg sync.WaitGroup
	for _, d := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for {
				_, err := d.OnFire(ctx, fireEvent())
				if !errors.Is(err, ErrInFlight) {
					assert.NoError(t, err)
					return
				}
				time.Sleep(time.Millisecond)
			}
		}()
	}
	wg.Wait()

	_, sends := h.channel.snapshot()
	assert.Len(t, sends, 1)
	assert.Len(t, h.records.records, 1)
}

func TestOnFire_CancelledMidRetryReleasesLease(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.channel.errs = []error{errors.New("timeout")}
	h.channel.onSend = cancel
	cfg := testConfig()
	cfg.InitialBackoff = time.Hour
	cfg.MaxBackoff = time.Hour
	d := h.dispatcher(t, cfg)

	_, err := d.OnFire(ctx, fireEvent())
	require.ErrorIs(t, err, context.Canceled)

	_, err = h.records.Get(context.Background(), "s-1")
	require.ErrorIs(t, err, model.ErrDispatchRecordNotFound)
}

func TestOnFire_EventWithoutImageIsDropped(t *testing.T) {
	h := newHarness()
	d := h.dispatcher(t, testConfig())

	outcome, err := d.OnFire(context.Background(), &model.ChangeEvent{Kind: model.ChangeKindRemove, ScheduledID: "s-9"})
	require.NoError(t, err)
	assert.True(t, outcome.Suppressed)
	assert.Zero(t, h.records.claims)
}

func TestOnAbort_NeverDelivers(t *testing.T) {
	h := newHarness()
	d := h.dispatcher(t, testConfig())

	event := fireEvent()
	at := h.now
	event.OldImage.CancelledAt = &at
	event.OldImage.CancelReason = model.CancelReasonCancelled

	d.OnAbort(context.Background(), event)

	calls, _ := h.channel.snapshot()
	assert.Zero(t, calls)
	assert.Zero(t, h.records.claims)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.events.WithLabelValues("abort")))
}
