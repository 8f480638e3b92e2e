package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/rueidis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnst/easy-reminder/internal/model"
	"github.com/jnst/easy-reminder/internal/schedule"
)

type fixture struct {
	client rueidis.Client
	queue  *schedule.Queue
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{mr.Addr()},
		DisableCache: true,
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	f := &fixture{client: client, now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	f.queue = schedule.NewQueue(client,
		schedule.WithPartitions(1),
		schedule.WithClock(func() time.Time { return f.now }),
	)

	return f
}

func (f *fixture) consumer(t *testing.T, name string) *Consumer {
	t.Helper()

	c := NewConsumer(f.client, Config{
		Stream:           schedule.StreamKey(0),
		Group:            "dispatcher",
		Consumer:         name,
		Block:            50 * time.Millisecond,
		RetryMaxInterval: 50 * time.Millisecond,
	})
	require.NoError(t, c.EnsureGroup(context.Background()))

	return c
}

func TestConsumer_EnsureGroupIsIdempotent(t *testing.T) {
	f := newFixture(t)
	c := f.consumer(t, "c-1")

	require.NoError(t, c.EnsureGroup(context.Background()))
}

func TestConsumer_NextDeliversInOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.consumer(t, "c-1")

	id, err := f.queue.Schedule(ctx, "r-1", f.now.Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, f.queue.Cancel(ctx, id))

	// first call drains (empty) pending entries
	msgs, err := c.Next(ctx)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	msgs, err = c.Next(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.ChangeKindInsert, msgs[0].Event.Kind)
	assert.Equal(t, model.ChangeKindRemove, msgs[1].Event.Kind)
	assert.Equal(t, id, msgs[1].Event.ScheduledID)
	assert.True(t, msgs[1].Event.OldImage.Cancelled())
}

func TestConsumer_ResumesFromCheckpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.queue.Schedule(ctx, "r-1", f.now.Add(time.Hour))
	require.NoError(t, err)
	_, err = f.queue.Schedule(ctx, "r-2", f.now.Add(time.Hour))
	require.NoError(t, err)

	first := f.consumer(t, "c-1")
	_, err = first.Next(ctx)
	require.NoError(t, err)
	msgs, err := first.Next(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	// only the first is checkpointed before the crash
	require.NoError(t, first.Ack(ctx, msgs[0]))

	restarted := f.consumer(t, "c-1")
	redelivered, err := restarted.Next(ctx)
	require.NoError(t, err)
	require.Len(t, redelivered, 1)
	assert.Equal(t, msgs[1].ID, redelivered[0].ID)
}

func TestConsumer_RunRetriesHandlerBeforeMovingOn(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := f.queue.Schedule(ctx, "r-1", f.now.Add(time.Hour))
	require.NoError(t, err)
	_, err = f.queue.Schedule(ctx, "r-2", f.now.Add(time.Hour))
	require.NoError(t, err)

	var (
		mu       sync.Mutex
		seen     []string
		failures int
	)
	handler := HandlerFunc(func(_ context.Context, event *model.ChangeEvent) error {
		mu.Lock()
		defer mu.Unlock()

		if event.NewImage.ReminderID == "r-1" && failures < 2 {
			failures++
			return errors.New("ledger unavailable")
		}

		seen = append(seen, event.NewImage.ReminderID)
		if len(seen) == 2 {
			cancel()
		}

		return nil
	})

	c := f.consumer(t, "c-1")
	require.NoError(t, c.Run(ctx, handler))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, failures)
	assert.Equal(t, []string{"r-1", "r-2"}, seen)
}

func TestConsumer_RunAcksMalformedEntries(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, f.client.Do(ctx, f.client.B().Xadd().Key(schedule.StreamKey(0)).Id("*").
		FieldValue().FieldValue("kind", "GARBAGE").Build()).Error())
	_, err := f.queue.Schedule(ctx, "r-1", f.now.Add(time.Hour))
	require.NoError(t, err)

	var handled []*model.ChangeEvent
	c := f.consumer(t, "c-1")
	require.NoError(t, c.Run(ctx, HandlerFunc(func(_ context.Context, event *model.ChangeEvent) error {
		handled = append(handled, event)
		cancel()
		return nil
	})))

	require.Len(t, handled, 1)
	assert.Equal(t, model.ChangeKindInsert, handled[0].Kind)

	restarted := f.consumer(t, "c-1")
	pending, err := restarted.Next(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}
