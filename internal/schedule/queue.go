// Package schedule implements the schedule queue: scheduled entries stored in Redis
// whose expiry is enforced by a reaper, with every mutation appended to a
// partitioned change stream.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/rueidis"

	"github.com/jnst/easy-reminder/internal/model"
)

const (
	defaultPartitions   = 4
	defaultStreamMaxLen = 100000
)

// Option configures a Queue.
type Option func(*Queue)

// WithPartitions sets the number of change stream partitions.
func WithPartitions(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.partitions = n
		}
	}
}

// WithStreamMaxLen sets the approximate length each change stream is trimmed to.
func WithStreamMaxLen(n int64) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxLen = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

// WithIDGenerator overrides how scheduled ids are generated.
func WithIDGenerator(newID func() string) Option {
	return func(q *Queue) {
		q.newID = newID
	}
}

// Queue stores scheduled entries in Redis.
type Queue struct {
	client     rueidis.Client
	partitions int
	maxLen     int64
	now        func() time.Time
	newID      func() string
}

// NewQueue creates a schedule queue on client.
func NewQueue(client rueidis.Client, opts ...Option) *Queue {
	q := &Queue{
		client:     client,
		partitions: defaultPartitions,
		maxLen:     defaultStreamMaxLen,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(q)
	}

	return q
}

// Partitions returns the number of change stream partitions.
func (q *Queue) Partitions() int {
	return q.partitions
}

// Schedule creates the entry that fires for reminderID at targetTime and
// supersedes any live entry of the same reminder.
func (q *Queue) Schedule(ctx context.Context, reminderID string, targetTime time.Time) (string, error) {
	now := q.now()
	if err := model.ValidateTargetTime(targetTime, now); err != nil {
		return "", err
	}

	scheduledID := q.newID()
	partition := PartitionOf(scheduledID, q.partitions)

	prev, err := scheduleScript.Exec(ctx, q.client,
		[]string{dueKey, entryKey(scheduledID), reminderKey(reminderID), StreamKey(partition)},
		[]string{
			scheduledID,
			reminderID,
			model.UnixMillis(targetTime),
			strconv.Itoa(partition),
			model.UnixMillis(now),
			strconv.FormatInt(q.maxLen, 10),
			entryKeyPrefix,
			reminderKeyPrefix,
			streamKeyPrefix,
		},
	).ToString()
	if err != nil {
		return "", fmt.Errorf("failed to schedule reminder %s: %w", reminderID, err)
	}

	if prev != "" {
		slog.Debug("superseded scheduled entry",
			slog.String("reminder_id", reminderID),
			slog.String("scheduled_id", prev),
		)
	}

	return scheduledID, nil
}

// Cancel removes a live entry ahead of expiry. The resulting REMOVE event
// carries a cancellation annotation. Returns model.ErrScheduleNotFound when the
// entry is already gone, e.g. because it expired first.
func (q *Queue) Cancel(ctx context.Context, scheduledID string) error {
	removed, err := cancelScript.Exec(ctx, q.client,
		[]string{dueKey},
		[]string{
			scheduledID,
			model.UnixMillis(q.now()),
			string(model.CancelReasonCancelled),
			strconv.FormatInt(q.maxLen, 10),
			entryKeyPrefix,
			reminderKeyPrefix,
			streamKeyPrefix,
		},
	).AsInt64()
	if err != nil {
		return fmt.Errorf("failed to cancel %s: %w", scheduledID, err)
	}

	if removed == 0 {
		return model.ErrScheduleNotFound
	}

	return nil
}

// Get returns a live entry.
func (q *Queue) Get(ctx context.Context, scheduledID string) (*model.ScheduledEntry, error) {
	fields, err := q.client.Do(ctx, q.client.B().Hgetall().Key(entryKey(scheduledID)).Build()).AsStrMap()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", scheduledID, err)
	}

	if len(fields) == 0 {
		return nil, model.ErrScheduleNotFound
	}

	img, err := model.ParseEntryImage(fields)
	if err != nil {
		return nil, err
	}

	return &img.ScheduledEntry, nil
}

// Lookup returns the live entry id of a reminder.
func (q *Queue) Lookup(ctx context.Context, reminderID string) (string, error) {
	id, err := q.client.Do(ctx, q.client.B().Get().Key(reminderKey(reminderID)).Build()).ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return "", model.ErrScheduleNotFound
		}

		return "", fmt.Errorf("failed to look up reminder %s: %w", reminderID, err)
	}

	return id, nil
}

// Reap removes up to limit entries whose schedule_at has passed and emits
// one un-annotated REMOVE per entry.
func (q *Queue) Reap(ctx context.Context, limit int) (int, error) {
	n, err := reapScript.Exec(ctx, q.client,
		[]string{dueKey},
		[]string{
			model.UnixMillis(q.now()),
			strconv.Itoa(limit),
			strconv.FormatInt(q.maxLen, 10),
			entryKeyPrefix,
			reminderKeyPrefix,
			streamKeyPrefix,
		},
	).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("failed to reap expired entries: %w", err)
	}

	return int(n), nil
}

// Pending returns the number of live entries.
func (q *Queue) Pending(ctx context.Context) (int64, error) {
	return q.client.Do(ctx, q.client.B().Zcard().Key(dueKey).Build()).AsInt64()
}
