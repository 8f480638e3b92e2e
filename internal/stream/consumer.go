// Package stream consumes the schedule queue's change stream from a Redis Streams
// consumer group with at-least-once semantics.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/rueidis"

	"github.com/jnst/easy-reminder/internal/model"
)

const (
	defaultBlock     = time.Second
	defaultBatchSize = 16
	ackMaxTries      = 5

	// pendingID reads this consumer's delivered-but-unacknowledged entries,
	// i.e. resumes from the last checkpoint.
	pendingID = "0"
	// newID reads entries never delivered to the group.
	newID = ">"
)

// Handler processes one change event. Returning an error leaves the event
// unacknowledged and it is retried before any later event of the partition.
type Handler interface {
	Handle(ctx context.Context, event *model.ChangeEvent) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event *model.ChangeEvent) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, event *model.ChangeEvent) error {
	return f(ctx, event)
}

// Message is a stream entry delivered to this consumer.
type Message struct {
	ID    string
	Event *model.ChangeEvent
	Err   error
}

// Config identifies the stream and consumer.
type Config struct {
	Stream    string
	Partition int
	Group     string
	Consumer  string
	Block     time.Duration
	BatchSize int64
	// RetryMaxInterval caps the backoff between handler retries.
	RetryMaxInterval time.Duration
}

// Consumer reads one partition of the change stream.
type Consumer struct {
	client rueidis.Client
	cfg    Config

	draining bool
}

// NewConsumer creates a consumer for one partition.
func NewConsumer(client rueidis.Client, cfg Config) *Consumer {
	if cfg.Block <= 0 {
		cfg.Block = defaultBlock
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}

	if cfg.RetryMaxInterval <= 0 {
		cfg.RetryMaxInterval = 30 * time.Second
	}

	return &Consumer{client: client, cfg: cfg, draining: true}
}

// EnsureGroup creates the consumer group (and stream) if missing.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	cmd := c.client.B().XgroupCreate().Key(c.cfg.Stream).Group(c.cfg.Group).Id("0").Mkstream().Build()
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}

		return fmt.Errorf("failed to create group %s on %s: %w", c.cfg.Group, c.cfg.Stream, err)
	}

	return nil
}

// Next returns the next batch. Entries still pending from a previous run of
// this consumer come first; once they are exhausted it blocks for new ones.
// An empty batch means the block timeout elapsed.
func (c *Consumer) Next(ctx context.Context) ([]Message, error) {
	id := newID
	if c.draining {
		id = pendingID
	}

	builder := c.client.B().Xreadgroup().Group(c.cfg.Group, c.cfg.Consumer).Count(c.cfg.BatchSize)

	var cmd rueidis.Completed
	if c.draining {
		cmd = builder.Streams().Key(c.cfg.Stream).Id(id).Build()
	} else {
		cmd = builder.Block(c.cfg.Block.Milliseconds()).Streams().Key(c.cfg.Stream).Id(id).Build()
	}

	streams, err := c.client.Do(ctx, cmd).AsXRead()
	if err != nil && !rueidis.IsRedisNil(err) {
		return nil, fmt.Errorf("failed to read %s: %w", c.cfg.Stream, err)
	}

	entries := streams[c.cfg.Stream]
	if c.draining && len(entries) == 0 {
		c.draining = false
		slog.Debug("pending entries drained", slog.String("stream", c.cfg.Stream))
	}

	messages := make([]Message, len(entries))
	for i, entry := range entries {
		event, err := Decode(c.cfg.Partition, entry.ID, entry.FieldValues)
		messages[i] = Message{ID: entry.ID, Event: event, Err: err}
	}

	return messages, nil
}

// Ack checkpoints a message.
func (c *Consumer) Ack(ctx context.Context, msg Message) error {
	cmd := c.client.B().Xack().Key(c.cfg.Stream).Group(c.cfg.Group).Id(msg.ID).Build()
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to ACK %s: %w", msg.ID, err)
	}

	slog.Debug("ACKed message", slog.String("stream", c.cfg.Stream), slog.String("message_id", msg.ID))

	return nil
}

// Run feeds every event of the partition to handler in order until ctx is done.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	slog.Info("starting change stream consumer",
		slog.String("stream", c.cfg.Stream),
		slog.String("group", c.cfg.Group),
		slog.String("consumer", c.cfg.Consumer),
	)

	readBackoff := c.newBackoff()

	for {
		if ctx.Err() != nil {
			slog.Info("consumer stopped", slog.String("stream", c.cfg.Stream))
			return nil
		}

		messages, err := c.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}

			wait := readBackoff.NextBackOff()
			slog.Error("error consuming messages",
				slog.String("stream", c.cfg.Stream),
				slog.String("error", err.Error()),
				slog.Duration("retry_in", wait),
			)
			sleep(ctx, wait)

			continue
		}
		readBackoff.Reset()

		for _, msg := range messages {
			if err := c.process(ctx, handler, msg); err != nil {
				// msg is still pending; re-read from the checkpoint so nothing after it runs first.
				c.draining = true
				break
			}
		}
	}
}

// process hands msg to handler, retrying until it succeeds, then acknowledges it.
func (c *Consumer) process(ctx context.Context, handler Handler, msg Message) error {
	if msg.Err != nil {
		slog.Warn("skipping malformed message",
			slog.String("stream", c.cfg.Stream),
			slog.String("message_id", msg.ID),
			slog.String("error", msg.Err.Error()),
		)

		return c.ackWithRetry(ctx, msg)
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, handler.Handle(ctx, msg.Event)
	},
		backoff.WithBackOff(c.newBackoff()),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			slog.Warn("failed to process message, retrying",
				slog.String("stream", c.cfg.Stream),
				slog.String("message_id", msg.ID),
				slog.String("error", err.Error()),
				slog.Duration("retry_in", wait),
			)
		}),
	)
	if err != nil {
		return err
	}

	return c.ackWithRetry(ctx, msg)
}

// ackWithRetry checkpoints msg even when ctx is already cancelled, so a handled
// event is not redelivered just because shutdown started.
func (c *Consumer) ackWithRetry(ctx context.Context, msg Message) error {
	ackCtx := context.WithoutCancel(ctx)

	_, err := backoff.Retry(ackCtx, func() (struct{}, error) {
		return struct{}{}, c.Ack(ackCtx, msg)
	}, backoff.WithBackOff(c.newBackoff()), backoff.WithMaxTries(ackMaxTries))
	if err != nil {
		slog.Error("failed to ACK message, it will be redelivered",
			slog.String("message_id", msg.ID),
			slog.String("error", err.Error()),
		)
	}

	return err
}

func (c *Consumer) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = c.cfg.RetryMaxInterval

	return b
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
