package worker

import (
	"context"
	"fmt"

	"github.com/redis/rueidis"
	"golang.org/x/sync/errgroup"

	"github.com/jnst/easy-reminder/internal/schedule"
	"github.com/jnst/easy-reminder/internal/stream"
)

// Pool runs one sequential consumer per change stream partition.
type Pool struct {
	consumers []*stream.Consumer
	handler   stream.Handler
}

// NewPool creates a consumer for every partition. base supplies the read
// settings shared by all of them; its Stream and Partition are overwritten.
func NewPool(client rueidis.Client, partitions int, base stream.Config, handler stream.Handler) *Pool {
	if partitions <= 0 {
		partitions = 1
	}

	keys := schedule.StreamKeys(partitions)
	consumers := make([]*stream.Consumer, len(keys))
	for p, key := range keys {
		cfg := base
		cfg.Stream = key
		cfg.Partition = p
		consumers[p] = stream.NewConsumer(client, cfg)
	}

	return &Pool{consumers: consumers, handler: handler}
}

// Run consumes all partitions until ctx is done or a consumer fails to start.
func (p *Pool) Run(ctx context.Context) error {
	for _, c := range p.consumers {
		if err := c.EnsureGroup(ctx); err != nil {
			return fmt.Errorf("failed to prepare consumer: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, c := range p.consumers {
		g.Go(func() error {
			return c.Run(ctx, p.handler)
		})
	}

	return g.Wait()
}
