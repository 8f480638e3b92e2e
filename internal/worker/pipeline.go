// Package worker wires the change stream, the expiry filter and the dispatcher.
package worker

import (
	"context"
	"log/slog"

	"github.com/jnst/easy-reminder/internal/dispatch"
	"github.com/jnst/easy-reminder/internal/filter"
	"github.com/jnst/easy-reminder/internal/model"
)

// Dispatcher acts on classified removals.
type Dispatcher interface {
	OnFire(ctx context.Context, event *model.ChangeEvent) (*dispatch.Outcome, error)
	OnAbort(ctx context.Context, event *model.ChangeEvent)
}

// Pipeline classifies change events and forwards removals to the dispatcher.
type Pipeline struct {
	dispatcher Dispatcher
}

// NewPipeline creates a Pipeline.
func NewPipeline(dispatcher Dispatcher) *Pipeline {
	return &Pipeline{dispatcher: dispatcher}
}

// Handle implements stream.Handler.
func (p *Pipeline) Handle(ctx context.Context, event *model.ChangeEvent) error {
	decision := filter.Classify(event)

	slog.Debug("classified change event",
		slog.String("scheduled_id", event.ScheduledID),
		slog.String("kind", string(event.Kind)),
		slog.String("sequence", event.Sequence),
		slog.String("decision", decision.String()),
	)

	switch decision {
	case filter.Fire:
		_, err := p.dispatcher.OnFire(ctx, event)
		return err
	case filter.Abort:
		p.dispatcher.OnAbort(ctx, event)
		return nil
	default:
		return nil
	}
}
