// Package filter decides which change events are expiry-driven removals.
//
// The schedule store emits the same REMOVE event for a reaped entry and for an
// explicitly cancelled one; only the cancellation annotation written into the
// removed entry's image tells them apart. This package is the single place
// where that policy is applied.
package filter

import "github.com/jnst/easy-reminder/internal/model"

// Decision is the classification of a change event.
type Decision int

const (
	// Ignore marks a mutation that is not a delivery trigger.
	Ignore Decision = iota
	// Fire marks a natural expiry.
	Fire
	// Abort marks a removal caused by cancellation or supersession.
	Abort
)

func (d Decision) String() string {
	switch d {
	case Fire:
		return "FIRE"
	case Abort:
		return "ABORT"
	default:
		return "IGNORE"
	}
}

// Classify returns the decision for event.
func Classify(event *model.ChangeEvent) Decision {
	if event == nil || event.Kind != model.ChangeKindRemove {
		return Ignore
	}

	if event.OldImage != nil && event.OldImage.Cancelled() {
		return Abort
	}

	return Fire
}
