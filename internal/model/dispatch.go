package model

import "time"

// DeliveryStatus represents the state of a dispatch record.
type DeliveryStatus string

const (
	// DeliveryStatusPending marks a dispatch currently leased by a worker.
	DeliveryStatusPending DeliveryStatus = "PENDING"
	// DeliveryStatusDelivered marks a successful delivery.
	DeliveryStatusDelivered DeliveryStatus = "DELIVERED"
	// DeliveryStatusFailed marks a terminal delivery failure.
	DeliveryStatusFailed DeliveryStatus = "DELIVERY_FAILED"
	// DeliveryStatusSkipped marks a fire whose reminder no longer exists.
	DeliveryStatusSkipped DeliveryStatus = "SKIPPED"
	// DeliveryStatusRedriven marks a failed dispatch that was scheduled again under a new entry.
	DeliveryStatusRedriven DeliveryStatus = "REDRIVEN"
)

// Terminal reports whether no further dispatch should happen for the status.
func (s DeliveryStatus) Terminal() bool {
	switch s {
	case DeliveryStatusDelivered, DeliveryStatusFailed, DeliveryStatusSkipped, DeliveryStatusRedriven:
		return true
	default:
		return false
	}
}

// DispatchRecord is the idempotency ledger row for one scheduled entry.
type DispatchRecord struct {
	ScheduledID  string         `json:"scheduled_id"`
	ReminderID   string         `json:"reminder_id"`
	Status       DeliveryStatus `json:"delivery_status"`
	Attempts     int            `json:"attempts"`
	LastError    string         `json:"last_error,omitempty"`
	ClaimedAt    time.Time      `json:"claimed_at"`
	DispatchedAt *time.Time     `json:"dispatched_at,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// CompleteDispatchParams represents the terminal outcome of a dispatch.
// ClaimedAt identifies the lease being completed.
type CompleteDispatchParams struct {
	ScheduledID  string
	ClaimedAt    time.Time
	Status       DeliveryStatus
	Attempts     int
	LastError    string
	DispatchedAt *time.Time
	UpdatedAt    time.Time
}

// ClaimOutcome is the result of a conditional dispatch claim.
type ClaimOutcome int

const (
	// ClaimAcquired means the caller now holds the dispatch lease.
	ClaimAcquired ClaimOutcome = iota
	// ClaimCompleted means a terminal record already exists.
	ClaimCompleted
	// ClaimInFlight means another worker holds a fresh lease.
	ClaimInFlight
)
