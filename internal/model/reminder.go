// Package model defines domain models and data structures.
package model

import (
	"fmt"
	"time"
)

// Reminder represents a user-authored reminder.
type Reminder struct {
	ID          string    `json:"reminder_id"`
	Owner       string    `json:"owner"`
	Message     string    `json:"message"`
	TargetTime  time.Time `json:"target_time"`
	ScheduledID string    `json:"scheduled_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreateReminderParams represents parameters for creating a new reminder.
type CreateReminderParams struct {
	Owner      string    `json:"owner"`
	Message    string    `json:"message"`
	TargetTime time.Time `json:"target_time"`
}

// Validate validates the create reminder parameters against now.
func (p *CreateReminderParams) Validate(now time.Time) error {
	if p.Owner == "" {
		return ErrInvalidOwner
	}

	if p.Message == "" {
		return ErrInvalidMessage
	}

	return ValidateTargetTime(p.TargetTime, now)
}

// UpdateReminderParams represents a partial update of a reminder.
// Nil fields are left unchanged.
type UpdateReminderParams struct {
	Message    *string    `json:"message,omitempty"`
	TargetTime *time.Time `json:"target_time,omitempty"`
}

// Validate validates the update reminder parameters against now.
func (p *UpdateReminderParams) Validate(now time.Time) error {
	if p.Message != nil && *p.Message == "" {
		return ErrInvalidMessage
	}

	if p.TargetTime != nil {
		return ValidateTargetTime(*p.TargetTime, now)
	}

	return nil
}

// ValidateTargetTime fails with ErrInvalidTime unless target is strictly after now.
func ValidateTargetTime(target, now time.Time) error {
	if !target.After(now) {
		return fmt.Errorf("%w: %s is not after %s",
			ErrInvalidTime, target.UTC().Format(time.RFC3339), now.UTC().Format(time.RFC3339))
	}

	return nil
}
