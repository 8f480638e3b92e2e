package model

import "errors"

var (
	// ErrInvalidTime is returned when a target time is not strictly in the future.
	ErrInvalidTime = errors.New("target time must be in the future")
	// ErrInvalidOwner is returned when reminder owner is empty.
	ErrInvalidOwner = errors.New("owner is required")
	// ErrInvalidMessage is returned when reminder message is empty.
	ErrInvalidMessage = errors.New("message is required")
	// ErrReminderNotFound is returned when reminder is not found in database.
	ErrReminderNotFound = errors.New("reminder not found")
	// ErrScheduleNotFound is returned when a scheduled entry is no longer live.
	ErrScheduleNotFound = errors.New("scheduled entry not found")
	// ErrDispatchRecordNotFound is returned when no dispatch record exists for a scheduled entry.
	ErrDispatchRecordNotFound = errors.New("dispatch record not found")
	// ErrLeaseLost is returned when a dispatch lease was taken over before completion.
	ErrLeaseLost = errors.New("dispatch lease lost")
)
