package model

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Field names of a scheduled entry as stored in its hash and in change stream images.
const (
	FieldScheduledID  = "scheduled_id"
	FieldReminderID   = "reminder_id"
	FieldScheduleAt   = "schedule_at"
	FieldPartition    = "partition"
	FieldCreatedAt    = "created_at"
	FieldCancelledAt  = "cancelled_at"
	FieldCancelReason = "cancel_reason"
)

// CancelReason annotates why a scheduled entry was removed before expiry.
type CancelReason string

const (
	// CancelReasonCancelled marks an explicit cancellation.
	CancelReasonCancelled CancelReason = "cancelled"
	// CancelReasonSuperseded marks an entry replaced by a newer schedule for the same reminder.
	CancelReasonSuperseded CancelReason = "superseded"
)

// ScheduledEntry is a pending delivery whose expiry triggers the notification.
type ScheduledEntry struct {
	ID         string    `json:"scheduled_id"`
	ReminderID string    `json:"reminder_id"`
	ScheduleAt time.Time `json:"schedule_at"`
	Partition  int       `json:"partition"`
	CreatedAt  time.Time `json:"created_at"`
}

// EntryImage is a snapshot of a scheduled entry carried by a change event.
type EntryImage struct {
	ScheduledEntry

	CancelledAt  *time.Time   `json:"cancelled_at,omitempty"`
	CancelReason CancelReason `json:"cancel_reason,omitempty"`
}

// Cancelled reports whether the image carries a cancellation annotation.
func (i *EntryImage) Cancelled() bool {
	return i.CancelledAt != nil || i.CancelReason != ""
}

// ParseEntryImage builds an image from stored field values.
// Time fields are unix milliseconds.
func ParseEntryImage(fields map[string]string) (*EntryImage, error) {
	img := &EntryImage{}

	img.ID = fields[FieldScheduledID]
	if img.ID == "" {
		return nil, errors.New("image is missing scheduled_id")
	}

	img.ReminderID = fields[FieldReminderID]

	var err error
	if img.ScheduleAt, err = parseMillis(fields, FieldScheduleAt); err != nil {
		return nil, err
	}

	if img.CreatedAt, err = parseMillis(fields, FieldCreatedAt); err != nil {
		return nil, err
	}

	if v, ok := fields[FieldPartition]; ok && v != "" {
		if img.Partition, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", FieldPartition, v, err)
		}
	}

	if v, ok := fields[FieldCancelledAt]; ok && v != "" {
		at, err := parseMillis(fields, FieldCancelledAt)
		if err != nil {
			return nil, err
		}
		img.CancelledAt = &at
	}

	img.CancelReason = CancelReason(fields[FieldCancelReason])

	return img, nil
}

// UnixMillis formats t the way scheduled entry fields store time.
func UnixMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseMillis(fields map[string]string, key string) (time.Time, error) {
	v, ok := fields[key]
	if !ok || v == "" {
		return time.Time{}, nil
	}

	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}

	return time.UnixMilli(ms).UTC(), nil
}
