// Package service provides business logic layer implementations.
package service

import (
	"context"
	"time"

	"github.com/jnst/easy-reminder/internal/model"
)

// ReminderService defines business logic methods for reminder management.
type ReminderService interface {
	CreateReminder(ctx context.Context, params *model.CreateReminderParams) (*model.Reminder, error)
	GetReminder(ctx context.Context, id string) (*model.Reminder, error)
	ListReminders(ctx context.Context, owner string) ([]*model.Reminder, error)
	UpdateReminder(ctx context.Context, id string, params *model.UpdateReminderParams) (*model.Reminder, error)
	DeleteReminder(ctx context.Context, id string) error
}

// FailureService defines operator methods for failed dispatches.
type FailureService interface {
	ListFailures(ctx context.Context, limit int) ([]*model.DispatchRecord, error)
	Redrive(ctx context.Context, scheduledID string) (*model.Reminder, error)
}

// Scheduler manages the expiring entries backing reminders.
type Scheduler interface {
	Schedule(ctx context.Context, reminderID string, targetTime time.Time) (string, error)
	Cancel(ctx context.Context, scheduledID string) error
	Lookup(ctx context.Context, reminderID string) (string, error)
}
