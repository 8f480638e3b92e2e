// Package repository provides data access interfaces and implementations.
package repository

import (
	"context"
	"time"

	"github.com/jnst/easy-reminder/internal/model"
)

// ReminderRepository defines methods for reminder data access.
type ReminderRepository interface {
	Create(ctx context.Context, reminder *model.Reminder) (*model.Reminder, error)
	GetByID(ctx context.Context, id string) (*model.Reminder, error)
	GetByIDForUpdate(ctx context.Context, id string) (*model.Reminder, error)
	ListByOwner(ctx context.Context, owner string, limit int) ([]*model.Reminder, error)
	Update(ctx context.Context, reminder *model.Reminder) error
	Delete(ctx context.Context, id string) error
}

// DispatchRepository defines methods for the dispatch idempotency ledger.
type DispatchRepository interface {
	Claim(ctx context.Context, scheduledID, reminderID string, now time.Time, lease time.Duration) (model.ClaimOutcome, error)
	Complete(ctx context.Context, params *model.CompleteDispatchParams) error
	Release(ctx context.Context, scheduledID string, claimedAt time.Time) error
	Get(ctx context.Context, scheduledID string) (*model.DispatchRecord, error)
	ListByStatus(ctx context.Context, status model.DeliveryStatus, limit int) ([]*model.DispatchRecord, error)
	MarkRedriven(ctx context.Context, scheduledID string, now time.Time) error
}

// TransactionManager defines methods for database transaction management.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
