package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/jnst/easy-reminder/internal/db"
	"github.com/jnst/easy-reminder/internal/model"
)

// ReminderRepositoryImpl implements ReminderRepository using PostgreSQL.
type ReminderRepositoryImpl struct {
	conn db.DBTX
}

// NewReminderRepositoryImpl creates a new ReminderRepository implementation.
func NewReminderRepositoryImpl(conn db.DBTX) ReminderRepository {
	return &ReminderRepositoryImpl{conn: conn}
}

// Create inserts a new reminder. ID and CreatedAt must be set by the caller.
func (r *ReminderRepositoryImpl) Create(ctx context.Context, reminder *model.Reminder) (*model.Reminder, error) {
	row, err := queriesFor(ctx, r.conn).CreateReminder(ctx, &db.CreateReminderParams{
		ReminderID: reminder.ID,
		Owner:      reminder.Owner,
		Message:    reminder.Message,
		TargetTime: timestamptz(reminder.TargetTime),
		CreatedAt:  timestamptz(reminder.CreatedAt),
	})
	if err != nil {
		return nil, err
	}

	return toReminder(&row), nil
}

// GetByID retrieves a reminder by ID.
func (r *ReminderRepositoryImpl) GetByID(ctx context.Context, id string) (*model.Reminder, error) {
	row, err := queriesFor(ctx, r.conn).GetReminder(ctx, id)
	if err != nil {
		return nil, notFound(err)
	}

	return toReminder(&row), nil
}

// GetByIDForUpdate retrieves a reminder by ID and locks it for the surrounding transaction.
func (r *ReminderRepositoryImpl) GetByIDForUpdate(ctx context.Context, id string) (*model.Reminder, error) {
	row, err := queriesFor(ctx, r.conn).GetReminderForUpdate(ctx, id)
	if err != nil {
		return nil, notFound(err)
	}

	return toReminder(&row), nil
}

// ListByOwner retrieves up to limit reminders of owner, soonest first.
func (r *ReminderRepositoryImpl) ListByOwner(ctx context.Context, owner string, limit int) ([]*model.Reminder, error) {
	rows, err := queriesFor(ctx, r.conn).ListRemindersByOwner(ctx, owner, int32(limit))
	if err != nil {
		return nil, err
	}

	reminders := make([]*model.Reminder, len(rows))
	for i := range rows {
		reminders[i] = toReminder(&rows[i])
	}

	return reminders, nil
}

// Update overwrites message, target time and scheduled id of a reminder.
func (r *ReminderRepositoryImpl) Update(ctx context.Context, reminder *model.Reminder) error {
	n, err := queriesFor(ctx, r.conn).UpdateReminder(ctx, &db.UpdateReminderParams{
		ReminderID:  reminder.ID,
		Message:     reminder.Message,
		TargetTime:  timestamptz(reminder.TargetTime),
		ScheduledID: text(reminder.ScheduledID),
		UpdatedAt:   timestamptz(reminder.UpdatedAt),
	})
	if err != nil {
		return err
	}

	if n == 0 {
		return model.ErrReminderNotFound
	}

	return nil
}

// Delete deletes a reminder by ID.
func (r *ReminderRepositoryImpl) Delete(ctx context.Context, id string) error {
	n, err := queriesFor(ctx, r.conn).DeleteReminder(ctx, id)
	if err != nil {
		return err
	}

	if n == 0 {
		return model.ErrReminderNotFound
	}

	return nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ErrReminderNotFound
	}

	return err
}
