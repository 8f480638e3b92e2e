package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const reminderColumns = `reminder_id, owner, message, target_time, scheduled_id, created_at, updated_at`

const createReminder = `INSERT INTO reminders (reminder_id, owner, message, target_time, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)
RETURNING ` + reminderColumns

// CreateReminderParams holds the arguments of CreateReminder.
type CreateReminderParams struct {
	ReminderID string
	Owner      string
	Message    string
	TargetTime pgtype.Timestamptz
	CreatedAt  pgtype.Timestamptz
}

// CreateReminder inserts a reminder row.
func (q *Queries) CreateReminder(ctx context.Context, arg *CreateReminderParams) (Reminder, error) {
	row := q.db.QueryRow(ctx, createReminder,
		arg.ReminderID, arg.Owner, arg.Message, arg.TargetTime, arg.CreatedAt)

	return scanReminder(row)
}

const getReminder = `SELECT ` + reminderColumns + ` FROM reminders WHERE reminder_id = $1`

// GetReminder selects a reminder by id.
func (q *Queries) GetReminder(ctx context.Context, reminderID string) (Reminder, error) {
	return scanReminder(q.db.QueryRow(ctx, getReminder, reminderID))
}

const getReminderForUpdate = getReminder + ` FOR UPDATE`

// GetReminderForUpdate selects a reminder by id and locks the row.
func (q *Queries) GetReminderForUpdate(ctx context.Context, reminderID string) (Reminder, error) {
	return scanReminder(q.db.QueryRow(ctx, getReminderForUpdate, reminderID))
}

const listRemindersByOwner = `SELECT ` + reminderColumns + ` FROM reminders
WHERE owner = $1
ORDER BY target_time ASC
LIMIT $2`

// ListRemindersByOwner selects the reminders of an owner ordered by target time.
func (q *Queries) ListRemindersByOwner(ctx context.Context, owner string, limit int32) ([]Reminder, error) {
	rows, err := q.db.Query(ctx, listRemindersByOwner, owner, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Reminder
	for rows.Next() {
		item, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	return items, rows.Err()
}

const updateReminder = `UPDATE reminders
SET message = $2, target_time = $3, scheduled_id = $4, updated_at = $5
WHERE reminder_id = $1`

// UpdateReminderParams holds the arguments of UpdateReminder.
type UpdateReminderParams struct {
	ReminderID  string
	Message     string
	TargetTime  pgtype.Timestamptz
	ScheduledID pgtype.Text
	UpdatedAt   pgtype.Timestamptz
}

// UpdateReminder overwrites the mutable columns of a reminder and returns the affected row count.
func (q *Queries) UpdateReminder(ctx context.Context, arg *UpdateReminderParams) (int64, error) {
	tag, err := q.db.Exec(ctx, updateReminder,
		arg.ReminderID, arg.Message, arg.TargetTime, arg.ScheduledID, arg.UpdatedAt)
	if err != nil {
		return 0, err
	}

	return tag.RowsAffected(), nil
}

const deleteReminder = `DELETE FROM reminders WHERE reminder_id = $1`

// DeleteReminder deletes a reminder and returns the affected row count.
func (q *Queries) DeleteReminder(ctx context.Context, reminderID string) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteReminder, reminderID)
	if err != nil {
		return 0, err
	}

	return tag.RowsAffected(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(row rowScanner) (Reminder, error) {
	var r Reminder
	err := row.Scan(
		&r.ReminderID,
		&r.Owner,
		&r.Message,
		&r.TargetTime,
		&r.ScheduledID,
		&r.CreatedAt,
		&r.UpdatedAt,
	)

	return r, err
}
