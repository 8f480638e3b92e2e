package db

import "github.com/jackc/pgx/v5/pgtype"

// Reminder is a row of the reminders table.
type Reminder struct {
	ReminderID  string
	Owner       string
	Message     string
	TargetTime  pgtype.Timestamptz
	ScheduledID pgtype.Text
	CreatedAt   pgtype.Timestamptz
	UpdatedAt   pgtype.Timestamptz
}

// DispatchRecord is a row of the dispatch_records table.
type DispatchRecord struct {
	ScheduledID    string
	ReminderID     string
	DeliveryStatus string
	Attempts       int32
	LastError      pgtype.Text
	ClaimedAt      pgtype.Timestamptz
	DispatchedAt   pgtype.Timestamptz
	UpdatedAt      pgtype.Timestamptz
}
