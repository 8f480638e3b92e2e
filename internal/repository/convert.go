package repository

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/jnst/easy-reminder/internal/db"
	"github.com/jnst/easy-reminder/internal/model"
)

func timestamptz(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: !t.IsZero()}
}

// leaseStamp rounds t to the microsecond precision Postgres stores, so the
// claim time can later be matched for equality.
func leaseStamp(t time.Time) pgtype.Timestamptz {
	return timestamptz(t.UTC().Truncate(time.Microsecond))
}

func optionalTimestamptz(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}

	return timestamptz(*t)
}

func text(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func toReminder(r *db.Reminder) *model.Reminder {
	return &model.Reminder{
		ID:          r.ReminderID,
		Owner:       r.Owner,
		Message:     r.Message,
		TargetTime:  r.TargetTime.Time,
		ScheduledID: r.ScheduledID.String,
		CreatedAt:   r.CreatedAt.Time,
		UpdatedAt:   r.UpdatedAt.Time,
	}
}

func toDispatchRecord(r *db.DispatchRecord) *model.DispatchRecord {
	rec := &model.DispatchRecord{
		ScheduledID: r.ScheduledID,
		ReminderID:  r.ReminderID,
		Status:      model.DeliveryStatus(r.DeliveryStatus),
		Attempts:    int(r.Attempts),
		LastError:   r.LastError.String,
		ClaimedAt:   r.ClaimedAt.Time,
		UpdatedAt:   r.UpdatedAt.Time,
	}

	if r.DispatchedAt.Valid {
		dispatchedAt := r.DispatchedAt.Time
		rec.DispatchedAt = &dispatchedAt
	}

	return rec
}
