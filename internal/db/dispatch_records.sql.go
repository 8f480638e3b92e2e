package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const dispatchColumns = `scheduled_id, reminder_id, delivery_status, attempts, last_error, claimed_at, dispatched_at, updated_at`

// A claim inserts a PENDING lease, or takes over a PENDING lease older than the
// cutoff. Terminal rows and fresh leases are left untouched and return no row.
const claimDispatch = `INSERT INTO dispatch_records (scheduled_id, reminder_id, delivery_status, attempts, claimed_at, updated_at)
VALUES ($1, $2, 'PENDING', 0, $3, $3)
ON CONFLICT (scheduled_id) DO UPDATE
SET claimed_at = EXCLUDED.claimed_at, updated_at = EXCLUDED.updated_at
WHERE dispatch_records.delivery_status = 'PENDING' AND dispatch_records.claimed_at < $4
RETURNING scheduled_id`

// ClaimDispatchParams holds the arguments of ClaimDispatch.
type ClaimDispatchParams struct {
	ScheduledID string
	ReminderID  string
	ClaimedAt   pgtype.Timestamptz
	StaleBefore pgtype.Timestamptz
}

// ClaimDispatch conditionally acquires the dispatch lease. It returns pgx.ErrNoRows
// when the lease was not acquired.
func (q *Queries) ClaimDispatch(ctx context.Context, arg *ClaimDispatchParams) (string, error) {
	var scheduledID string
	err := q.db.QueryRow(ctx, claimDispatch,
		arg.ScheduledID, arg.ReminderID, arg.ClaimedAt, arg.StaleBefore).Scan(&scheduledID)

	return scheduledID, err
}

const completeDispatch = `UPDATE dispatch_records
SET delivery_status = $2, attempts = $3, last_error = $4, dispatched_at = $5, updated_at = $6
WHERE scheduled_id = $1 AND delivery_status = 'PENDING' AND claimed_at = $7`

// CompleteDispatchParams holds the arguments of CompleteDispatch.
type CompleteDispatchParams struct {
	ScheduledID    string
	DeliveryStatus string
	Attempts       int32
	LastError      pgtype.Text
	DispatchedAt   pgtype.Timestamptz
	UpdatedAt      pgtype.Timestamptz
	ClaimedAt      pgtype.Timestamptz
}

// CompleteDispatch moves a PENDING record to a terminal status, provided the
// lease is still the one claimed at ClaimedAt.
func (q *Queries) CompleteDispatch(ctx context.Context, arg *CompleteDispatchParams) (int64, error) {
	tag, err := q.db.Exec(ctx, completeDispatch,
		arg.ScheduledID, arg.DeliveryStatus, arg.Attempts, arg.LastError, arg.DispatchedAt, arg.UpdatedAt,
		arg.ClaimedAt)
	if err != nil {
		return 0, err
	}

	return tag.RowsAffected(), nil
}

const releaseDispatch = `DELETE FROM dispatch_records
WHERE scheduled_id = $1 AND delivery_status = 'PENDING' AND claimed_at = $2`

// ReleaseDispatch drops the PENDING lease claimed at claimedAt.
func (q *Queries) ReleaseDispatch(ctx context.Context, scheduledID string, claimedAt pgtype.Timestamptz) (int64, error) {
	tag, err := q.db.Exec(ctx, releaseDispatch, scheduledID, claimedAt)
	if err != nil {
		return 0, err
	}

	return tag.RowsAffected(), nil
}

const markDispatchRedriven = `UPDATE dispatch_records
SET delivery_status = 'REDRIVEN', updated_at = $2
WHERE scheduled_id = $1 AND delivery_status = 'DELIVERY_FAILED'`

// MarkDispatchRedriven moves a DELIVERY_FAILED record to REDRIVEN.
func (q *Queries) MarkDispatchRedriven(
	ctx context.Context, scheduledID string, updatedAt pgtype.Timestamptz,
) (int64, error) {
	tag, err := q.db.Exec(ctx, markDispatchRedriven, scheduledID, updatedAt)
	if err != nil {
		return 0, err
	}

	return tag.RowsAffected(), nil
}

const getDispatch = `SELECT ` + dispatchColumns + ` FROM dispatch_records WHERE scheduled_id = $1`

// GetDispatch selects a dispatch record by scheduled id.
func (q *Queries) GetDispatch(ctx context.Context, scheduledID string) (DispatchRecord, error) {
	return scanDispatch(q.db.QueryRow(ctx, getDispatch, scheduledID))
}

const listDispatchByStatus = `SELECT ` + dispatchColumns + ` FROM dispatch_records
WHERE delivery_status = $1
ORDER BY updated_at DESC
LIMIT $2`

// ListDispatchByStatus selects the most recently updated records with a status.
func (q *Queries) ListDispatchByStatus(ctx context.Context, status string, limit int32) ([]DispatchRecord, error) {
	rows, err := q.db.Query(ctx, listDispatchByStatus, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []DispatchRecord
	for rows.Next() {
		item, err := scanDispatch(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	return items, rows.Err()
}

func scanDispatch(row rowScanner) (DispatchRecord, error) {
	var r DispatchRecord
	err := row.Scan(
		&r.ScheduledID,
		&r.ReminderID,
		&r.DeliveryStatus,
		&r.Attempts,
		&r.LastError,
		&r.ClaimedAt,
		&r.DispatchedAt,
		&r.UpdatedAt,
	)

	return r, err
}
