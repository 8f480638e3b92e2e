package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jnst/easy-reminder/internal/db"
	"github.com/jnst/easy-reminder/internal/model"
)

// DispatchRepositoryImpl implements DispatchRepository using PostgreSQL.
type DispatchRepositoryImpl struct {
	conn db.DBTX
}

// NewDispatchRepositoryImpl creates a new DispatchRepository implementation.
func NewDispatchRepositoryImpl(conn db.DBTX) DispatchRepository {
	return &DispatchRepositoryImpl{conn: conn}
}

// Claim conditionally acquires the dispatch lease for a scheduled entry.
// Suppression depends only on the conditional insert; the follow-up read
// merely tells a terminal record apart from a lease held elsewhere.
func (r *DispatchRepositoryImpl) Claim(
	ctx context.Context, scheduledID, reminderID string, now time.Time, lease time.Duration,
) (model.ClaimOutcome, error) {
	q := queriesFor(ctx, r.conn)

	_, err := q.ClaimDispatch(ctx, &db.ClaimDispatchParams{
		ScheduledID: scheduledID,
		ReminderID:  reminderID,
		ClaimedAt:   leaseStamp(now),
		StaleBefore: timestamptz(now.Add(-lease)),
	})
	if err == nil {
		return model.ClaimAcquired, nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("failed to claim dispatch %s: %w", scheduledID, err)
	}

	row, err := q.GetDispatch(ctx, scheduledID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ClaimInFlight, nil
		}

		return 0, fmt.Errorf("failed to read dispatch %s: %w", scheduledID, err)
	}

	if model.DeliveryStatus(row.DeliveryStatus).Terminal() {
		return model.ClaimCompleted, nil
	}

	return model.ClaimInFlight, nil
}

// Complete records the terminal outcome of a leased dispatch.
func (r *DispatchRepositoryImpl) Complete(ctx context.Context, params *model.CompleteDispatchParams) error {
	n, err := queriesFor(ctx, r.conn).CompleteDispatch(ctx, &db.CompleteDispatchParams{
		ScheduledID:    params.ScheduledID,
		DeliveryStatus: string(params.Status),
		Attempts:       int32(params.Attempts),
		LastError:      text(params.LastError),
		DispatchedAt:   optionalTimestamptz(params.DispatchedAt),
		UpdatedAt:      timestamptz(params.UpdatedAt),
		ClaimedAt:      leaseStamp(params.ClaimedAt),
	})
	if err != nil {
		return fmt.Errorf("failed to complete dispatch %s: %w", params.ScheduledID, err)
	}

	if n == 0 {
		return model.ErrLeaseLost
	}

	return nil
}

// Release drops the PENDING lease claimed at claimedAt so the entry can be
// claimed again. A lease taken over by another worker is left alone.
func (r *DispatchRepositoryImpl) Release(ctx context.Context, scheduledID string, claimedAt time.Time) error {
	if _, err := queriesFor(ctx, r.conn).ReleaseDispatch(ctx, scheduledID, leaseStamp(claimedAt)); err != nil {
		return fmt.Errorf("failed to release dispatch %s: %w", scheduledID, err)
	}

	return nil
}

// Get retrieves the dispatch record of a scheduled entry.
func (r *DispatchRepositoryImpl) Get(ctx context.Context, scheduledID string) (*model.DispatchRecord, error) {
	row, err := queriesFor(ctx, r.conn).GetDispatch(ctx, scheduledID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrDispatchRecordNotFound
		}

		return nil, err
	}

	return toDispatchRecord(&row), nil
}

// ListByStatus retrieves up to limit records with status, most recent first.
func (r *DispatchRepositoryImpl) ListByStatus(
	ctx context.Context, status model.DeliveryStatus, limit int,
) ([]*model.DispatchRecord, error) {
	rows, err := queriesFor(ctx, r.conn).ListDispatchByStatus(ctx, string(status), int32(limit))
	if err != nil {
		return nil, err
	}

	records := make([]*model.DispatchRecord, len(rows))
	for i := range rows {
		records[i] = toDispatchRecord(&rows[i])
	}

	return records, nil
}

// MarkRedriven retires a DELIVERY_FAILED record. The record stays terminal so
// a replay of its entry is still suppressed.
func (r *DispatchRepositoryImpl) MarkRedriven(ctx context.Context, scheduledID string, now time.Time) error {
	n, err := queriesFor(ctx, r.conn).MarkDispatchRedriven(ctx, scheduledID, timestamptz(now))
	if err != nil {
		return err
	}

	if n == 0 {
		return model.ErrDispatchRecordNotFound
	}

	return nil
}
