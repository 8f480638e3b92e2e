package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jnst/easy-reminder/internal/logger"
	"github.com/jnst/easy-reminder/internal/model"
	"github.com/jnst/easy-reminder/internal/repository"
)

// DefaultRedriveDelay is how far ahead a redriven reminder is scheduled.
const DefaultRedriveDelay = 10 * time.Second

// FailureServiceImpl implements FailureService.
type FailureServiceImpl struct {
	dispatchRepo   repository.DispatchRepository
	reminderRepo   repository.ReminderRepository
	scheduler      Scheduler
	transactionMgr repository.TransactionManager
	delay          time.Duration
	now            func() time.Time
}

// NewFailureServiceImpl creates a new FailureService implementation.
func NewFailureServiceImpl(
	dispatchRepo repository.DispatchRepository,
	reminderRepo repository.ReminderRepository,
	scheduler Scheduler,
	transactionMgr repository.TransactionManager,
	delay time.Duration,
) *FailureServiceImpl {
	if delay <= 0 {
		delay = DefaultRedriveDelay
	}

	return &FailureServiceImpl{
		dispatchRepo:   dispatchRepo,
		reminderRepo:   reminderRepo,
		scheduler:      scheduler,
		transactionMgr: transactionMgr,
		delay:          delay,
		now:            time.Now,
	}
}

// ListFailures returns the most recent DELIVERY_FAILED records.
func (s *FailureServiceImpl) ListFailures(ctx context.Context, limit int) ([]*model.DispatchRecord, error) {
	if limit <= 0 {
		limit = listLimit
	}

	return s.dispatchRepo.ListByStatus(ctx, model.DeliveryStatusFailed, limit)
}

// Redrive retires a failed dispatch record and schedules its reminder again
// shortly in the future under a new scheduled entry. The old record stays
// terminal, so a replay of the old entry's expiry is still suppressed.
func (s *FailureServiceImpl) Redrive(ctx context.Context, scheduledID string) (*model.Reminder, error) {
	var (
		redriven *model.Reminder
		newID    string
	)

	err := s.transactionMgr.WithTransaction(ctx, func(ctx context.Context) error {
		record, err := s.dispatchRepo.Get(ctx, scheduledID)
		if err != nil {
			return err
		}

		if record.Status != model.DeliveryStatusFailed {
			return fmt.Errorf("%w: %s is %s", model.ErrDispatchRecordNotFound, scheduledID, record.Status)
		}

		reminder, err := s.reminderRepo.GetByIDForUpdate(ctx, record.ReminderID)
		if err != nil {
			return err
		}

		now := s.now()
		if err := s.dispatchRepo.MarkRedriven(ctx, scheduledID, now); err != nil {
			return err
		}

		target := now.Add(s.delay).UTC()

		newID, err = s.scheduler.Schedule(ctx, reminder.ID, target)
		if err != nil {
			return fmt.Errorf("failed to reschedule reminder: %w", err)
		}

		reminder.TargetTime = target
		reminder.ScheduledID = newID
		reminder.UpdatedAt = now

		if err := s.reminderRepo.Update(ctx, reminder); err != nil {
			return fmt.Errorf("failed to update reminder: %w", err)
		}

		slog.Info("redrove failed dispatch",
			slog.String("scheduled_id", scheduledID),
			slog.String("reminder_id", reminder.ID),
			slog.String("new_scheduled_id", newID),
		)

		redriven = reminder

		return nil
	})
	if err != nil {
		if newID != "" {
			s.withdraw(ctx, newID)
		}

		return nil, err
	}

	return redriven, nil
}

// withdraw cancels a redrive entry whose transaction did not commit.
func (s *FailureServiceImpl) withdraw(ctx context.Context, scheduledID string) {
	err := s.scheduler.Cancel(context.WithoutCancel(ctx), scheduledID)
	if err != nil && !errors.Is(err, model.ErrScheduleNotFound) {
		slog.Warn("failed to withdraw redrive entry",
			slog.String("scheduled_id", scheduledID),
			logger.Err(err),
		)
	}
}
