package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jnst/easy-reminder/internal/logger"
	"github.com/jnst/easy-reminder/internal/model"
	"github.com/jnst/easy-reminder/internal/repository"
)

const (
	listLimit    = 100
	restoreDelay = time.Second
)

// Option configures a ReminderServiceImpl.
type Option func(*ReminderServiceImpl)

// WithClock overrides the time source used for validation and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *ReminderServiceImpl) {
		s.now = now
	}
}

// ReminderServiceImpl implements ReminderService for reminder management business logic.
type ReminderServiceImpl struct {
	reminderRepo   repository.ReminderRepository
	scheduler      Scheduler
	transactionMgr repository.TransactionManager
	now            func() time.Time
}

// NewReminderServiceImpl creates a new ReminderService implementation.
func NewReminderServiceImpl(
	reminderRepo repository.ReminderRepository,
	scheduler Scheduler,
	transactionMgr repository.TransactionManager,
	opts ...Option,
) *ReminderServiceImpl {
	s := &ReminderServiceImpl{
		reminderRepo:   reminderRepo,
		scheduler:      scheduler,
		transactionMgr: transactionMgr,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// CreateReminder stores a reminder and schedules its expiring entry.
func (s *ReminderServiceImpl) CreateReminder(
	ctx context.Context, params *model.CreateReminderParams,
) (*model.Reminder, error) {
	now := s.now()
	if err := params.Validate(now); err != nil {
		return nil, err
	}

	var (
		created     *model.Reminder
		scheduledID string
	)

	err := s.transactionMgr.WithTransaction(ctx, func(ctx context.Context) error {
		reminder, err := s.reminderRepo.Create(ctx, &model.Reminder{
			ID:         uuid.NewString(),
			Owner:      params.Owner,
			Message:    params.Message,
			TargetTime: params.TargetTime.UTC(),
			CreatedAt:  now,
			UpdatedAt:  now,
		})
		if err != nil {
			return fmt.Errorf("failed to create reminder: %w", err)
		}

		scheduledID, err = s.scheduler.Schedule(ctx, reminder.ID, reminder.TargetTime)
		if err != nil {
			return fmt.Errorf("failed to schedule reminder: %w", err)
		}

		reminder.ScheduledID = scheduledID
		if err := s.reminderRepo.Update(ctx, reminder); err != nil {
			return fmt.Errorf("failed to link scheduled entry: %w", err)
		}

		created = reminder

		return nil
	})
	if err != nil {
		// the row was rolled back, so its entry must not fire
		if scheduledID != "" {
			s.withdraw(ctx, scheduledID)
		}

		return nil, err
	}

	return created, nil
}

// GetReminder retrieves a reminder by ID.
func (s *ReminderServiceImpl) GetReminder(ctx context.Context, id string) (*model.Reminder, error) {
	return s.reminderRepo.GetByID(ctx, id)
}

// ListReminders retrieves the reminders of an owner.
func (s *ReminderServiceImpl) ListReminders(ctx context.Context, owner string) ([]*model.Reminder, error) {
	if owner == "" {
		return nil, model.ErrInvalidOwner
	}

	return s.reminderRepo.ListByOwner(ctx, owner, listLimit)
}

// UpdateReminder applies a partial update. A new target time replaces the
// scheduled entry; the superseded entry never fires. When the row cannot be
// written the previous schedule is put back.
func (s *ReminderServiceImpl) UpdateReminder(
	ctx context.Context, id string, params *model.UpdateReminderParams,
) (*model.Reminder, error) {
	now := s.now()
	if err := params.Validate(now); err != nil {
		return nil, err
	}

	var (
		updated     *model.Reminder
		previous    model.Reminder
		wasLive     bool
		scheduledID string
	)

	err := s.transactionMgr.WithTransaction(ctx, func(ctx context.Context) error {
		reminder, err := s.reminderRepo.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}

		previous = *reminder

		if params.Message != nil {
			reminder.Message = *params.Message
		}

		if params.TargetTime != nil && !params.TargetTime.Equal(reminder.TargetTime) {
			liveID, err := s.liveEntry(ctx, reminder.ID)
			if err != nil {
				return err
			}
			wasLive = liveID != ""

			scheduledID, err = s.scheduler.Schedule(ctx, reminder.ID, *params.TargetTime)
			if err != nil {
				return fmt.Errorf("failed to reschedule reminder: %w", err)
			}

			reminder.TargetTime = params.TargetTime.UTC()
			reminder.ScheduledID = scheduledID
		}

		reminder.UpdatedAt = now
		if err := s.reminderRepo.Update(ctx, reminder); err != nil {
			return fmt.Errorf("failed to update reminder: %w", err)
		}

		updated = reminder

		return nil
	})
	if err != nil {
		if scheduledID != "" {
			if wasLive {
				s.restore(ctx, &previous)
			} else {
				s.withdraw(ctx, scheduledID)
			}
		}

		return nil, err
	}

	return updated, nil
}

// DeleteReminder cancels the live entry of a reminder and deletes it. The
// entry is rescheduled when the deletion does not commit.
func (s *ReminderServiceImpl) DeleteReminder(ctx context.Context, id string) error {
	var (
		deleted   *model.Reminder
		cancelled bool
	)

	err := s.transactionMgr.WithTransaction(ctx, func(ctx context.Context) error {
		reminder, err := s.reminderRepo.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}

		if err := s.reminderRepo.Delete(ctx, id); err != nil {
			return err
		}

		liveID, err := s.liveEntry(ctx, reminder.ID)
		if err != nil || liveID == "" {
			return err
		}

		err = s.scheduler.Cancel(ctx, liveID)
		switch {
		case errors.Is(err, model.ErrScheduleNotFound):
			return nil
		case err != nil:
			return fmt.Errorf("failed to cancel scheduled entry: %w", err)
		}

		deleted = reminder
		cancelled = true

		return nil
	})
	if err != nil && cancelled {
		s.restore(ctx, deleted)
	}

	return err
}

// liveEntry returns the id of the entry currently scheduled for a reminder,
// or "" when none is live.
func (s *ReminderServiceImpl) liveEntry(ctx context.Context, reminderID string) (string, error) {
	id, err := s.scheduler.Lookup(ctx, reminderID)
	if errors.Is(err, model.ErrScheduleNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up scheduled entry: %w", err)
	}

	return id, nil
}

// restore schedules reminder at its stored target time, or immediately when
// that time has passed, superseding whatever entry is live.
func (s *ReminderServiceImpl) restore(ctx context.Context, reminder *model.Reminder) {
	target := reminder.TargetTime
	if now := s.now(); !target.After(now) {
		target = now.Add(restoreDelay)
	}

	scheduledID, err := s.scheduler.Schedule(context.WithoutCancel(ctx), reminder.ID, target)
	if err != nil {
		slog.Error("failed to restore scheduled entry",
			slog.String("reminder_id", reminder.ID),
			logger.Err(err),
		)

		return
	}

	slog.Warn("restored scheduled entry after failed write",
		slog.String("reminder_id", reminder.ID),
		slog.String("scheduled_id", scheduledID),
	)
}

// withdraw cancels an entry whose reminder row was not written.
func (s *ReminderServiceImpl) withdraw(ctx context.Context, scheduledID string) {
	err := s.scheduler.Cancel(context.WithoutCancel(ctx), scheduledID)
	if err != nil && !errors.Is(err, model.ErrScheduleNotFound) {
		slog.Warn("failed to withdraw scheduled entry",
			slog.String("scheduled_id", scheduledID),
			logger.Err(err),
		)
	}
}
