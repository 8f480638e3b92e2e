package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jnst/easy-reminder/internal/model"
)

type fakeTx struct {
	calls     int
	commitErr error
}

func (f *fakeTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	f.calls++
	if err := fn(ctx); err != nil {
		return err
	}

	return f.commitErr
}

type fakeReminderRepo struct {
	mu        sync.Mutex
	reminders map[string]*model.Reminder
	updateErr error
}

func newFakeReminderRepo() *fakeReminderRepo {
	return &fakeReminderRepo{reminders: map[string]*model.Reminder{}}
}

func (f *fakeReminderRepo) Create(_ context.Context, reminder *model.Reminder) (*model.Reminder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	stored := *reminder
	f.reminders[reminder.ID] = &stored
	out := stored

	return &out, nil
}

func (f *fakeReminderRepo) GetByID(_ context.Context, id string) (*model.Reminder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r, ok := f.reminders[id]
	if !ok {
		return nil, model.ErrReminderNotFound
	}
	out := *r

	return &out, nil
}

func (f *fakeReminderRepo) GetByIDForUpdate(ctx context.Context, id string) (*model.Reminder, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeReminderRepo) ListByOwner(_ context.Context, owner string, limit int) ([]*model.Reminder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*model.Reminder
	for _, r := range f.reminders {
		if r.Owner == owner {
			c := *r
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetTime.Before(out[j].TargetTime) })
	if len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

func (f *fakeReminderRepo) Update(_ context.Context, reminder *model.Reminder) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.updateErr != nil {
		return f.updateErr
	}
	if _, ok := f.reminders[reminder.ID]; !ok {
		return model.ErrReminderNotFound
	}
	stored := *reminder
	f.reminders[reminder.ID] = &stored

	return nil
}

func (f *fakeReminderRepo) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.reminders[id]; !ok {
		return model.ErrReminderNotFound
	}
	delete(f.reminders, id)

	return nil
}

type scheduledCall struct {
	ReminderID string
	TargetTime time.Time
}

type fakeScheduler struct {
	mu        sync.Mutex
	next      int
	live      map[string]string
	scheduled []scheduledCall
	cancelled []string
	err       error
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{live: map[string]string{}}
}

func (f *fakeScheduler) Schedule(_ context.Context, reminderID string, targetTime time.Time) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return "", f.err
	}

	for id, rid := range f.live {
		if rid == reminderID {
			delete(f.live, id)
		}
	}

	f.next++
	id := fmt.Sprintf("s-%d", f.next)
	f.live[id] = reminderID
	f.scheduled = append(f.scheduled, scheduledCall{ReminderID: reminderID, TargetTime: targetTime})

	return id, nil
}

func (f *fakeScheduler) Cancel(_ context.Context, scheduledID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.live[scheduledID]; !ok {
		return model.ErrScheduleNotFound
	}
	delete(f.live, scheduledID)
	f.cancelled = append(f.cancelled, scheduledID)

	return nil
}

func (f *fakeScheduler) Lookup(_ context.Context, reminderID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, rid := range f.live {
		if rid == reminderID {
			return id, nil
		}
	}

	return "", model.ErrScheduleNotFound
}

type fakeDispatchRepo struct {
	records map[string]*model.DispatchRecord
}

func (f *fakeDispatchRepo) Claim(context.Context, string, string, time.Time, time.Duration) (model.ClaimOutcome, error) {
	return 0, errors.New("not implemented")
}

func (f *fakeDispatchRepo) Complete(context.Context, *model.CompleteDispatchParams) error {
	return errors.New("not implemented")
}

func (f *fakeDispatchRepo) Release(context.Context, string, time.Time) error {
	return errors.New("not implemented")
}

func (f *fakeDispatchRepo) Get(_ context.Context, scheduledID string) (*model.DispatchRecord, error) {
	r, ok := f.records[scheduledID]
	if !ok {
		return nil, model.ErrDispatchRecordNotFound
	}
	out := *r

	return &out, nil
}

func (f *fakeDispatchRepo) ListByStatus(_ context.Context, status model.DeliveryStatus, limit int) ([]*model.DispatchRecord, error) {
	var out []*model.DispatchRecord
	for _, r := range f.records {
		if r.Status == status && len(out) < limit {
			c := *r
			out = append(out, &c)
		}
	}

	return out, nil
}

func (f *fakeDispatchRepo) MarkRedriven(_ context.Context, scheduledID string, now time.Time) error {
	r, ok := f.records[scheduledID]
	if !ok || r.Status != model.DeliveryStatusFailed {
		return model.ErrDispatchRecordNotFound
	}
	r.Status = model.DeliveryStatusRedriven
	r.UpdatedAt = now

	return nil
}
