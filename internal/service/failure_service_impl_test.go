package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnst/easy-reminder/internal/model"
)

func TestRedrive(t *testing.T) {
	repo := newFakeReminderRepo()
	repo.reminders["r-1"] = &model.Reminder{ID: "r-1", Owner: "alice", Message: "m", ScheduledID: "old"}
	records := &fakeDispatchRepo{records: map[string]*model.DispatchRecord{
		"old":  {ScheduledID: "old", ReminderID: "r-1", Status: model.DeliveryStatusFailed},
		"done": {ScheduledID: "done", ReminderID: "r-1", Status: model.DeliveryStatusDelivered},
	}}
	sched := newFakeScheduler()

	svc := NewFailureServiceImpl(records, repo, sched, &fakeTx{}, time.Minute)
	svc.now = func() time.Time { return testNow }
	ctx := context.Background()

	failures, err := svc.ListFailures(ctx, 0)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "old", failures[0].ScheduledID)

	r, err := svc.Redrive(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, "s-1", r.ScheduledID)
	assert.Equal(t, testNow.Add(time.Minute), r.TargetTime)
	require.Contains(t, records.records, "old")
	assert.Equal(t, model.DeliveryStatusRedriven, records.records["old"].Status)
	assert.True(t, records.records["old"].Status.Terminal())

	_, err = svc.Redrive(ctx, "old")
	require.ErrorIs(t, err, model.ErrDispatchRecordNotFound)

	_, err = svc.Redrive(ctx, "done")
	require.ErrorIs(t, err, model.ErrDispatchRecordNotFound)
	assert.Len(t, sched.scheduled, 1)
}

func TestRedrive_WithdrawsEntryWhenCommitFails(t *testing.T) {
	repo := newFakeReminderRepo()
	repo.reminders["r-1"] = &model.Reminder{ID: "r-1", Owner: "alice", Message: "m", ScheduledID: "old"}
	records := &fakeDispatchRepo{records: map[string]*model.DispatchRecord{
		"old": {ScheduledID: "old", ReminderID: "r-1", Status: model.DeliveryStatusFailed},
	}}
	sched := newFakeScheduler()

	svc := NewFailureServiceImpl(records, repo, sched, &fakeTx{commitErr: errors.New("commit failed")}, time.Minute)
	svc.now = func() time.Time { return testNow }

	_, err := svc.Redrive(context.Background(), "old")
	require.Error(t, err)
	assert.Equal(t, []string{"s-1"}, sched.cancelled)
	assert.Empty(t, sched.live)
}
