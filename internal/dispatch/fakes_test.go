package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/jnst/easy-reminder/internal/delivery"
	"github.com/jnst/easy-reminder/internal/model"
)

// fakeRecords mirrors the conditional-write semantics of the SQL ledger.
type fakeRecords struct {
	mu      sync.Mutex
	records map[string]*model.DispatchRecord
	claims  int
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{records: map[string]*model.DispatchRecord{}}
}

func (f *fakeRecords) Claim(_ context.Context, sid, rid string, now time.Time, lease time.Duration) (model.ClaimOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims++

	rec, ok := f.records[sid]
	switch {
	case !ok:
		f.records[sid] = &model.DispatchRecord{
			ScheduledID: sid, ReminderID: rid, Status: model.DeliveryStatusPending, ClaimedAt: now,
		}
		return model.ClaimAcquired, nil
	case rec.Status.Terminal():
		return model.ClaimCompleted, nil
	case rec.ClaimedAt.Before(now.Add(-lease)):
		rec.ClaimedAt = now
		return model.ClaimAcquired, nil
	default:
		return model.ClaimInFlight, nil
	}
}

func (f *fakeRecords) Complete(_ context.Context, p *model.CompleteDispatchParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, ok := f.records[p.ScheduledID]
	if !ok || rec.Status != model.DeliveryStatusPending || !rec.ClaimedAt.Equal(p.ClaimedAt) {
		return model.ErrLeaseLost
	}

	rec.Status = p.Status
	rec.Attempts = p.Attempts
	rec.LastError = p.LastError
	rec.DispatchedAt = p.DispatchedAt
	rec.UpdatedAt = p.UpdatedAt

	return nil
}

func (f *fakeRecords) Release(_ context.Context, sid string, claimedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if rec, ok := f.records[sid]; ok && rec.Status == model.DeliveryStatusPending && rec.ClaimedAt.Equal(claimedAt) {
		delete(f.records, sid)
	}

	return nil
}

func (f *fakeRecords) Get(_ context.Context, sid string) (*model.DispatchRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, ok := f.records[sid]
	if !ok {
		return nil, model.ErrDispatchRecordNotFound
	}
	cp := *rec

	return &cp, nil
}

func (f *fakeRecords) ListByStatus(_ context.Context, status model.DeliveryStatus, _ int) ([]*model.DispatchRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*model.DispatchRecord
	for _, rec := range f.records {
		if rec.Status == status {
			cp := *rec
			out = append(out, &cp)
		}
	}

	return out, nil
}

func (f *fakeRecords) MarkRedriven(_ context.Context, sid string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, ok := f.records[sid]
	if !ok || rec.Status != model.DeliveryStatusFailed {
		return model.ErrDispatchRecordNotFound
	}
	rec.Status = model.DeliveryStatusRedriven
	rec.UpdatedAt = now

	return nil
}

type fakeReminders struct {
	mu        sync.Mutex
	reminders map[string]*model.Reminder
}

func newFakeReminders(rs ...*model.Reminder) *fakeReminders {
	f := &fakeReminders{reminders: map[string]*model.Reminder{}}
	for _, r := range rs {
		f.reminders[r.ID] = r
	}

	return f
}

func (f *fakeReminders) Create(_ context.Context, r *model.Reminder) (*model.Reminder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reminders[r.ID] = r

	return r, nil
}

func (f *fakeReminders) GetByID(_ context.Context, id string) (*model.Reminder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r, ok := f.reminders[id]
	if !ok {
		return nil, model.ErrReminderNotFound
	}

	return r, nil
}

func (f *fakeReminders) GetByIDForUpdate(ctx context.Context, id string) (*model.Reminder, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeReminders) ListByOwner(context.Context, string, int) ([]*model.Reminder, error) {
	return nil, nil
}

func (f *fakeReminders) Update(_ context.Context, r *model.Reminder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reminders[r.ID] = r

	return nil
}

func (f *fakeReminders) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.reminders, id)

	return nil
}

type sent struct {
	recipient string
	message   string
}

// fakeChannel fails with the scripted errors in order, then succeeds.
type fakeChannel struct {
	mu     sync.Mutex
	errs   []error
	calls  int
	sent   []sent
	onSend func()
}

func (f *fakeChannel) Send(_ context.Context, recipient, message string) (*delivery.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.onSend != nil {
		f.onSend()
	}

	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}

	f.sent = append(f.sent, sent{recipient: recipient, message: message})

	return &delivery.Result{MessageID: "msg-1"}, nil
}

func (f *fakeChannel) snapshot() (int, []sent) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls, append([]sent(nil), f.sent...)
}
