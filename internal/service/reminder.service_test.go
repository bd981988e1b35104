package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vibewell/internal/database"
	"vibewell/internal/domain"
	"vibewell/internal/infrastructure/notify"
	"vibewell/internal/repo"
)

type fakeReminderStore struct {
	mu       sync.Mutex
	bookings []domain.Booking
	marked   map[uuid.UUID]time.Time
	findErr  error
}

func (f *fakeReminderStore) FindUpcoming(_ context.Context, _ domain.UpcomingFilter, _, _ time.Time) ([]domain.Booking, error) {
	return append([]domain.Booking(nil), f.bookings...), f.findErr
}

func (f *fakeReminderStore) MarkReminded(_ context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.marked == nil {
		f.marked = make(map[uuid.UUID]time.Time)
	}
	f.marked[id] = at
	return nil
}

func newTestReminderService(store ReminderStore, pub notify.Publisher) *reminderService {
	logger, _ := test.NewNullLogger()
	return &reminderService{
		store:     store,
		publisher: pub,
		workers:   3,
		lock: func(context.Context) (func(), bool, error) {
			return func() {}, true, nil
		},
		log: logger,
	}
}

var remindNow = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

func confirmedAt(start time.Time) domain.Booking {
	return domain.Booking{
		ID:         uuid.New(),
		CustomerID: uuid.New(),
		ProviderID: uuid.New(),
		StartTime:  start,
		EndTime:    start.Add(time.Hour),
		Status:     domain.BookingConfirmed,
	}
}

func TestReminderService_Run_PartialFailure(t *testing.T) {
	bad := confirmedAt(remindNow.Add(2 * time.Hour))
	store := &fakeReminderStore{bookings: []domain.Booking{
		confirmedAt(remindNow.Add(time.Hour)),
		bad,
		confirmedAt(remindNow.Add(3 * time.Hour)),
	}}
	pub := &recorder{failOn: func(v any) error {
		if v.(notify.Reminder).BookingID == bad.ID {
			return errors.New("broker closed")
		}
		return nil
	}}

	sum, err := newTestReminderService(store, pub).Run(context.Background(), remindNow, 24)
	require.NoError(t, err)
	assert.Equal(t, ReminderSummary{Attempted: 3, Succeeded: 2, Failed: 1}, sum)

	assert.Len(t, store.marked, 2)
	assert.NotContains(t, store.marked, bad.ID, "failed dispatch stays due for the next run")
	for _, k := range pub.routingKeys() {
		assert.Equal(t, notify.RoutingReminder, k)
	}
}

func TestReminderService_Run_SkipsAlreadyReminded(t *testing.T) {
	reminded := confirmedAt(remindNow.Add(5 * time.Hour))
	reminded.LastRemindedAt.Time = remindNow.Add(-time.Hour)
	reminded.LastRemindedAt.Valid = true
	store := &fakeReminderStore{bookings: []domain.Booking{reminded, confirmedAt(remindNow.Add(6 * time.Hour))}}

	sum, err := newTestReminderService(store, &recorder{}).Run(context.Background(), remindNow, 24)
	require.NoError(t, err)
	assert.Equal(t, ReminderSummary{Attempted: 1, Succeeded: 1, Skipped: 1}, sum)
}

func TestReminderService_Run_Empty(t *testing.T) {
	sum, err := newTestReminderService(&fakeReminderStore{}, &recorder{}).Run(context.Background(), remindNow, 24)
	require.NoError(t, err)
	assert.Equal(t, ReminderSummary{}, sum)
}

func TestReminderService_Run_Rejections(t *testing.T) {
	svc := newTestReminderService(&fakeReminderStore{}, &recorder{})

	_, err := svc.Run(context.Background(), remindNow, 0)
	assert.True(t, errors.Is(err, domain.ErrValidation))

	svc.lock = func(context.Context) (func(), bool, error) { return nil, false, nil }
	_, err = svc.Run(context.Background(), remindNow, 24)
	assert.True(t, errors.Is(err, domain.ErrRunInProgress))
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))

	svc = newTestReminderService(&fakeReminderStore{findErr: errors.New("db down")}, &recorder{})
	_, err = svc.Run(context.Background(), remindNow, 24)
	assert.Error(t, err)
}

func TestReminderService_Run_AdvisoryLockAgainstPostgres(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	logger, _ := test.NewNullLogger()
	pub := &recorder{}
	svc := NewReminderService(s.db, repo.NewBookingRepo(s.db), pub, 4, logger)

	now := slot.Add(-3 * time.Hour)
	b := s.pendingBooking(t)
	_, err := s.bookings.Transition(ctx, b.ID, domain.BookingConfirmed, "admin:x", "")
	require.NoError(t, err)

	release, ok, err := database.TryAdvisoryLock(ctx, s.db, database.ReminderRunLockKey)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = svc.Run(ctx, now, 24)
	assert.True(t, errors.Is(err, domain.ErrRunInProgress))
	release()

	sum, err := svc.Run(ctx, now, 24)
	require.NoError(t, err)
	assert.Equal(t, ReminderSummary{Attempted: 1, Succeeded: 1}, sum)

	// the second run in the same window finds nothing new
	sum, err = svc.Run(ctx, now.Add(time.Minute), 24)
	require.NoError(t, err)
	assert.Equal(t, ReminderSummary{Skipped: 1}, sum)
}
