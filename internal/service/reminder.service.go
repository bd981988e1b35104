package service

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"vibewell/internal/database"
	"vibewell/internal/domain"
	"vibewell/internal/infrastructure/notify"
)

const reminderChannel = "email"

// ReminderSummary reports one trigger run. Skipped counts bookings that
// already had a reminder for the current window.
type ReminderSummary struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

type ReminderService interface {
	Run(ctx context.Context, now time.Time, windowHours int) (ReminderSummary, error)
}

// ReminderStore is the part of the booking repository the trigger needs.
type ReminderStore interface {
	FindUpcoming(ctx context.Context, filter domain.UpcomingFilter, from, to time.Time) ([]domain.Booking, error)
	MarkReminded(ctx context.Context, id uuid.UUID, at time.Time) error
}

type lockFunc func(ctx context.Context) (release func(), ok bool, err error)

type reminderService struct {
	store     ReminderStore
	publisher notify.Publisher
	workers   int
	lock      lockFunc
	log       logrus.FieldLogger
}

func NewReminderService(db *sqlx.DB, store ReminderStore, publisher notify.Publisher, workers int, log logrus.FieldLogger) ReminderService {
	if workers <= 0 {
		workers = 8
	}
	return &reminderService{
		store:     store,
		publisher: publisher,
		workers:   workers,
		lock: func(ctx context.Context) (func(), bool, error) {
			return database.TryAdvisoryLock(ctx, db, database.ReminderRunLockKey)
		},
		log: log.WithField("component", "reminder"),
	}
}

func (s *reminderService) Run(ctx context.Context, now time.Time, windowHours int) (ReminderSummary, error) {
	var sum ReminderSummary
	if windowHours <= 0 {
		return sum, domain.ErrValidation.With("within_hours must be positive")
	}

	release, ok, err := s.lock(ctx)
	if err != nil {
		return sum, err
	}
	if !ok {
		return sum, domain.ErrRunInProgress
	}
	defer release()

	window := time.Duration(windowHours) * time.Hour
	from := now.UTC()
	bookings, err := s.store.FindUpcoming(ctx, domain.UpcomingFilter{}, from, from.Add(window))
	if err != nil {
		return sum, err
	}

	due := bookings[:0]
	for _, b := range bookings {
		if b.RemindedFor(window) {
			sum.Skipped++
			continue
		}
		due = append(due, b)
	}
	sum.Attempted = len(due)

	var succeeded, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, b := range due {
		g.Go(func() error {
			if err := s.dispatch(gctx, b, from); err != nil {
				failed.Add(1)
				s.log.WithError(err).WithField("booking_id", b.ID).Warn("reminder dispatch failed")
				return nil
			}
			succeeded.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	sum.Succeeded = int(succeeded.Load())
	sum.Failed = int(failed.Load())
	s.log.WithFields(logrus.Fields{
		"attempted": sum.Attempted,
		"succeeded": sum.Succeeded,
		"failed":    sum.Failed,
		"skipped":   sum.Skipped,
	}).Info("reminder run finished")
	return sum, nil
}

// dispatch sends one reminder and records it. A booking whose mark fails is
// counted as failed so the next run retries it.
func (s *reminderService) dispatch(ctx context.Context, b domain.Booking, now time.Time) error {
	msg := notify.Reminder{
		Event:      notify.RoutingReminder,
		BookingID:  b.ID,
		CustomerID: b.CustomerID,
		ProviderID: b.ProviderID,
		StartTime:  b.StartTime,
		Channel:    reminderChannel,
		SentAt:     now,
	}
	if err := s.publisher.Publish(ctx, notify.RoutingReminder, msg); err != nil {
		return err
	}
	return s.store.MarkReminded(ctx, b.ID, now)
}
