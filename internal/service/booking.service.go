package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"vibewell/internal/database"
	"vibewell/internal/domain"
	"vibewell/internal/infrastructure/notify"
	"vibewell/internal/repo"
)

type CreateBookingInput struct {
	CustomerID uuid.UUID `validate:"required"`
	ProviderID uuid.UUID `validate:"required"`
	ServiceID  uuid.UUID `validate:"required"`
	StartTime  time.Time `validate:"required"`
	EndTime    time.Time `validate:"required,gtfield=StartTime"`
	PriceCents int64     `validate:"gte=0"`
	Notes      string    `validate:"max=2000"`
}

type BookingService interface {
	// Create checks the slot and reserves it atomically.
	Create(ctx context.Context, in CreateBookingInput) (*domain.Booking, error)
	// Check answers whether a slot is free without reserving it.
	Check(ctx context.Context, providerID uuid.UUID, start, end time.Time) (domain.Availability, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	Transition(ctx context.Context, id uuid.UUID, to domain.BookingStatus, actor, reason string) (*domain.Booking, error)
	// TransitionTx applies a transition inside a caller-owned transaction.
	TransitionTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, to domain.BookingStatus, actor, reason string) (*domain.Booking, *domain.BookingEvent, error)
	// PublishTransition announces a transition after its transaction committed.
	PublishTransition(ctx context.Context, ev *domain.BookingEvent)
	FindUpcoming(ctx context.Context, filter domain.UpcomingFilter, now time.Time, withinHours int) ([]domain.Booking, error)
	History(ctx context.Context, id uuid.UUID) ([]domain.BookingEvent, error)
}

type bookingService struct {
	db        *sqlx.DB
	repo      repo.BookingRepo
	publisher notify.Publisher
	log       logrus.FieldLogger
	now       func() time.Time
}

func NewBookingService(db *sqlx.DB, bookingRepo repo.BookingRepo, publisher notify.Publisher, log logrus.FieldLogger) BookingService {
	return &bookingService{
		db:        db,
		repo:      bookingRepo,
		publisher: publisher,
		log:       log.WithField("component", "booking"),
		now:       time.Now,
	}
}

func (s *bookingService) Create(ctx context.Context, in CreateBookingInput) (*domain.Booking, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	b := &domain.Booking{
		ID:         uuid.New(),
		CustomerID: in.CustomerID,
		ProviderID: in.ProviderID,
		ServiceID:  in.ServiceID,
		StartTime:  in.StartTime.UTC(),
		EndTime:    in.EndTime.UTC(),
		Status:     domain.BookingPending,
		PriceCents: in.PriceCents,
		Notes:      sql.NullString{String: in.Notes, Valid: in.Notes != ""},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := s.repo.LockProvider(ctx, tx, b.ProviderID); err != nil {
			return err
		}
		conflict, err := s.repo.FindOverlap(ctx, tx, b.ProviderID, b.StartTime, b.EndTime)
		if err != nil {
			return err
		}
		if conflict != nil {
			return domain.ErrSlotConflict.WithRef(conflict.String())
		}
		return s.repo.Create(ctx, tx, b)
	})
	if errors.Is(err, domain.ErrSlotConflict) {
		return nil, s.withConflictRef(ctx, err, b)
	}
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"booking_id":  b.ID,
		"provider_id": b.ProviderID,
		"start_time":  b.StartTime,
	}).Info("booking reserved")
	return b, nil
}

// withConflictRef fills in the conflicting booking when the exclusion
// constraint, not the overlap query, rejected the insert.
func (s *bookingService) withConflictRef(ctx context.Context, err error, b *domain.Booking) error {
	var de *domain.Error
	if !errors.As(err, &de) || de.Ref != "" {
		return err
	}
	id, lookupErr := s.repo.FindOverlap(ctx, s.db, b.ProviderID, b.StartTime, b.EndTime)
	if lookupErr != nil || id == nil {
		return err
	}
	return de.WithRef(id.String())
}

func (s *bookingService) Check(ctx context.Context, providerID uuid.UUID, start, end time.Time) (domain.Availability, error) {
	if providerID == uuid.Nil {
		return domain.Availability{}, domain.ErrValidation.With("provider_id is required")
	}
	if !start.Before(end) {
		return domain.Availability{}, domain.ErrValidation.With("start_time must be before end_time")
	}
	id, err := s.repo.FindOverlap(ctx, s.db, providerID, start, end)
	if err != nil {
		return domain.Availability{}, err
	}
	return domain.Availability{Available: id == nil, ConflictingID: id}, nil
}

func (s *bookingService) Get(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	return s.repo.FindById(ctx, s.db, id)
}

func (s *bookingService) Transition(ctx context.Context, id uuid.UUID, to domain.BookingStatus, actor, reason string) (*domain.Booking, error) {
	var (
		b  *domain.Booking
		ev *domain.BookingEvent
	)
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		b, ev, err = s.TransitionTx(ctx, tx, id, to, actor, reason)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.PublishTransition(ctx, ev)
	return b, nil
}

func (s *bookingService) TransitionTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, to domain.BookingStatus, actor, reason string) (*domain.Booking, *domain.BookingEvent, error) {
	if !to.Valid() {
		return nil, nil, domain.ErrValidation.With("unknown booking status %q", to)
	}
	if actor == "" {
		return nil, nil, domain.ErrValidation.With("actor is required")
	}

	b, err := s.repo.FindById(ctx, tx, id)
	if err != nil {
		return nil, nil, err
	}
	from := b.Status
	if !domain.CanTransition(from, to) {
		return nil, nil, domain.ErrInvalidTransition.With("cannot move booking from %s to %s", from, to).WithRef(id.String())
	}

	ok, err := s.repo.UpdateStatus(ctx, tx, id, from, to, reason)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, domain.ErrInvalidTransition.With("booking left %s before the update applied", from).WithRef(id.String())
	}

	now := s.now().UTC()
	ev := &domain.BookingEvent{
		ID:         uuid.New(),
		BookingID:  id,
		FromStatus: from,
		ToStatus:   to,
		Actor:      actor,
		Reason:     sql.NullString{String: reason, Valid: reason != ""},
		At:         now,
	}
	if err := s.repo.InsertEvent(ctx, tx, ev); err != nil {
		return nil, nil, err
	}

	b.Status = to
	b.UpdatedAt = now
	if to == domain.BookingCancelled && reason != "" {
		b.CancellationReason = sql.NullString{String: reason, Valid: true}
	}
	return b, ev, nil
}

func (s *bookingService) PublishTransition(ctx context.Context, ev *domain.BookingEvent) {
	if ev == nil || s.publisher == nil {
		return
	}
	msg := notify.BookingStatusChanged{
		Event:     notify.RoutingBookingStatus,
		BookingID: ev.BookingID,
		From:      string(ev.FromStatus),
		To:        string(ev.ToStatus),
		Actor:     ev.Actor,
		At:        ev.At,
	}
	if err := s.publisher.Publish(ctx, notify.RoutingBookingStatus, msg); err != nil {
		s.log.WithError(err).WithField("booking_id", ev.BookingID).Warn("publish booking transition failed")
	}
	s.log.WithFields(logrus.Fields{
		"booking_id": ev.BookingID,
		"from":       ev.FromStatus,
		"to":         ev.ToStatus,
		"actor":      ev.Actor,
	}).Info("booking transitioned")
}

func (s *bookingService) FindUpcoming(ctx context.Context, filter domain.UpcomingFilter, now time.Time, withinHours int) ([]domain.Booking, error) {
	if withinHours <= 0 {
		return nil, domain.ErrValidation.With("within_hours must be positive")
	}
	from := now.UTC()
	bookings, err := s.repo.FindUpcoming(ctx, filter, from, from.Add(time.Duration(withinHours)*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("find upcoming: %w", err)
	}
	return bookings, nil
}

func (s *bookingService) History(ctx context.Context, id uuid.UUID) ([]domain.BookingEvent, error) {
	if _, err := s.repo.FindById(ctx, s.db, id); err != nil {
		return nil, err
	}
	return s.repo.ListEvents(ctx, id)
}
