package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"vibewell/internal/database"
	"vibewell/internal/domain"
)

const bookingColumns = `id, customer_id, provider_id, service_id, start_time, end_time, status,
	price_cents, notes, cancellation_reason, last_reminded_at, created_at, updated_at`

type BookingRepo interface {
	// LockProvider serialises reservations for one provider until tx ends.
	LockProvider(ctx context.Context, tx *sqlx.Tx, providerID uuid.UUID) error
	// FindOverlap returns the id of a non-cancelled booking intersecting [start, end), or nil.
	FindOverlap(ctx context.Context, q sqlx.QueryerContext, providerID uuid.UUID, start, end time.Time) (*uuid.UUID, error)
	Create(ctx context.Context, tx *sqlx.Tx, b *domain.Booking) error
	FindById(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID) (*domain.Booking, error)
	// UpdateStatus is optimistic: it only writes when the row is still in from.
	UpdateStatus(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, from, to domain.BookingStatus, reason string) (bool, error)
	InsertEvent(ctx context.Context, tx *sqlx.Tx, ev *domain.BookingEvent) error
	ListEvents(ctx context.Context, bookingID uuid.UUID) ([]domain.BookingEvent, error)
	FindUpcoming(ctx context.Context, filter domain.UpcomingFilter, from, to time.Time) ([]domain.Booking, error)
	MarkReminded(ctx context.Context, id uuid.UUID, at time.Time) error
	FindEnded(ctx context.Context, before time.Time, limit int) ([]domain.Booking, error)
}

type bookingRepo struct {
	db *sqlx.DB
}

func NewBookingRepo(db *sqlx.DB) BookingRepo {
	return &bookingRepo{db: db}
}

func (r *bookingRepo) LockProvider(ctx context.Context, tx *sqlx.Tx, providerID uuid.UUID) error {
	_, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, providerID.String())
	if err != nil {
		return fmt.Errorf("lock provider %s: %w", providerID, err)
	}
	return nil
}

func (r *bookingRepo) FindOverlap(ctx context.Context, q sqlx.QueryerContext, providerID uuid.UUID, start, end time.Time) (*uuid.UUID, error) {
	var id uuid.UUID
	err := sqlx.GetContext(ctx, q, &id, `
		SELECT id FROM bookings
		WHERE provider_id = $1
		  AND status <> $2
		  AND start_time < $3
		  AND end_time > $4
		ORDER BY start_time
		LIMIT 1`,
		providerID, domain.BookingCancelled, end, start,
	)
	if database.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find overlap: %w", err)
	}
	return &id, nil
}

func (r *bookingRepo) Create(ctx context.Context, tx *sqlx.Tx, b *domain.Booking) error {
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES (:id, :customer_id, :provider_id, :service_id, :start_time, :end_time, :status,
			:price_cents, :notes, :cancellation_reason, :last_reminded_at, :created_at, :updated_at)`, b)
	if database.IsViolation(err, database.CodeExclusionViolation, "bookings_no_overlap") {
		return domain.ErrSlotConflict.Wrap(err)
	}
	if database.IsViolation(err, database.CodeCheckViolation, "") {
		return domain.ErrValidation.With("booking violates a table constraint").Wrap(err)
	}
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (r *bookingRepo) FindById(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID) (*domain.Booking, error) {
	if q == nil {
		q = r.db
	}
	var b domain.Booking
	err := sqlx.GetContext(ctx, q, &b, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	if database.IsNoRows(err) {
		return nil, domain.ErrBookingNotFound.WithRef(id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("find booking: %w", err)
	}
	return &b, nil
}

func (r *bookingRepo) UpdateStatus(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, from, to domain.BookingStatus, reason string) (bool, error) {
	var cancellation sql.NullString
	if to == domain.BookingCancelled && reason != "" {
		cancellation = sql.NullString{String: reason, Valid: true}
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE bookings
		SET status = $3,
		    cancellation_reason = COALESCE($4, cancellation_reason),
		    updated_at = now()
		WHERE id = $1 AND status = $2`,
		id, from, to, cancellation,
	)
	if err != nil {
		return false, fmt.Errorf("update booking status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *bookingRepo) InsertEvent(ctx context.Context, tx *sqlx.Tx, ev *domain.BookingEvent) error {
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO booking_events (id, booking_id, from_status, to_status, actor, reason, at)
		VALUES (:id, :booking_id, :from_status, :to_status, :actor, :reason, :at)`, ev)
	if err != nil {
		return fmt.Errorf("insert booking event: %w", err)
	}
	return nil
}

func (r *bookingRepo) ListEvents(ctx context.Context, bookingID uuid.UUID) ([]domain.BookingEvent, error) {
	var events []domain.BookingEvent
	err := r.db.SelectContext(ctx, &events, `
		SELECT id, booking_id, from_status, to_status, actor, reason, at
		FROM booking_events WHERE booking_id = $1 ORDER BY at, id`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("list booking events: %w", err)
	}
	return events, nil
}

func (r *bookingRepo) FindUpcoming(ctx context.Context, filter domain.UpcomingFilter, from, to time.Time) ([]domain.Booking, error) {
	where := []string{"status = $1", "start_time >= $2", "start_time < $3"}
	args := []any{domain.BookingConfirmed, from, to}
	if filter.ProviderID != nil {
		args = append(args, *filter.ProviderID)
		where = append(where, fmt.Sprintf("provider_id = $%d", len(args)))
	}
	if filter.CustomerID != nil {
		args = append(args, *filter.CustomerID)
		where = append(where, fmt.Sprintf("customer_id = $%d", len(args)))
	}

	var bookings []domain.Booking
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE ` + strings.Join(where, " AND ") + ` ORDER BY start_time ASC, id`
	if err := r.db.SelectContext(ctx, &bookings, query, args...); err != nil {
		return nil, fmt.Errorf("find upcoming bookings: %w", err)
	}
	return bookings, nil
}

func (r *bookingRepo) MarkReminded(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE bookings SET last_reminded_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("mark reminded: %w", err)
	}
	return nil
}

func (r *bookingRepo) FindEnded(ctx context.Context, before time.Time, limit int) ([]domain.Booking, error) {
	var bookings []domain.Booking
	err := r.db.SelectContext(ctx, &bookings, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE status = $1 AND end_time <= $2
		ORDER BY end_time
		LIMIT $3`,
		domain.BookingConfirmed, before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("find ended bookings: %w", err)
	}
	return bookings, nil
}
