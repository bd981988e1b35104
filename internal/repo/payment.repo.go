package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"vibewell/internal/database"
	"vibewell/internal/domain"
)

const intentColumns = `id, booking_id, order_id, amount_cents, currency, rail, external_reference,
	status, metadata, created_at, updated_at`

type PaymentRepo interface {
	CreateIntent(ctx context.Context, tx *sqlx.Tx, p *domain.PaymentIntent) error
	FindById(ctx context.Context, id uuid.UUID) (*domain.PaymentIntent, error)
	// HasActive reports whether target already has an intent in created.
	HasActive(ctx context.Context, q sqlx.QueryerContext, target domain.PaymentTarget) (bool, error)
	// FindByReferenceForUpdate locks the intent row until tx ends.
	FindByReferenceForUpdate(ctx context.Context, tx *sqlx.Tx, rail domain.Rail, ref string) (*domain.PaymentIntent, error)
	UpdateStatus(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, status domain.IntentStatus) error
	// ClaimStale returns up to limit intents still in created since before,
	// least recently polled first, and stamps them as polled so the next
	// call moves on to the rest.
	ClaimStale(ctx context.Context, before time.Time, limit int) ([]domain.PaymentIntent, error)
}

type paymentRepo struct {
	db *sqlx.DB
}

func NewPaymentRepo(db *sqlx.DB) PaymentRepo {
	return &paymentRepo{db: db}
}

func (r *paymentRepo) CreateIntent(ctx context.Context, tx *sqlx.Tx, p *domain.PaymentIntent) error {
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO payment_intents (`+intentColumns+`)
		VALUES (:id, :booking_id, :order_id, :amount_cents, :currency, :rail, :external_reference,
			:status, :metadata, :created_at, :updated_at)`, p)
	switch {
	case database.IsViolation(err, database.CodeUniqueViolation, "payment_intents_active_booking"),
		database.IsViolation(err, database.CodeUniqueViolation, "payment_intents_active_order"):
		return domain.ErrActiveIntentExists.Wrap(err)
	case database.IsViolation(err, database.CodeUniqueViolation, "payment_intents_rail_reference"):
		return domain.ErrValidation.With("external reference %q already recorded for rail %s", p.ExternalReference, p.Rail).Wrap(err)
	case err != nil:
		return fmt.Errorf("insert payment intent: %w", err)
	}
	return nil
}

func (r *paymentRepo) FindById(ctx context.Context, id uuid.UUID) (*domain.PaymentIntent, error) {
	var p domain.PaymentIntent
	err := r.db.GetContext(ctx, &p, `SELECT `+intentColumns+` FROM payment_intents WHERE id = $1`, id)
	if database.IsNoRows(err) {
		return nil, domain.ErrUnknownReference.WithRef(id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("find payment intent: %w", err)
	}
	return &p, nil
}

func (r *paymentRepo) HasActive(ctx context.Context, q sqlx.QueryerContext, target domain.PaymentTarget) (bool, error) {
	var exists bool
	var err error
	switch {
	case target.BookingID != nil:
		err = sqlx.GetContext(ctx, q, &exists,
			`SELECT EXISTS (SELECT 1 FROM payment_intents WHERE booking_id = $1 AND status = $2)`,
			*target.BookingID, domain.IntentCreated)
	case target.OrderID != nil:
		err = sqlx.GetContext(ctx, q, &exists,
			`SELECT EXISTS (SELECT 1 FROM payment_intents WHERE order_id = $1 AND status = $2)`,
			*target.OrderID, domain.IntentCreated)
	}
	if err != nil {
		return false, fmt.Errorf("check active intent: %w", err)
	}
	return exists, nil
}

func (r *paymentRepo) FindByReferenceForUpdate(ctx context.Context, tx *sqlx.Tx, rail domain.Rail, ref string) (*domain.PaymentIntent, error) {
	var p domain.PaymentIntent
	err := tx.GetContext(ctx, &p, `
		SELECT `+intentColumns+` FROM payment_intents
		WHERE rail = $1 AND external_reference = $2
		FOR UPDATE`, rail, ref)
	if database.IsNoRows(err) {
		return nil, domain.ErrUnknownReference.WithRef(string(rail) + ":" + ref)
	}
	if err != nil {
		return nil, fmt.Errorf("lock payment intent: %w", err)
	}
	return &p, nil
}

func (r *paymentRepo) UpdateStatus(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, status domain.IntentStatus) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE payment_intents
		SET status = $2,
		    updated_at = now()
		WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update payment intent status: %w", err)
	}
	return nil
}

func (r *paymentRepo) ClaimStale(ctx context.Context, before time.Time, limit int) ([]domain.PaymentIntent, error) {
	var intents []domain.PaymentIntent
	err := r.db.SelectContext(ctx, &intents, `
		UPDATE payment_intents
		SET last_polled_at = clock_timestamp()
		WHERE id IN (
			SELECT id FROM payment_intents
			WHERE status = $1
			AND created_at < $2
			ORDER BY last_polled_at NULLS FIRST, created_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+intentColumns, domain.IntentCreated, before, limit)
	if err != nil {
		return nil, fmt.Errorf("claim stale payment intents: %w", err)
	}
	return intents, nil
}
