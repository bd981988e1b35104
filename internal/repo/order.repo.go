package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"vibewell/internal/database"
	"vibewell/internal/domain"
)

type OrderRepo interface {
	FindById(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID) (*domain.Order, error)
	CreateOrder(ctx context.Context, tx *sqlx.Tx, order *domain.Order) error
	// MarkPaid moves a PENDING order to PAID and reports whether it did.
	MarkPaid(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (bool, error)
}

type orderRepo struct {
	db *sqlx.DB
}

func NewOrderRepo(db *sqlx.DB) OrderRepo {
	return &orderRepo{db: db}
}

func (r *orderRepo) FindById(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID) (*domain.Order, error) {
	if q == nil {
		q = r.db
	}
	var order domain.Order
	err := sqlx.GetContext(ctx, q, &order, `
		SELECT id, customer_id, amount_cents, currency, status, created_at, updated_at
		FROM orders WHERE id = $1`, id)
	if database.IsNoRows(err) {
		return nil, domain.ErrOrderNotFound.WithRef(id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("find order: %w", err)
	}
	return &order, nil
}

func (r *orderRepo) CreateOrder(ctx context.Context, tx *sqlx.Tx, order *domain.Order) error {
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO orders (id, customer_id, amount_cents, currency, status, created_at, updated_at)
		VALUES (:id, :customer_id, :amount_cents, :currency, :status, :created_at, :updated_at)`, order)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *orderRepo) MarkPaid(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2`, id, domain.OrderPending, domain.OrderPaid)
	if err != nil {
		return false, fmt.Errorf("mark order paid: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
