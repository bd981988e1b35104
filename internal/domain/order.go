package domain

import (
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	OrderPending OrderStatus = "PENDING"
	OrderPaid    OrderStatus = "PAID"
)

// Order is a shop checkout that can be paid through a PaymentIntent.
type Order struct {
	ID          uuid.UUID   `db:"id" json:"id"`
	CustomerID  uuid.UUID   `db:"customer_id" json:"customer_id"`
	AmountCents int64       `db:"amount_cents" json:"amount_cents"`
	Currency    string      `db:"currency" json:"currency"`
	Status      OrderStatus `db:"status" json:"status"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updated_at"`
}
