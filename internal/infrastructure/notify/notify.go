// Package notify publishes domain events and reminders to downstream consumers.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Routing keys on the events exchange.
const (
	RoutingReminder      = "booking.reminder"
	RoutingBookingStatus = "booking.status_changed"
	RoutingPaymentResult = "payment.reconciled"
)

// Publisher sends one JSON message under a routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, v any) error
}

type Reminder struct {
	Event      string    `json:"event"`
	BookingID  uuid.UUID `json:"booking_id"`
	CustomerID uuid.UUID `json:"customer_id"`
	ProviderID uuid.UUID `json:"provider_id"`
	StartTime  time.Time `json:"start_time"`
	Channel    string    `json:"channel"`
	SentAt     time.Time `json:"sent_at"`
}

type BookingStatusChanged struct {
	Event     string    `json:"event"`
	BookingID uuid.UUID `json:"booking_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Actor     string    `json:"actor"`
	At        time.Time `json:"at"`
}

type PaymentReconciled struct {
	Event             string     `json:"event"`
	IntentID          uuid.UUID  `json:"intent_id"`
	BookingID         *uuid.UUID `json:"booking_id,omitempty"`
	OrderID           *uuid.UUID `json:"order_id,omitempty"`
	Rail              string     `json:"rail"`
	ExternalReference string     `json:"external_reference"`
	Status            string     `json:"status"`
	AmountCents       int64      `json:"amount_cents"`
	Currency          string     `json:"currency"`
	At                time.Time  `json:"at"`
}
