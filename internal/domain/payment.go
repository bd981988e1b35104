package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Rail is a payment processing channel.
type Rail string

const (
	RailCard   Rail = "card"
	RailCrypto Rail = "crypto"
)

func (r Rail) Valid() bool { return r == RailCard || r == RailCrypto }

type IntentStatus string

const (
	IntentCreated   IntentStatus = "created"
	IntentSucceeded IntentStatus = "succeeded"
	IntentFailed    IntentStatus = "failed"
	IntentCancelled IntentStatus = "cancelled"
)

// Terminal intents are never written again.
func (s IntentStatus) Terminal() bool { return s != IntentCreated }

// Outcome is what a gateway reports for a remote charge.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
	// OutcomePending is only produced by status polls; it never reaches Reconcile.
	OutcomePending Outcome = "pending"
)

// IntentStatus maps a terminal outcome onto the stored status.
func (o Outcome) IntentStatus() (IntentStatus, bool) {
	switch o {
	case OutcomeSucceeded:
		return IntentSucceeded, true
	case OutcomeFailed:
		return IntentFailed, true
	case OutcomeCancelled:
		return IntentCancelled, true
	}
	return "", false
}

// Metadata is stored as jsonb.
type Metadata map[string]string

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *Metadata) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("metadata: unsupported scan type %T", src)
	}
	out := Metadata{}
	if err := json.Unmarshal(b, &out); err != nil {
		return err
	}
	*m = out
	return nil
}

// PaymentIntent tracks one attempt to collect money for a booking or an order.
// Exactly one of BookingID and OrderID is set.
type PaymentIntent struct {
	ID                uuid.UUID     `db:"id" json:"id"`
	BookingID         uuid.NullUUID `db:"booking_id" json:"booking_id"`
	OrderID           uuid.NullUUID `db:"order_id" json:"order_id"`
	AmountCents       int64         `db:"amount_cents" json:"amount_cents"`
	Currency          string        `db:"currency" json:"currency"`
	Rail              Rail          `db:"rail" json:"rail"`
	ExternalReference string        `db:"external_reference" json:"external_reference"`
	Status            IntentStatus  `db:"status" json:"status"`
	Metadata          Metadata      `db:"metadata" json:"metadata"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time     `db:"updated_at" json:"updated_at"`
}

// PaymentTarget identifies what an intent pays for.
type PaymentTarget struct {
	BookingID *uuid.UUID
	OrderID   *uuid.UUID
}

func (t PaymentTarget) Valid() bool {
	return (t.BookingID == nil) != (t.OrderID == nil)
}

func (t PaymentTarget) String() string {
	if t.BookingID != nil {
		return "booking:" + t.BookingID.String()
	}
	if t.OrderID != nil {
		return "order:" + t.OrderID.String()
	}
	return "none"
}
