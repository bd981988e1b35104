package domain

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCompleted BookingStatus = "COMPLETED"
	BookingCancelled BookingStatus = "CANCELLED"
	BookingNoShow    BookingStatus = "NO_SHOW"
)

// bookingEdges is the complete set of allowed transitions. Anything not listed,
// including a status moving to itself, is rejected.
var bookingEdges = map[BookingStatus][]BookingStatus{
	BookingPending:   {BookingConfirmed, BookingCancelled},
	BookingConfirmed: {BookingCompleted, BookingCancelled, BookingNoShow},
}

func (s BookingStatus) Valid() bool {
	switch s {
	case BookingPending, BookingConfirmed, BookingCompleted, BookingCancelled, BookingNoShow:
		return true
	}
	return false
}

func (s BookingStatus) Terminal() bool {
	return s == BookingCompleted || s == BookingCancelled || s == BookingNoShow
}

// CanTransition reports whether from -> to is an edge of the booking lifecycle.
func CanTransition(from, to BookingStatus) bool {
	for _, next := range bookingEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Booking is a reserved slot between a customer and a provider.
type Booking struct {
	ID                 uuid.UUID      `db:"id" json:"id"`
	CustomerID         uuid.UUID      `db:"customer_id" json:"customer_id"`
	ProviderID         uuid.UUID      `db:"provider_id" json:"provider_id"`
	ServiceID          uuid.UUID      `db:"service_id" json:"service_id"`
	StartTime          time.Time      `db:"start_time" json:"start_time"`
	EndTime            time.Time      `db:"end_time" json:"end_time"`
	Status             BookingStatus  `db:"status" json:"status"`
	PriceCents         int64          `db:"price_cents" json:"price_cents"`
	Notes              sql.NullString `db:"notes" json:"-"`
	CancellationReason sql.NullString `db:"cancellation_reason" json:"-"`
	LastRemindedAt     sql.NullTime   `db:"last_reminded_at" json:"-"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at" json:"updated_at"`
}

// BookingEvent is one row of the transition audit trail.
type BookingEvent struct {
	ID         uuid.UUID      `db:"id"`
	BookingID  uuid.UUID      `db:"booking_id"`
	FromStatus BookingStatus  `db:"from_status"`
	ToStatus   BookingStatus  `db:"to_status"`
	Actor      string         `db:"actor"`
	Reason     sql.NullString `db:"reason"`
	At         time.Time      `db:"at"`
}

// UpcomingFilter narrows FindUpcoming to one provider or one customer.
// Both nil means every booking.
type UpcomingFilter struct {
	ProviderID *uuid.UUID
	CustomerID *uuid.UUID
}

// Availability is the answer to a slot query.
type Availability struct {
	Available     bool       `json:"available"`
	ConflictingID *uuid.UUID `json:"conflicting_booking_id,omitempty"`
}

// Overlaps is the half-open interval test used for slot conflicts.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// RemindedFor reports whether a reminder already went out for the current
// slot, i.e. during the window leading up to StartTime.
func (b Booking) RemindedFor(window time.Duration) bool {
	return b.LastRemindedAt.Valid && !b.LastRemindedAt.Time.Before(b.StartTime.Add(-window))
}
