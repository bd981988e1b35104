package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"vibewell/internal/domain"
	"vibewell/internal/service"
)

const defaultWindowHours = 24

type bookingResponse struct {
	*domain.Booking
	Notes              string `json:"notes,omitempty"`
	CancellationReason string `json:"cancellation_reason,omitempty"`
}

func toBookingResponse(b *domain.Booking) bookingResponse {
	return bookingResponse{Booking: b, Notes: b.Notes.String, CancellationReason: b.CancellationReason.String}
}

func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		fail(c, domain.ErrValidation.With("%s must be a uuid", name))
		return uuid.Nil, false
	}
	return id, true
}

type createBookingRequest struct {
	CustomerID uuid.UUID `json:"customer_id"`
	ProviderID uuid.UUID `json:"provider_id"`
	ServiceID  uuid.UUID `json:"service_id"`
	StartTime  time.Time `json:"start_time" binding:"required"`
	EndTime    time.Time `json:"end_time" binding:"required"`
	PriceCents int64     `json:"price_cents"`
	Notes      string    `json:"notes"`
}

// POST /bookings
func (h *Handler) createBooking(c *gin.Context) {
	var in createBookingRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	// signed-in customers book for themselves
	if p, found := profileFrom(c); found && in.CustomerID == uuid.Nil {
		in.CustomerID = p.UserID
	}

	b, err := h.d.Bookings.Create(c.Request.Context(), service.CreateBookingInput{
		CustomerID: in.CustomerID,
		ProviderID: in.ProviderID,
		ServiceID:  in.ServiceID,
		StartTime:  in.StartTime,
		EndTime:    in.EndTime,
		PriceCents: in.PriceCents,
		Notes:      in.Notes,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, toBookingResponse(b))
}

type availabilityQuery struct {
	ProviderID string    `form:"provider_id" binding:"required,uuid"`
	Start      time.Time `form:"start" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
	End        time.Time `form:"end" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
}

// GET /availability?provider_id=&start=&end=
func (h *Handler) checkAvailability(c *gin.Context) {
	var q availabilityQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.d.Bookings.Check(c.Request.Context(), uuid.MustParse(q.ProviderID), q.Start, q.End)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}

// GET /bookings/:id
func (h *Handler) getBooking(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	b, err := h.d.Bookings.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, toBookingResponse(b))
}

type eventResponse struct {
	From   domain.BookingStatus `json:"from_status"`
	To     domain.BookingStatus `json:"to_status"`
	Actor  string               `json:"actor"`
	Reason string               `json:"reason,omitempty"`
	At     time.Time            `json:"at"`
}

// GET /bookings/:id/events
func (h *Handler) bookingEvents(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	events, err := h.d.Bookings.History(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, eventResponse{From: ev.FromStatus, To: ev.ToStatus, Actor: ev.Actor, Reason: ev.Reason.String, At: ev.At})
	}
	ok(c, http.StatusOK, out)
}

type upcomingQuery struct {
	ProviderID  string `form:"provider_id" binding:"omitempty,uuid"`
	CustomerID  string `form:"customer_id" binding:"omitempty,uuid"`
	WithinHours int    `form:"within_hours" binding:"omitempty,gt=0,lte=720"`
}

// GET /bookings/upcoming?provider_id=|customer_id=&within_hours=
func (h *Handler) upcomingBookings(c *gin.Context) {
	var q upcomingQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	if (q.ProviderID == "") == (q.CustomerID == "") {
		fail(c, domain.ErrValidation.With("exactly one of provider_id and customer_id is required"))
		return
	}
	var filter domain.UpcomingFilter
	if q.ProviderID != "" {
		id := uuid.MustParse(q.ProviderID)
		filter.ProviderID = &id
	} else {
		id := uuid.MustParse(q.CustomerID)
		filter.CustomerID = &id
	}
	if q.WithinHours == 0 {
		q.WithinHours = defaultWindowHours
	}

	bookings, err := h.d.Bookings.FindUpcoming(c.Request.Context(), filter, h.now(), q.WithinHours)
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]bookingResponse, 0, len(bookings))
	for i := range bookings {
		out = append(out, toBookingResponse(&bookings[i]))
	}
	ok(c, http.StatusOK, out)
}

type transitionRequest struct {
	Status domain.BookingStatus `json:"status" binding:"required"`
	Reason string               `json:"reason" binding:"max=500"`
	// Actor names an anonymous caller; a verified token takes precedence.
	Actor string `json:"actor"`
}

// POST /bookings/:id/transition
func (h *Handler) transitionBooking(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	var in transitionRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	actor := in.Actor
	if p, found := profileFrom(c); found {
		actor = p.Actor()
	}

	b, err := h.d.Bookings.Transition(c.Request.Context(), id, in.Status, actor, in.Reason)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, toBookingResponse(b))
}
