package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"vibewell/internal/domain"
	"vibewell/internal/service"
)

type initiatePaymentRequest struct {
	BookingID   *uuid.UUID        `json:"booking_id"`
	OrderID     *uuid.UUID        `json:"order_id"`
	AmountCents int64             `json:"amount_cents" binding:"required"`
	Currency    string            `json:"currency"`
	Rail        domain.Rail       `json:"rail" binding:"required"`
	Metadata    map[string]string `json:"metadata"`
}

// POST /payments/intent
func (h *Handler) initiatePayment(c *gin.Context) {
	var in initiatePaymentRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.d.Payments.Initiate(c.Request.Context(), service.InitiatePaymentInput{
		BookingID:      in.BookingID,
		OrderID:        in.OrderID,
		AmountCents:    in.AmountCents,
		Currency:       in.Currency,
		Rail:           in.Rail,
		Metadata:       in.Metadata,
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, res)
}

// GET /payments/:id
func (h *Handler) getPayment(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	intent, err := h.d.Payments.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, intent)
}

// POST /payments/webhook/:rail
func (h *Handler) webhook(c *gin.Context) {
	rail := domain.Rail(c.Param("rail"))
	if !rail.Valid() {
		fail(c, domain.ErrValidation.With("unknown rail %q", rail))
		return
	}
	payload, err := c.GetRawData()
	if err != nil {
		badRequest(c, err)
		return
	}

	intent, err := h.d.Payments.HandleWebhook(c.Request.Context(), rail, payload, c.Request.Header)
	if err != nil {
		fail(c, err)
		return
	}
	if intent == nil {
		ok(c, http.StatusOK, gin.H{"received": true, "reconciled": false})
		return
	}
	ok(c, http.StatusOK, gin.H{"received": true, "reconciled": true, "status": intent.Status})
}
