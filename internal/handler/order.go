package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"vibewell/internal/service"
)

type createOrderRequest struct {
	CustomerID  uuid.UUID `json:"customer_id"`
	AmountCents int64     `json:"amount_cents" binding:"required"`
	Currency    string    `json:"currency"`
}

// POST /orders
func (h *Handler) createOrder(c *gin.Context) {
	var in createOrderRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	if p, found := profileFrom(c); found && in.CustomerID == uuid.Nil {
		in.CustomerID = p.UserID
	}
	order, err := h.d.Orders.CreateOrder(c.Request.Context(), service.CreateOrderInput{
		CustomerID:  in.CustomerID,
		AmountCents: in.AmountCents,
		Currency:    in.Currency,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, order)
}

// GET /orders/:id
func (h *Handler) getOrder(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	order, err := h.d.Orders.GetOrder(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, order)
}
