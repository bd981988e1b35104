package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

type runRemindersRequest struct {
	WithinHours int `json:"within_hours" binding:"omitempty,gt=0,lte=720"`
}

// POST /reminders/run
func (h *Handler) runReminders(c *gin.Context) {
	var in runRemindersRequest
	// an empty body runs the default window
	if err := c.ShouldBindJSON(&in); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err)
		return
	}
	if in.WithinHours == 0 {
		in.WithinHours = defaultWindowHours
	}

	sum, err := h.d.Reminders.Run(c.Request.Context(), h.now(), in.WithinHours)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, sum)
}
