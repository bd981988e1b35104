package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"vibewell/internal/service"
)

type issueCertificateRequest struct {
	EnrollmentID uuid.UUID `json:"enrollment_id"`
	UserID       uuid.UUID `json:"user_id"`
	CourseID     string    `json:"course_id" binding:"required"`
}

// POST /certificates
func (h *Handler) issueCertificate(c *gin.Context) {
	var in issueCertificateRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	if p, found := profileFrom(c); found && in.UserID == uuid.Nil {
		in.UserID = p.UserID
	}
	cert, err := h.d.Certificates.Issue(c.Request.Context(), service.IssueCertificateInput{
		EnrollmentID: in.EnrollmentID,
		UserID:       in.UserID,
		CourseID:     in.CourseID,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, cert)
}

// GET /certificates/:enrollmentId
func (h *Handler) getCertificate(c *gin.Context) {
	id, valid := pathID(c, "enrollmentId")
	if !valid {
		return
	}
	cert, err := h.d.Certificates.GetByEnrollment(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, cert)
}
