package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"vibewell/internal/domain"
	"vibewell/internal/service"
)

type HealthChecker interface {
	Health(ctx context.Context) map[string]string
}

type Deps struct {
	Health       HealthChecker
	Bookings     service.BookingService
	Orders       service.OrderService
	Payments     service.PaymentService
	Reminders    service.ReminderService
	Certificates service.CertificateService

	ReminderToken     string
	SupabaseJWTSecret string
	AllowedOrigins    []string
	Log               logrus.FieldLogger
}

type Handler struct {
	d   Deps
	now func() time.Time
}

func NewRouter(d Deps) *gin.Engine {
	h := &Handler{d: d, now: time.Now}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     d.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Idempotency-Key", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(RequestID(d.Log))
	r.Use(AccessLog())

	r.GET("/health", h.health)

	// gateways authenticate themselves with signatures
	r.POST("/payments/webhook/:rail", h.webhook)
	r.POST("/reminders/run", RequireToken(d.ReminderToken), h.runReminders)

	api := r.Group("/", Authenticate(d.SupabaseJWTSecret))
	{
		api.GET("/availability", h.checkAvailability)

		api.POST("/bookings", h.createBooking)
		api.GET("/bookings/upcoming", h.upcomingBookings)
		api.GET("/bookings/:id", h.getBooking)
		api.GET("/bookings/:id/events", h.bookingEvents)
		api.POST("/bookings/:id/transition", h.transitionBooking)

		api.POST("/orders", h.createOrder)
		api.GET("/orders/:id", h.getOrder)

		api.POST("/payments/intent", h.initiatePayment)
		api.GET("/payments/:id", h.getPayment)

		api.POST("/certificates", h.issueCertificate)
		api.GET("/certificates/:enrollmentId", h.getCertificate)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, envelope{Error: &errorBody{Kind: domain.KindNotFound, Code: "ROUTE_NOT_FOUND", Message: "no such route"}})
	})
	return r
}

// GET /health
func (h *Handler) health(c *gin.Context) {
	stats := h.d.Health.Health(c.Request.Context())
	status := http.StatusOK
	if stats["status"] != "up" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"success": status == http.StatusOK, "data": stats})
}
