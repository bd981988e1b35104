package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vibewell/internal/domain"
	"vibewell/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	reminderToken = "trigger-secret"
	jwtSecret     = "supabase-secret"
)

type fakeHealth struct{ status string }

func (f fakeHealth) Health(context.Context) map[string]string {
	return map[string]string{"status": f.status}
}

type fakeBookings struct {
	service.BookingService
	created    service.CreateBookingInput
	createErr  error
	transition struct {
		id     uuid.UUID
		to     domain.BookingStatus
		actor  string
		reason string
	}
	upcoming struct {
		filter domain.UpcomingFilter
		hours  int
	}
}

func (f *fakeBookings) Create(_ context.Context, in service.CreateBookingInput) (*domain.Booking, error) {
	f.created = in
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &domain.Booking{
		ID:         uuid.New(),
		CustomerID: in.CustomerID,
		Status:     domain.BookingPending,
		Notes:      sql.NullString{String: in.Notes, Valid: in.Notes != ""},
	}, nil
}

func (f *fakeBookings) Get(_ context.Context, id uuid.UUID) (*domain.Booking, error) {
	return nil, domain.ErrBookingNotFound.WithRef(id.String())
}

func (f *fakeBookings) Transition(_ context.Context, id uuid.UUID, to domain.BookingStatus, actor, reason string) (*domain.Booking, error) {
	f.transition.id, f.transition.to, f.transition.actor, f.transition.reason = id, to, actor, reason
	return &domain.Booking{ID: id, Status: to}, nil
}

func (f *fakeBookings) FindUpcoming(_ context.Context, filter domain.UpcomingFilter, _ time.Time, hours int) ([]domain.Booking, error) {
	f.upcoming.filter, f.upcoming.hours = filter, hours
	return []domain.Booking{{ID: uuid.New(), Status: domain.BookingConfirmed}}, nil
}

type fakePayments struct {
	service.PaymentService
	initiated   service.InitiatePaymentInput
	initiateErr error
	webhookErr  error
	webhookRail domain.Rail
}

func (f *fakePayments) Initiate(_ context.Context, in service.InitiatePaymentInput) (*service.InitiatePaymentResult, error) {
	f.initiated = in
	if f.initiateErr != nil {
		return nil, f.initiateErr
	}
	return &service.InitiatePaymentResult{Intent: &domain.PaymentIntent{ID: uuid.New(), Status: domain.IntentCreated}, ClientSecret: "cs_1"}, nil
}

func (f *fakePayments) HandleWebhook(_ context.Context, rail domain.Rail, _ []byte, _ http.Header) (*domain.PaymentIntent, error) {
	f.webhookRail = rail
	return nil, f.webhookErr
}

type fakeReminders struct {
	hours int
	err   error
}

func (f *fakeReminders) Run(_ context.Context, _ time.Time, hours int) (service.ReminderSummary, error) {
	f.hours = hours
	return service.ReminderSummary{Attempted: 2, Succeeded: 1, Failed: 1}, f.err
}

type fakeCertificates struct {
	service.CertificateService
	issued service.IssueCertificateInput
	err    error
}

func (f *fakeCertificates) Issue(_ context.Context, in service.IssueCertificateInput) (*domain.Certificate, error) {
	f.issued = in
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Certificate{ID: uuid.New(), EnrollmentID: in.EnrollmentID, CertificateNumber: "CERT-1"}, nil
}

type fixture struct {
	router    *gin.Engine
	bookings  *fakeBookings
	payments  *fakePayments
	reminders *fakeReminders
	certs     *fakeCertificates
}

func newFixture() *fixture {
	logger, _ := test.NewNullLogger()
	f := &fixture{
		bookings:  &fakeBookings{},
		payments:  &fakePayments{},
		reminders: &fakeReminders{},
		certs:     &fakeCertificates{},
	}
	f.router = NewRouter(Deps{
		Health:            fakeHealth{status: "up"},
		Bookings:          f.bookings,
		Payments:          f.payments,
		Reminders:         f.reminders,
		Certificates:      f.certs,
		ReminderToken:     reminderToken,
		SupabaseJWTSecret: jwtSecret,
		AllowedOrigins:    []string{"http://localhost:3000"},
		Log:               logger,
	})
	return f
}

func (f *fixture) do(method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

type errorResponse struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var res errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	return res
}

func signToken(t *testing.T, sub string, role string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":           sub,
		"aud":           "authenticated",
		"exp":           exp.Unix(),
		"email":         "Jane@Example.com",
		"user_metadata": map[string]any{"name": "Jane"},
		"app_metadata":  map[string]any{"role": role},
	})
	s, err := tok.SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return s
}

func TestHealth(t *testing.T) {
	f := newFixture()
	w := f.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusFor(domain.KindValidation))
	assert.Equal(t, http.StatusUnauthorized, StatusFor(domain.KindUnauthorized))
	assert.Equal(t, http.StatusNotFound, StatusFor(domain.KindNotFound))
	assert.Equal(t, http.StatusConflict, StatusFor(domain.KindConflict))
	assert.Equal(t, http.StatusConflict, StatusFor(domain.KindInvalidTransition))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(domain.KindGatewayUnavailable))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(domain.KindInternal))
}

func TestCreateBooking(t *testing.T) {
	f := newFixture()
	body := `{"customer_id":"` + uuid.NewString() + `","provider_id":"` + uuid.NewString() + `","service_id":"` + uuid.NewString() + `",
		"start_time":"2030-01-01T10:00:00Z","end_time":"2030-01-01T11:00:00Z","price_cents":5000,"notes":"first visit"}`

	w := f.do(http.MethodPost, "/bookings", body, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "first visit", f.bookings.created.Notes)
	assert.Equal(t, int64(5000), f.bookings.created.PriceCents)

	var res struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, "PENDING", res.Data["status"])
	assert.Equal(t, "first visit", res.Data["notes"])
}

func TestCreateBooking_SlotConflict(t *testing.T) {
	f := newFixture()
	other := uuid.New()
	f.bookings.createErr = domain.ErrSlotConflict.WithRef(other.String())

	w := f.do(http.MethodPost, "/bookings", `{"start_time":"2030-01-01T10:00:00Z","end_time":"2030-01-01T11:00:00Z"}`, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	res := decodeError(t, w)
	assert.False(t, res.Success)
	assert.Equal(t, domain.KindConflict, res.Error.Kind)
	assert.Equal(t, domain.ErrSlotConflict.Code, res.Error.Code)
	assert.Equal(t, other.String(), res.Error.Ref)
}

func TestCreateBooking_BadBody(t *testing.T) {
	f := newFixture()
	w := f.do(http.MethodPost, "/bookings", `{"start_time":"tomorrow"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, domain.KindValidation, decodeError(t, w).Error.Kind)
}

func TestBadRequest_HidesDecoderDetail(t *testing.T) {
	f := newFixture()
	cases := map[string]struct {
		path, body string
		want       string
	}{
		"wrong type":     {"/bookings", `{"start_time":"2030-03-01T10:00:00Z","end_time":"2030-03-01T11:00:00Z","price_cents":"x"}`, "price_cents has the wrong type"},
		"missing field":  {"/bookings", `{"start_time":"2030-03-01T10:00:00Z"}`, "end_time failed required"},
		"bad time":       {"/bookings", `{"start_time":"tomorrow","end_time":"2030-03-01T11:00:00Z"}`, "times must be RFC 3339"},
		"malformed json": {"/bookings", `{"start_time":`, "request body is not valid JSON"},
		"query rule":     {"/bookings/upcoming?provider_id=nope", "", "provider_id failed uuid"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			method := http.MethodPost
			if tc.body == "" {
				method = http.MethodGet
			}
			w := f.do(method, tc.path, tc.body, nil)
			require.Equal(t, http.StatusBadRequest, w.Code)
			msg := decodeError(t, w).Error.Message
			assert.Equal(t, tc.want, msg)
			assert.NotContains(t, msg, "Go struct")
			assert.NotContains(t, msg, "createBookingRequest")
		})
	}
}

func TestGetBooking(t *testing.T) {
	f := newFixture()

	w := f.do(http.MethodGet, "/bookings/not-a-uuid", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodGet, "/bookings/"+uuid.NewString(), "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, domain.ErrBookingNotFound.Code, decodeError(t, w).Error.Code)
}

func TestUpcomingBookings(t *testing.T) {
	f := newFixture()
	provider := uuid.New()

	w := f.do(http.MethodGet, "/bookings/upcoming?provider_id="+provider.String(), "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NotNil(t, f.bookings.upcoming.filter.ProviderID)
	assert.Equal(t, provider, *f.bookings.upcoming.filter.ProviderID)
	assert.Equal(t, defaultWindowHours, f.bookings.upcoming.hours)

	w = f.do(http.MethodGet, "/bookings/upcoming?customer_id="+uuid.NewString()+"&within_hours=2", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, f.bookings.upcoming.hours)

	w = f.do(http.MethodGet, "/bookings/upcoming", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodGet, "/bookings/upcoming?provider_id="+provider.String()+"&customer_id="+uuid.NewString(), "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTransition_ActorFromToken(t *testing.T) {
	f := newFixture()
	id := uuid.New()
	user := uuid.New()

	token := signToken(t, user.String(), "provider", time.Now().Add(time.Hour))
	w := f.do(http.MethodPost, "/bookings/"+id.String()+"/transition", `{"status":"CONFIRMED","actor":"ignored"}`,
		map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "provider:"+user.String(), f.bookings.transition.actor)
	assert.Equal(t, domain.BookingConfirmed, f.bookings.transition.to)

	w = f.do(http.MethodPost, "/bookings/"+id.String()+"/transition", `{"status":"CANCELLED","reason":"ill","actor":"admin:ops"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "admin:ops", f.bookings.transition.actor)
	assert.Equal(t, "ill", f.bookings.transition.reason)
}

func TestAuthenticate_RejectsBadTokens(t *testing.T) {
	f := newFixture()
	path := "/bookings/" + uuid.NewString() + "/transition"

	expired := signToken(t, uuid.NewString(), "admin", time.Now().Add(-time.Hour))
	w := f.do(http.MethodPost, path, `{"status":"CONFIRMED"}`, map[string]string{"Authorization": "Bearer " + expired})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	badSubject := signToken(t, "service-role", "admin", time.Now().Add(time.Hour))
	w = f.do(http.MethodPost, path, `{"status":"CONFIRMED"}`, map[string]string{"Authorization": "Bearer " + badSubject})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(http.MethodPost, path, `{"status":"CONFIRMED"}`, map[string]string{"Authorization": "Bearer not.a.jwt"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, domain.ErrUnauthorized.Code, decodeError(t, w).Error.Code)
}

func TestParseAccessToken(t *testing.T) {
	user := uuid.New()
	p, err := ParseAccessToken(signToken(t, user.String(), "", time.Now().Add(time.Hour)), []byte(jwtSecret))
	require.NoError(t, err)
	assert.Equal(t, user, p.UserID)
	assert.Equal(t, "jane@example.com", p.Email)
	assert.Equal(t, "Jane", p.FullName)
	assert.Equal(t, domain.RoleCustomer, p.Role)

	_, err = ParseAccessToken(signToken(t, user.String(), "", time.Now().Add(time.Hour)), []byte("other"))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestInitiatePayment(t *testing.T) {
	f := newFixture()
	booking := uuid.New()

	w := f.do(http.MethodPost, "/payments/intent", `{"booking_id":"`+booking.String()+`","amount_cents":5000,"rail":"card"}`,
		map[string]string{"Idempotency-Key": "abc-123"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.NotNil(t, f.payments.initiated.BookingID)
	assert.Equal(t, booking, *f.payments.initiated.BookingID)
	assert.Equal(t, "abc-123", f.payments.initiated.IdempotencyKey)
	assert.Contains(t, w.Body.String(), `"client_secret":"cs_1"`)

	f.payments.initiateErr = domain.ErrGatewayUnavailable.Wrap(context.DeadlineExceeded)
	w = f.do(http.MethodPost, "/payments/intent", `{"booking_id":"`+booking.String()+`","amount_cents":5000,"rail":"card"}`, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	res := decodeError(t, w)
	assert.Equal(t, domain.KindGatewayUnavailable, res.Error.Kind)
	assert.NotContains(t, w.Body.String(), "deadline", "causes stay out of responses")
}

func TestWebhook(t *testing.T) {
	f := newFixture()

	w := f.do(http.MethodPost, "/payments/webhook/crypto", `{}`, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.RailCrypto, f.payments.webhookRail)

	w = f.do(http.MethodPost, "/payments/webhook/paypal", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.payments.webhookErr = domain.ErrUnauthorized
	w = f.do(http.MethodPost, "/payments/webhook/card", `{}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	f.payments.webhookErr = domain.ErrAlreadyTerminal
	w = f.do(http.MethodPost, "/payments/webhook/card", `{}`, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	f.payments.webhookErr = domain.ErrUnknownReference
	w = f.do(http.MethodPost, "/payments/webhook/card", `{}`, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRunReminders(t *testing.T) {
	f := newFixture()

	w := f.do(http.MethodPost, "/reminders/run", `{"within_hours":6}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(http.MethodPost, "/reminders/run", `{"within_hours":6}`, map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	auth := map[string]string{"Authorization": "Bearer " + reminderToken}
	w = f.do(http.MethodPost, "/reminders/run", `{"within_hours":6}`, auth)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 6, f.reminders.hours)
	assert.Contains(t, w.Body.String(), `"failed":1`)

	w = f.do(http.MethodPost, "/reminders/run", "", auth)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, defaultWindowHours, f.reminders.hours)

	f.reminders.err = domain.ErrRunInProgress
	w = f.do(http.MethodPost, "/reminders/run", "", auth)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestIssueCertificate(t *testing.T) {
	f := newFixture()
	enrollment := uuid.New()
	user := uuid.New()

	token := signToken(t, user.String(), "", time.Now().Add(time.Hour))
	w := f.do(http.MethodPost, "/certificates", `{"enrollment_id":"`+enrollment.String()+`","course_id":"yoga-1"}`,
		map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, user, f.certs.issued.UserID)

	f.certs.err = domain.ErrAlreadyIssued
	w = f.do(http.MethodPost, "/certificates", `{"enrollment_id":"`+enrollment.String()+`","user_id":"`+user.String()+`","course_id":"yoga-1"}`, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestNoRoute(t *testing.T) {
	w := newFixture().do(http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
