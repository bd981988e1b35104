package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"vibewell/internal/domain"
)

func TestStripe_ParseWebhook(t *testing.T) {
	const secret = "whsec_test"
	g := NewStripeGateway("sk_test", secret, nil)

	signed := func(eventType string) ([]byte, http.Header) {
		payload := []byte(`{"id":"evt_1","object":"event","type":"` + eventType + `","data":{"object":{"id":"pi_123","object":"payment_intent","status":"succeeded"}}}`)
		sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: secret, Timestamp: time.Now()})
		h := http.Header{}
		h.Set("Stripe-Signature", sp.Header)
		return sp.Payload, h
	}

	payload, h := signed("payment_intent.succeeded")
	ev, err := g.ParseWebhook(payload, h)
	require.NoError(t, err)
	assert.Equal(t, &WebhookEvent{ExternalReference: "pi_123", Outcome: domain.OutcomeSucceeded}, ev)

	payload, h = signed("payment_intent.payment_failed")
	ev, err = g.ParseWebhook(payload, h)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailed, ev.Outcome)

	payload, h = signed("charge.refunded")
	_, err = g.ParseWebhook(payload, h)
	assert.True(t, errors.Is(err, ErrIgnoredEvent))

	h.Set("Stripe-Signature", "t=1,v1=deadbeef")
	_, err = g.ParseWebhook(payload, h)
	assert.True(t, errors.Is(err, ErrInvalidSignature))
}

func TestStripeOutcome(t *testing.T) {
	assert.Equal(t, domain.OutcomeSucceeded, stripeOutcome(stripe.PaymentIntentStatusSucceeded))
	assert.Equal(t, domain.OutcomeCancelled, stripeOutcome(stripe.PaymentIntentStatusCanceled))
	assert.Equal(t, domain.OutcomePending, stripeOutcome(stripe.PaymentIntentStatusProcessing))
	assert.Equal(t, domain.OutcomePending, stripeOutcome(stripe.PaymentIntentStatusRequiresPaymentMethod))
}

func TestCoinbase_CreateAndCheck(t *testing.T) {
	var got coinbaseChargeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "cb_key", r.Header.Get("X-CC-Api-Key"))
		assert.Equal(t, coinbaseAPIVersion, r.Header.Get("X-CC-Version"))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/charges":
			body, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(body, &got))
			_, _ = w.Write([]byte(`{"data":{"id":"c-1","code":"ABCD1234","hosted_url":"https://commerce.coinbase.com/charges/ABCD1234","timeline":[{"status":"NEW"}]}}`))
		case r.Method == http.MethodPost && r.URL.Path == "/charges/ABCD1234/cancel":
			_, _ = w.Write([]byte(`{"data":{"code":"ABCD1234","timeline":[{"status":"NEW"},{"status":"CANCELED"}]}}`))
		case r.Method == http.MethodGet && r.URL.Path == "/charges/ABCD1234":
			_, _ = w.Write([]byte(`{"data":{"code":"ABCD1234","timeline":[{"status":"NEW"},{"status":"PENDING"},{"status":"COMPLETED"}]}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"type":"not_found"}}`))
		}
	}))
	defer srv.Close()

	g := NewCoinbaseGateway(srv.URL+"/", "cb_key", "", "", srv.Client())
	res, err := g.CreateIntent(context.Background(), IntentRequest{AmountCents: 5005, Currency: "usd", Metadata: map[string]string{"booking_id": "b-1"}})
	require.NoError(t, err)
	assert.Equal(t, "ABCD1234", res.ExternalReference)
	assert.Equal(t, "https://commerce.coinbase.com/charges/ABCD1234", res.RedirectURL)
	assert.Equal(t, coinbaseMoney{Amount: "50.05", Currency: "USD"}, got.LocalPrice)
	assert.Equal(t, "b-1", got.Metadata["booking_id"])

	outcome, err := g.CheckStatus(context.Background(), "ABCD1234")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSucceeded, outcome)

	_, err = g.CheckStatus(context.Background(), "MISSING")
	var se *statusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.status)

	require.NoError(t, g.Cancel(context.Background(), "ABCD1234"))
	assert.Error(t, g.Cancel(context.Background(), "MISSING"))
}

func TestCoinbase_ParseWebhook(t *testing.T) {
	const secret = "cb_whsec"
	g := NewCoinbaseGateway("https://api.commerce.coinbase.com", "k", secret, "", nil)

	sign := func(body []byte) http.Header {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		h := http.Header{}
		h.Set("X-CC-Webhook-Signature", hex.EncodeToString(mac.Sum(nil)))
		return h
	}

	body := []byte(`{"event":{"id":"e1","type":"charge:confirmed","data":{"code":"ABCD1234"}}}`)
	ev, err := g.ParseWebhook(body, sign(body))
	require.NoError(t, err)
	assert.Equal(t, &WebhookEvent{ExternalReference: "ABCD1234", Outcome: domain.OutcomeSucceeded}, ev)

	failed := []byte(`{"event":{"id":"e2","type":"charge:failed","data":{"code":"ABCD1234"}}}`)
	ev, err = g.ParseWebhook(failed, sign(failed))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailed, ev.Outcome)

	created := []byte(`{"event":{"id":"e3","type":"charge:created","data":{"code":"ABCD1234"}}}`)
	_, err = g.ParseWebhook(created, sign(created))
	assert.True(t, errors.Is(err, ErrIgnoredEvent))

	_, err = g.ParseWebhook(body, sign([]byte("tampered")))
	assert.True(t, errors.Is(err, ErrInvalidSignature))
}

func TestCoinbaseOutcome(t *testing.T) {
	tl := func(statuses ...string) coinbaseCharge {
		var c coinbaseCharge
		for _, s := range statuses {
			c.Timeline = append(c.Timeline, struct {
				Status string `json:"status"`
				Time   string `json:"time"`
			}{Status: s})
		}
		return c
	}
	assert.Equal(t, domain.OutcomePending, coinbaseOutcome(tl()))
	assert.Equal(t, domain.OutcomePending, coinbaseOutcome(tl("NEW", "PENDING")))
	assert.Equal(t, domain.OutcomeFailed, coinbaseOutcome(tl("NEW", "EXPIRED")))
	assert.Equal(t, domain.OutcomeSucceeded, coinbaseOutcome(tl("NEW", "RESOLVED")))
}

func TestFormatMinorUnits(t *testing.T) {
	assert.Equal(t, "50.00", formatMinorUnits(5000))
	assert.Equal(t, "0.05", formatMinorUnits(5))
	assert.Equal(t, "12.34", formatMinorUnits(1234))
}

func TestMockGateway(t *testing.T) {
	ctx := context.Background()
	g := NewMockGateway(domain.RailCard)

	a, err := g.CreateIntent(ctx, IntentRequest{AmountCents: 100, IdempotencyKey: "k1"})
	require.NoError(t, err)
	b, err := g.CreateIntent(ctx, IntentRequest{AmountCents: 100, IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.Equal(t, a.ExternalReference, b.ExternalReference)

	outcome, err := g.CheckStatus(ctx, a.ExternalReference)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomePending, outcome)

	g.Settle(a.ExternalReference, domain.OutcomeSucceeded)
	outcome, err = g.CheckStatus(ctx, a.ExternalReference)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSucceeded, outcome)
	assert.Error(t, g.Cancel(ctx, a.ExternalReference), "a paid charge stays paid")

	abandoned, err := g.CreateIntent(ctx, IntentRequest{AmountCents: 100})
	require.NoError(t, err)
	require.NoError(t, g.Cancel(ctx, abandoned.ExternalReference))
	outcome, err = g.CheckStatus(ctx, abandoned.ExternalReference)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCancelled, outcome)

	g.FailNext()
	_, err = g.CreateIntent(ctx, IntentRequest{AmountCents: 100})
	assert.Error(t, err)

	g.SetDelay(time.Second)
	tctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = g.CreateIntent(tctx, IntentRequest{AmountCents: 100})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(NewMockGateway(domain.RailCard), nil)
	_, err := r.Get(domain.RailCard)
	require.NoError(t, err)

	_, err = r.Get(domain.RailCrypto)
	assert.True(t, errors.Is(err, domain.ErrValidation))
}
