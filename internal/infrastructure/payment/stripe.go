package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"vibewell/internal/domain"
)

// StripeGateway is the card rail, backed by Stripe PaymentIntents.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
}

// NewStripeGateway builds a client with its own backend so the key is never
// read from the stripe package globals.
func NewStripeGateway(secretKey, webhookSecret string, httpClient *http.Client) *StripeGateway {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	backends := &stripe.Backends{
		API: stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			HTTPClient:        httpClient,
			MaxNetworkRetries: stripe.Int64(0),
		}),
	}
	api := &client.API{}
	api.Init(secretKey, backends)
	return &StripeGateway{api: api, webhookSecret: webhookSecret}
}

func (g *StripeGateway) Rail() domain.Rail { return domain.RailCard }

func (g *StripeGateway) CreateIntent(ctx context.Context, req IntentRequest) (*IntentResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountCents),
		Currency: stripe.String(req.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	params.Context = ctx

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe create payment intent: %w", err)
	}
	return &IntentResult{ExternalReference: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

func (g *StripeGateway) CheckStatus(ctx context.Context, ref string) (domain.Outcome, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.api.PaymentIntents.Get(ref, params)
	if err != nil {
		return "", fmt.Errorf("stripe get payment intent: %w", err)
	}
	return stripeOutcome(pi.Status), nil
}

func (g *StripeGateway) Cancel(ctx context.Context, ref string) error {
	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonAbandoned)),
	}
	params.Context = ctx
	if _, err := g.api.PaymentIntents.Cancel(ref, params); err != nil {
		return fmt.Errorf("stripe cancel payment intent: %w", err)
	}
	return nil
}

func (g *StripeGateway) ParseWebhook(payload []byte, header http.Header) (*WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, header.Get("Stripe-Signature"), g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	var outcome domain.Outcome
	switch event.Type {
	case "payment_intent.succeeded":
		outcome = domain.OutcomeSucceeded
	case "payment_intent.payment_failed":
		outcome = domain.OutcomeFailed
	case "payment_intent.canceled":
		outcome = domain.OutcomeCancelled
	default:
		return nil, fmt.Errorf("%w: stripe %s", ErrIgnoredEvent, event.Type)
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("decode stripe payment intent: %w", err)
	}
	return &WebhookEvent{ExternalReference: pi.ID, Outcome: outcome}, nil
}

func stripeOutcome(s stripe.PaymentIntentStatus) domain.Outcome {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return domain.OutcomeSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return domain.OutcomeCancelled
	}
	return domain.OutcomePending
}
