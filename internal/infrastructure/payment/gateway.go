package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"vibewell/internal/domain"
)

// ErrIgnoredEvent marks a webhook that is authentic but carries no terminal
// payment outcome. Handlers acknowledge it without reconciling.
var ErrIgnoredEvent = errors.New("webhook event ignored")

// ErrInvalidSignature marks a webhook whose signature did not verify.
var ErrInvalidSignature = errors.New("webhook signature invalid")

type IntentRequest struct {
	AmountCents    int64
	Currency       string
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

type IntentResult struct {
	ExternalReference string
	// ClientSecret is set by card rails that confirm on the client.
	ClientSecret string
	// RedirectURL is set by hosted checkout rails.
	RedirectURL string
}

type WebhookEvent struct {
	ExternalReference string
	Outcome           domain.Outcome
}

// Gateway is one payment rail.
type Gateway interface {
	Rail() domain.Rail
	CreateIntent(ctx context.Context, req IntentRequest) (*IntentResult, error)
	// CheckStatus asks the gateway for the current outcome of a remote charge.
	CheckStatus(ctx context.Context, ref string) (domain.Outcome, error)
	// Cancel voids a remote charge that was never paid.
	Cancel(ctx context.Context, ref string) error
	// ParseWebhook verifies and decodes a callback body.
	ParseWebhook(payload []byte, header http.Header) (*WebhookEvent, error)
}

// Registry resolves a rail to its gateway.
type Registry map[domain.Rail]Gateway

func NewRegistry(gateways ...Gateway) Registry {
	r := make(Registry, len(gateways))
	for _, g := range gateways {
		if g != nil {
			r[g.Rail()] = g
		}
	}
	return r
}

func (r Registry) Get(rail domain.Rail) (Gateway, error) {
	g, ok := r[rail]
	if !ok {
		return nil, domain.ErrValidation.With("payment rail %q is not configured", rail)
	}
	return g, nil
}

type statusError struct {
	op     string
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.op, e.status, e.body)
}
