package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"vibewell/internal/domain"
)

const coinbaseAPIVersion = "2018-03-22"

// CoinbaseGateway is the crypto rail, backed by Coinbase Commerce charges.
type CoinbaseGateway struct {
	baseURL       string
	apiKey        string
	webhookSecret string
	redirectURL   string
	http          *http.Client
}

func NewCoinbaseGateway(baseURL, apiKey, webhookSecret, redirectURL string, httpClient *http.Client) *CoinbaseGateway {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &CoinbaseGateway{
		baseURL:       strings.TrimRight(baseURL, "/"),
		apiKey:        apiKey,
		webhookSecret: webhookSecret,
		redirectURL:   redirectURL,
		http:          httpClient,
	}
}

func (g *CoinbaseGateway) Rail() domain.Rail { return domain.RailCrypto }

type coinbaseMoney struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type coinbaseChargeRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	PricingType string            `json:"pricing_type"`
	LocalPrice  coinbaseMoney     `json:"local_price"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	RedirectURL string            `json:"redirect_url,omitempty"`
}

type coinbaseCharge struct {
	ID        string `json:"id"`
	Code      string `json:"code"`
	HostedURL string `json:"hosted_url"`
	Timeline  []struct {
		Status string `json:"status"`
		Time   string `json:"time"`
	} `json:"timeline"`
}

type coinbaseEnvelope struct {
	Data coinbaseCharge `json:"data"`
}

func (g *CoinbaseGateway) CreateIntent(ctx context.Context, req IntentRequest) (*IntentResult, error) {
	name := req.Description
	if name == "" {
		name = "VibeWell payment"
	}
	body, err := json.Marshal(coinbaseChargeRequest{
		Name:        name,
		Description: name,
		PricingType: "fixed_price",
		LocalPrice: coinbaseMoney{
			Amount:   formatMinorUnits(req.AmountCents),
			Currency: strings.ToUpper(req.Currency),
		},
		Metadata:    req.Metadata,
		RedirectURL: g.redirectURL,
	})
	if err != nil {
		return nil, err
	}

	var out coinbaseEnvelope
	if err := g.do(ctx, http.MethodPost, "/charges", body, &out); err != nil {
		return nil, fmt.Errorf("coinbase create charge: %w", err)
	}
	if out.Data.Code == "" {
		return nil, fmt.Errorf("coinbase create charge: response has no charge code")
	}
	return &IntentResult{ExternalReference: out.Data.Code, RedirectURL: out.Data.HostedURL}, nil
}

func (g *CoinbaseGateway) CheckStatus(ctx context.Context, ref string) (domain.Outcome, error) {
	var out coinbaseEnvelope
	if err := g.do(ctx, http.MethodGet, "/charges/"+url.PathEscape(ref), nil, &out); err != nil {
		return "", fmt.Errorf("coinbase get charge: %w", err)
	}
	return coinbaseOutcome(out.Data), nil
}

func (g *CoinbaseGateway) Cancel(ctx context.Context, ref string) error {
	var out coinbaseEnvelope
	if err := g.do(ctx, http.MethodPost, "/charges/"+url.PathEscape(ref)+"/cancel", nil, &out); err != nil {
		return fmt.Errorf("coinbase cancel charge: %w", err)
	}
	return nil
}

type coinbaseWebhook struct {
	Event struct {
		ID   string          `json:"id"`
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	} `json:"event"`
}

func (g *CoinbaseGateway) ParseWebhook(payload []byte, header http.Header) (*WebhookEvent, error) {
	if !g.validSignature(payload, header.Get("X-CC-Webhook-Signature")) {
		return nil, ErrInvalidSignature
	}

	var hook coinbaseWebhook
	if err := json.Unmarshal(payload, &hook); err != nil {
		return nil, fmt.Errorf("decode coinbase webhook: %w", err)
	}

	var outcome domain.Outcome
	switch hook.Event.Type {
	case "charge:confirmed", "charge:resolved":
		outcome = domain.OutcomeSucceeded
	case "charge:failed":
		outcome = domain.OutcomeFailed
	default:
		return nil, fmt.Errorf("%w: coinbase %s", ErrIgnoredEvent, hook.Event.Type)
	}

	var charge coinbaseCharge
	if err := json.Unmarshal(hook.Event.Data, &charge); err != nil {
		return nil, fmt.Errorf("decode coinbase charge: %w", err)
	}
	return &WebhookEvent{ExternalReference: charge.Code, Outcome: outcome}, nil
}

func (g *CoinbaseGateway) validSignature(payload []byte, signature string) bool {
	if g.webhookSecret == "" || signature == "" {
		return false
	}
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(g.webhookSecret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), want)
}

func (g *CoinbaseGateway) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("X-CC-Api-Key", g.apiKey)
	req.Header.Set("X-CC-Version", coinbaseAPIVersion)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := g.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return &statusError{op: method + " " + path, status: res.StatusCode, body: string(raw)}
	}
	return json.Unmarshal(raw, out)
}

// coinbaseOutcome reads the latest timeline entry.
func coinbaseOutcome(c coinbaseCharge) domain.Outcome {
	if len(c.Timeline) == 0 {
		return domain.OutcomePending
	}
	switch strings.ToUpper(c.Timeline[len(c.Timeline)-1].Status) {
	case "COMPLETED", "CONFIRMED", "RESOLVED":
		return domain.OutcomeSucceeded
	case "EXPIRED", "CANCELED", "CANCELLED":
		return domain.OutcomeFailed
	}
	return domain.OutcomePending
}

func formatMinorUnits(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	frac := strconv.FormatInt(cents%100, 10)
	if len(frac) < 2 {
		frac = "0" + frac
	}
	return sign + strconv.FormatInt(cents/100, 10) + "." + frac
}
