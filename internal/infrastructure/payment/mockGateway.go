package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"vibewell/internal/domain"
)

// MockGateway is an in-memory rail for local simulation and tests. Remote
// charges stay pending until Settle is called.
type MockGateway struct {
	rail domain.Rail

	mu          sync.RWMutex
	charges     map[string]domain.Outcome
	idempotency map[string]string

	failNext bool
	delay    time.Duration
	calls    int
}

func NewMockGateway(rail domain.Rail) *MockGateway {
	return &MockGateway{
		rail:        rail,
		charges:     make(map[string]domain.Outcome),
		idempotency: make(map[string]string),
	}
}

func (g *MockGateway) Rail() domain.Rail { return g.rail }

func (g *MockGateway) CreateIntent(ctx context.Context, req IntentRequest) (*IntentResult, error) {
	g.mu.RLock()
	delay := g.delay
	g.mu.RUnlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++

	if g.failNext {
		g.failNext = false
		return nil, errors.New("mock gateway: connection refused")
	}

	// same key returns the same remote charge
	if req.IdempotencyKey != "" {
		if ref, ok := g.idempotency[req.IdempotencyKey]; ok {
			return &IntentResult{ExternalReference: ref, ClientSecret: ref + "_secret"}, nil
		}
	}

	ref := fmt.Sprintf("mock_%s_%s", g.rail, uuid.NewString())
	g.charges[ref] = domain.OutcomePending
	if req.IdempotencyKey != "" {
		g.idempotency[req.IdempotencyKey] = ref
	}
	return &IntentResult{ExternalReference: ref, ClientSecret: ref + "_secret"}, nil
}

func (g *MockGateway) CheckStatus(ctx context.Context, ref string) (domain.Outcome, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	outcome, ok := g.charges[ref]
	if !ok {
		return "", fmt.Errorf("mock gateway: no charge %q", ref)
	}
	return outcome, nil
}

// Cancel voids a pending charge. Settled charges cannot be cancelled.
func (g *MockGateway) Cancel(ctx context.Context, ref string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	outcome, ok := g.charges[ref]
	if !ok {
		return fmt.Errorf("mock gateway: no charge %q", ref)
	}
	if outcome != domain.OutcomePending {
		return fmt.Errorf("mock gateway: charge %q is %s", ref, outcome)
	}
	g.charges[ref] = domain.OutcomeCancelled
	return nil
}

type mockWebhook struct {
	Reference string         `json:"reference"`
	Outcome   domain.Outcome `json:"outcome"`
}

// ParseWebhook accepts {"reference": "...", "outcome": "..."} bodies.
func (g *MockGateway) ParseWebhook(payload []byte, _ http.Header) (*WebhookEvent, error) {
	var hook mockWebhook
	if err := json.Unmarshal(payload, &hook); err != nil {
		return nil, fmt.Errorf("decode mock webhook: %w", err)
	}
	if _, terminal := hook.Outcome.IntentStatus(); !terminal {
		return nil, fmt.Errorf("%w: mock outcome %q", ErrIgnoredEvent, hook.Outcome)
	}
	return &WebhookEvent{ExternalReference: hook.Reference, Outcome: hook.Outcome}, nil
}

// Settle records the remote outcome of ref, as the real gateway would after
// the customer pays or abandons.
func (g *MockGateway) Settle(ref string, outcome domain.Outcome) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.charges[ref] = outcome
}

// FailNext makes the next CreateIntent fail.
func (g *MockGateway) FailNext() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failNext = true
}

// SetDelay makes CreateIntent wait d before answering, like a slow network.
func (g *MockGateway) SetDelay(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.delay = d
}

// Calls reports how many times CreateIntent ran.
func (g *MockGateway) Calls() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.calls
}
