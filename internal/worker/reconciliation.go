package worker

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"vibewell/internal/domain"
	"vibewell/internal/infrastructure/payment"
)

// StaleIntentClaimer hands out intents still in created, least recently
// polled first, so intents that never settle do not hide newer ones.
type StaleIntentClaimer interface {
	ClaimStale(ctx context.Context, before time.Time, limit int) ([]domain.PaymentIntent, error)
}

// Reconciler applies a terminal outcome to an intent.
type Reconciler interface {
	Reconcile(ctx context.Context, rail domain.Rail, ref string, outcome domain.Outcome) (*domain.PaymentIntent, error)
}

type ReconciliationConfig struct {
	Interval time.Duration
	// Grace is how long an intent may stay created before it is polled.
	Grace time.Duration
	Batch int
	// IntentTTL is how long an unpaid intent may stay open before it is
	// cancelled on the gateway. Zero keeps intents open indefinitely.
	IntentTTL time.Duration
}

// ReconciliationWorker polls gateways for intents whose webhook never
// arrived and feeds their outcome into the coordinator.
type ReconciliationWorker struct {
	intents    StaleIntentClaimer
	gateways   payment.Registry
	reconciler Reconciler
	cfg        ReconciliationConfig
	log        logrus.FieldLogger
	now        func() time.Time
}

func NewReconciliationWorker(
	intents StaleIntentClaimer,
	gateways payment.Registry,
	reconciler Reconciler,
	cfg ReconciliationConfig,
	log logrus.FieldLogger,
) *ReconciliationWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 50
	}
	return &ReconciliationWorker{
		intents:    intents,
		gateways:   gateways,
		reconciler: reconciler,
		cfg:        cfg,
		log:        log.WithField("worker", "reconciliation"),
		now:        time.Now,
	}
}

func (w *ReconciliationWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.log.WithField("interval", w.cfg.Interval).Info("reconciliation worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info("reconciliation worker stopped")
			return
		case <-ticker.C:
			if _, err := w.Process(ctx); err != nil {
				w.log.WithError(err).Error("reconciliation pass failed")
			}
		}
	}
}

// Process runs one pass and returns how many intents reached a terminal state.
// Per-intent failures are logged and left for the next pass.
func (w *ReconciliationWorker) Process(ctx context.Context) (int, error) {
	stale, err := w.intents.ClaimStale(ctx, w.now().Add(-w.cfg.Grace), w.cfg.Batch)
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}
	w.log.WithField("count", len(stale)).Debug("polling stale intents")

	settled := 0
	for _, intent := range stale {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		logger := w.log.WithFields(logrus.Fields{
			"intent_id":          intent.ID,
			"rail":               intent.Rail,
			"external_reference": intent.ExternalReference,
		})

		gw, err := w.gateways.Get(intent.Rail)
		if err != nil {
			logger.WithError(err).Warn("no gateway for rail")
			continue
		}
		outcome, err := gw.CheckStatus(ctx, intent.ExternalReference)
		if err != nil {
			logger.WithError(err).Warn("check status failed")
			continue
		}
		if _, terminal := outcome.IntentStatus(); !terminal {
			if !w.expired(intent) {
				continue
			}
			if err := gw.Cancel(ctx, intent.ExternalReference); err != nil {
				// paid in the meantime or already gone; the next pass reads the new status
				logger.WithError(err).Warn("cancel expired intent failed")
				continue
			}
			logger.Info("cancelled unpaid intent past its ttl")
			outcome = domain.OutcomeCancelled
		}

		_, err = w.reconciler.Reconcile(ctx, intent.Rail, intent.ExternalReference, outcome)
		if errors.Is(err, domain.ErrAlreadyTerminal) {
			// a webhook won the race
			continue
		}
		if err != nil {
			logger.WithError(err).Warn("reconcile failed")
			continue
		}
		settled++
	}
	return settled, nil
}

func (w *ReconciliationWorker) expired(intent domain.PaymentIntent) bool {
	return w.cfg.IntentTTL > 0 && w.now().Sub(intent.CreatedAt) > w.cfg.IntentTTL
}
