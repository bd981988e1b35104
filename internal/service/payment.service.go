package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"vibewell/internal/database"
	"vibewell/internal/domain"
	"vibewell/internal/infrastructure/notify"
	"vibewell/internal/infrastructure/payment"
	"vibewell/internal/repo"
)

// ActorPaymentReconciler is recorded on booking transitions caused by payments.
const ActorPaymentReconciler = "system:payment-reconciler"

type InitiatePaymentInput struct {
	BookingID   *uuid.UUID
	OrderID     *uuid.UUID
	AmountCents int64       `validate:"gt=0"`
	Currency    string      `validate:"omitempty,len=3"`
	Rail        domain.Rail `validate:"required,oneof=card crypto"`
	Metadata    map[string]string
	// IdempotencyKey is forwarded to gateways that support it, so a caller
	// can safely retry after GatewayUnavailable.
	IdempotencyKey string `validate:"max=255"`
}

type InitiatePaymentResult struct {
	Intent       *domain.PaymentIntent `json:"intent"`
	ClientSecret string                `json:"client_secret,omitempty"`
	RedirectURL  string                `json:"redirect_url,omitempty"`
}

type PaymentService interface {
	Initiate(ctx context.Context, in InitiatePaymentInput) (*InitiatePaymentResult, error)
	// Reconcile applies a gateway outcome to the intent and its target in one transaction.
	Reconcile(ctx context.Context, rail domain.Rail, ref string, outcome domain.Outcome) (*domain.PaymentIntent, error)
	// HandleWebhook verifies a gateway callback and reconciles it. It returns a
	// nil intent for authentic events that carry no payment outcome.
	HandleWebhook(ctx context.Context, rail domain.Rail, payload []byte, header http.Header) (*domain.PaymentIntent, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.PaymentIntent, error)
}

type PaymentConfig struct {
	DefaultCurrency string
	GatewayTimeout  time.Duration
}

type paymentService struct {
	db          *sqlx.DB
	paymentRepo repo.PaymentRepo
	bookingRepo repo.BookingRepo
	orderRepo   repo.OrderRepo
	bookings    BookingService
	gateways    payment.Registry
	publisher   notify.Publisher
	cfg         PaymentConfig
	log         logrus.FieldLogger
	now         func() time.Time
}

func NewPaymentService(
	db *sqlx.DB,
	paymentRepo repo.PaymentRepo,
	bookingRepo repo.BookingRepo,
	orderRepo repo.OrderRepo,
	bookings BookingService,
	gateways payment.Registry,
	publisher notify.Publisher,
	cfg PaymentConfig,
	log logrus.FieldLogger,
) PaymentService {
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "usd"
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 10 * time.Second
	}
	return &paymentService{
		db:          db,
		paymentRepo: paymentRepo,
		bookingRepo: bookingRepo,
		orderRepo:   orderRepo,
		bookings:    bookings,
		gateways:    gateways,
		publisher:   publisher,
		cfg:         cfg,
		log:         log.WithField("component", "payment"),
		now:         time.Now,
	}
}

func (s *paymentService) Initiate(ctx context.Context, in InitiatePaymentInput) (*InitiatePaymentResult, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	target := domain.PaymentTarget{BookingID: in.BookingID, OrderID: in.OrderID}
	if !target.Valid() {
		return nil, domain.ErrValidation.With("exactly one of booking_id and order_id is required")
	}
	currency := strings.ToLower(in.Currency)
	if currency == "" {
		currency = s.cfg.DefaultCurrency
	}

	gw, err := s.gateways.Get(in.Rail)
	if err != nil {
		return nil, err
	}
	due, err := s.checkTarget(ctx, target)
	if err != nil {
		return nil, err
	}
	if due.currency == "" {
		due.currency = currency
	} else if in.Currency == "" {
		currency = due.currency
	}
	if in.AmountCents != due.amountCents || currency != due.currency {
		return nil, domain.ErrValidation.
			With("amount %d %s does not match the %d %s due", in.AmountCents, currency, due.amountCents, due.currency).
			WithRef(target.String())
	}
	active, err := s.paymentRepo.HasActive(ctx, s.db, target)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, domain.ErrActiveIntentExists.WithRef(target.String())
	}

	intentID := uuid.New()
	meta := make(map[string]string, len(in.Metadata)+2)
	for k, v := range in.Metadata {
		meta[k] = v
	}
	meta["intent_id"] = intentID.String()
	if target.BookingID != nil {
		meta["booking_id"] = target.BookingID.String()
	} else {
		meta["order_id"] = target.OrderID.String()
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()
	res, err := gw.CreateIntent(gwCtx, payment.IntentRequest{
		AmountCents:    in.AmountCents,
		Currency:       currency,
		Description:    "VibeWell " + target.String(),
		Metadata:       meta,
		IdempotencyKey: in.IdempotencyKey,
	})
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"rail":   in.Rail,
			"target": target.String(),
		}).Warn("gateway create intent failed")
		return nil, domain.ErrGatewayUnavailable.With("%s gateway did not create the charge", in.Rail).Wrap(err)
	}

	now := s.now().UTC()
	intent := &domain.PaymentIntent{
		ID:                intentID,
		AmountCents:       in.AmountCents,
		Currency:          currency,
		Rail:              in.Rail,
		ExternalReference: res.ExternalReference,
		Status:            domain.IntentCreated,
		Metadata:          domain.Metadata(meta),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if target.BookingID != nil {
		intent.BookingID = uuid.NullUUID{UUID: *target.BookingID, Valid: true}
	} else {
		intent.OrderID = uuid.NullUUID{UUID: *target.OrderID, Valid: true}
	}

	err = database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		return s.paymentRepo.CreateIntent(ctx, tx, intent)
	})
	if err != nil {
		// the remote charge exists but has no local row; it stays unpaid and expires on the gateway
		s.log.WithError(err).WithFields(logrus.Fields{
			"rail":               in.Rail,
			"external_reference": res.ExternalReference,
		}).Error("persist payment intent failed after gateway created it")
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"intent_id":          intent.ID,
		"rail":               intent.Rail,
		"external_reference": intent.ExternalReference,
		"amount_cents":       intent.AmountCents,
		"target":             target.String(),
	}).Info("payment intent created")

	return &InitiatePaymentResult{Intent: intent, ClientSecret: res.ClientSecret, RedirectURL: res.RedirectURL}, nil
}

// amountDue is what a target costs. currency is empty when the target does
// not carry one and the configured default applies.
type amountDue struct {
	amountCents int64
	currency    string
}

func (s *paymentService) checkTarget(ctx context.Context, target domain.PaymentTarget) (amountDue, error) {
	if target.BookingID != nil {
		b, err := s.bookingRepo.FindById(ctx, s.db, *target.BookingID)
		if err != nil {
			return amountDue{}, err
		}
		if b.Status != domain.BookingPending {
			return amountDue{}, domain.ErrTargetNotPending.With("booking is %s", b.Status).WithRef(b.ID.String())
		}
		return amountDue{amountCents: b.PriceCents}, nil
	}
	o, err := s.orderRepo.FindById(ctx, s.db, *target.OrderID)
	if err != nil {
		return amountDue{}, err
	}
	if o.Status != domain.OrderPending {
		return amountDue{}, domain.ErrTargetNotPending.With("order is %s", o.Status).WithRef(o.ID.String())
	}
	return amountDue{amountCents: o.AmountCents, currency: o.Currency}, nil
}

func (s *paymentService) Reconcile(ctx context.Context, rail domain.Rail, ref string, outcome domain.Outcome) (*domain.PaymentIntent, error) {
	if !rail.Valid() {
		return nil, domain.ErrValidation.With("unknown rail %q", rail)
	}
	if ref == "" {
		return nil, domain.ErrValidation.With("external reference is required")
	}
	status, terminal := outcome.IntentStatus()
	if !terminal {
		return nil, domain.ErrValidation.With("outcome %q is not terminal", outcome)
	}

	logger := s.log.WithFields(logrus.Fields{
		"rail":               rail,
		"external_reference": ref,
		"outcome":            outcome,
	})

	var (
		intent *domain.PaymentIntent
		ev     *domain.BookingEvent
	)
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		intent, err = s.paymentRepo.FindByReferenceForUpdate(ctx, tx, rail, ref)
		if err != nil {
			return err
		}
		if intent.Status.Terminal() {
			return domain.ErrAlreadyTerminal.With("payment intent is already %s", intent.Status).WithRef(ref)
		}
		if err := s.paymentRepo.UpdateStatus(ctx, tx, intent.ID, status); err != nil {
			return err
		}
		intent.Status = status

		if status != domain.IntentSucceeded {
			return nil
		}
		switch {
		case intent.BookingID.Valid:
			_, ev, err = s.bookings.TransitionTx(ctx, tx, intent.BookingID.UUID, domain.BookingConfirmed,
				ActorPaymentReconciler, "payment "+ref+" succeeded")
			if err != nil {
				return fmt.Errorf("confirm booking %s: %w", intent.BookingID.UUID, err)
			}
		case intent.OrderID.Valid:
			ok, err := s.orderRepo.MarkPaid(ctx, tx, intent.OrderID.UUID)
			if err != nil {
				return err
			}
			if !ok {
				return domain.ErrTargetNotPending.With("order is no longer pending").WithRef(intent.OrderID.UUID.String())
			}
		}
		return nil
	})
	if err != nil {
		switch domain.KindOf(err) {
		case domain.KindNotFound:
			logger.Warn("reconcile for unknown reference")
		case domain.KindConflict:
			logger.WithError(err).Info("reconcile rejected")
		default:
			logger.WithError(err).Error("reconcile rolled back")
		}
		return nil, err
	}

	intent.UpdatedAt = s.now().UTC()
	logger.WithField("intent_id", intent.ID).Info("payment reconciled")
	s.bookings.PublishTransition(ctx, ev)
	s.publishReconciled(ctx, intent)
	return intent, nil
}

func (s *paymentService) publishReconciled(ctx context.Context, intent *domain.PaymentIntent) {
	if s.publisher == nil {
		return
	}
	msg := notify.PaymentReconciled{
		Event:             notify.RoutingPaymentResult,
		IntentID:          intent.ID,
		Rail:              string(intent.Rail),
		ExternalReference: intent.ExternalReference,
		Status:            string(intent.Status),
		AmountCents:       intent.AmountCents,
		Currency:          intent.Currency,
		At:                intent.UpdatedAt,
	}
	if intent.BookingID.Valid {
		msg.BookingID = &intent.BookingID.UUID
	}
	if intent.OrderID.Valid {
		msg.OrderID = &intent.OrderID.UUID
	}
	if err := s.publisher.Publish(ctx, notify.RoutingPaymentResult, msg); err != nil {
		s.log.WithError(err).WithField("intent_id", intent.ID).Warn("publish payment result failed")
	}
}

func (s *paymentService) HandleWebhook(ctx context.Context, rail domain.Rail, payload []byte, header http.Header) (*domain.PaymentIntent, error) {
	gw, err := s.gateways.Get(rail)
	if err != nil {
		return nil, err
	}
	ev, err := gw.ParseWebhook(payload, header)
	switch {
	case errors.Is(err, payment.ErrIgnoredEvent):
		s.log.WithField("rail", rail).Debug(err.Error())
		return nil, nil
	case errors.Is(err, payment.ErrInvalidSignature):
		return nil, domain.ErrUnauthorized.With("webhook signature rejected").Wrap(err)
	case err != nil:
		return nil, domain.ErrValidation.With("malformed webhook payload").Wrap(err)
	}
	return s.Reconcile(ctx, rail, ev.ExternalReference, ev.Outcome)
}

func (s *paymentService) Get(ctx context.Context, id uuid.UUID) (*domain.PaymentIntent, error) {
	return s.paymentRepo.FindById(ctx, id)
}
