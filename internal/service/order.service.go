package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"vibewell/internal/database"
	"vibewell/internal/domain"
	"vibewell/internal/repo"
)

type CreateOrderInput struct {
	CustomerID  uuid.UUID `validate:"required"`
	AmountCents int64     `validate:"gt=0"`
	Currency    string    `validate:"omitempty,len=3"`
}

type OrderService interface {
	CreateOrder(ctx context.Context, in CreateOrderInput) (*domain.Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
}

type orderService struct {
	db              *sqlx.DB
	orderRepo       repo.OrderRepo
	defaultCurrency string
	log             logrus.FieldLogger
	now             func() time.Time
}

func NewOrderService(db *sqlx.DB, orderRepo repo.OrderRepo, defaultCurrency string, log logrus.FieldLogger) OrderService {
	if defaultCurrency == "" {
		defaultCurrency = "usd"
	}
	return &orderService{
		db:              db,
		orderRepo:       orderRepo,
		defaultCurrency: defaultCurrency,
		log:             log.WithField("component", "order"),
		now:             time.Now,
	}
}

func (s *orderService) CreateOrder(ctx context.Context, in CreateOrderInput) (*domain.Order, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	currency := strings.ToLower(in.Currency)
	if currency == "" {
		currency = s.defaultCurrency
	}

	now := s.now().UTC()
	order := &domain.Order{
		ID:          uuid.New(),
		CustomerID:  in.CustomerID,
		AmountCents: in.AmountCents,
		Currency:    currency,
		Status:      domain.OrderPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		return s.orderRepo.CreateOrder(ctx, tx, order)
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"order_id":     order.ID,
		"amount_cents": order.AmountCents,
	}).Info("order created")
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return s.orderRepo.FindById(ctx, s.db, id)
}
