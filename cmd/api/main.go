package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"vibewell/internal/config"
	"vibewell/internal/database"
	"vibewell/internal/handler"
	"vibewell/internal/infrastructure/notify"
	"vibewell/internal/infrastructure/payment"
	"vibewell/internal/repo"
	"vibewell/internal/service"
	"vibewell/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	log := cfg.NewLogger()
	log.WithField("environment", cfg.Environment).Info("starting vibewell api")
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbSvc, err := database.New(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer dbSvc.Close()
	if err := dbSvc.Migrate(ctx); err != nil {
		log.WithError(err).Fatal("failed to apply schema")
	}
	db := dbSvc.DB()

	publisher, closePublisher := newPublisher(cfg, log)
	defer closePublisher()

	gateways := newGateways(cfg, log)

	bookingRepo := repo.NewBookingRepo(db)
	orderRepo := repo.NewOrderRepo(db)
	paymentRepo := repo.NewPaymentRepo(db)
	certificateRepo := repo.NewCertificateRepo(db)

	bookings := service.NewBookingService(db, bookingRepo, publisher, log)
	orders := service.NewOrderService(db, orderRepo, cfg.DefaultCurrency, log)
	payments := service.NewPaymentService(db, paymentRepo, bookingRepo, orderRepo, bookings, gateways, publisher,
		service.PaymentConfig{DefaultCurrency: cfg.DefaultCurrency, GatewayTimeout: cfg.GatewayTimeout}, log)
	reminders := service.NewReminderService(db, bookingRepo, publisher, cfg.ReminderWorkers, log)
	certificates := service.NewCertificateService(db, certificateRepo, log)

	var workers sync.WaitGroup
	reconciler := worker.NewReconciliationWorker(paymentRepo, gateways, payments, worker.ReconciliationConfig{
		Interval:  cfg.ReconcileInterval,
		Grace:     cfg.ReconcileGrace,
		Batch:     cfg.ReconcileBatch,
		IntentTTL: cfg.PaymentIntentTTL,
	}, log)
	completion := worker.NewCompletionWorker(bookingRepo, bookings, cfg.CompletionInterval, log)
	workers.Add(2)
	go func() { defer workers.Done(); reconciler.Run(ctx) }()
	go func() { defer workers.Done(); completion.Run(ctx) }()

	router := handler.NewRouter(handler.Deps{
		Health:            dbSvc,
		Bookings:          bookings,
		Orders:            orders,
		Payments:          payments,
		Reminders:         reminders,
		Certificates:      certificates,
		ReminderToken:     cfg.ReminderTriggerToken,
		SupabaseJWTSecret: cfg.SupabaseJWTSecret,
		AllowedOrigins:    cfg.CORSAllowedOrigins,
		Log:               log,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.Port).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("server is shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}
	workers.Wait()
	log.Info("server exited")
}

// newPublisher connects to RabbitMQ when configured and logs messages otherwise.
func newPublisher(cfg config.Config, log logrus.FieldLogger) (notify.Publisher, func()) {
	if cfg.RabbitURL == "" {
		log.Warn("RABBIT_URL not set, notifications are only logged")
		return notify.NewLogPublisher(log), func() {}
	}
	pub, err := notify.NewAMQPPublisher(cfg.RabbitURL, cfg.Exchange)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to rabbitmq")
	}
	log.WithField("exchange", cfg.Exchange).Info("publishing notifications to rabbitmq")
	return pub, func() {
		if err := pub.Close(); err != nil {
			log.WithError(err).Warn("close rabbitmq publisher")
		}
	}
}

// newGateways registers each rail whose credentials are present.
func newGateways(cfg config.Config, log logrus.FieldLogger) payment.Registry {
	httpClient := &http.Client{Timeout: cfg.GatewayTimeout}
	var gws []payment.Gateway
	if cfg.StripeSecretKey != "" {
		gws = append(gws, payment.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret, httpClient))
	} else {
		log.Warn("STRIPE_SECRET_KEY not set, card rail disabled")
	}
	if cfg.CoinbaseAPIKey != "" {
		gws = append(gws, payment.NewCoinbaseGateway(cfg.CoinbaseAPIURL, cfg.CoinbaseAPIKey, cfg.CoinbaseWebhookSecret, cfg.CoinbaseRedirectURL, httpClient))
	} else {
		log.Warn("COINBASE_API_KEY not set, crypto rail disabled")
	}
	return payment.NewRegistry(gws...)
}
