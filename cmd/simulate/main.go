package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"

	"vibewell/internal/database"
	"vibewell/internal/domain"
	"vibewell/internal/infrastructure/notify"
	"vibewell/internal/infrastructure/payment"
	"vibewell/internal/repo"
	"vibewell/internal/service"
	"vibewell/internal/worker"
)

type simConfig struct {
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	Contenders  int    `envconfig:"SIM_CONTENDERS" default:"10"`
}

type app struct {
	bookingRepo  repo.BookingRepo
	orderRepo    repo.OrderRepo
	paymentRepo  repo.PaymentRepo
	certRepo     repo.CertificateRepo
	bookings     service.BookingService
	orders       service.OrderService
	payments     service.PaymentService
	reminders    service.ReminderService
	certificates service.CertificateService
	card         *payment.MockGateway
	crypto       *payment.MockGateway
	log          *logrus.Logger
}

func main() {
	_ = godotenv.Load()
	var cfg simConfig
	if err := envconfig.Process("", &cfg); err != nil {
		logrus.WithError(err).Fatal("load config")
	}

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	ctx := context.Background()

	dbSvc, err := database.New(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.WithError(err).Fatal("connect database")
	}
	defer dbSvc.Close()
	if err := dbSvc.Migrate(ctx); err != nil {
		log.WithError(err).Fatal("migrate")
	}

	a := wire(dbSvc, log)
	a.slotRace(ctx, cfg.Contenders)
	a.webhookPayment(ctx)
	a.ghostPayment(ctx)
	a.reminderRun(ctx)
	a.certificateRace(ctx)
}

func wire(dbSvc database.Service, log *logrus.Logger) *app {
	db := dbSvc.DB()
	a := &app{
		bookingRepo: repo.NewBookingRepo(db),
		orderRepo:   repo.NewOrderRepo(db),
		paymentRepo: repo.NewPaymentRepo(db),
		certRepo:    repo.NewCertificateRepo(db),
		card:        payment.NewMockGateway(domain.RailCard),
		crypto:      payment.NewMockGateway(domain.RailCrypto),
		log:         log,
	}
	publisher := notify.NewLogPublisher(log)
	a.bookings = service.NewBookingService(db, a.bookingRepo, publisher, log)
	a.orders = service.NewOrderService(db, a.orderRepo, "usd", log)
	a.payments = service.NewPaymentService(db, a.paymentRepo, a.bookingRepo, a.orderRepo, a.bookings,
		payment.NewRegistry(a.card, a.crypto), publisher,
		service.PaymentConfig{DefaultCurrency: "usd", GatewayTimeout: 2 * time.Second}, log)
	a.reminders = service.NewReminderService(db, a.bookingRepo, publisher, 4, log)
	a.certificates = service.NewCertificateService(db, a.certRepo, log)
	return a
}

func header(title string) {
	fmt.Println("---------------------------------------------------")
	fmt.Println("---", title)
}

func nextSlot() time.Time {
	return time.Now().UTC().Truncate(time.Hour).Add(48 * time.Hour)
}

func (a *app) reserve(ctx context.Context, provider uuid.UUID, start time.Time) (*domain.Booking, error) {
	return a.bookings.Create(ctx, service.CreateBookingInput{
		CustomerID: uuid.New(),
		ProviderID: provider,
		ServiceID:  uuid.New(),
		StartTime:  start,
		EndTime:    start.Add(time.Hour),
		PriceCents: 6500,
	})
}

func (a *app) slotRace(ctx context.Context, n int) {
	header(fmt.Sprintf("%d customers race for one provider slot", n))
	provider := uuid.New()
	start := nextSlot()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := a.reserve(ctx, provider, start)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
				fmt.Printf("[%02d] RESERVED %s\n", i+1, b.ID)
			case errors.Is(err, domain.ErrSlotConflict):
				conflicts++
				fmt.Printf("[%02d] CONFLICT  %v\n", i+1, err)
			default:
				fmt.Printf("[%02d] ERROR     %v\n", i+1, err)
			}
		}()
	}
	wg.Wait()
	fmt.Printf("    -> reserved=%d conflicts=%d\n", winners, conflicts)
}

func (a *app) webhookPayment(ctx context.Context) {
	header("card payment confirmed by webhook, then redelivered")
	b, err := a.reserve(ctx, uuid.New(), nextSlot())
	if err != nil {
		fmt.Printf("reserve failed: %v\n", err)
		return
	}

	res, err := a.payments.Initiate(ctx, service.InitiatePaymentInput{BookingID: &b.ID, AmountCents: b.PriceCents, Rail: domain.RailCard})
	if err != nil {
		fmt.Printf("initiate failed: %v\n", err)
		return
	}
	ref := res.Intent.ExternalReference
	fmt.Printf("intent %s created, reference %s\n", res.Intent.ID, ref)

	a.card.Settle(ref, domain.OutcomeSucceeded)
	body := []byte(fmt.Sprintf(`{"reference":%q,"outcome":"succeeded"}`, ref))
	for attempt := 1; attempt <= 2; attempt++ {
		intent, err := a.payments.HandleWebhook(ctx, domain.RailCard, body, nil)
		if err != nil {
			fmt.Printf("delivery %d: %v\n", attempt, err)
			continue
		}
		fmt.Printf("delivery %d: intent %s\n", attempt, intent.Status)
	}

	fresh, err := a.bookings.Get(ctx, b.ID)
	if err == nil {
		fmt.Printf("    -> booking status: %s\n", fresh.Status)
	}
}

// ghostPayment drops the webhook so only the polling worker can settle the order.
func (a *app) ghostPayment(ctx context.Context) {
	header("crypto order paid but webhook lost, recovered by polling")
	order, err := a.orders.CreateOrder(ctx, service.CreateOrderInput{CustomerID: uuid.New(), AmountCents: 4200})
	if err != nil {
		fmt.Printf("create order failed: %v\n", err)
		return
	}

	a.crypto.FailNext()
	_, err = a.payments.Initiate(ctx, service.InitiatePaymentInput{OrderID: &order.ID, AmountCents: order.AmountCents, Rail: domain.RailCrypto})
	fmt.Printf("first initiate: %v\n", err)

	res, err := a.payments.Initiate(ctx, service.InitiatePaymentInput{OrderID: &order.ID, AmountCents: order.AmountCents, Rail: domain.RailCrypto})
	if err != nil {
		fmt.Printf("retry failed: %v\n", err)
		return
	}
	a.crypto.Settle(res.Intent.ExternalReference, domain.OutcomeSucceeded)

	a.printOrder(ctx, "before polling", order.ID)

	w := worker.NewReconciliationWorker(a.paymentRepo, payment.NewRegistry(a.card, a.crypto), a.payments,
		worker.ReconciliationConfig{Interval: time.Second, Grace: -time.Second, Batch: 50}, a.log)
	settled, err := w.Process(ctx)
	fmt.Printf("polling settled %d intent(s), err=%v\n", settled, err)

	a.printOrder(ctx, "after polling", order.ID)
}

func (a *app) printOrder(ctx context.Context, label string, id uuid.UUID) {
	o, err := a.orders.GetOrder(ctx, id)
	if err != nil {
		fmt.Printf("    -> %s: %v\n", label, err)
		return
	}
	fmt.Printf("    -> %s: %s\n", label, o.Status)
}

func (a *app) reminderRun(ctx context.Context) {
	header("reminder trigger runs twice in the same window")
	b, err := a.reserve(ctx, uuid.New(), time.Now().UTC().Add(3*time.Hour).Truncate(time.Minute))
	if err == nil {
		_, err = a.bookings.Transition(ctx, b.ID, domain.BookingConfirmed, "admin:simulator", "")
	}
	if err != nil {
		fmt.Printf("setup failed: %v\n", err)
		return
	}
	for run := 1; run <= 2; run++ {
		sum, err := a.reminders.Run(ctx, time.Now(), 24)
		fmt.Printf("run %d: %+v err=%v\n", run, sum, err)
	}
}

func (a *app) certificateRace(ctx context.Context) {
	header("five requests issue the same certificate")
	e := &domain.Enrollment{ID: uuid.New(), UserID: uuid.New(), CourseID: "mindful-breathing-0420"}
	if err := a.certRepo.CreateEnrollment(ctx, e); err != nil {
		fmt.Printf("enroll failed: %v\n", err)
		return
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := a.certificates.Issue(ctx, service.IssueCertificateInput{EnrollmentID: e.ID, UserID: e.UserID, CourseID: e.CourseID})
			if err != nil {
				fmt.Printf("[%d] %v\n", i+1, err)
				return
			}
			fmt.Printf("[%d] ISSUED %s\n", i+1, c.CertificateNumber)
		}()
	}
	wg.Wait()
}
