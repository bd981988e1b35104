package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"vibewell/internal/domain"
)

// ActorCompletionSweeper is recorded on bookings completed by the sweeper.
const ActorCompletionSweeper = "system:completion-sweeper"

type EndedBookingFinder interface {
	FindEnded(ctx context.Context, before time.Time, limit int) ([]domain.Booking, error)
}

type Transitioner interface {
	Transition(ctx context.Context, id uuid.UUID, to domain.BookingStatus, actor, reason string) (*domain.Booking, error)
}

// CompletionWorker moves confirmed bookings whose slot has ended to COMPLETED.
type CompletionWorker struct {
	bookings EndedBookingFinder
	svc      Transitioner
	interval time.Duration
	batch    int
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewCompletionWorker(bookings EndedBookingFinder, svc Transitioner, interval time.Duration, log logrus.FieldLogger) *CompletionWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &CompletionWorker{
		bookings: bookings,
		svc:      svc,
		interval: interval,
		batch:    100,
		log:      log.WithField("worker", "completion"),
		now:      time.Now,
	}
}

func (w *CompletionWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.WithField("interval", w.interval).Info("completion worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info("completion worker stopped")
			return
		case <-ticker.C:
			if _, err := w.Process(ctx); err != nil {
				w.log.WithError(err).Error("completion pass failed")
			}
		}
	}
}

// Process completes one batch and returns how many bookings it moved.
func (w *CompletionWorker) Process(ctx context.Context) (int, error) {
	ended, err := w.bookings.FindEnded(ctx, w.now().UTC(), w.batch)
	if err != nil {
		return 0, err
	}

	done := 0
	for _, b := range ended {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		// losing to a concurrent cancel or no-show is expected
		if _, err := w.svc.Transition(ctx, b.ID, domain.BookingCompleted, ActorCompletionSweeper, ""); err != nil {
			w.log.WithError(err).WithField("booking_id", b.ID).Info("booking not completed")
			continue
		}
		done++
	}
	if done > 0 {
		w.log.WithField("count", done).Info("bookings completed")
	}
	return done, nil
}
