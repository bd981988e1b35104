package service

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"vibewell/internal/database"
	"vibewell/internal/domain"
	"vibewell/internal/repo"
)

const certificateNumberAttempts = 3

type IssueCertificateInput struct {
	EnrollmentID uuid.UUID `validate:"required"`
	UserID       uuid.UUID `validate:"required"`
	CourseID     string    `validate:"required,max=255"`
}

type CertificateService interface {
	// Issue creates the single certificate for an enrollment.
	Issue(ctx context.Context, in IssueCertificateInput) (*domain.Certificate, error)
	GetByEnrollment(ctx context.Context, enrollmentID uuid.UUID) (*domain.Certificate, error)
}

type certificateService struct {
	db   *sqlx.DB
	repo repo.CertificateRepo
	log  logrus.FieldLogger
	now  func() time.Time
	rand func() int
}

func NewCertificateService(db *sqlx.DB, certificateRepo repo.CertificateRepo, log logrus.FieldLogger) CertificateService {
	return &certificateService{
		db:   db,
		repo: certificateRepo,
		log:  log.WithField("component", "certificate"),
		now:  time.Now,
		rand: func() int { return rand.IntN(1000) },
	}
}

func (s *certificateService) Issue(ctx context.Context, in IssueCertificateInput) (*domain.Certificate, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	var cert *domain.Certificate
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		e, err := s.repo.FindEnrollmentForUpdate(ctx, tx, in.EnrollmentID)
		if err != nil {
			return err
		}
		if e.UserID != in.UserID || e.CourseID != in.CourseID {
			return domain.ErrValidation.With("enrollment does not belong to this user and course").WithRef(e.ID.String())
		}
		if e.CertificateIssued {
			return domain.ErrAlreadyIssued.WithRef(e.ID.String())
		}

		for attempt := 1; ; attempt++ {
			now := s.now().UTC()
			c := &domain.Certificate{
				ID:                uuid.New(),
				CertificateNumber: domain.CertificateNumber(now, s.rand(), e.CourseID),
				EnrollmentID:      e.ID,
				UserID:            e.UserID,
				CourseID:          e.CourseID,
				IssuedAt:          now,
			}
			err := s.repo.Insert(ctx, tx, c)
			if errors.Is(err, repo.ErrNumberTaken) && attempt < certificateNumberAttempts {
				s.log.WithField("certificate_number", c.CertificateNumber).Debug("certificate number collided, retrying")
				continue
			}
			if err != nil {
				return err
			}
			cert = c
			break
		}
		return s.repo.MarkEnrollmentIssued(ctx, tx, e.ID)
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"enrollment_id":      cert.EnrollmentID,
		"certificate_number": cert.CertificateNumber,
	}).Info("certificate issued")
	return cert, nil
}

func (s *certificateService) GetByEnrollment(ctx context.Context, enrollmentID uuid.UUID) (*domain.Certificate, error) {
	return s.repo.FindByEnrollment(ctx, enrollmentID)
}
