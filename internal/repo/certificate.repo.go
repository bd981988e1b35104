package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"vibewell/internal/database"
	"vibewell/internal/domain"
)

// ErrNumberTaken is returned by Insert when the certificate number collides.
var ErrNumberTaken = errors.New("certificate number already taken")

type CertificateRepo interface {
	CreateEnrollment(ctx context.Context, e *domain.Enrollment) error
	FindEnrollmentForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.Enrollment, error)
	MarkEnrollmentIssued(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error
	Insert(ctx context.Context, tx *sqlx.Tx, c *domain.Certificate) error
	FindByEnrollment(ctx context.Context, enrollmentID uuid.UUID) (*domain.Certificate, error)
}

type certificateRepo struct {
	db *sqlx.DB
}

func NewCertificateRepo(db *sqlx.DB) CertificateRepo {
	return &certificateRepo{db: db}
}

func (r *certificateRepo) CreateEnrollment(ctx context.Context, e *domain.Enrollment) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO enrollments (id, user_id, course_id, certificate_issued, completed_at)
		VALUES (:id, :user_id, :course_id, :certificate_issued, :completed_at)`, e)
	if err != nil {
		return fmt.Errorf("insert enrollment: %w", err)
	}
	return nil
}

func (r *certificateRepo) FindEnrollmentForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.Enrollment, error) {
	var e domain.Enrollment
	err := tx.GetContext(ctx, &e, `
		SELECT id, user_id, course_id, certificate_issued, completed_at
		FROM enrollments WHERE id = $1 FOR UPDATE`, id)
	if database.IsNoRows(err) {
		return nil, domain.ErrEnrollmentNotFound.WithRef(id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("lock enrollment: %w", err)
	}
	return &e, nil
}

func (r *certificateRepo) MarkEnrollmentIssued(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error {
	_, err := tx.ExecContext(ctx, `UPDATE enrollments SET certificate_issued = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark enrollment issued: %w", err)
	}
	return nil
}

// Insert runs under a savepoint so a number collision leaves tx usable for a retry.
func (r *certificateRepo) Insert(ctx context.Context, tx *sqlx.Tx, c *domain.Certificate) error {
	if _, err := tx.ExecContext(ctx, `SAVEPOINT certificate_insert`); err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO certificates (id, certificate_number, enrollment_id, user_id, course_id, issued_at)
		VALUES (:id, :certificate_number, :enrollment_id, :user_id, :course_id, :issued_at)`, c)
	if err == nil {
		_, err = tx.ExecContext(ctx, `RELEASE SAVEPOINT certificate_insert`)
		return err
	}
	if _, rbErr := tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT certificate_insert`); rbErr != nil {
		return fmt.Errorf("rollback savepoint: %w", rbErr)
	}

	switch {
	case database.IsViolation(err, database.CodeUniqueViolation, "certificates_enrollment_unique"):
		return domain.ErrAlreadyIssued.WithRef(c.EnrollmentID.String()).Wrap(err)
	case database.IsViolation(err, database.CodeUniqueViolation, "certificates_number_unique"):
		return fmt.Errorf("%w: %s", ErrNumberTaken, c.CertificateNumber)
	}
	return fmt.Errorf("insert certificate: %w", err)
}

func (r *certificateRepo) FindByEnrollment(ctx context.Context, enrollmentID uuid.UUID) (*domain.Certificate, error) {
	var c domain.Certificate
	err := r.db.GetContext(ctx, &c, `
		SELECT id, certificate_number, enrollment_id, user_id, course_id, issued_at
		FROM certificates WHERE enrollment_id = $1`, enrollmentID)
	if database.IsNoRows(err) {
		return nil, domain.ErrCertificateNotFound.WithRef(enrollmentID.String())
	}
	if err != nil {
		return nil, fmt.Errorf("find certificate: %w", err)
	}
	return &c, nil
}
