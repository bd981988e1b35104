package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Certificate struct {
	ID                uuid.UUID `db:"id" json:"id"`
	CertificateNumber string    `db:"certificate_number" json:"certificate_number"`
	EnrollmentID      uuid.UUID `db:"enrollment_id" json:"enrollment_id"`
	UserID            uuid.UUID `db:"user_id" json:"user_id"`
	CourseID          string    `db:"course_id" json:"course_id"`
	IssuedAt          time.Time `db:"issued_at" json:"issued_at"`
}

type Enrollment struct {
	ID                uuid.UUID  `db:"id"`
	UserID            uuid.UUID  `db:"user_id"`
	CourseID          string     `db:"course_id"`
	CertificateIssued bool       `db:"certificate_issued"`
	CompletedAt       *time.Time `db:"completed_at"`
}

// CertificateNumber formats CERT-{8 lowest digits of epoch ms}-{3 digit random}-{last 4 of course id}.
// rnd is taken modulo 1000.
func CertificateNumber(now time.Time, rnd int, courseID string) string {
	ms := now.UnixMilli() % 100_000_000
	rnd = (rnd%1000 + 1000) % 1000
	suffix := courseID
	if r := []rune(courseID); len(r) > 4 {
		suffix = string(r[len(r)-4:])
	}
	return fmt.Sprintf("CERT-%08d-%03d-%s", ms, rnd, suffix)
}
