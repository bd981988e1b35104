// Package dbtest starts a throwaway Postgres for integration tests.
package dbtest

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"vibewell/internal/database"
)

const image = "postgres:16-alpine"

// Env is a migrated database shared by the tests of one package.
type Env struct {
	Service   database.Service
	container *postgres.PostgresContainer
}

// Start runs the container and applies the schema. It returns nil when no
// container provider is available, so callers can skip instead of fail.
func Start(ctx context.Context) (*Env, error) {
	if os.Getenv("VIBEWELL_SKIP_DB_TESTS") != "" {
		return nil, nil
	}
	if !providerHealthy() {
		return nil, nil
	}

	ctr, err := postgres.Run(ctx, image,
		postgres.WithDatabase("vibewell"),
		postgres.WithUsername("vibewell"),
		postgres.WithPassword("vibewell"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, err
	}

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = testcontainers.TerminateContainer(ctr)
		return nil, err
	}

	svc, err := database.New(ctx, dsn, Logger())
	if err != nil {
		_ = testcontainers.TerminateContainer(ctr)
		return nil, err
	}
	if err := svc.Migrate(ctx); err != nil {
		_ = svc.Close()
		_ = testcontainers.TerminateContainer(ctr)
		return nil, err
	}
	return &Env{Service: svc, container: ctr}, nil
}

// Stop closes the pool and removes the container.
func (e *Env) Stop() {
	if e == nil {
		return
	}
	_ = e.Service.Close()
	_ = testcontainers.TerminateContainer(e.container)
}

// DB returns the pool, skipping the test when the environment never started.
func (e *Env) DB(t testing.TB) *sqlx.DB {
	t.Helper()
	if e == nil {
		t.Skip("postgres container unavailable")
	}
	Reset(t, e.Service.DB())
	return e.Service.DB()
}

// Reset empties every table.
func Reset(t testing.TB, db *sqlx.DB) {
	t.Helper()
	_, err := db.Exec(`TRUNCATE certificates, enrollments, payment_intents, orders, booking_events, bookings`)
	if err != nil {
		t.Fatalf("reset tables: %v", err)
	}
}

// Logger returns a logger that discards output.
func Logger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func providerHealthy() (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	p, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		return false
	}
	defer p.Close()
	return p.Health(context.Background()) == nil
}
