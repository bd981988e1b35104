package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Advisory lock keys. Session locks need a fixed key per job.
const (
	ReminderRunLockKey int64 = 0x5649_4245_0001
)

// TryAdvisoryLock takes a session-level advisory lock on a dedicated
// connection. When ok is false another session holds the lock and release is nil.
func TryAdvisoryLock(ctx context.Context, db *sqlx.DB, key int64) (release func(), ok bool, err error) {
	conn, err := db.Connx(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	if err := conn.GetContext(ctx, &ok, `SELECT pg_try_advisory_lock($1)`, key); err != nil {
		_ = conn.Close()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !ok {
		_ = conn.Close()
		return nil, false, nil
	}

	release = func() {
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, key)
		_ = conn.Close()
	}
	return release, true, nil
}
