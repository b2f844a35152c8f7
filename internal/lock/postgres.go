package lock

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/lib/pq"
)

// PostgresLocker holds a session-level advisory lock. Advisory locks belong
// to a database session, so the lock pins one connection from the pool for
// as long as it is held.
type PostgresLocker struct {
	db  *sql.DB
	key int64

	mu   sync.Mutex
	conn *sql.Conn
}

// NewPostgresLocker creates a locker for the advisory key derived from name.
func NewPostgresLocker(db *sql.DB, name string) *PostgresLocker {
	return &PostgresLocker{db: db, key: Key(name)}
}

// OpenPostgres opens a lib/pq connection pool for dsn and verifies it.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func (l *PostgresLocker) TryAcquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		return true, nil
	}

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}

	var ok bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.key).Scan(&ok); err != nil {
		conn.Close()
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

// Renew checks that the pinned session is still alive. A dead session means
// the server already dropped the lock.
func (l *PostgresLocker) Renew(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return ErrNotHeld
	}
	if err := l.conn.PingContext(ctx); err != nil {
		l.conn.Close()
		l.conn = nil
		return fmt.Errorf("%w: %v", ErrLockLost, err)
	}
	return nil
}

func (l *PostgresLocker) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return ErrNotHeld
	}
	conn := l.conn
	l.conn = nil
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.key); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
