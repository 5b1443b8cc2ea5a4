// Package pg is the Postgres-backed store. Tenant isolation is enforced
// twice here: every query carries an explicit tenant_id predicate, and every
// transaction pins the row-level-security setting so a missed predicate still
// cannot cross tenants.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"tablestack.io/internal/order"
	"tablestack.io/internal/tenant"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"

	defaultOpTimeout = 5 * time.Second
)

type Store struct {
	db      *sql.DB
	timeout time.Duration
	notify  order.Notifier
}

// StoreOption configures the store.
type StoreOption func(*Store)

// WithTimeout bounds every store round-trip. Exceeding it surfaces
// order.ErrTimeout; the caller must re-read before retrying.
func WithTimeout(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithNotifier wires post-commit status notifications.
func WithNotifier(n order.Notifier) StoreOption {
	return func(s *Store) {
		if n != nil {
			s.notify = n
		}
	}
}

func Open(dsn string, opts ...StoreOption) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return NewStore(db, opts...), nil
}

// NewStore wraps an existing connection. Tests inject sqlmock here.
func NewStore(db *sql.DB, opts ...StoreOption) *Store {
	s := &Store{db: db, timeout: defaultOpTimeout, notify: order.NopNotifier{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// tenantTx begins a transaction with the tenant's RLS setting pinned for its
// duration. Requires an active tenant context; refuses to run without one.
func (s *Store) tenantTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, string, error) {
	tenantID, err := tenant.Required(ctx)
	if err != nil {
		return nil, "", err
	}
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, "", mapStoreErr(err)
	}
	if _, err := tx.ExecContext(ctx, `select set_config('app.tenant_id', $1, true)`, tenantID); err != nil {
		_ = tx.Rollback()
		return nil, "", mapStoreErr(err)
	}
	return tx, tenantID, nil
}

// opContext bounds one store operation.
func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// mapStoreErr normalizes driver errors into the domain taxonomy. Timeouts in
// particular must not be retried blind: the write may have landed.
func mapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", order.ErrTimeout, err)
	}
	return err
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
