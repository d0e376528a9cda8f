package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/lineage-io/catalog/internal/catalog"
	"github.com/lineage-io/catalog/internal/config"
)

const pqUniqueViolation = "23505"

// CatalogStore implements catalog.Store on PostgreSQL.
//
// Every write runs in exactly one transaction:
//   - natural or content keys are upserted with ON CONFLICT, returning the surviving row id
//   - join rows are inserted with ON CONFLICT DO NOTHING
//   - current-version pointers are moved by the last statement, after their target exists
//
// Any failing statement rolls the whole transaction back.
type CatalogStore struct {
	conn   *Connection
	logger *slog.Logger
	now    func() time.Time
}

// Option configures optional CatalogStore behavior.
type Option func(*CatalogStore)

// querier is satisfied by both *sql.DB and *sql.Tx, so reads run inside or outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var _ catalog.Store = (*CatalogStore)(nil)

// WithLogger sets the store's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *CatalogStore) {
		s.logger = logger
	}
}

// WithClock overrides the time source used for created/updated timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *CatalogStore) {
		s.now = now
	}
}

// NewCatalogStore creates a PostgreSQL-backed catalog store.
// Returns ErrNoDatabaseConnection if conn is nil.
//
// The connection is managed by the caller; Close does not close it.
func NewCatalogStore(conn *Connection, opts ...Option) (*CatalogStore, error) {
	if conn == nil || conn.DB == nil {
		return nil, ErrNoDatabaseConnection
	}

	store := &CatalogStore{
		conn:   conn,
		logger: config.DefaultLogger(),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(store)
	}

	return store, nil
}

// HealthCheck verifies the database connection is healthy and ready to serve requests.
func (s *CatalogStore) HealthCheck(ctx context.Context) error {
	return s.conn.HealthCheck(ctx)
}

// Close is a no-op; the connection is closed by its owner.
func (s *CatalogStore) Close() error {
	return nil
}

func (s *CatalogStore) timestamp() time.Time {
	return s.now().UTC()
}

// inTx runs fn in a single transaction. Errors already classified by the catalog taxonomy pass
// through; everything else is wrapped in catalog.ErrPersistence.
func (s *CatalogStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return classify(op, fmt.Errorf("failed to begin transaction: %w", err))
	}

	defer func() {
		_ = tx.Rollback() // Safe to call even after commit
	}()

	if err := fn(tx); err != nil {
		return classify(op, err)
	}

	if err := tx.Commit(); err != nil {
		return classify(op, fmt.Errorf("failed to commit transaction: %w", err))
	}

	return nil
}

func classify(op string, err error) error {
	switch {
	case errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, catalog.ErrConflict),
		errors.Is(err, catalog.ErrValidation):
		return err
	case isDatabaseConnectionError(err):
		return fmt.Errorf("%w: %s: database connection lost: %w", catalog.ErrPersistence, op, err)
	default:
		return fmt.Errorf("%w: %s: %w", catalog.ErrPersistence, op, err)
	}
}

// isDatabaseConnectionError checks if an error indicates database connection failure.
// Uses PostgreSQL error codes (Class 08) and standard database/sql errors.
func isDatabaseConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return strings.HasPrefix(string(pqErr.Code), "08")
	}

	return errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error

	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

func nullIfEmpty(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func timePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}

	t := value.Time.UTC()

	return &t
}
