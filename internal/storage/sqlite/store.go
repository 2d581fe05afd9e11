package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/arclight-ai/arclight/internal/storage"
	"github.com/arclight-ai/arclight/pkg/types"
)

// Store implements the storage interfaces over a single SQLite database.
type Store struct {
	db   *sql.DB
	tier types.Tier
}

var (
	_ storage.JobStore          = (*Store)(nil)
	_ storage.QuotaStore        = (*Store)(nil)
	_ storage.OverviewStore     = (*Store)(nil)
	_ storage.ContextStore      = (*Store)(nil)
	_ storage.ControlPlaneStore = (*Store)(nil)
	_ storage.TenantStores      = (*Store)(nil)
)

// New opens a SQLite store and applies the schema. The connection pool is
// capped at a single connection: SQLite serializes writers anyway, and with
// an in-memory DSN each connection would otherwise see its own database.
// This cap is also what makes the single-statement job claim atomic here.
func New(dsn string, tier types.Tier) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to ping database: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to apply schema: %w", err)
	}

	return &Store{db: db, tier: tier}, nil
}

// Tier returns the tier the store was opened for.
func (s *Store) Tier() types.Tier {
	return s.tier
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Quota returns the store's QuotaStore view.
func (s *Store) Quota() storage.QuotaStore { return s }

// Overviews returns the store's OverviewStore view.
func (s *Store) Overviews() storage.OverviewStore { return s }

// Context returns the store's ContextStore view.
func (s *Store) Context() storage.ContextStore { return s }

// Close releases the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// nullableString converts a string to sql.NullString (NULL when empty).
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullableBytes converts a byte slice to sql.NullString (NULL when empty).
func nullableBytes(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: string(b), Valid: true}
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// utcNow returns the current time truncated to microseconds, which SQLite's
// text timestamp storage round-trips cleanly.
func utcNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
