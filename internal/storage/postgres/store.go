package postgres

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/arclight-ai/arclight/internal/storage"
	"github.com/arclight-ai/arclight/pkg/types"
)

// Store implements the storage interfaces (JobStore, QuotaStore,
// OverviewStore, ContextStore, ControlPlaneStore) over one PostgreSQL
// database. Which role a Store plays depends on where it points: the shared
// pool carries the control plane, the job queue and shared tenants' data;
// a dedicated store carries a single tenant's data.
type Store struct {
	db   *sql.DB
	tier types.Tier

	// pgvectorAvailable is true when the pgvector extension is present.
	pgvectorAvailable bool
}

// Ensure Store satisfies the storage interfaces at compile time.
var (
	_ storage.JobStore          = (*Store)(nil)
	_ storage.QuotaStore        = (*Store)(nil)
	_ storage.OverviewStore     = (*Store)(nil)
	_ storage.ContextStore      = (*Store)(nil)
	_ storage.ControlPlaneStore = (*Store)(nil)
	_ storage.TenantStores      = (*Store)(nil)
)

// New opens a PostgreSQL store for the given tier and applies the schema.
// The tier decides the similarity search strategy: shared stores never get
// an approximate index, dedicated stores require one.
func New(dsn string, tier types.Tier) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to ping database: %w", err)
	}

	s := &Store{db: db, tier: tier}

	if _, err := db.Exec(SchemaTenant); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to apply tenant schema: %w", err)
	}

	// The shared pool additionally hosts the control plane and job queue.
	if !tier.IsDedicated() {
		if _, err := db.Exec(SchemaControlPlane); err != nil {
			db.Close()
			return nil, fmt.Errorf("postgres: failed to apply control-plane schema: %w", err)
		}
	}

	// pgvector may be absent on some servers; similarity search then fails
	// loudly at query time rather than degrading silently.
	if _, err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		log.Printf("postgres: pgvector extension not available (similarity search disabled): %v", err)
	} else {
		s.pgvectorAvailable = true
		if _, err := db.Exec(MigrationVector); err != nil {
			db.Close()
			return nil, fmt.Errorf("postgres: failed to apply vector migration: %w", err)
		}
		if tier.IsDedicated() {
			if _, err := db.Exec(MigrationANNIndexes); err != nil {
				db.Close()
				return nil, fmt.Errorf("postgres: failed to create ANN indexes: %w", err)
			}
		}
	}

	return s, nil
}

// Tier returns the tier the store was opened for.
func (s *Store) Tier() types.Tier {
	return s.tier
}

// DB returns the underlying database handle for direct operations.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Quota returns the store's QuotaStore view.
func (s *Store) Quota() storage.QuotaStore { return s }

// Overviews returns the store's OverviewStore view.
func (s *Store) Overviews() storage.OverviewStore { return s }

// Context returns the store's ContextStore view.
func (s *Store) Context() storage.ContextStore { return s }

// Close releases the database connection pool.
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

// nullableTimePtr converts a *time.Time pointer to sql.NullTime (NULL when nil).
func nullableTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{Valid: false}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullableBytes converts a byte slice to sql.NullString (NULL when empty).
func nullableBytes(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: string(b), Valid: true}
}
