package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arclight-ai/arclight/internal/storage"
	"github.com/arclight-ai/arclight/pkg/types"
)

// GetOverview fetches the overview document for (user, tenant).
func (s *Store) GetOverview(ctx context.Context, userID, tenantID string) (*types.OverviewDocument, error) {
	if userID == "" || tenantID == "" {
		return nil, fmt.Errorf("%w: user_id and tenant_id are required", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, tenant_id, version, body, learning_status, created_at, updated_at
		FROM overviews
		WHERE user_id = $1 AND tenant_id = $2
	`, userID, tenantID)

	doc, err := scanOverviewRow(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get overview: %w", err)
	}
	return doc, nil
}

// Mutate applies fn to the current document under a row lock. The stored
// state is snapshotted into overview_history before the new version is
// written, so every version transition is individually recoverable. A stale
// expectedVersion rejects the write with no side effects.
func (s *Store) Mutate(ctx context.Context, userID, tenantID string, expectedVersion *int, createIfMissing bool, actor, reason string, fn func(doc *types.OverviewDocument) error) (*types.OverviewDocument, error) {
	if userID == "" || tenantID == "" {
		return nil, fmt.Errorf("%w: user_id and tenant_id are required", storage.ErrInvalidInput)
	}
	if fn == nil {
		return nil, fmt.Errorf("%w: mutation function is required", storage.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to begin overview transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, user_id, tenant_id, version, body, learning_status, created_at, updated_at
		FROM overviews
		WHERE user_id = $1 AND tenant_id = $2
		FOR UPDATE
	`, userID, tenantID)

	doc, err := scanOverviewRow(row)
	existed := true
	switch {
	case err == sql.ErrNoRows:
		if !createIfMissing {
			return nil, storage.ErrNotFound
		}
		existed = false
		now := time.Now().UTC()
		doc = &types.OverviewDocument{
			ID:             uuid.NewString(),
			UserID:         userID,
			TenantID:       tenantID,
			Version:        0,
			LearningStatus: types.LearningIdle,
			CreatedAt:      now,
		}
	case err != nil:
		return nil, fmt.Errorf("postgres: failed to load overview for mutation: %w", err)
	}

	if expectedVersion != nil && *expectedVersion != doc.Version {
		return nil, &storage.ConflictError{CurrentVersion: doc.Version}
	}

	if existed {
		// Snapshot the pre-mutation state before anything changes.
		bodyJSON, err := json.Marshal(doc.Body)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to marshal overview snapshot: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO overview_history (overview_id, version, body, learning_status, actor, reason)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, doc.ID, doc.Version, string(bodyJSON), doc.LearningStatus,
			nullableString(actor), nullableString(reason))
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to write overview history: %w", err)
		}
	}

	if err := fn(doc); err != nil {
		return nil, err
	}

	doc.Version++
	doc.UpdatedAt = time.Now().UTC()

	bodyJSON, err := json.Marshal(doc.Body)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to marshal overview body: %w", err)
	}

	if existed {
		_, err = tx.ExecContext(ctx, `
			UPDATE overviews
			SET version = $1, body = $2, learning_status = $3, updated_at = $4
			WHERE id = $5
		`, doc.Version, string(bodyJSON), doc.LearningStatus, doc.UpdatedAt, doc.ID)
	} else {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO overviews (id, user_id, tenant_id, version, body, learning_status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, doc.ID, doc.UserID, doc.TenantID, doc.Version, string(bodyJSON),
			doc.LearningStatus, doc.CreatedAt, doc.UpdatedAt)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to store overview: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("postgres: failed to commit overview mutation: %w", err)
	}
	return doc, nil
}

// GetSnapshot fetches a historical version of an overview document. The
// current version lives in the overviews row; all prior versions are in
// overview_history.
func (s *Store) GetSnapshot(ctx context.Context, overviewID string, version int) (*types.OverviewDocument, error) {
	if overviewID == "" {
		return nil, fmt.Errorf("%w: overview ID is required", storage.ErrInvalidInput)
	}

	var doc types.OverviewDocument
	var bodyJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT h.overview_id, o.user_id, o.tenant_id, h.version, h.body, h.learning_status, h.created_at
		FROM overview_history h
		JOIN overviews o ON o.id = h.overview_id
		WHERE h.overview_id = $1 AND h.version = $2
	`, overviewID, version).Scan(
		&doc.ID, &doc.UserID, &doc.TenantID, &doc.Version,
		&bodyJSON, &doc.LearningStatus, &doc.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get overview snapshot: %w", err)
	}

	if err := json.Unmarshal([]byte(bodyJSON), &doc.Body); err != nil {
		return nil, fmt.Errorf("postgres: failed to unmarshal overview snapshot body: %w", err)
	}
	return &doc, nil
}

// scanOverviewRow scans one overviews row. The column order must match the
// SELECT lists above.
func scanOverviewRow(row rowScanner) (*types.OverviewDocument, error) {
	var doc types.OverviewDocument
	var bodyJSON string

	err := row.Scan(
		&doc.ID,
		&doc.UserID,
		&doc.TenantID,
		&doc.Version,
		&bodyJSON,
		&doc.LearningStatus,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(bodyJSON), &doc.Body); err != nil {
		return nil, fmt.Errorf("unmarshal overview body: %w", err)
	}
	return &doc, nil
}
