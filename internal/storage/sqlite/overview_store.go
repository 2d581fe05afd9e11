package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

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
		WHERE user_id = ? AND tenant_id = ?
	`, userID, tenantID)

	doc, err := scanOverviewRow(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get overview: %w", err)
	}
	return doc, nil
}

// Mutate applies fn inside a transaction, snapshotting the stored state to
// history before writing version+1. SQLite's single-writer model stands in
// for the row lock the postgres backend takes.
func (s *Store) Mutate(ctx context.Context, userID, tenantID string, expectedVersion *int, createIfMissing bool, actor, reason string, fn func(doc *types.OverviewDocument) error) (*types.OverviewDocument, error) {
	if userID == "" || tenantID == "" {
		return nil, fmt.Errorf("%w: user_id and tenant_id are required", storage.ErrInvalidInput)
	}
	if fn == nil {
		return nil, fmt.Errorf("%w: mutation function is required", storage.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to begin overview transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, user_id, tenant_id, version, body, learning_status, created_at, updated_at
		FROM overviews
		WHERE user_id = ? AND tenant_id = ?
	`, userID, tenantID)

	doc, err := scanOverviewRow(row)
	existed := true
	switch {
	case err == sql.ErrNoRows:
		if !createIfMissing {
			return nil, storage.ErrNotFound
		}
		existed = false
		doc = &types.OverviewDocument{
			ID:             uuid.NewString(),
			UserID:         userID,
			TenantID:       tenantID,
			Version:        0,
			LearningStatus: types.LearningIdle,
			CreatedAt:      utcNow(),
		}
	case err != nil:
		return nil, fmt.Errorf("sqlite: failed to load overview for mutation: %w", err)
	}

	if expectedVersion != nil && *expectedVersion != doc.Version {
		return nil, &storage.ConflictError{CurrentVersion: doc.Version}
	}

	if existed {
		bodyJSON, err := json.Marshal(doc.Body)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to marshal overview snapshot: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO overview_history (overview_id, version, body, learning_status, actor, reason)
			VALUES (?, ?, ?, ?, ?, ?)
		`, doc.ID, doc.Version, string(bodyJSON), doc.LearningStatus,
			nullableString(actor), nullableString(reason))
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to write overview history: %w", err)
		}
	}

	if err := fn(doc); err != nil {
		return nil, err
	}

	doc.Version++
	doc.UpdatedAt = utcNow()

	bodyJSON, err := json.Marshal(doc.Body)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to marshal overview body: %w", err)
	}

	if existed {
		_, err = tx.ExecContext(ctx, `
			UPDATE overviews
			SET version = ?, body = ?, learning_status = ?, updated_at = ?
			WHERE id = ?
		`, doc.Version, string(bodyJSON), doc.LearningStatus, doc.UpdatedAt, doc.ID)
	} else {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO overviews (id, user_id, tenant_id, version, body, learning_status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, doc.ID, doc.UserID, doc.TenantID, doc.Version, string(bodyJSON),
			doc.LearningStatus, doc.CreatedAt, doc.UpdatedAt)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to store overview: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: failed to commit overview mutation: %w", err)
	}
	return doc, nil
}

// GetSnapshot fetches a historical version of an overview document.
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
		WHERE h.overview_id = ? AND h.version = ?
	`, overviewID, version).Scan(
		&doc.ID, &doc.UserID, &doc.TenantID, &doc.Version,
		&bodyJSON, &doc.LearningStatus, &doc.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get overview snapshot: %w", err)
	}

	if err := json.Unmarshal([]byte(bodyJSON), &doc.Body); err != nil {
		return nil, fmt.Errorf("sqlite: failed to unmarshal overview snapshot body: %w", err)
	}
	return &doc, nil
}

// scanOverviewRow scans one overviews row.
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
