package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/arclight-ai/arclight/internal/storage"
	"github.com/arclight-ai/arclight/pkg/types"
)

// EnsureCounter creates the counter row if absent. Concurrent creators
// converge on a single row via ON CONFLICT DO NOTHING.
func (s *Store) EnsureCounter(ctx context.Context, c *types.UsageCounter) error {
	if c == nil {
		return storage.ErrInvalidInput
	}
	if c.TenantID == "" || c.OwnerID == "" {
		return fmt.Errorf("%w: tenant_id and owner_id are required", storage.ErrInvalidInput)
	}
	if !types.IsValidResource(string(c.Resource)) {
		return fmt.Errorf("%w: unknown resource %q", storage.ErrInvalidInput, c.Resource)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_counters (tenant_id, owner_id, resource, period_start, used_amount, limit_amount)
		VALUES (?, ?, ?, ?, 0, ?)
		ON CONFLICT (tenant_id, owner_id, resource, period_start) DO NOTHING
	`, c.TenantID, c.OwnerID, c.Resource, c.PeriodStart.UTC(), c.Limit)
	if err != nil {
		return fmt.Errorf("sqlite: failed to ensure usage counter: %w", err)
	}
	return nil
}

// Increment atomically adds amount to the counter and returns the
// post-increment totals.
func (s *Store) Increment(ctx context.Context, tenantID, ownerID string, resource types.Resource, periodStart time.Time, amount int64) (int64, int64, error) {
	if tenantID == "" || ownerID == "" {
		return 0, 0, fmt.Errorf("%w: tenant_id and owner_id are required", storage.ErrInvalidInput)
	}
	if amount < 0 {
		return 0, 0, fmt.Errorf("%w: amount must be non-negative", storage.ErrInvalidInput)
	}

	var used, limit int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE usage_counters
		SET used_amount = used_amount + ?
		WHERE tenant_id = ? AND owner_id = ? AND resource = ? AND period_start = ?
		RETURNING used_amount, limit_amount
	`, amount, tenantID, ownerID, resource, periodStart.UTC()).Scan(&used, &limit)
	if err == sql.ErrNoRows {
		return 0, 0, storage.ErrNotFound
	}
	if err != nil {
		return 0, 0, fmt.Errorf("sqlite: failed to increment usage counter: %w", err)
	}
	return used, limit, nil
}

// GetCounter reads a counter row.
func (s *Store) GetCounter(ctx context.Context, tenantID, ownerID string, resource types.Resource, periodStart time.Time) (*types.UsageCounter, error) {
	if tenantID == "" || ownerID == "" {
		return nil, fmt.Errorf("%w: tenant_id and owner_id are required", storage.ErrInvalidInput)
	}

	c := &types.UsageCounter{
		TenantID:    tenantID,
		OwnerID:     ownerID,
		Resource:    resource,
		PeriodStart: periodStart.UTC(),
	}
	err := s.db.QueryRowContext(ctx, `
		SELECT used_amount, limit_amount
		FROM usage_counters
		WHERE tenant_id = ? AND owner_id = ? AND resource = ? AND period_start = ?
	`, tenantID, ownerID, resource, periodStart.UTC()).Scan(&c.Used, &c.Limit)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get usage counter: %w", err)
	}
	return c, nil
}
