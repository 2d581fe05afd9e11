package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/arclight-ai/arclight/internal/storage"
	"github.com/arclight-ai/arclight/pkg/types"
)

// GetTenant fetches a tenant row. Unknown tenants are ErrNotFound; there is
// no default tenant to fall back to.
func (s *Store) GetTenant(ctx context.Context, id string) (*types.Tenant, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: tenant ID is required", storage.ErrInvalidInput)
	}

	var t types.Tenant
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tier, storage_endpoint, credential_ref, created_at
		FROM tenants
		WHERE id = $1
	`, id).Scan(&t.ID, &t.Tier, &t.StorageEndpoint, &t.CredentialRef, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get tenant: %w", err)
	}
	return &t, nil
}

// PutTenant upserts a tenant row.
func (s *Store) PutTenant(ctx context.Context, t *types.Tenant) error {
	if t == nil {
		return storage.ErrInvalidInput
	}
	if t.ID == "" {
		return fmt.Errorf("%w: tenant ID is required", storage.ErrInvalidInput)
	}
	if !types.IsValidTier(string(t.Tier)) {
		return fmt.Errorf("%w: unknown tier %q", storage.ErrInvalidInput, t.Tier)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (id, tier, storage_endpoint, credential_ref, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			tier = EXCLUDED.tier,
			storage_endpoint = EXCLUDED.storage_endpoint,
			credential_ref = EXCLUDED.credential_ref
	`, t.ID, t.Tier, t.StorageEndpoint, t.CredentialRef, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: failed to put tenant: %w", err)
	}
	return nil
}

// GetCredential fetches a credential bundle by ref.
func (s *Store) GetCredential(ctx context.Context, ref string) (*storage.Credential, error) {
	if ref == "" {
		return nil, fmt.Errorf("%w: credential ref is required", storage.ErrInvalidInput)
	}

	var c storage.Credential
	err := s.db.QueryRowContext(ctx, `
		SELECT ref, dsn, rotated_at, revoked
		FROM tenant_credentials
		WHERE ref = $1
	`, ref).Scan(&c.Ref, &c.DSN, &c.RotatedAt, &c.Revoked)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get credential: %w", err)
	}
	return &c, nil
}

// PutCredential upserts a credential bundle, stamping rotated_at.
func (s *Store) PutCredential(ctx context.Context, c *storage.Credential) error {
	if c == nil {
		return storage.ErrInvalidInput
	}
	if c.Ref == "" || c.DSN == "" {
		return fmt.Errorf("%w: credential ref and dsn are required", storage.ErrInvalidInput)
	}
	if c.RotatedAt.IsZero() {
		c.RotatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenant_credentials (ref, dsn, rotated_at, revoked)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (ref) DO UPDATE SET
			dsn = EXCLUDED.dsn,
			rotated_at = EXCLUDED.rotated_at,
			revoked = EXCLUDED.revoked
	`, c.Ref, c.DSN, c.RotatedAt, c.Revoked)
	if err != nil {
		return fmt.Errorf("postgres: failed to put credential: %w", err)
	}
	return nil
}

// TierLimit returns the current limit for a tier/resource pair.
func (s *Store) TierLimit(ctx context.Context, tier types.Tier, resource types.Resource) (int64, error) {
	var limit int64
	err := s.db.QueryRowContext(ctx, `
		SELECT limit_amount FROM tier_limits WHERE tier = $1 AND resource = $2
	`, tier, resource).Scan(&limit)
	if err == sql.ErrNoRows {
		return 0, storage.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to get tier limit: %w", err)
	}
	return limit, nil
}

// SetTierLimit upserts a tier limit row.
func (s *Store) SetTierLimit(ctx context.Context, tier types.Tier, resource types.Resource, limit int64) error {
	if !types.IsValidTier(string(tier)) {
		return fmt.Errorf("%w: unknown tier %q", storage.ErrInvalidInput, tier)
	}
	if !types.IsValidResource(string(resource)) {
		return fmt.Errorf("%w: unknown resource %q", storage.ErrInvalidInput, resource)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tier_limits (tier, resource, limit_amount)
		VALUES ($1, $2, $3)
		ON CONFLICT (tier, resource) DO UPDATE SET limit_amount = EXCLUDED.limit_amount
	`, tier, resource, limit)
	if err != nil {
		return fmt.Errorf("postgres: failed to set tier limit: %w", err)
	}
	return nil
}
