// Package quota tracks per-tenant, per-owner resource consumption against
// tier-derived limits. Counters are period scoped and live on the tenant's
// own datastore; limits come from the control plane through a small
// read-through cache. Enforcement is advisory: increments always succeed,
// callers decide what exceeding a limit means.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/arclight-ai/arclight/internal/storage"
	"github.com/arclight-ai/arclight/pkg/types"
)

// StoreResolver maps a tenant ID to its quota store and tier. The worker
// wires this to the tenant router so each call uses fresh capabilities.
type StoreResolver func(ctx context.Context, tenantID string) (storage.QuotaStore, types.Tier, error)

type limitKey struct {
	tier     types.Tier
	resource types.Resource
}

// Ledger meters resource usage. Tier limits are cached read-through; the
// counter rows themselves are never cached, every increment is a single
// atomic statement on the tenant's store.
type Ledger struct {
	resolve StoreResolver
	control storage.ControlPlaneStore
	limits  *lru.Cache[limitKey, int64]
}

// NewLedger creates a Ledger over the given resolver and control plane.
func NewLedger(resolve StoreResolver, control storage.ControlPlaneStore) (*Ledger, error) {
	if resolve == nil || control == nil {
		return nil, fmt.Errorf("quota: resolver and control store are required")
	}

	limits, err := lru.New[limitKey, int64](64)
	if err != nil {
		return nil, fmt.Errorf("quota: failed to create limit cache: %w", err)
	}
	return &Ledger{resolve: resolve, control: control, limits: limits}, nil
}

// PeriodStart normalizes a timestamp to its billing period start, the first
// instant of the month in UTC.
func PeriodStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// EnsurePeriodCounter creates the counter row for the period if absent,
// snapshotting the tier's current limit onto it. Concurrent creators
// converge on a single row; an existing row's limit is left untouched.
func (l *Ledger) EnsurePeriodCounter(ctx context.Context, tenantID, ownerID string, resource types.Resource, periodStart time.Time) error {
	store, tier, err := l.resolve(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("quota: failed to resolve tenant %s: %w", tenantID, err)
	}

	limit, err := l.tierLimit(ctx, tier, resource)
	if err != nil {
		return err
	}

	return store.EnsureCounter(ctx, &types.UsageCounter{
		TenantID:    tenantID,
		OwnerID:     ownerID,
		Resource:    resource,
		PeriodStart: PeriodStart(periodStart),
		Used:        0,
		Limit:       limit,
	})
}

// Increment atomically adds amount to the current period's counter and
// returns the post-increment used and limit. The counter row is created on
// first use. The increment always succeeds past the limit; exceeding is the
// caller's signal, not the ledger's veto.
func (l *Ledger) Increment(ctx context.Context, tenantID, ownerID string, resource types.Resource, amount int64) (used, limit int64, err error) {
	if !types.IsValidResource(string(resource)) {
		return 0, 0, fmt.Errorf("%w: unknown resource %q", storage.ErrInvalidInput, resource)
	}

	store, _, err := l.resolve(ctx, tenantID)
	if err != nil {
		return 0, 0, fmt.Errorf("quota: failed to resolve tenant %s: %w", tenantID, err)
	}

	period := PeriodStart(time.Now())
	used, limit, err = store.Increment(ctx, tenantID, ownerID, resource, period, amount)
	if errors.Is(err, storage.ErrNotFound) {
		if err := l.EnsurePeriodCounter(ctx, tenantID, ownerID, resource, period); err != nil {
			return 0, 0, err
		}
		used, limit, err = store.Increment(ctx, tenantID, ownerID, resource, period, amount)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("quota: failed to increment %s for %s/%s: %w", resource, tenantID, ownerID, err)
	}
	return used, limit, nil
}

// Check reads current usage for the period without mutating anything. A
// missing counter reads as zero usage against the tier's limit.
func (l *Ledger) Check(ctx context.Context, tenantID, ownerID string, resource types.Resource) (*types.Usage, error) {
	store, tier, err := l.resolve(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("quota: failed to resolve tenant %s: %w", tenantID, err)
	}

	period := PeriodStart(time.Now())
	counter, err := store.GetCounter(ctx, tenantID, ownerID, resource, period)
	if errors.Is(err, storage.ErrNotFound) {
		limit, err := l.tierLimit(ctx, tier, resource)
		if err != nil {
			return nil, err
		}
		return buildUsage(0, limit), nil
	}
	if err != nil {
		return nil, fmt.Errorf("quota: failed to read counter %s for %s/%s: %w", resource, tenantID, ownerID, err)
	}
	return buildUsage(counter.Used, counter.Limit), nil
}

// InvalidateTier drops cached limits for a tier so the next counter creation
// sees updated limits. Existing counters keep their snapshot for the period.
func (l *Ledger) InvalidateTier(tier types.Tier) {
	for _, key := range l.limits.Keys() {
		if key.tier == tier {
			l.limits.Remove(key)
		}
	}
}

// tierLimit reads a tier's limit through the cache. A tier with no limit
// row is unlimited.
func (l *Ledger) tierLimit(ctx context.Context, tier types.Tier, resource types.Resource) (int64, error) {
	key := limitKey{tier: tier, resource: resource}
	if limit, ok := l.limits.Get(key); ok {
		return limit, nil
	}

	limit, err := l.control.TierLimit(ctx, tier, resource)
	if errors.Is(err, storage.ErrNotFound) {
		log.Printf("WARNING: no limit configured for tier %s resource %s, treating as unlimited", tier, resource)
		limit = 0
	} else if err != nil {
		return 0, fmt.Errorf("quota: failed to read tier limit %s/%s: %w", tier, resource, err)
	}

	l.limits.Add(key, limit)
	return limit, nil
}

// buildUsage derives the reported usage view. Limit 0 is the unlimited
// sentinel.
func buildUsage(used, limit int64) *types.Usage {
	u := &types.Usage{Used: used, Limit: limit}
	if limit == 0 {
		u.Unlimited = true
		return u
	}
	u.Remaining = limit - used
	if u.Remaining < 0 {
		u.Remaining = 0
	}
	u.Percent = float64(used) / float64(limit) * 100
	return u
}
