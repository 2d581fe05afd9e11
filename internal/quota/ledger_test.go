package quota

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arclight-ai/arclight/internal/storage"
	"github.com/arclight-ai/arclight/internal/storage/sqlite"
	"github.com/arclight-ai/arclight/pkg/types"
)

func newTestLedger(t *testing.T, tier types.Tier) (*Ledger, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.New(":memory:", tier)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	resolver := func(ctx context.Context, tenantID string) (storage.QuotaStore, types.Tier, error) {
		return store, tier, nil
	}
	ledger, err := NewLedger(resolver, store)
	require.NoError(t, err)
	return ledger, store
}

func TestPeriodStart(t *testing.T) {
	ts := time.Date(2026, 8, 30, 15, 4, 5, 0, time.FixedZone("CEST", 2*3600))
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), PeriodStart(ts))
}

func TestIncrement_CreatesCounterWithTierLimit(t *testing.T) {
	ledger, store := newTestLedger(t, types.TierShared)
	ctx := context.Background()

	require.NoError(t, store.SetTierLimit(ctx, types.TierShared, types.ResourceTextMessages, 100))

	used, limit, err := ledger.Increment(ctx, "tenant-a", "user-1", types.ResourceTextMessages, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), used)
	assert.Equal(t, int64(100), limit)

	used, limit, err = ledger.Increment(ctx, "tenant-a", "user-1", types.ResourceTextMessages, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(7), used)
	assert.Equal(t, int64(100), limit)
}

func TestIncrement_UnknownResource(t *testing.T) {
	ledger, _ := newTestLedger(t, types.TierShared)

	_, _, err := ledger.Increment(context.Background(), "tenant-a", "user-1", "gpu_hours", 1)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestCheck_MissingCounterReadsAsZero(t *testing.T) {
	ledger, store := newTestLedger(t, types.TierShared)
	ctx := context.Background()

	require.NoError(t, store.SetTierLimit(ctx, types.TierShared, types.ResourceVoiceSeconds, 600))

	usage, err := ledger.Check(ctx, "tenant-a", "user-1", types.ResourceVoiceSeconds)
	require.NoError(t, err)
	assert.Equal(t, int64(0), usage.Used)
	assert.Equal(t, int64(600), usage.Limit)
	assert.Equal(t, int64(600), usage.Remaining)
	assert.False(t, usage.Unlimited)
	assert.False(t, usage.Exceeded())
}

func TestCheck_LimitZeroIsUnlimited(t *testing.T) {
	ledger, _ := newTestLedger(t, types.TierDedicatedPremium)
	ctx := context.Background()

	// No tier_limits row at all: unlimited, never exceeded.
	used, limit, err := ledger.Increment(ctx, "tenant-a", "user-1", types.ResourceEmbeddingChunks, 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), used)
	assert.Equal(t, int64(0), limit)

	usage, err := ledger.Check(ctx, "tenant-a", "user-1", types.ResourceEmbeddingChunks)
	require.NoError(t, err)
	assert.True(t, usage.Unlimited)
	assert.False(t, usage.Exceeded())
}

func TestCheck_Exceeded(t *testing.T) {
	ledger, store := newTestLedger(t, types.TierShared)
	ctx := context.Background()

	require.NoError(t, store.SetTierLimit(ctx, types.TierShared, types.ResourceTextMessages, 10))

	_, _, err := ledger.Increment(ctx, "tenant-a", "user-1", types.ResourceTextMessages, 12)
	require.NoError(t, err)

	usage, err := ledger.Check(ctx, "tenant-a", "user-1", types.ResourceTextMessages)
	require.NoError(t, err)
	assert.True(t, usage.Exceeded())
	assert.Equal(t, int64(0), usage.Remaining)
	assert.InDelta(t, 120.0, usage.Percent, 1e-9)
}

func TestInvalidateTier_RefreshesLimitSnapshot(t *testing.T) {
	ledger, store := newTestLedger(t, types.TierShared)
	ctx := context.Background()

	require.NoError(t, store.SetTierLimit(ctx, types.TierShared, types.ResourceTextMessages, 100))
	_, limit, err := ledger.Increment(ctx, "tenant-a", "user-1", types.ResourceTextMessages, 1)
	require.NoError(t, err)
	require.Equal(t, int64(100), limit)

	// Raise the tier limit. The cached value still serves until invalidated,
	// and existing counters keep their period snapshot either way.
	require.NoError(t, store.SetTierLimit(ctx, types.TierShared, types.ResourceTextMessages, 500))
	ledger.InvalidateTier(types.TierShared)

	// A different owner gets a fresh counter with the new limit.
	_, limit, err = ledger.Increment(ctx, "tenant-a", "user-2", types.ResourceTextMessages, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(500), limit)

	// The first owner's counter keeps the old snapshot for the period.
	_, limit, err = ledger.Increment(ctx, "tenant-a", "user-1", types.ResourceTextMessages, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(100), limit)
}
