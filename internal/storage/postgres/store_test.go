package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arclight-ai/arclight/internal/storage"
	"github.com/arclight-ai/arclight/pkg/types"
)

// setupTestStore connects to the PostgreSQL database specified in the
// POSTGRES_TEST_DSN environment variable. If POSTGRES_TEST_DSN is not set,
// tests are skipped.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set; skipping PostgreSQL integration tests")
	}

	store, err := New(dsn, types.TierShared)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPostgresJobQueue_ClaimAndComplete(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tenantID := "pgtest-" + uuid.NewString()
	id, err := store.Enqueue(ctx, &types.Job{
		TenantID:  tenantID,
		SubjectID: "user-1",
		Family:    types.JobFamilyLearning,
	})
	require.NoError(t, err)

	// Drain claims until our job surfaces; other tests may share the table.
	var job *types.Job
	for i := 0; i < 100; i++ {
		j, err := store.ClaimNext(ctx, types.JobFamilyLearning)
		require.NoError(t, err)
		if j == nil {
			break
		}
		if j.ID == id {
			job = j
			break
		}
		_, err = store.Complete(ctx, j.ID, false, "", "claimed by unrelated test drain")
		require.NoError(t, err)
	}
	require.NotNil(t, job, "enqueued job was never claimed")
	assert.Equal(t, types.JobInProgress, job.Status)

	ok, err := store.Complete(ctx, id, true, "done", "")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Complete(ctx, id, true, "again", "")
	require.NoError(t, err)
	assert.False(t, ok)

	counts, err := store.CountByStatus(ctx, tenantID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, counts[types.JobCompleted])
}

func TestPostgresOverview_VersionConflict(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	userID := "pgtest-" + uuid.NewString()
	doc, err := store.Mutate(ctx, userID, "tenant-pg", nil, true, "tester", "create",
		func(d *types.OverviewDocument) error {
			d.Body.Identity = map[string]string{"name": "Ada"}
			return nil
		})
	require.NoError(t, err)
	require.Equal(t, 1, doc.Version)

	stale := 0
	_, err = store.Mutate(ctx, userID, "tenant-pg", &stale, false, "tester", "stale",
		func(d *types.OverviewDocument) error { return nil })
	assert.ErrorIs(t, err, storage.ErrVersionConflict)
}

func TestPostgresQuota_AtomicIncrement(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tenantID := "pgtest-" + uuid.NewString()
	period := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.EnsureCounter(ctx, &types.UsageCounter{
		TenantID: tenantID, OwnerID: "user-1",
		Resource: types.ResourceTextMessages, PeriodStart: period, Limit: 100,
	}))

	for i := 1; i <= 3; i++ {
		used, limit, err := store.Increment(ctx, tenantID, "user-1",
			types.ResourceTextMessages, period, 5)
		require.NoError(t, err)
		assert.Equal(t, int64(i*5), used)
		assert.Equal(t, int64(100), limit)
	}
}

func TestPostgresContext_TenantIsolation(t *testing.T) {
	store := setupTestStore(t)
	if !store.pgvectorAvailable {
		t.Skip("pgvector extension not available; skipping similarity tests")
	}
	ctx := context.Background()

	tenantA := "pgtest-a-" + uuid.NewString()
	tenantB := "pgtest-b-" + uuid.NewString()

	embedding := make([]float32, 768)
	embedding[0] = 1

	for i, tenant := range []string{tenantA, tenantB} {
		docID := fmt.Sprintf("doc-%d-%s", i, uuid.NewString())
		require.NoError(t, store.StoreDocument(ctx, &types.Document{
			ID: docID, TenantID: tenant, Title: "t", Content: "content for " + tenant,
		}))
		require.NoError(t, store.StoreChunks(ctx, []types.DocumentChunk{{
			ID: uuid.NewString(), DocumentID: docID, TenantID: tenant,
			ChunkIndex: 0, Content: "content for " + tenant, Embedding: embedding,
		}}))
		require.NoError(t, store.EnableDocumentForAgent(ctx, tenant, docID, "agent-1"))
	}

	results, err := store.SearchDocumentChunks(ctx, storage.ContextQuery{
		TenantID: tenantA, AgentID: "agent-1", Embedding: embedding, K: 50,
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.NotContains(t, r.Content, tenantB)
	}
}
