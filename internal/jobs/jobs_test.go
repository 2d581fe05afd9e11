package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arclight-ai/arclight/internal/embedding"
	"github.com/arclight-ai/arclight/internal/quota"
	"github.com/arclight-ai/arclight/internal/storage"
	"github.com/arclight-ai/arclight/internal/storage/sqlite"
	"github.com/arclight-ai/arclight/internal/tenant"
	"github.com/arclight-ai/arclight/pkg/types"
)

// borrowedStores exposes a shared store through the TenantStores interface
// without letting the router's handle cache close it.
type borrowedStores struct {
	store *sqlite.Store
}

func (b *borrowedStores) Quota() storage.QuotaStore        { return b.store }
func (b *borrowedStores) Overviews() storage.OverviewStore { return b.store }
func (b *borrowedStores) Context() storage.ContextStore    { return b.store }
func (b *borrowedStores) Close() error                     { return nil }

// testEnv wires one in-memory store as both the central datastore and the
// sole tenant's datastore, the way a single-node deployment runs.
type testEnv struct {
	store  *sqlite.Store
	router *tenant.Router
	ledger *quota.Ledger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.New(":memory:", types.TierShared)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	opener := func(dsn string, tier types.Tier) (storage.TenantStores, error) {
		return &borrowedStores{store: store}, nil
	}
	router, err := tenant.NewRouter(store, opener, 4)
	require.NoError(t, err)
	t.Cleanup(func() { router.Close() })

	require.NoError(t, store.PutTenant(ctx, &types.Tenant{
		ID: "tenant-a", Tier: types.TierShared,
		StorageEndpoint: "local", CredentialRef: "cred-a",
	}))
	require.NoError(t, store.PutCredential(ctx, &storage.Credential{
		Ref: "cred-a", DSN: "shared.db",
	}))

	resolver := func(ctx context.Context, tenantID string) (storage.QuotaStore, types.Tier, error) {
		cap, err := router.Resolve(ctx, tenantID)
		if err != nil {
			return nil, "", err
		}
		stores, err := router.OpenStores(cap)
		if err != nil {
			return nil, "", err
		}
		return stores.Quota(), cap.Tier, nil
	}
	ledger, err := quota.NewLedger(resolver, store)
	require.NoError(t, err)

	return &testEnv{store: store, router: router, ledger: ledger}
}

func noProgress(int, string, int) {}

func TestLearningHandler_MergesInsights(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Microsecond)
	for i, agent := range []string{"agent-1", "agent-2", "agent-1"} {
		require.NoError(t, env.store.StoreTurn(ctx, &types.ConversationTurn{
			ID: "turn-" + string(rune('a'+i)), TenantID: "tenant-a",
			AgentID: agent, UserID: "user-1",
			UserText: "question", AssistantText: "answer",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	handler := NewLearningHandler(env.router, 50)
	summary, err := handler.Handle(ctx, &types.Job{
		ID: "job-1", TenantID: "tenant-a", SubjectID: "user-1",
		Family: types.JobFamilyLearning,
	}, noProgress)
	require.NoError(t, err)
	assert.Contains(t, summary, "3 turns")

	doc, err := env.store.GetOverview(ctx, "user-1", "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, types.LearningCompleted, doc.LearningStatus)

	block := doc.Body.AgentInsights[learnerAgentID]
	assert.Equal(t, "3", block.Insights["conversation_count"])
	assert.Equal(t, "agent-1, agent-2", block.Insights["active_agents"])
	assert.NotEmpty(t, block.Insights["last_interaction"])
}

func TestLearningHandler_NoTurns(t *testing.T) {
	env := newTestEnv(t)

	handler := NewLearningHandler(env.router, 50)
	summary, err := handler.Handle(context.Background(), &types.Job{
		ID: "job-1", TenantID: "tenant-a", SubjectID: "user-1",
		Family: types.JobFamilyLearning,
	}, noProgress)
	require.NoError(t, err)
	assert.Contains(t, summary, "no conversations")

	doc, err := env.store.GetOverview(context.Background(), "user-1", "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, types.LearningCompleted, doc.LearningStatus)
}

func TestLearningHandler_UnknownTenant(t *testing.T) {
	env := newTestEnv(t)

	handler := NewLearningHandler(env.router, 50)
	_, err := handler.Handle(context.Background(), &types.Job{
		ID: "job-1", TenantID: "tenant-ghost", SubjectID: "user-1",
		Family: types.JobFamilyLearning,
	}, noProgress)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func newEmbedServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(struct {
			Embeddings [][]float32 `json:"embeddings"`
		}{Embeddings: [][]float32{{0.5, 0.5, 0}}})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestExtractionHandler_ChunksEmbedsAndMeters(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.store.StoreDocument(ctx, &types.Document{
		ID: "doc-1", TenantID: "tenant-a", Title: "runbook",
		Content: "Restart the service first. Then check the logs for errors.",
	}))

	server := newEmbedServer(t)
	provider := embedding.NewHTTPProvider(embedding.Config{BaseURL: server.URL})

	handler := NewExtractionHandler(env.router, env.ledger, provider)
	summary, err := handler.Handle(ctx, &types.Job{
		ID: "job-1", TenantID: "tenant-a", SubjectID: "doc-1",
		Family:   types.JobFamilyExtraction,
		Metadata: map[string]string{"agent_id": "agent-1"},
	}, noProgress)
	require.NoError(t, err)
	assert.Contains(t, summary, "1 chunks")

	// Chunks are stored, enabled for the agent and retrievable.
	results, err := env.store.SearchDocumentChunks(ctx, storage.ContextQuery{
		TenantID: "tenant-a", AgentID: "agent-1", Embedding: []float32{0.5, 0.5, 0}, K: 10,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Content, "Restart the service")

	// The embedding count landed on the ledger.
	usage, err := env.ledger.Check(ctx, "tenant-a", "doc-1", types.ResourceEmbeddingChunks)
	require.NoError(t, err)
	assert.Equal(t, int64(1), usage.Used)
}

func TestExtractionHandler_MissingDocument(t *testing.T) {
	env := newTestEnv(t)
	server := newEmbedServer(t)
	provider := embedding.NewHTTPProvider(embedding.Config{BaseURL: server.URL})

	handler := NewExtractionHandler(env.router, env.ledger, provider)
	_, err := handler.Handle(context.Background(), &types.Job{
		ID: "job-1", TenantID: "tenant-a", SubjectID: "doc-missing",
		Family: types.JobFamilyExtraction,
	}, noProgress)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// recordingHandler runs a scripted progress sequence for pool tests.
type recordingHandler struct {
	family types.JobFamily
	fail   bool
}

func (h *recordingHandler) Family() types.JobFamily { return h.family }

func (h *recordingHandler) Handle(ctx context.Context, job *types.Job, report ProgressFunc) (string, error) {
	report(10, "starting", 0)
	report(50, "halfway", 5)
	if h.fail {
		return "", errors.New("handler exploded")
	}
	report(100, "finishing", 10)
	return "all items processed", nil
}

func waitForTerminal(t *testing.T, store *sqlite.Store, id string) *types.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetJob(context.Background(), id)
		require.NoError(t, err)
		if job.Status.IsTerminal() {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal status")
	return nil
}

func TestPool_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	okID, err := env.store.Enqueue(ctx, &types.Job{
		TenantID: "tenant-a", SubjectID: "user-1", Family: types.JobFamilyLearning,
	})
	require.NoError(t, err)
	failID, err := env.store.Enqueue(ctx, &types.Job{
		TenantID: "tenant-a", SubjectID: "user-1", Family: types.JobFamilyExtraction,
	})
	require.NoError(t, err)

	pool := NewPool(env.store, 2, 100)
	pool.Register(&recordingHandler{family: types.JobFamilyLearning})
	pool.Register(&recordingHandler{family: types.JobFamilyExtraction, fail: true})

	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	okJob := waitForTerminal(t, env.store, okID)
	assert.Equal(t, types.JobCompleted, okJob.Status)
	assert.Equal(t, "all items processed", okJob.ResultSummary)
	assert.Equal(t, 100, okJob.ProgressPercent)
	require.NotNil(t, okJob.StartedAt)
	require.NotNil(t, okJob.CompletedAt)

	failJob := waitForTerminal(t, env.store, failID)
	assert.Equal(t, types.JobFailed, failJob.Status)
	assert.Equal(t, "handler exploded", failJob.Error)

	counts, err := env.store.CountByStatus(ctx, "tenant-a", "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, counts[types.JobCompleted])
	assert.Equal(t, 1, counts[types.JobFailed])

	cancel()
	require.NoError(t, <-done)
}

func TestPool_RequiresHandlers(t *testing.T) {
	env := newTestEnv(t)
	pool := NewPool(env.store, 1, 10)
	assert.Error(t, pool.Run(context.Background()))
}

func TestSweep_MarksStuckJobs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	stuckID, err := env.store.Enqueue(ctx, &types.Job{
		TenantID: "tenant-a", SubjectID: "user-1", Family: types.JobFamilyLearning,
	})
	require.NoError(t, err)
	_, err = env.store.ClaimNext(ctx, types.JobFamilyLearning)
	require.NoError(t, err)

	// Freshly claimed: a one-hour cutoff finds nothing.
	marked, err := Sweep(ctx, env.store, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, marked)

	// With a zero cutoff everything in_progress is abandoned.
	marked, err = Sweep(ctx, env.store, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, marked)

	job, err := env.store.GetJob(ctx, stuckID)
	require.NoError(t, err)
	assert.Equal(t, types.JobFailed, job.Status)
	assert.Contains(t, job.Error, "abandoned")
}
