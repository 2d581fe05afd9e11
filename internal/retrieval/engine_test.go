package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arclight-ai/arclight/internal/overview"
	"github.com/arclight-ai/arclight/internal/storage"
	"github.com/arclight-ai/arclight/internal/storage/sqlite"
	"github.com/arclight-ai/arclight/pkg/types"
)

func newTestEngine(t *testing.T) (*Engine, *sqlite.Store, *overview.Service) {
	t.Helper()
	store, err := sqlite.New(":memory:", types.TierShared)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc := overview.NewService(store)
	return NewEngine(store, svc, 0), store, svc
}

func seedDocument(t *testing.T, store *sqlite.Store, docID, content string, embedding []float32) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.StoreDocument(ctx, &types.Document{
		ID: docID, TenantID: "tenant-a", Title: docID, Content: content,
	}))
	require.NoError(t, store.StoreChunks(ctx, []types.DocumentChunk{{
		ID: docID + "-c0", DocumentID: docID, TenantID: "tenant-a",
		ChunkIndex: 0, Content: content, Embedding: embedding,
	}}))
	require.NoError(t, store.EnableDocumentForAgent(ctx, "tenant-a", docID, "agent-1"))
}

func TestRetrieve_FusesAllThreeSources(t *testing.T) {
	engine, store, svc := newTestEngine(t)
	ctx := context.Background()

	seedDocument(t, store, "doc-1", "vector databases overview", []float32{1, 0, 0})
	require.NoError(t, store.StoreTurn(ctx, &types.ConversationTurn{
		ID: "t1", TenantID: "tenant-a", AgentID: "agent-1", UserID: "user-1",
		UserText: "how do we shard?", AssistantText: "by tenant",
		Embedding: []float32{0.9, 0.1, 0},
	}))
	_, err := svc.Mutate(ctx, overview.MutateRequest{
		UserID: "user-1", TenantID: "tenant-a",
		Section: types.SectionIdentity, Action: overview.ActionSet,
		Key: "name", Value: "Ada",
	})
	require.NoError(t, err)

	results, err := engine.Retrieve(ctx, Request{
		TenantID: "tenant-a", AgentID: "agent-1", UserID: "user-1",
		QueryEmbedding: []float32{1, 0, 0}, K: 10,
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	// The overview leads with pinned similarity, the rest rank by distance.
	assert.Equal(t, types.SourceOverview, results[0].Source)
	assert.Equal(t, 1.0, results[0].Similarity)
	assert.Contains(t, results[0].Content, "Ada")
	assert.Equal(t, types.SourceDocument, results[1].Source)
	assert.Equal(t, types.SourceConversation, results[2].Source)
	assert.GreaterOrEqual(t, results[1].Similarity, results[2].Similarity)
}

func TestRetrieve_MissingOverviewIsNotAnError(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	seedDocument(t, store, "doc-1", "content", []float32{1, 0, 0})

	results, err := engine.Retrieve(context.Background(), Request{
		TenantID: "tenant-a", AgentID: "agent-1", UserID: "user-1",
		QueryEmbedding: []float32{1, 0, 0}, K: 10,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, types.SourceDocument, results[0].Source)
}

func TestRetrieve_EmptySourcesYieldEmptyResult(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	results, err := engine.Retrieve(context.Background(), Request{
		TenantID: "tenant-a", AgentID: "agent-1", UserID: "user-1",
		QueryEmbedding: []float32{1, 0, 0}, K: 10,
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetrieve_KCapsDocAndConvOnly(t *testing.T) {
	engine, store, svc := newTestEngine(t)
	ctx := context.Background()

	for i, sim := range []float32{1, 0.8, 0.6} {
		seedDocument(t, store, "doc-"+string(rune('a'+i)), "content", []float32{sim, 1 - sim, 0})
	}
	_, err := svc.MergeAgentInsights(ctx, "user-1", "tenant-a",
		"agent-1", "Agent One", map[string]string{"k": "v"}, "")
	require.NoError(t, err)

	results, err := engine.Retrieve(ctx, Request{
		TenantID: "tenant-a", AgentID: "agent-1", UserID: "user-1",
		QueryEmbedding: []float32{1, 0, 0}, K: 2,
	})
	require.NoError(t, err)
	// K=2 chunks plus the overview on top.
	require.Len(t, results, 3)
	assert.Equal(t, types.SourceOverview, results[0].Source)
}

// failingContextStore simulates a tenant datastore whose similarity search
// is broken while everything else still works.
type failingContextStore struct {
	storage.ContextStore
	err error
}

func (f *failingContextStore) SearchDocumentChunks(ctx context.Context, q storage.ContextQuery) ([]types.RetrievalResult, error) {
	return nil, f.err
}

func TestRetrieve_NoFallbackOnSourceFailure(t *testing.T) {
	store, err := sqlite.New(":memory:", types.TierShared)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc := overview.NewService(store)
	broken := errors.New("index corrupted")
	engine := NewEngine(&failingContextStore{ContextStore: store, err: broken}, svc, 0)

	ctx := context.Background()
	require.NoError(t, store.StoreTurn(ctx, &types.ConversationTurn{
		ID: "t1", TenantID: "tenant-a", AgentID: "agent-1", UserID: "user-1",
		UserText: "hello", AssistantText: "hi", Embedding: []float32{1, 0, 0},
	}))

	// The conversation source would succeed, but the failed document source
	// must fail the whole retrieval. Degraded context misleads the agent
	// more than an explicit error does.
	_, err = engine.Retrieve(ctx, Request{
		TenantID: "tenant-a", AgentID: "agent-1", UserID: "user-1",
		QueryEmbedding: []float32{1, 0, 0}, K: 10,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, broken)
}

func TestRetrieve_InputValidation(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Retrieve(ctx, Request{
		AgentID: "agent-1", UserID: "user-1", QueryEmbedding: []float32{1},
	})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = engine.Retrieve(ctx, Request{
		TenantID: "tenant-a", AgentID: "agent-1", UserID: "user-1",
	})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
