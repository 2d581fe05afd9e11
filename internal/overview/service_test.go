package overview

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arclight-ai/arclight/internal/storage"
	"github.com/arclight-ai/arclight/internal/storage/sqlite"
	"github.com/arclight-ai/arclight/pkg/types"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	store, err := sqlite.New(":memory:", types.TierShared)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewService(store)
}

func TestMutate_SetOnMapSection(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	doc, err := svc.Mutate(ctx, MutateRequest{
		UserID: "user-1", TenantID: "tenant-a",
		Section: types.SectionIdentity, Action: ActionSet,
		Key: "role", Value: "staff engineer",
		Actor: "console", Reason: "onboarding",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Version)
	assert.Equal(t, "staff engineer", doc.Body.Identity["role"])

	doc, err = svc.Mutate(ctx, MutateRequest{
		UserID: "user-1", TenantID: "tenant-a",
		Section: types.SectionGoals, Action: ActionSet,
		Key: "q3", Value: "ship the migration",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, doc.Version)
	assert.Equal(t, "ship the migration", doc.Body.Goals["q3"])
	// Earlier section untouched.
	assert.Equal(t, "staff engineer", doc.Body.Identity["role"])
}

func TestMutate_RemoveFromMapSection(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Mutate(ctx, MutateRequest{
		UserID: "user-1", TenantID: "tenant-a",
		Section: types.SectionWorkingStyle, Action: ActionSet,
		Key: "hours", Value: "mornings",
	})
	require.NoError(t, err)

	doc, err := svc.Mutate(ctx, MutateRequest{
		UserID: "user-1", TenantID: "tenant-a",
		Section: types.SectionWorkingStyle, Action: ActionRemove, Key: "hours",
	})
	require.NoError(t, err)
	assert.NotContains(t, doc.Body.WorkingStyle, "hours")
}

func TestMutate_ImportantContextAppendRemove(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for _, v := range []string{"prefers async", "timezone UTC+2"} {
		_, err := svc.Mutate(ctx, MutateRequest{
			UserID: "user-1", TenantID: "tenant-a",
			Section: types.SectionImportantContext, Action: ActionAppend, Value: v,
		})
		require.NoError(t, err)
	}

	doc, err := svc.Mutate(ctx, MutateRequest{
		UserID: "user-1", TenantID: "tenant-a",
		Section: types.SectionImportantContext, Action: ActionRemove, Value: "prefers async",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"timezone UTC+2"}, doc.Body.ImportantContext)
}

func TestMutate_InvalidCombinations(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	// Append is a list operation, not a map one.
	_, err := svc.Mutate(ctx, MutateRequest{
		UserID: "user-1", TenantID: "tenant-a",
		Section: types.SectionIdentity, Action: ActionAppend, Value: "x",
	})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	// Set is a map operation.
	_, err = svc.Mutate(ctx, MutateRequest{
		UserID: "user-1", TenantID: "tenant-a",
		Section: types.SectionImportantContext, Action: ActionSet, Key: "k", Value: "v",
	})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = svc.Mutate(ctx, MutateRequest{
		UserID: "user-1", TenantID: "tenant-a",
		Section: "reputation", Action: ActionSet, Key: "k", Value: "v",
	})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestMutate_StaleVersionConflict(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Mutate(ctx, MutateRequest{
		UserID: "user-1", TenantID: "tenant-a",
		Section: types.SectionIdentity, Action: ActionSet, Key: "name", Value: "Ada",
	})
	require.NoError(t, err)
	_, err = svc.Mutate(ctx, MutateRequest{
		UserID: "user-1", TenantID: "tenant-a",
		Section: types.SectionIdentity, Action: ActionSet, Key: "name", Value: "Grace",
	})
	require.NoError(t, err)

	stale := 1
	_, err = svc.Mutate(ctx, MutateRequest{
		UserID: "user-1", TenantID: "tenant-a",
		Section: types.SectionIdentity, Action: ActionSet, Key: "name", Value: "Edsger",
		ExpectedVersion: &stale,
	})
	assert.ErrorIs(t, err, storage.ErrVersionConflict)

	doc, err := svc.Get(ctx, "user-1", "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, "Grace", doc.Body.Identity["name"])
}

func TestMergeAgentInsights_CreatedThenUpdated(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	result, err := svc.MergeAgentInsights(ctx, "user-1", "tenant-a",
		"agent-1", "Scheduler", map[string]string{"meeting_pref": "mornings"}, "learning run")
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.Equal(t, 1, result.Version)

	// Second merge updates the same block: overwrites one key, adds one.
	result, err = svc.MergeAgentInsights(ctx, "user-1", "tenant-a",
		"agent-1", "Scheduler", map[string]string{
			"meeting_pref": "afternoons",
			"followup":     "weekly",
		}, "learning run")
	require.NoError(t, err)
	assert.False(t, result.Created)
	assert.Equal(t, 2, result.Version)

	doc, err := svc.Get(ctx, "user-1", "tenant-a")
	require.NoError(t, err)
	block := doc.Body.AgentInsights["agent-1"]
	assert.Equal(t, "afternoons", block.Insights["meeting_pref"])
	assert.Equal(t, "weekly", block.Insights["followup"])
	assert.False(t, block.UpdatedAt.IsZero())
}

func TestGetScoped_RedactsOtherAgents(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Mutate(ctx, MutateRequest{
		UserID: "user-1", TenantID: "tenant-a",
		Section: types.SectionIdentity, Action: ActionSet, Key: "name", Value: "Ada",
	})
	require.NoError(t, err)

	_, err = svc.MergeAgentInsights(ctx, "user-1", "tenant-a",
		"agent-viewer", "Viewer", map[string]string{"secret_pref": "tea"}, "")
	require.NoError(t, err)
	_, err = svc.MergeAgentInsights(ctx, "user-1", "tenant-a",
		"agent-other", "Other", map[string]string{"private_note": "classified"}, "")
	require.NoError(t, err)

	scoped, err := svc.GetScoped(ctx, "user-1", "tenant-a", "agent-viewer")
	require.NoError(t, err)

	// Shared sections intact; raw insight blocks stripped from the shared view.
	assert.Equal(t, "Ada", scoped.Shared.Identity["name"])
	assert.Nil(t, scoped.Shared.AgentInsights)

	// The viewer's own block comes through in full.
	require.NotNil(t, scoped.ViewerInsights)
	assert.Equal(t, "tea", scoped.ViewerInsights.Insights["secret_pref"])

	// The other agent is reduced to name and recency; its insights never
	// appear anywhere in the scoped view.
	require.Len(t, scoped.OtherAgents, 1)
	assert.Equal(t, "agent-other", scoped.OtherAgents[0].AgentID)
	assert.Equal(t, "Other", scoped.OtherAgents[0].AgentName)
}

func TestGetScoped_NotFound(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.GetScoped(context.Background(), "nobody", "tenant-a", "agent-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSetLearningStatus(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	doc, err := svc.SetLearningStatus(ctx, "user-1", "tenant-a", types.LearningInProgress, "worker")
	require.NoError(t, err)
	assert.Equal(t, types.LearningInProgress, doc.LearningStatus)

	doc, err = svc.SetLearningStatus(ctx, "user-1", "tenant-a", types.LearningCompleted, "worker")
	require.NoError(t, err)
	assert.Equal(t, types.LearningCompleted, doc.LearningStatus)
	assert.Equal(t, 2, doc.Version)
}
