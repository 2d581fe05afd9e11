// Package retrieval assembles agent context from three sources: document
// chunks, conversation history and the user's overview. Sources are fetched
// concurrently against the tenant's own datastore and any source failure
// fails the whole request. An empty result means the sources genuinely have
// nothing, never that something was silently skipped.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arclight-ai/arclight/internal/overview"
	"github.com/arclight-ai/arclight/internal/storage"
	"github.com/arclight-ai/arclight/pkg/types"
)

// DefaultTimeout bounds each retrieval's datastore work independently of
// the caller's deadline.
const DefaultTimeout = 5 * time.Second

// Request is one context-retrieval call.
type Request struct {
	TenantID string
	AgentID  string
	UserID   string

	// QueryEmbedding is the caller-supplied query vector. The engine never
	// computes embeddings itself.
	QueryEmbedding []float32

	// K caps document and conversation results. The overview, when present,
	// rides along on top of K.
	K int

	// SimilarityFloor drops weaker document and conversation matches. It
	// never applies to the overview.
	SimilarityFloor float64
}

// Engine fans retrieval out across the three sources.
type Engine struct {
	context   storage.ContextStore
	overviews *overview.Service
	timeout   time.Duration
}

// NewEngine creates an Engine over a tenant's context store and overview
// service. A non-positive timeout falls back to DefaultTimeout.
func NewEngine(contextStore storage.ContextStore, overviews *overview.Service, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Engine{context: contextStore, overviews: overviews, timeout: timeout}
}

// Retrieve fetches all three sources concurrently and returns the fused
// result ordered by similarity descending. Any source error or timeout
// fails the call; there is no partial-result fallback.
func (e *Engine) Retrieve(ctx context.Context, req Request) ([]types.RetrievalResult, error) {
	if req.TenantID == "" || req.AgentID == "" || req.UserID == "" {
		return nil, fmt.Errorf("%w: tenant_id, agent_id and user_id are required", storage.ErrInvalidInput)
	}
	if len(req.QueryEmbedding) == 0 {
		return nil, fmt.Errorf("%w: query embedding is required", storage.ErrInvalidInput)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	query := storage.ContextQuery{
		TenantID:        req.TenantID,
		AgentID:         req.AgentID,
		UserID:          req.UserID,
		Embedding:       req.QueryEmbedding,
		K:               req.K,
		SimilarityFloor: req.SimilarityFloor,
	}
	query.Normalize()

	var docResults, convResults []types.RetrievalResult
	var overviewResult *types.RetrievalResult

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		docResults, err = e.context.SearchDocumentChunks(gctx, query)
		if err != nil {
			return fmt.Errorf("retrieval: document source: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		convResults, err = e.context.SearchConversationTurns(gctx, query)
		if err != nil {
			return fmt.Errorf("retrieval: conversation source: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		scoped, err := e.overviews.GetScoped(gctx, req.UserID, req.TenantID, req.AgentID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("retrieval: overview source: %w", err)
		}
		overviewResult = renderOverview(scoped)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := append(docResults, convResults...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Similarity > merged[j].Similarity
	})
	if len(merged) > query.K {
		merged = merged[:query.K]
	}

	if overviewResult == nil {
		return merged, nil
	}
	return append([]types.RetrievalResult{*overviewResult}, merged...), nil
}

// renderOverview flattens a scoped overview into one result with similarity
// 1.0: the overview is always relevant to its own user.
func renderOverview(scoped *types.ScopedOverview) *types.RetrievalResult {
	var b strings.Builder
	writeSection(&b, "Identity", scoped.Shared.Identity)
	writeSection(&b, "Goals", scoped.Shared.Goals)
	writeSection(&b, "Working style", scoped.Shared.WorkingStyle)
	writeSection(&b, "Relationship history", scoped.Shared.RelationshipHistory)

	if len(scoped.Shared.ImportantContext) > 0 {
		b.WriteString("Important context:\n")
		for _, item := range scoped.Shared.ImportantContext {
			b.WriteString("- " + item + "\n")
		}
	}
	if scoped.ViewerInsights != nil {
		writeSection(&b, "Your insights", scoped.ViewerInsights.Insights)
	}
	for _, other := range scoped.OtherAgents {
		fmt.Fprintf(&b, "Known to %s", other.AgentName)
		if other.RelationshipContext != "" {
			fmt.Fprintf(&b, " (%s)", other.RelationshipContext)
		}
		b.WriteString("\n")
	}

	return &types.RetrievalResult{
		Source:     types.SourceOverview,
		Content:    strings.TrimRight(b.String(), "\n"),
		Similarity: 1.0,
		Provenance: map[string]string{
			"overview_id": scoped.OverviewID,
			"version":     strconv.Itoa(scoped.Version),
		},
	}
}

func writeSection(b *strings.Builder, title string, m map[string]string) {
	if len(m) == 0 {
		return
	}
	b.WriteString(title + ":\n")
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("- " + k + ": " + m[k] + "\n")
	}
}
