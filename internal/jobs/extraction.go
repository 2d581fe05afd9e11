package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/arclight-ai/arclight/internal/embedding"
	"github.com/arclight-ai/arclight/internal/quota"
	"github.com/arclight-ai/arclight/internal/tenant"
	"github.com/arclight-ai/arclight/pkg/types"
)

// ExtractionHandler runs the per-document intelligence family: chunk the
// document, embed every chunk, store the chunks and meter the embedding
// count on the quota ledger. The job's SubjectID is the document ID; an
// optional metadata agent_id enables the document for that agent.
type ExtractionHandler struct {
	router   *tenant.Router
	ledger   *quota.Ledger
	provider embedding.Provider
	chunker  *Chunker

	// embedConcurrency bounds in-flight embedding requests per job.
	embedConcurrency int
}

// NewExtractionHandler creates an extraction handler.
func NewExtractionHandler(router *tenant.Router, ledger *quota.Ledger, provider embedding.Provider) *ExtractionHandler {
	return &ExtractionHandler{
		router:           router,
		ledger:           ledger,
		provider:         provider,
		chunker:          NewChunker(),
		embedConcurrency: 4,
	}
}

// Family returns the extraction job family.
func (h *ExtractionHandler) Family() types.JobFamily {
	return types.JobFamilyExtraction
}

// Handle runs one extraction job.
func (h *ExtractionHandler) Handle(ctx context.Context, job *types.Job, report ProgressFunc) (string, error) {
	cap, err := h.router.Resolve(ctx, job.TenantID)
	if err != nil {
		return "", err
	}
	stores, err := h.router.OpenStores(cap)
	if err != nil {
		return "", err
	}
	contextStore := stores.Context()

	report(5, "loading document", 0)
	doc, err := contextStore.GetDocument(ctx, job.TenantID, job.SubjectID)
	if err != nil {
		return "", fmt.Errorf("extraction: failed to load document %s: %w", job.SubjectID, err)
	}

	pieces := h.chunker.Chunk(doc.Content)
	if len(pieces) == 0 {
		report(100, "document has no extractable content", 0)
		return "document has no extractable content", nil
	}
	report(10, fmt.Sprintf("embedding %d chunks", len(pieces)), 0)

	chunks := make([]types.DocumentChunk, len(pieces))
	var mu sync.Mutex
	done := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.embedConcurrency)
	for i, piece := range pieces {
		i, piece := i, piece
		g.Go(func() error {
			vec, err := h.embedWithRetry(gctx, piece)
			if err != nil {
				return fmt.Errorf("extraction: chunk %d of document %s: %w", i, doc.ID, err)
			}
			chunks[i] = types.DocumentChunk{
				ID:         uuid.NewString(),
				DocumentID: doc.ID,
				TenantID:   job.TenantID,
				ChunkIndex: i,
				Content:    piece,
				Embedding:  vec,
			}

			mu.Lock()
			done++
			progress := 10 + done*80/len(pieces)
			mu.Unlock()
			report(progress, fmt.Sprintf("embedded %d/%d chunks", done, len(pieces)), done)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	if err := contextStore.StoreChunks(ctx, chunks); err != nil {
		return "", fmt.Errorf("extraction: failed to store chunks: %w", err)
	}

	if agentID := job.Metadata["agent_id"]; agentID != "" {
		if err := contextStore.EnableDocumentForAgent(ctx, job.TenantID, doc.ID, agentID); err != nil {
			return "", fmt.Errorf("extraction: failed to enable document for agent %s: %w", agentID, err)
		}
	}

	// Metering failure does not undo the stored chunks; the counter can
	// lag, the content cannot.
	used, limit, err := h.ledger.Increment(ctx, job.TenantID, doc.ID, types.ResourceEmbeddingChunks, int64(len(chunks)))
	if err != nil {
		log.Printf("WARNING: failed to meter %d embedding chunks for tenant %s: %v", len(chunks), job.TenantID, err)
	} else if limit > 0 && used > limit {
		log.Printf("WARNING: tenant %s exceeded embedding_chunks limit (%d/%d)", job.TenantID, used, limit)
	}

	report(100, "extraction complete", len(chunks))
	return fmt.Sprintf("embedded and stored %d chunks for document %s with model %s",
		len(chunks), doc.ID, h.provider.Model()), nil
}

// embedWithRetry embeds one chunk, retrying transient provider failures.
// An open circuit is not retried; the job fails fast instead of hammering a
// dead provider.
func (h *ExtractionHandler) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	op := func() error {
		v, err := h.provider.Embed(ctx, text)
		if err != nil {
			if errors.Is(err, embedding.ErrUnavailable) {
				return backoff.Permanent(err)
			}
			return err
		}
		vec = v
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, err
	}
	return vec, nil
}
