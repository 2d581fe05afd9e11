// Package storage provides composable storage interfaces for the Arclight
// core. Interfaces are small and per-concern so backends can implement them
// independently; the postgres and sqlite subpackages provide the two
// implementations.
package storage

import (
	"context"
	"time"

	"github.com/arclight-ai/arclight/pkg/types"
)

// JobStore is the durable, lease-based work queue. It lives on the central
// (shared-pool) datastore so workers can poll one place for all tenants.
type JobStore interface {
	// Enqueue inserts a new pending job and returns its ID. De-duplication
	// is the caller's responsibility; duplicate enqueues simply run twice.
	Enqueue(ctx context.Context, job *types.Job) (string, error)

	// ClaimNext atomically selects the oldest pending/queued job of the
	// family, transitions it to in_progress with started_at stamped, and
	// returns it to exactly one caller. Returns (nil, nil) when no eligible
	// job exists — an empty queue is not an error.
	ClaimNext(ctx context.Context, family types.JobFamily) (*types.Job, error)

	// ReportProgress overwrites the job's progress fields. Best effort:
	// returns false (not an error) when the job is missing or terminal.
	ReportProgress(ctx context.Context, id string, percent int, message string, done int) (bool, error)

	// Complete transitions the job to completed or failed. Idempotent:
	// a second call on an already-terminal job returns false via an
	// affected-row-count of zero, never an error.
	Complete(ctx context.Context, id string, success bool, summary, errMsg string) (bool, error)

	// GetJob fetches a job by ID. Returns ErrNotFound when absent.
	GetJob(ctx context.Context, id string) (*types.Job, error)

	// CountByStatus returns job counts per status for a tenant's subject.
	CountByStatus(ctx context.Context, tenantID, subjectID string) (map[types.JobStatus]int, error)

	// ListAbandoned returns in_progress jobs started before cutoff. Used by
	// the explicit operator sweep; this store never auto-requeues them.
	ListAbandoned(ctx context.Context, family types.JobFamily, cutoff time.Time) ([]types.Job, error)

	// MarkAbandoned fails an in_progress job with the given reason. Returns
	// false when the job is no longer in_progress.
	MarkAbandoned(ctx context.Context, id string, reason string) (bool, error)
}

// QuotaStore persists period-scoped usage counters.
type QuotaStore interface {
	// EnsureCounter creates the counter row if absent (insert-if-absent;
	// concurrent creators converge on a single row). The counter's Limit is
	// the tier-derived snapshot supplied by the caller.
	EnsureCounter(ctx context.Context, c *types.UsageCounter) error

	// Increment atomically adds amount to the counter's used value and
	// returns the post-increment used and limit. Returns ErrNotFound when
	// the counter row does not exist.
	Increment(ctx context.Context, tenantID, ownerID string, resource types.Resource, periodStart time.Time, amount int64) (used, limit int64, err error)

	// GetCounter reads a counter. Returns ErrNotFound when absent.
	GetCounter(ctx context.Context, tenantID, ownerID string, resource types.Resource, periodStart time.Time) (*types.UsageCounter, error)
}

// OverviewStore persists versioned overview documents with full history.
type OverviewStore interface {
	// GetOverview fetches the overview for (user, tenant). Returns
	// ErrNotFound when absent.
	GetOverview(ctx context.Context, userID, tenantID string) (*types.OverviewDocument, error)

	// Mutate applies fn to the current document inside a transaction:
	// snapshot the stored state into history, apply fn to a copy, persist
	// with version+1. When expectedVersion is non-nil and stale the write is
	// rejected with ErrVersionConflict and no side effects. When the
	// document is absent and createIfMissing is false, returns ErrNotFound;
	// otherwise fn runs against a fresh version-0 document and the write
	// stores version 1. actor and reason are recorded on the history row.
	Mutate(ctx context.Context, userID, tenantID string, expectedVersion *int, createIfMissing bool, actor, reason string, fn func(doc *types.OverviewDocument) error) (*types.OverviewDocument, error)

	// GetSnapshot fetches a historical version of an overview document.
	GetSnapshot(ctx context.Context, overviewID string, version int) (*types.OverviewDocument, error)
}

// ContextStore persists and searches the retrievable context sources:
// document chunks and conversation turns.
type ContextStore interface {
	StoreDocument(ctx context.Context, doc *types.Document) error
	GetDocument(ctx context.Context, tenantID, id string) (*types.Document, error)
	StoreChunks(ctx context.Context, chunks []types.DocumentChunk) error

	// EnableDocumentForAgent records the explicit many-to-many enablement
	// that governs which agents may retrieve a document's chunks.
	EnableDocumentForAgent(ctx context.Context, tenantID, documentID, agentID string) error

	// SearchDocumentChunks ranks enabled chunks by similarity to the query
	// embedding. For shared-pool backends the tenant filter is applied
	// before similarity is computed and no approximate index participates.
	SearchDocumentChunks(ctx context.Context, q ContextQuery) ([]types.RetrievalResult, error)

	StoreTurn(ctx context.Context, turn *types.ConversationTurn) error

	// SearchConversationTurns ranks prior turns scoped to
	// (tenant, agent, user) by similarity to the query embedding.
	SearchConversationTurns(ctx context.Context, q ContextQuery) ([]types.RetrievalResult, error)

	// RecentTurns lists the newest turns for (tenant, user) across agents,
	// newest first. Used by the learning job family.
	RecentTurns(ctx context.Context, tenantID, userID string, limit int) ([]types.ConversationTurn, error)
}

// ControlPlaneStore is the central store of tenants, credentials and
// tier-derived quota limits.
type ControlPlaneStore interface {
	// GetTenant fetches a tenant row. Returns ErrNotFound for unknown
	// tenants; there is no default tenant.
	GetTenant(ctx context.Context, id string) (*types.Tenant, error)

	// PutTenant upserts a tenant row (provisioning is out of scope, but the
	// sweep and tests need to seed tenants).
	PutTenant(ctx context.Context, t *types.Tenant) error

	// GetCredential fetches a credential bundle by ref. A revoked bundle is
	// returned with Revoked set; resolution treats it as a hard error.
	GetCredential(ctx context.Context, ref string) (*Credential, error)

	// PutCredential upserts a credential bundle.
	PutCredential(ctx context.Context, c *Credential) error

	// TierLimit returns the current limit for a tier/resource pair.
	// Returns ErrNotFound when no limit row exists.
	TierLimit(ctx context.Context, tier types.Tier, resource types.Resource) (int64, error)

	// SetTierLimit upserts a tier limit row.
	SetTierLimit(ctx context.Context, tier types.Tier, resource types.Resource, limit int64) error
}

// TenantStores bundles the per-tenant stores reachable through one resolved
// datastore connection.
type TenantStores interface {
	Quota() QuotaStore
	Overviews() OverviewStore
	Context() ContextStore
	Close() error
}
