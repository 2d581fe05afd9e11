// Package postgres provides PostgreSQL implementations of storage interfaces.
package postgres

// SchemaControlPlane contains the statements for the central control-plane
// tables: tenants, credentials, tier limits and the job queue. All statements
// are idempotent (IF NOT EXISTS) so the schema can be re-applied on connect.
const SchemaControlPlane = `
-- Tenants: one row per isolated customer account
CREATE TABLE IF NOT EXISTS tenants (
    id TEXT PRIMARY KEY,
    tier TEXT NOT NULL DEFAULT 'shared',
    storage_endpoint TEXT NOT NULL,
    credential_ref TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Credential bundles, rotated independently of the tenants table
CREATE TABLE IF NOT EXISTS tenant_credentials (
    ref TEXT PRIMARY KEY,
    dsn TEXT NOT NULL,
    rotated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    revoked BOOLEAN NOT NULL DEFAULT FALSE
);

-- Tier-derived quota limits, snapshotted into counters at first use
CREATE TABLE IF NOT EXISTS tier_limits (
    tier TEXT NOT NULL,
    resource TEXT NOT NULL,
    limit_amount BIGINT NOT NULL DEFAULT 0,
    PRIMARY KEY (tier, resource)
);

-- Job queue: rows are transitioned, never deleted
CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    subject_id TEXT NOT NULL,
    family TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    progress_percent INTEGER NOT NULL DEFAULT 0,
    progress_message TEXT,
    items_total INTEGER NOT NULL DEFAULT 0,
    items_done INTEGER NOT NULL DEFAULT 0,
    metadata JSONB,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    started_at TIMESTAMP,
    completed_at TIMESTAMP,
    result_summary TEXT,
    error TEXT
);

CREATE INDEX IF NOT EXISTS idx_jobs_claim
    ON jobs (family, status, created_at);

CREATE INDEX IF NOT EXISTS idx_jobs_subject
    ON jobs (tenant_id, subject_id);
`

// SchemaTenant contains the statements for per-tenant data: overview
// documents with history, usage counters, documents with chunks and agent
// enablement, and conversation turns. For shared-pool tenants these tables
// live in the pool database and every row carries its tenant_id; for
// dedicated tenants the same schema lives in the tenant's own database.
const SchemaTenant = `
-- Overview documents: one mutable versioned document per (user, tenant)
CREATE TABLE IF NOT EXISTS overviews (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    version INTEGER NOT NULL DEFAULT 1,
    body JSONB NOT NULL,
    learning_status TEXT NOT NULL DEFAULT 'idle',
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (user_id, tenant_id)
);

-- Append-only history: the pre-mutation snapshot of every version
CREATE TABLE IF NOT EXISTS overview_history (
    overview_id TEXT NOT NULL,
    version INTEGER NOT NULL,
    body JSONB NOT NULL,
    learning_status TEXT NOT NULL,
    actor TEXT,
    reason TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (overview_id, version)
);

-- Usage counters: one row per (tenant, owner, resource, period)
CREATE TABLE IF NOT EXISTS usage_counters (
    tenant_id TEXT NOT NULL,
    owner_id TEXT NOT NULL,
    resource TEXT NOT NULL,
    period_start TIMESTAMP NOT NULL,
    used_amount BIGINT NOT NULL DEFAULT 0,
    limit_amount BIGINT NOT NULL DEFAULT 0,
    PRIMARY KEY (tenant_id, owner_id, resource, period_start)
);

-- Documents and their embedded chunks
CREATE TABLE IF NOT EXISTS documents (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    title TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS document_chunks (
    id TEXT PRIMARY KEY,
    document_id TEXT NOT NULL REFERENCES documents(id),
    tenant_id TEXT NOT NULL,
    chunk_index INTEGER NOT NULL,
    content TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_document_chunks_tenant
    ON document_chunks (tenant_id);

-- Explicit many-to-many agent enablement. Retrieval joins through this
-- relation only; there is no single-owner column on documents.
CREATE TABLE IF NOT EXISTS document_agents (
    tenant_id TEXT NOT NULL,
    document_id TEXT NOT NULL REFERENCES documents(id),
    agent_id TEXT NOT NULL,
    enabled_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (tenant_id, document_id, agent_id)
);

-- Conversation turns, scoped to (tenant, agent, user)
CREATE TABLE IF NOT EXISTS conversation_turns (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    agent_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    user_text TEXT NOT NULL,
    assistant_text TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_conversation_turns_scope
    ON conversation_turns (tenant_id, agent_id, user_id, created_at);
`

// MigrationVector adds pgvector embedding columns. Applied only when the
// pgvector extension is available.
const MigrationVector = `
ALTER TABLE document_chunks ADD COLUMN IF NOT EXISTS embedding vector(768);
ALTER TABLE conversation_turns ADD COLUMN IF NOT EXISTS embedding vector(768);
`

// MigrationANNIndexes creates the approximate proximity indexes. This is
// applied ONLY to dedicated-tenant stores: an ANN index over a shared pool
// would let index traversal be influenced by other tenants' vectors, so the
// shared pool deliberately has none and every shared search is an exact
// tenant-filtered scan.
const MigrationANNIndexes = `
CREATE INDEX IF NOT EXISTS idx_document_chunks_embedding
    ON document_chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
CREATE INDEX IF NOT EXISTS idx_conversation_turns_embedding
    ON conversation_turns USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
`
