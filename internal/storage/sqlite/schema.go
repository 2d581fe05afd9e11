// Package sqlite provides SQLite implementations of storage interfaces.
// It mirrors the postgres package for local development and tests.
// Embeddings are stored as JSON arrays and similarity search is an in-Go
// exact cosine scan, which is also the required strategy for shared-pool
// tenants.
package sqlite

// Schema contains the SQL statements for all tables: control plane, job
// queue and tenant data. SQLite deployments are single-node, so everything
// lives in one database. All statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS tenants (
    id TEXT PRIMARY KEY,
    tier TEXT NOT NULL DEFAULT 'shared',
    storage_endpoint TEXT NOT NULL,
    credential_ref TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS tenant_credentials (
    ref TEXT PRIMARY KEY,
    dsn TEXT NOT NULL,
    rotated_at TIMESTAMP NOT NULL,
    revoked INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS tier_limits (
    tier TEXT NOT NULL,
    resource TEXT NOT NULL,
    limit_amount INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (tier, resource)
);

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
    metadata TEXT,
    created_at TIMESTAMP NOT NULL,
    started_at TIMESTAMP,
    completed_at TIMESTAMP,
    result_summary TEXT,
    error TEXT
);

CREATE INDEX IF NOT EXISTS idx_jobs_claim
    ON jobs (family, status, created_at);

CREATE INDEX IF NOT EXISTS idx_jobs_subject
    ON jobs (tenant_id, subject_id);

CREATE TABLE IF NOT EXISTS overviews (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    version INTEGER NOT NULL DEFAULT 1,
    body TEXT NOT NULL,
    learning_status TEXT NOT NULL DEFAULT 'idle',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    UNIQUE (user_id, tenant_id)
);

CREATE TABLE IF NOT EXISTS overview_history (
    overview_id TEXT NOT NULL,
    version INTEGER NOT NULL,
    body TEXT NOT NULL,
    learning_status TEXT NOT NULL,
    actor TEXT,
    reason TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (overview_id, version)
);

CREATE TABLE IF NOT EXISTS usage_counters (
    tenant_id TEXT NOT NULL,
    owner_id TEXT NOT NULL,
    resource TEXT NOT NULL,
    period_start TIMESTAMP NOT NULL,
    used_amount INTEGER NOT NULL DEFAULT 0,
    limit_amount INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (tenant_id, owner_id, resource, period_start)
);

CREATE TABLE IF NOT EXISTS documents (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    title TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS document_chunks (
    id TEXT PRIMARY KEY,
    document_id TEXT NOT NULL REFERENCES documents(id),
    tenant_id TEXT NOT NULL,
    chunk_index INTEGER NOT NULL,
    content TEXT NOT NULL,
    embedding TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_document_chunks_tenant
    ON document_chunks (tenant_id);

CREATE TABLE IF NOT EXISTS document_agents (
    tenant_id TEXT NOT NULL,
    document_id TEXT NOT NULL REFERENCES documents(id),
    agent_id TEXT NOT NULL,
    enabled_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (tenant_id, document_id, agent_id)
);

CREATE TABLE IF NOT EXISTS conversation_turns (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    agent_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    user_text TEXT NOT NULL,
    assistant_text TEXT NOT NULL,
    embedding TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversation_turns_scope
    ON conversation_turns (tenant_id, agent_id, user_id, created_at);
`
