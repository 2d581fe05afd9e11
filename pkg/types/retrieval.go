package types

import "time"

// RetrievalSource identifies which context source produced a result.
type RetrievalSource string

const (
	SourceDocument     RetrievalSource = "document"
	SourceConversation RetrievalSource = "conversation"
	SourceOverview     RetrievalSource = "overview"
)

// RetrievalResult is one ranked context item. Results are ephemeral; they
// are assembled per query and never persisted.
type RetrievalResult struct {
	Source  RetrievalSource `json:"source"`
	Content string          `json:"content"`

	// Similarity is 1 - cosine distance to the query embedding, in [0, 1]
	// for normalized vectors. Overview results carry 1.0 since they are
	// injected verbatim without similarity filtering.
	Similarity float64 `json:"similarity"`

	// Provenance identifies where the content came from (document ID,
	// chunk index, turn ID, overview version).
	Provenance map[string]string `json:"provenance,omitempty"`
}

// Document is a tenant document subject to intelligence extraction. The
// documents an agent may retrieve from are governed by an explicit
// many-to-many enablement relation, never a single-owner column.
type Document struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DocumentChunk is one embedded slice of a document.
type DocumentChunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	TenantID   string    `json:"tenant_id"`
	ChunkIndex int       `json:"chunk_index"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"embedding,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ConversationTurn is one prior user/assistant exchange, scoped strictly to
// (tenant, agent, user). Cross-user leakage at retrieval time is a
// correctness violation, not a quality issue.
type ConversationTurn struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	AgentID       string    `json:"agent_id"`
	UserID        string    `json:"user_id"`
	UserText      string    `json:"user_text"`
	AssistantText string    `json:"assistant_text"`
	Embedding     []float32 `json:"embedding,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
