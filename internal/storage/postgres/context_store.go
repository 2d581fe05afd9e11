package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/arclight-ai/arclight/internal/storage"
	"github.com/arclight-ai/arclight/pkg/types"
)

// ErrVectorSearchUnavailable is returned when the pgvector extension is not
// installed. Similarity search degrades to a hard error, never to an
// empty-but-successful result.
var ErrVectorSearchUnavailable = errors.New("postgres: vector search unavailable (pgvector extension missing)")

// StoreDocument upserts a document.
func (s *Store) StoreDocument(ctx context.Context, doc *types.Document) error {
	if doc == nil {
		return storage.ErrInvalidInput
	}
	if doc.ID == "" || doc.TenantID == "" {
		return fmt.Errorf("%w: document ID and tenant_id are required", storage.ErrInvalidInput)
	}

	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, tenant_id, title, content, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			content = EXCLUDED.content,
			updated_at = EXCLUDED.updated_at
	`, doc.ID, doc.TenantID, doc.Title, doc.Content, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: failed to store document: %w", err)
	}
	return nil
}

// GetDocument fetches a document. The tenant filter is part of the query;
// a document belonging to another tenant reads as not found.
func (s *Store) GetDocument(ctx context.Context, tenantID, id string) (*types.Document, error) {
	if tenantID == "" || id == "" {
		return nil, fmt.Errorf("%w: tenant_id and document ID are required", storage.ErrInvalidInput)
	}

	var doc types.Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, title, content, created_at, updated_at
		FROM documents
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID).Scan(&doc.ID, &doc.TenantID, &doc.Title, &doc.Content, &doc.CreatedAt, &doc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get document: %w", err)
	}
	return &doc, nil
}

// StoreChunks inserts document chunks with their embeddings. Existing
// chunks for the same IDs are replaced.
func (s *Store) StoreChunks(ctx context.Context, chunks []types.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if !s.pgvectorAvailable {
		return ErrVectorSearchUnavailable
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: failed to begin chunk transaction: %w", err)
	}
	defer tx.Rollback()

	for i := range chunks {
		c := &chunks[i]
		if c.ID == "" || c.DocumentID == "" || c.TenantID == "" {
			return fmt.Errorf("%w: chunk ID, document_id and tenant_id are required", storage.ErrInvalidInput)
		}
		if len(c.Embedding) == 0 {
			return fmt.Errorf("%w: chunk embedding is required", storage.ErrInvalidInput)
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = time.Now().UTC()
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO document_chunks (id, document_id, tenant_id, chunk_index, content, embedding, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET
				content = EXCLUDED.content,
				embedding = EXCLUDED.embedding
		`, c.ID, c.DocumentID, c.TenantID, c.ChunkIndex, c.Content,
			pgvector.NewVector(c.Embedding), c.CreatedAt)
		if err != nil {
			return fmt.Errorf("postgres: failed to store chunk %d of document %s: %w", c.ChunkIndex, c.DocumentID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: failed to commit chunks: %w", err)
	}
	return nil
}

// EnableDocumentForAgent records the explicit enablement relation between a
// document and an agent. Idempotent.
func (s *Store) EnableDocumentForAgent(ctx context.Context, tenantID, documentID, agentID string) error {
	if tenantID == "" || documentID == "" || agentID == "" {
		return fmt.Errorf("%w: tenant_id, document_id and agent_id are required", storage.ErrInvalidInput)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document_agents (tenant_id, document_id, agent_id)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`, tenantID, documentID, agentID)
	if err != nil {
		return fmt.Errorf("postgres: failed to enable document for agent: %w", err)
	}
	return nil
}

// SearchDocumentChunks ranks the requesting agent's enabled chunks by cosine
// similarity to the query embedding.
//
// The tenant filter is part of the WHERE clause, so candidate selection
// happens before any distance is computed. On a shared-pool store there is
// no ANN index over the chunk embeddings, which makes the ORDER BY an exact
// scan over the tenant-filtered subset: shared tenants must never traverse
// an index structure that co-resident tenants' vectors shaped. Dedicated
// stores carry an ivfflat index (created at open time) and the same query
// uses it. The strategy follows the store's tier, never the query.
func (s *Store) SearchDocumentChunks(ctx context.Context, q storage.ContextQuery) ([]types.RetrievalResult, error) {
	if err := s.checkQuery(&q); err != nil {
		return nil, err
	}
	if q.AgentID == "" {
		return nil, fmt.Errorf("%w: agent_id is required for document search", storage.ErrInvalidInput)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.document_id, d.title, c.chunk_index, c.content,
		       1 - (c.embedding <=> $1::vector) AS similarity
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id
		JOIN document_agents da
		  ON da.document_id = c.document_id AND da.tenant_id = c.tenant_id
		WHERE c.tenant_id = $2
		  AND da.agent_id = $3
		  AND c.embedding IS NOT NULL
		ORDER BY c.embedding <=> $1::vector
		LIMIT $4
	`, pgvector.NewVector(q.Embedding), q.TenantID, q.AgentID, q.K)
	if err != nil {
		return nil, fmt.Errorf("postgres: document chunk search: %w", err)
	}
	defer rows.Close()

	var results []types.RetrievalResult
	for rows.Next() {
		var docID, title, content string
		var chunkIndex int
		var similarity float64
		if err := rows.Scan(&docID, &title, &chunkIndex, &content, &similarity); err != nil {
			return nil, fmt.Errorf("postgres: document chunk scan: %w", err)
		}
		if similarity < q.SimilarityFloor {
			continue
		}
		results = append(results, types.RetrievalResult{
			Source:     types.SourceDocument,
			Content:    content,
			Similarity: similarity,
			Provenance: map[string]string{
				"document_id":    docID,
				"document_title": title,
				"chunk_index":    strconv.Itoa(chunkIndex),
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: document chunk rows: %w", err)
	}
	return results, nil
}

// StoreTurn inserts a conversation turn with its embedding.
func (s *Store) StoreTurn(ctx context.Context, turn *types.ConversationTurn) error {
	if turn == nil {
		return storage.ErrInvalidInput
	}
	if turn.TenantID == "" || turn.AgentID == "" || turn.UserID == "" {
		return fmt.Errorf("%w: tenant_id, agent_id and user_id are required", storage.ErrInvalidInput)
	}
	if turn.ID == "" {
		return fmt.Errorf("%w: turn ID is required", storage.ErrInvalidInput)
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	var vec interface{}
	if len(turn.Embedding) > 0 {
		if !s.pgvectorAvailable {
			return ErrVectorSearchUnavailable
		}
		vec = pgvector.NewVector(turn.Embedding)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_turns (id, tenant_id, agent_id, user_id, user_text, assistant_text, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, turn.ID, turn.TenantID, turn.AgentID, turn.UserID,
		turn.UserText, turn.AssistantText, vec, turn.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: failed to store conversation turn: %w", err)
	}
	return nil
}

// SearchConversationTurns ranks prior turns scoped to (tenant, agent, user)
// by similarity. The same tier-derived index rules apply as for document
// chunks.
func (s *Store) SearchConversationTurns(ctx context.Context, q storage.ContextQuery) ([]types.RetrievalResult, error) {
	if err := s.checkQuery(&q); err != nil {
		return nil, err
	}
	if q.AgentID == "" || q.UserID == "" {
		return nil, fmt.Errorf("%w: agent_id and user_id are required for conversation search", storage.ErrInvalidInput)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_text, assistant_text, created_at,
		       1 - (embedding <=> $1::vector) AS similarity
		FROM conversation_turns
		WHERE tenant_id = $2 AND agent_id = $3 AND user_id = $4
		  AND embedding IS NOT NULL
		ORDER BY embedding <=> $1::vector
		LIMIT $5
	`, pgvector.NewVector(q.Embedding), q.TenantID, q.AgentID, q.UserID, q.K)
	if err != nil {
		return nil, fmt.Errorf("postgres: conversation turn search: %w", err)
	}
	defer rows.Close()

	var results []types.RetrievalResult
	for rows.Next() {
		var id, userText, assistantText string
		var createdAt time.Time
		var similarity float64
		if err := rows.Scan(&id, &userText, &assistantText, &createdAt, &similarity); err != nil {
			return nil, fmt.Errorf("postgres: conversation turn scan: %w", err)
		}
		if similarity < q.SimilarityFloor {
			continue
		}
		results = append(results, types.RetrievalResult{
			Source:     types.SourceConversation,
			Content:    fmt.Sprintf("User: %s\nAssistant: %s", userText, assistantText),
			Similarity: similarity,
			Provenance: map[string]string{
				"turn_id":    id,
				"created_at": createdAt.UTC().Format(time.RFC3339),
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: conversation turn rows: %w", err)
	}
	return results, nil
}

// RecentTurns lists the newest turns for (tenant, user), newest first.
func (s *Store) RecentTurns(ctx context.Context, tenantID, userID string, limit int) ([]types.ConversationTurn, error) {
	if tenantID == "" || userID == "" {
		return nil, fmt.Errorf("%w: tenant_id and user_id are required", storage.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, agent_id, user_id, user_text, assistant_text, created_at
		FROM conversation_turns
		WHERE tenant_id = $1 AND user_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`, tenantID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list recent turns: %w", err)
	}
	defer rows.Close()

	var turns []types.ConversationTurn
	for rows.Next() {
		var t types.ConversationTurn
		if err := rows.Scan(&t.ID, &t.TenantID, &t.AgentID, &t.UserID,
			&t.UserText, &t.AssistantText, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: recent turn scan: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: recent turn rows: %w", err)
	}
	return turns, nil
}

// checkQuery validates a similarity query and applies defaults.
func (s *Store) checkQuery(q *storage.ContextQuery) error {
	if q.TenantID == "" {
		return fmt.Errorf("%w: tenant_id is required for every context query", storage.ErrInvalidInput)
	}
	if len(q.Embedding) == 0 {
		return fmt.Errorf("%w: query embedding is required", storage.ErrInvalidInput)
	}
	if !s.pgvectorAvailable {
		return ErrVectorSearchUnavailable
	}
	q.Normalize()
	return nil
}
