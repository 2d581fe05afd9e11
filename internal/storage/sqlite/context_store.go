package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/arclight-ai/arclight/internal/storage"
	"github.com/arclight-ai/arclight/pkg/types"
)

// StoreDocument upserts a document.
func (s *Store) StoreDocument(ctx context.Context, doc *types.Document) error {
	if doc == nil {
		return storage.ErrInvalidInput
	}
	if doc.ID == "" || doc.TenantID == "" {
		return fmt.Errorf("%w: document ID and tenant_id are required", storage.ErrInvalidInput)
	}

	now := utcNow()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, tenant_id, title, content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			updated_at = excluded.updated_at
	`, doc.ID, doc.TenantID, doc.Title, doc.Content, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: failed to store document: %w", err)
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
		WHERE id = ? AND tenant_id = ?
	`, id, tenantID).Scan(&doc.ID, &doc.TenantID, &doc.Title, &doc.Content, &doc.CreatedAt, &doc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get document: %w", err)
	}
	return &doc, nil
}

// StoreChunks inserts document chunks. Embeddings are stored as JSON arrays.
func (s *Store) StoreChunks(ctx context.Context, chunks []types.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: failed to begin chunk transaction: %w", err)
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
			c.CreatedAt = utcNow()
		}

		embJSON, err := json.Marshal(c.Embedding)
		if err != nil {
			return fmt.Errorf("sqlite: failed to marshal chunk embedding: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO document_chunks (id, document_id, tenant_id, chunk_index, content, embedding, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				content = excluded.content,
				embedding = excluded.embedding
		`, c.ID, c.DocumentID, c.TenantID, c.ChunkIndex, c.Content, string(embJSON), c.CreatedAt)
		if err != nil {
			return fmt.Errorf("sqlite: failed to store chunk %d of document %s: %w", c.ChunkIndex, c.DocumentID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: failed to commit chunks: %w", err)
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
		VALUES (?, ?, ?)
		ON CONFLICT DO NOTHING
	`, tenantID, documentID, agentID)
	if err != nil {
		return fmt.Errorf("sqlite: failed to enable document for agent: %w", err)
	}
	return nil
}

// SearchDocumentChunks ranks the requesting agent's enabled chunks by cosine
// similarity to the query embedding. Candidates are selected by tenant and
// agent enablement first, then scored in Go over the filtered subset. That
// is an exact scan with no index over the embeddings, the same strategy
// shared-pool postgres stores use.
func (s *Store) SearchDocumentChunks(ctx context.Context, q storage.ContextQuery) ([]types.RetrievalResult, error) {
	if err := checkQuery(&q); err != nil {
		return nil, err
	}
	if q.AgentID == "" {
		return nil, fmt.Errorf("%w: agent_id is required for document search", storage.ErrInvalidInput)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.document_id, d.title, c.chunk_index, c.content, c.embedding
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id
		JOIN document_agents da
		  ON da.document_id = c.document_id AND da.tenant_id = c.tenant_id
		WHERE c.tenant_id = ?
		  AND da.agent_id = ?
		  AND c.embedding IS NOT NULL
	`, q.TenantID, q.AgentID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: document chunk search: %w", err)
	}
	defer rows.Close()

	var results []types.RetrievalResult
	for rows.Next() {
		var docID, title, content, embJSON string
		var chunkIndex int
		if err := rows.Scan(&docID, &title, &chunkIndex, &content, &embJSON); err != nil {
			return nil, fmt.Errorf("sqlite: document chunk scan: %w", err)
		}

		similarity, err := cosineFromJSON(q.Embedding, embJSON)
		if err != nil {
			return nil, fmt.Errorf("sqlite: chunk %s of document %s: %w", strconv.Itoa(chunkIndex), docID, err)
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
		return nil, fmt.Errorf("sqlite: document chunk rows: %w", err)
	}

	sortAndTrim(&results, q.K)
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
		turn.CreatedAt = utcNow()
	}

	var embJSON sql.NullString
	if len(turn.Embedding) > 0 {
		b, err := json.Marshal(turn.Embedding)
		if err != nil {
			return fmt.Errorf("sqlite: failed to marshal turn embedding: %w", err)
		}
		embJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_turns (id, tenant_id, agent_id, user_id, user_text, assistant_text, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, turn.ID, turn.TenantID, turn.AgentID, turn.UserID,
		turn.UserText, turn.AssistantText, embJSON, turn.CreatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: failed to store conversation turn: %w", err)
	}
	return nil
}

// SearchConversationTurns ranks prior turns scoped to (tenant, agent, user)
// by similarity.
func (s *Store) SearchConversationTurns(ctx context.Context, q storage.ContextQuery) ([]types.RetrievalResult, error) {
	if err := checkQuery(&q); err != nil {
		return nil, err
	}
	if q.AgentID == "" || q.UserID == "" {
		return nil, fmt.Errorf("%w: agent_id and user_id are required for conversation search", storage.ErrInvalidInput)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_text, assistant_text, embedding, created_at
		FROM conversation_turns
		WHERE tenant_id = ? AND agent_id = ? AND user_id = ?
		  AND embedding IS NOT NULL
	`, q.TenantID, q.AgentID, q.UserID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: conversation turn search: %w", err)
	}
	defer rows.Close()

	var results []types.RetrievalResult
	for rows.Next() {
		var id, userText, assistantText, embJSON string
		var createdAt time.Time
		if err := rows.Scan(&id, &userText, &assistantText, &embJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: conversation turn scan: %w", err)
		}

		similarity, err := cosineFromJSON(q.Embedding, embJSON)
		if err != nil {
			return nil, fmt.Errorf("sqlite: turn %s: %w", id, err)
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
		return nil, fmt.Errorf("sqlite: conversation turn rows: %w", err)
	}

	sortAndTrim(&results, q.K)
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
		WHERE tenant_id = ? AND user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, tenantID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list recent turns: %w", err)
	}
	defer rows.Close()

	var turns []types.ConversationTurn
	for rows.Next() {
		var t types.ConversationTurn
		if err := rows.Scan(&t.ID, &t.TenantID, &t.AgentID, &t.UserID,
			&t.UserText, &t.AssistantText, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: recent turn scan: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: recent turn rows: %w", err)
	}
	return turns, nil
}

// checkQuery validates a similarity query and applies defaults.
func checkQuery(q *storage.ContextQuery) error {
	if q.TenantID == "" {
		return fmt.Errorf("%w: tenant_id is required for every context query", storage.ErrInvalidInput)
	}
	if len(q.Embedding) == 0 {
		return fmt.Errorf("%w: query embedding is required", storage.ErrInvalidInput)
	}
	q.Normalize()
	return nil
}

// cosineFromJSON unmarshals a stored JSON embedding and computes cosine
// similarity against the query vector.
func cosineFromJSON(query []float32, embJSON string) (float64, error) {
	var stored []float32
	if err := json.Unmarshal([]byte(embJSON), &stored); err != nil {
		return 0, fmt.Errorf("unmarshal embedding: %w", err)
	}
	return cosineSimilarity(query, stored), nil
}

// cosineSimilarity returns the cosine similarity of two vectors, or 0 when
// dimensions mismatch or either vector is zero.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// sortAndTrim orders results by similarity descending and keeps the top k.
func sortAndTrim(results *[]types.RetrievalResult, k int) {
	sort.SliceStable(*results, func(i, j int) bool {
		return (*results)[i].Similarity > (*results)[j].Similarity
	})
	if k > 0 && len(*results) > k {
		*results = (*results)[:k]
	}
}
