package storage

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	// Callers routinely probe for existence, so this is returned as a value
	// and never raised through a panic.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrVersionConflict indicates that an optimistic-concurrency write was
	// rejected because the caller's expected version is stale. Distinct from
	// ErrNotFound so callers can re-read and retry.
	ErrVersionConflict = errors.New("version conflict")
)

// ConflictError carries the current stored version of a document whose
// optimistic-concurrency write was rejected. It unwraps to
// ErrVersionConflict so callers can match with errors.Is.
type ConflictError struct {
	CurrentVersion int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict (current version %d)", e.CurrentVersion)
}

func (e *ConflictError) Unwrap() error {
	return ErrVersionConflict
}

// ContextQuery scopes a similarity search. TenantID is mandatory for every
// query; AgentID and UserID narrow the candidate set per source.
type ContextQuery struct {
	// TenantID is required. A query without it must be rejected, never
	// widened to all tenants.
	TenantID string

	// AgentID is the requesting agent. Document search is restricted to
	// documents explicitly enabled for this agent; conversation search is
	// restricted to this agent's turns.
	AgentID string

	// UserID scopes conversation search to a single user.
	UserID string

	// Embedding is the query vector.
	Embedding []float32

	// K is the maximum number of results to return.
	K int

	// SimilarityFloor drops results with similarity (1 - cosine distance)
	// below this value. Zero keeps everything.
	SimilarityFloor float64
}

// Normalize applies defaults and clamps to a ContextQuery.
func (q *ContextQuery) Normalize() {
	if q.K <= 0 {
		q.K = 10
	}
	if q.K > 100 {
		q.K = 100
	}
	if q.SimilarityFloor < 0 {
		q.SimilarityFloor = 0
	}
}

// Credential is a tenant datastore credential bundle fetched from the
// control plane. Credentials rotate independently of the tenant row; a
// revoked credential resolves to a hard error, never a stale fallback.
type Credential struct {
	Ref       string
	DSN       string
	RotatedAt time.Time
	Revoked   bool
}
