package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arclight-ai/arclight/internal/storage"
	"github.com/arclight-ai/arclight/pkg/types"
)

const jobSelectColumns = `
	id, tenant_id, subject_id, family, status,
	progress_percent, progress_message, items_total, items_done,
	metadata, created_at, started_at, completed_at, result_summary, error
`

// Enqueue inserts a new pending job.
func (s *Store) Enqueue(ctx context.Context, job *types.Job) (string, error) {
	if job == nil {
		return "", storage.ErrInvalidInput
	}
	if job.TenantID == "" || job.SubjectID == "" {
		return "", fmt.Errorf("%w: tenant_id and subject_id are required", storage.ErrInvalidInput)
	}
	if !types.IsValidJobFamily(string(job.Family)) {
		return "", fmt.Errorf("%w: unknown job family %q", storage.ErrInvalidInput, job.Family)
	}

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = types.JobPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = utcNow()
	}

	var metadataJSON []byte
	if job.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(job.Metadata)
		if err != nil {
			return "", fmt.Errorf("sqlite: failed to marshal job metadata: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, tenant_id, subject_id, family, status, items_total, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.TenantID, job.SubjectID, job.Family, job.Status,
		job.ItemsTotal, nullableBytes(metadataJSON), job.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("sqlite: failed to enqueue job: %w", err)
	}
	return job.ID, nil
}

// ClaimNext atomically claims the oldest pending/queued job of the family.
// SQLite executes the whole UPDATE (candidate subquery included) as one
// serialized write, so two concurrent claimers can never both receive the
// same row.
func (s *Store) ClaimNext(ctx context.Context, family types.JobFamily) (*types.Job, error) {
	if !types.IsValidJobFamily(string(family)) {
		return nil, fmt.Errorf("%w: unknown job family %q", storage.ErrInvalidInput, family)
	}

	query := `
		UPDATE jobs
		SET status = 'in_progress', started_at = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE family = ? AND status IN ('pending', 'queued')
			ORDER BY created_at
			LIMIT 1
		)
		RETURNING ` + jobSelectColumns

	row := s.db.QueryRowContext(ctx, query, utcNow(), family)
	job, err := scanJobRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to claim job: %w", err)
	}
	return job, nil
}

// ReportProgress overwrites the job's progress fields for in-progress jobs.
func (s *Store) ReportProgress(ctx context.Context, id string, percent int, message string, done int) (bool, error) {
	if id == "" {
		return false, fmt.Errorf("%w: job ID is required", storage.ErrInvalidInput)
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET progress_percent = ?, progress_message = ?, items_done = ?
		WHERE id = ? AND status = 'in_progress'
	`, percent, nullableString(message), done, id)
	if err != nil {
		return false, fmt.Errorf("sqlite: failed to report progress: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: failed to check rows affected: %w", err)
	}
	return n > 0, nil
}

// Complete transitions a job to its terminal state. A second call affects
// zero rows and returns false without error.
func (s *Store) Complete(ctx context.Context, id string, success bool, summary, errMsg string) (bool, error) {
	if id == "" {
		return false, fmt.Errorf("%w: job ID is required", storage.ErrInvalidInput)
	}

	status := types.JobCompleted
	percentSQL := "100"
	if !success {
		status = types.JobFailed
		percentSQL = "progress_percent"
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, completed_at = ?, result_summary = ?, error = ?,
		    progress_percent = `+percentSQL+`
		WHERE id = ? AND status NOT IN ('completed', 'failed')
	`, status, utcNow(), nullableString(summary), nullableString(errMsg), id)
	if err != nil {
		return false, fmt.Errorf("sqlite: failed to complete job: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: failed to check rows affected: %w", err)
	}
	return n > 0, nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (*types.Job, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: job ID is required", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+jobSelectColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJobRow(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get job: %w", err)
	}
	return job, nil
}

// CountByStatus returns the number of jobs per status for a tenant subject.
func (s *Store) CountByStatus(ctx context.Context, tenantID, subjectID string) (map[types.JobStatus]int, error) {
	if tenantID == "" || subjectID == "" {
		return nil, fmt.Errorf("%w: tenant_id and subject_id are required", storage.ErrInvalidInput)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM jobs
		WHERE tenant_id = ? AND subject_id = ?
		GROUP BY status
	`, tenantID, subjectID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.JobStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan job count: %w", err)
		}
		counts[types.JobStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: error iterating job counts: %w", err)
	}
	return counts, nil
}

// ListAbandoned returns in-progress jobs started before cutoff.
func (s *Store) ListAbandoned(ctx context.Context, family types.JobFamily, cutoff time.Time) ([]types.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobSelectColumns+`
		FROM jobs
		WHERE family = ? AND status = 'in_progress' AND started_at < ?
		ORDER BY started_at
	`, family, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list abandoned jobs: %w", err)
	}
	defer rows.Close()

	var jobs []types.Job
	for rows.Next() {
		job, err := scanJobRow(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan abandoned job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: error iterating abandoned jobs: %w", err)
	}
	return jobs, nil
}

// MarkAbandoned fails an in-progress job with the given reason.
func (s *Store) MarkAbandoned(ctx context.Context, id string, reason string) (bool, error) {
	if id == "" {
		return false, fmt.Errorf("%w: job ID is required", storage.ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'failed', completed_at = ?, error = ?
		WHERE id = ? AND status = 'in_progress'
	`, utcNow(), reason, id)
	if err != nil {
		return false, fmt.Errorf("sqlite: failed to mark job abandoned: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: failed to check rows affected: %w", err)
	}
	return n > 0, nil
}

// scanJobRow scans a single job row. The column order must match
// jobSelectColumns.
func scanJobRow(row rowScanner) (*types.Job, error) {
	var job types.Job
	var progressMessage, resultSummary, errMsg, metadataJSON sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&job.ID,
		&job.TenantID,
		&job.SubjectID,
		&job.Family,
		&job.Status,
		&job.ProgressPercent,
		&progressMessage,
		&job.ItemsTotal,
		&job.ItemsDone,
		&metadataJSON,
		&job.CreatedAt,
		&startedAt,
		&completedAt,
		&resultSummary,
		&errMsg,
	)
	if err != nil {
		return nil, err
	}

	if progressMessage.Valid {
		job.ProgressMessage = progressMessage.String
	}
	if resultSummary.Valid {
		job.ResultSummary = resultSummary.String
	}
	if errMsg.Valid {
		job.Error = errMsg.String
	}
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &job.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal job metadata: %w", err)
		}
	}

	return &job, nil
}
