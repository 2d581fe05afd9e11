package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/arclight-ai/arclight/internal/storage"
	"github.com/arclight-ai/arclight/pkg/types"
)

// Sweep fails every job that has been in_progress longer than olderThan.
// Abandoned jobs are never requeued automatically; re-running the work is
// an operator decision made after the sweep surfaces them. Returns the
// number of jobs marked.
func Sweep(ctx context.Context, jobStore storage.JobStore, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	marked := 0

	for _, family := range []types.JobFamily{types.JobFamilyLearning, types.JobFamilyExtraction} {
		abandoned, err := jobStore.ListAbandoned(ctx, family, cutoff)
		if err != nil {
			return marked, fmt.Errorf("sweep: failed to list abandoned %s jobs: %w", family, err)
		}

		for _, job := range abandoned {
			reason := fmt.Sprintf("abandoned: in_progress since %s, swept at cutoff %s",
				job.StartedAt.UTC().Format(time.RFC3339), cutoff.Format(time.RFC3339))
			ok, err := jobStore.MarkAbandoned(ctx, job.ID, reason)
			if err != nil {
				return marked, fmt.Errorf("sweep: failed to mark job %s: %w", job.ID, err)
			}
			if !ok {
				// The job finished between list and mark. Leave it alone.
				continue
			}
			marked++
			log.Printf("swept abandoned %s job %s (tenant %s, started %s)",
				family, job.ID, job.TenantID, job.StartedAt.UTC().Format(time.RFC3339))
		}
	}
	return marked, nil
}
