// Package jobs runs the background work families: per-user behavioral
// learning and per-document intelligence extraction. Jobs are claimed from
// the durable queue one at a time; a claim makes this process the job's
// only runner until it completes or an operator sweeps it.
package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/arclight-ai/arclight/internal/storage"
	"github.com/arclight-ai/arclight/pkg/types"
)

// ProgressFunc reports job progress. Best effort: failures are logged by
// the pool, never surfaced to the handler.
type ProgressFunc func(percent int, message string, done int)

// Handler executes one job family.
type Handler interface {
	Family() types.JobFamily

	// Handle runs one job to completion and returns a result summary. A
	// returned error fails the job with the error message recorded.
	Handle(ctx context.Context, job *types.Job, report ProgressFunc) (string, error)
}

// Pool polls the job queue with N workers. Claim polls are paced by a
// shared rate limiter so an empty queue does not turn into a busy loop, and
// transient claim errors back off exponentially.
type Pool struct {
	jobs     storage.JobStore
	handlers map[types.JobFamily]Handler
	families []types.JobFamily
	workers  int
	limiter  *rate.Limiter
}

// NewPool creates a pool of `workers` goroutines polling at pollsPerSecond
// aggregate claim rate.
func NewPool(jobStore storage.JobStore, workers int, pollsPerSecond float64) *Pool {
	if workers <= 0 {
		workers = 2
	}
	if pollsPerSecond <= 0 {
		pollsPerSecond = 4
	}
	return &Pool{
		jobs:     jobStore,
		handlers: make(map[types.JobFamily]Handler),
		workers:  workers,
		limiter:  rate.NewLimiter(rate.Limit(pollsPerSecond), 1),
	}
}

// Register adds a handler for its job family.
func (p *Pool) Register(h Handler) {
	if _, exists := p.handlers[h.Family()]; !exists {
		p.families = append(p.families, h.Family())
	}
	p.handlers[h.Family()] = h
}

// Run starts the workers and blocks until the context is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	if len(p.families) == 0 {
		return fmt.Errorf("jobs: no handlers registered")
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		worker := i
		g.Go(func() error {
			return p.runWorker(ctx, worker)
		})
	}

	err := g.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

func (p *Pool) runWorker(ctx context.Context, worker int) error {
	claimBackoff := backoff.NewExponentialBackOff()
	claimBackoff.MaxElapsedTime = 0

	next := 0
	for {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}

		family := p.families[next%len(p.families)]
		next++

		job, err := p.jobs.ClaimNext(ctx, family)
		if err != nil {
			wait := claimBackoff.NextBackOff()
			log.Printf("WARNING: worker %d failed to claim %s job, retrying in %s: %v", worker, family, wait, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		claimBackoff.Reset()
		if job == nil {
			continue
		}

		p.runJob(ctx, worker, job)
	}
}

func (p *Pool) runJob(ctx context.Context, worker int, job *types.Job) {
	handler := p.handlers[job.Family]
	log.Printf("worker %d claimed %s job %s (tenant %s)", worker, job.Family, job.ID, job.TenantID)

	report := func(percent int, message string, done int) {
		ok, err := p.jobs.ReportProgress(ctx, job.ID, percent, message, done)
		if err != nil {
			log.Printf("WARNING: progress report for job %s failed: %v", job.ID, err)
		} else if !ok {
			log.Printf("WARNING: progress report for job %s dropped (job terminal or missing)", job.ID)
		}
	}

	summary, err := handler.Handle(ctx, job, report)
	if err != nil {
		log.Printf("ERROR: job %s failed: %v", job.ID, err)
		if _, cerr := p.jobs.Complete(ctx, job.ID, false, "", err.Error()); cerr != nil {
			log.Printf("ERROR: failed to record failure of job %s: %v", job.ID, cerr)
		}
		return
	}

	if _, err := p.jobs.Complete(ctx, job.ID, true, summary, ""); err != nil {
		log.Printf("ERROR: failed to complete job %s: %v", job.ID, err)
		return
	}
	log.Printf("worker %d completed %s job %s", worker, job.Family, job.ID)
}
