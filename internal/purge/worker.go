// Package purge retries the deletion of vector indexes orphaned by a
// conversation deletion whose index delete failed.
package purge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/docquer/docquer/internal/metrics"
	"github.com/docquer/docquer/internal/storage"
)

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// Purger deletes an orphaned index.
type Purger interface {
	PurgeIndex(ctx context.Context, p storage.PurgePayload) error
}

// Worker processes purge_index jobs from the SQLite job queue.
type Worker struct {
	store  JobStore
	purger Purger
	poll   time.Duration
	logger *slog.Logger
}

// NewWorker creates a Worker. If pollInterval is <= 0, it defaults to 5s.
func NewWorker(store JobStore, purger Purger, pollInterval time.Duration, logger *slog.Logger) *Worker {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:  store,
		purger: purger,
		poll:   pollInterval,
		logger: logger,
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("purge iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single purge job. It returns true if a
// job was processed, whether or not the purge succeeded.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{storage.JobPurgeIndex})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.process(ctx, job); err != nil {
		metrics.PurgeJobs.WithLabelValues("failed").Inc()
		w.logger.Warn("purge job failed", "job_id", job.ID, "attempt", job.Attempts+1, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	metrics.PurgeJobs.WithLabelValues("completed").Inc()
	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) process(ctx context.Context, job *storage.Job) error {
	var p storage.PurgePayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if err := w.purger.PurgeIndex(ctx, p); err != nil {
		return fmt.Errorf("purging %s: %w", p.IndexName, err)
	}
	w.logger.Info("orphaned index purged", "index", p.IndexName, "conversation_id", p.ConversationID)
	return nil
}
