package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/lyb88999/gns/internal/domain"
	"github.com/lyb88999/gns/internal/queue"
	"github.com/lyb88999/gns/internal/status"
)

// ReaperConfig holds configuration for the stale job reaper.
type ReaperConfig struct {
	// Interval is how often the reaper scans for stale jobs.
	Interval time.Duration

	// StaleThreshold is how long a job can sit in a non-terminal status
	// before the reaper considers it abandoned.
	StaleThreshold time.Duration

	// BatchSize caps the jobs examined per status per cycle.
	BatchSize int

	// MaxAttempts decides whether an interrupted delivery may be retried.
	MaxAttempts int
}

// Reaper reconciles the status store with the in-memory queue. The store is
// the source of truth; the queue is lost on restart.
type Reaper struct {
	store  *status.Store
	q      *queue.PriorityQueue
	config ReaperConfig
	logger *zap.Logger
	now    func() time.Time
}

func NewReaper(store *status.Store, q *queue.PriorityQueue, cfg ReaperConfig, logger *zap.Logger) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &Reaper{store: store, q: q, config: cfg, logger: logger, now: time.Now}
}

// Recover re-enqueues jobs a previous process accepted but never finished:
// every Pending job and every Retrying job whose retry was already claimed.
// Call it once before the worker pool starts.
func (r *Reaper) Recover(ctx context.Context) (int, error) {
	recovered := 0
	for _, st := range []domain.Status{domain.StatusPending, domain.StatusRetrying} {
		jobs, err := r.store.ListByStatus(ctx, st, 0)
		if err != nil {
			return recovered, err
		}
		for _, j := range jobs {
			if j.Status == domain.StatusRetrying && j.NextRetryAt != nil {
				continue // the retry worker owns it
			}
			if r.enqueue(j) {
				recovered++
			}
		}
	}
	if recovered > 0 {
		r.logger.Info("recovered unfinished jobs", zap.Int("count", recovered))
	}
	return recovered, nil
}

// Run starts the reaper loop. It blocks until the context is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	r.logger.Info("reaper started",
		zap.Duration("interval", r.config.Interval),
		zap.Duration("stale_threshold", r.config.StaleThreshold),
		zap.Int("batch_size", r.config.BatchSize),
	)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep performs one reaper cycle and returns how many jobs it touched.
func (r *Reaper) sweep(ctx context.Context) int {
	olderThan := r.now().Add(-r.config.StaleThreshold)
	touched := 0

	for _, st := range []domain.Status{domain.StatusPending, domain.StatusRendering, domain.StatusDelivering, domain.StatusRetrying} {
		jobs, err := r.store.ListByStatus(ctx, st, r.config.BatchSize)
		if err != nil {
			r.logger.Error("reaper: failed to list jobs", zap.String("status", string(st)), zap.Error(err))
			continue
		}
		for _, j := range jobs {
			if !j.UpdatedAt.Before(olderThan) {
				continue
			}
			if r.reap(ctx, j) {
				touched++
				r.logger.Info("reaper: recovered stale job",
					zap.String("job_id", j.ID),
					zap.String("original_status", string(st)),
					zap.Duration("age", r.now().Sub(j.UpdatedAt).Round(time.Second)),
				)
			}
		}
	}

	if touched > 0 {
		r.logger.Warn("reaper: sweep complete", zap.Int("recovered", touched))
	}
	return touched
}

func (r *Reaper) reap(ctx context.Context, j *domain.NotificationJob) bool {
	switch j.Status {
	case domain.StatusPending:
		return r.enqueue(j)

	case domain.StatusRetrying:
		if j.NextRetryAt != nil {
			return false
		}
		return r.enqueue(j)

	case domain.StatusRendering:
		j.Status = domain.StatusFailed
		j.SetError("interrupted before delivery")
		return r.record(ctx, j)

	case domain.StatusDelivering:
		// The outcome of the interrupted attempt is unknown; treat it as a
		// transient failure.
		if j.Attempts >= r.config.MaxAttempts {
			j.Status = domain.StatusFailed
			j.SetError("delivery interrupted on final attempt")
			return r.record(ctx, j)
		}
		now := r.now().UTC()
		j.Status = domain.StatusRetrying
		j.NextRetryAt = &now
		j.SetError("delivery interrupted")
		return r.record(ctx, j)
	}
	return false
}

// enqueue reports false when the job is still waiting in the queue; a job
// that is merely old is not abandoned.
func (r *Reaper) enqueue(j *domain.NotificationJob) bool {
	err := r.q.Enqueue(queue.Item{JobID: j.ID, TaskID: j.TaskID, Priority: j.Priority})
	switch {
	case err == nil:
		return true
	case errors.Is(err, queue.ErrAlreadyQueued):
		return false
	default:
		r.logger.Warn("reaper: failed to enqueue job", zap.String("job_id", j.ID), zap.Error(err))
		return false
	}
}

func (r *Reaper) record(ctx context.Context, j *domain.NotificationJob) bool {
	if err := r.store.Record(ctx, j); err != nil {
		r.logger.Error("reaper: failed to update job", zap.String("job_id", j.ID), zap.Error(err))
		return false
	}
	return true
}
