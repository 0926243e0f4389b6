package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/lyb88999/gns/internal/queue"
	"github.com/lyb88999/gns/internal/status"
)

// RetryWorker polls the status store for Retrying jobs whose next_retry_at
// is in the past and re-enqueues them.
//
// Claiming clears next_retry_at in the same step, so each scheduled retry is
// enqueued once even with several instances polling the same database.
type RetryWorker struct {
	store    *status.Store
	q        *queue.PriorityQueue
	interval time.Duration
	batch    int
	logger   *zap.Logger
}

func NewRetryWorker(
	store *status.Store,
	q *queue.PriorityQueue,
	interval time.Duration,
	logger *zap.Logger,
) *RetryWorker {
	if interval <= 0 {
		interval = time.Second
	}
	return &RetryWorker{store: store, q: q, interval: interval, batch: 100, logger: logger}
}

// Run ticks every interval and re-enqueues any due retries.
// Stops cleanly when ctx is cancelled.
func (rw *RetryWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(rw.interval)
	defer ticker.Stop()

	rw.logger.Info("retry worker started", zap.Duration("interval", rw.interval))

	for {
		select {
		case <-ctx.Done():
			rw.logger.Info("retry worker stopping")
			return
		case <-ticker.C:
			rw.poll(ctx)
		}
	}
}

func (rw *RetryWorker) poll(ctx context.Context) int {
	now := time.Now().UTC()
	jobs, err := rw.store.ClaimDueRetries(ctx, now, rw.batch)
	if err != nil {
		rw.logger.Error("retry poll error", zap.Error(err))
		return 0
	}

	enqueued := 0
	for _, j := range jobs {
		err := rw.q.Enqueue(queue.Item{JobID: j.ID, TaskID: j.TaskID, Priority: j.Priority})
		if err == nil {
			enqueued++
			continue
		}
		if errors.Is(err, queue.ErrAlreadyQueued) {
			// The waiting copy runs the claimed retry.
			continue
		}

		rw.logger.Warn("could not re-enqueue retry", zap.String("job_id", j.ID), zap.Error(err))
		// Put the schedule back so the next poll tries again.
		next := now.Add(rw.interval)
		j.NextRetryAt = &next
		if err := rw.store.Record(ctx, j); err != nil {
			rw.logger.Error("failed to reschedule retry", zap.String("job_id", j.ID), zap.Error(err))
		}
	}

	if enqueued > 0 {
		rw.logger.Info("re-enqueued due retries", zap.Int("count", enqueued))
	}
	return enqueued
}
