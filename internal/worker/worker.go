package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lyb88999/gns/internal/domain"
	"github.com/lyb88999/gns/internal/provider"
	"github.com/lyb88999/gns/internal/queue"
	"github.com/lyb88999/gns/internal/template"
)

// DefaultMaxAttempts applies to jobs stored without an attempt limit.
const DefaultMaxAttempts = 5

// Worker is a single goroutine that continuously pulls items from the priority
// queue, renders and delivers the job, and records the retry state machine's
// next step.
type Worker struct {
	id int
	Deps
}

// NewWorker constructs a worker. Nil hooks are replaced with no-ops.
func NewWorker(id int, deps Deps) *Worker {
	if deps.Hooks.OnDelivered == nil {
		deps.Hooks.OnDelivered = func(domain.Channel, time.Duration) {}
	}
	if deps.Hooks.OnFailed == nil {
		deps.Hooks.OnFailed = func(domain.Channel) {}
	}
	if deps.Hooks.OnRetry == nil {
		deps.Hooks.OnRetry = func(domain.Channel) {}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Worker{id: id, Deps: deps}
}

// Run blocks until ctx is cancelled, processing one queue item per iteration.
func (w *Worker) Run(ctx context.Context) {
	w.Logger.Info("worker started", zap.Int("id", w.id))
	for {
		item, ok := w.Queue.Dequeue(ctx)
		if !ok {
			w.Logger.Info("worker stopping", zap.Int("id", w.id))
			return
		}
		w.safeProcess(ctx, item)
	}
}

// safeProcess keeps a panicking job from taking the worker down with it.
func (w *Worker) safeProcess(ctx context.Context, item queue.Item) {
	defer func() {
		if r := recover(); r != nil {
			w.Logger.Error("worker recovered from panic",
				zap.Int("id", w.id),
				zap.String("job_id", item.JobID),
				zap.Any("panic", r),
			)
			w.failByID(context.WithoutCancel(ctx), item.JobID, fmt.Sprintf("internal error: %v", r))
		}
	}()
	w.process(ctx, item)
}

func (w *Worker) process(ctx context.Context, item queue.Item) {
	start := time.Now()
	log := w.Logger.With(
		zap.String("job_id", item.JobID),
		zap.String("task_id", item.TaskID),
	)

	job, err := w.Store.Get(ctx, item.JobID)
	if err != nil {
		log.Error("failed to fetch job", zap.Error(err))
		return
	}

	// Cancelled, finished, or already claimed by another worker.
	if job.Status != domain.StatusPending && job.Status != domain.StatusRetrying {
		log.Debug("skipping job", zap.String("status", string(job.Status)))
		return
	}
	// A scheduled retry belongs to the retry worker until it is due and claimed.
	if job.Status == domain.StatusRetrying && job.NextRetryAt != nil {
		log.Debug("skipping retry before it is due", zap.Time("next_retry_at", *job.NextRetryAt))
		return
	}

	task, tpl, err := w.Registry.Lookup(ctx, job.TaskID)
	if err != nil {
		log.Warn("task lookup failed", zap.Error(err))
		w.fail(ctx, job, "", fmt.Sprintf("task lookup: %v", err))
		return
	}
	log = log.With(zap.String("channel", string(task.Channel)))

	// Block here until the per-channel rate limiter grants a token. The job is
	// still untouched, so a shutdown leaves it for the next process.
	if w.Limiter != nil {
		if err := w.Limiter.Wait(ctx, task.Channel); err != nil {
			return
		}
	}

	switch job.Status {
	case domain.StatusPending:
		if err := w.Store.CompareAndSwapStatus(ctx, job.ID, domain.StatusPending, domain.StatusRendering); err != nil {
			log.Debug("job claimed elsewhere", zap.Error(err))
			return
		}
		job.Status = domain.StatusRendering

		content, err := template.Render(tpl, job.Data)
		if err != nil {
			log.Warn("render failed", zap.Error(err))
			w.fail(ctx, job, task.Channel, err.Error())
			return
		}
		job.Content = content

	case domain.StatusRetrying:
		if err := w.Store.CompareAndSwapStatus(ctx, job.ID, domain.StatusRetrying, domain.StatusDelivering); err != nil {
			log.Debug("job claimed elsewhere", zap.Error(err))
			return
		}
		job.Status = domain.StatusDelivering

		if job.Content == "" {
			content, err := template.Render(tpl, job.Data)
			if err != nil {
				w.fail(ctx, job, task.Channel, err.Error())
				return
			}
			job.Content = content
		}
	}

	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if job.Attempts >= maxAttempts {
		w.fail(ctx, job, task.Channel, "attempt limit reached")
		return
	}

	job.Status = domain.StatusDelivering
	job.Attempts++
	job.NextRetryAt = nil
	if err := w.Store.Record(ctx, job); err != nil {
		log.Error("failed to mark as delivering", zap.Error(err))
		return
	}

	// In-flight deliveries finish on shutdown; the gateway timeout bounds them.
	bg := context.WithoutCancel(ctx)
	result, sendErr := w.Gateway.Deliver(bg, task.Channel, job.Content, task.Recipients)
	result.Attempt = job.Attempts
	if err := w.Store.AppendResult(bg, job.ID, result); err != nil {
		log.Error("failed to append delivery result", zap.Error(err))
	}

	if sendErr == nil {
		job.Status = domain.StatusDelivered
		job.LastError = nil
		if err := w.Store.Record(bg, job); err != nil {
			log.Error("failed to mark as delivered", zap.Error(err))
			return
		}
		elapsed := time.Since(start)
		w.Hooks.OnDelivered(task.Channel, elapsed)
		log.Info("job delivered", zap.Int("attempt", job.Attempts), zap.Duration("latency", elapsed))
		return
	}

	log.Warn("delivery failed",
		zap.Error(sendErr),
		zap.Int("attempt", job.Attempts),
		zap.Bool("permanent", provider.IsPermanent(sendErr)),
	)
	w.handleFailure(bg, job, task.Channel, maxAttempts, sendErr)
}

// handleFailure either schedules a retry, if the error is transient and
// attempts remain, or marks the job as failed.
func (w *Worker) handleFailure(ctx context.Context, job *domain.NotificationJob, ch domain.Channel, maxAttempts int, sendErr error) {
	if provider.IsPermanent(sendErr) || job.Attempts >= maxAttempts {
		w.fail(ctx, job, ch, sendErr.Error())
		return
	}

	next := time.Now().UTC().Add(w.Backoff.Next(job.Attempts))
	job.Status = domain.StatusRetrying
	job.NextRetryAt = &next
	job.SetError(sendErr.Error())
	if err := w.Store.Record(ctx, job); err != nil {
		w.Logger.Error("failed to schedule retry", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	w.Hooks.OnRetry(ch)
}

// fail records job as Failed with msg. A Pending job passes through
// Rendering first since Pending cannot fail directly.
func (w *Worker) fail(ctx context.Context, job *domain.NotificationJob, ch domain.Channel, msg string) {
	if job.Status == domain.StatusPending {
		if err := w.Store.CompareAndSwapStatus(ctx, job.ID, domain.StatusPending, domain.StatusRendering); err != nil {
			w.Logger.Debug("job claimed elsewhere", zap.String("job_id", job.ID), zap.Error(err))
			return
		}
		job.Status = domain.StatusRendering
	}

	job.Status = domain.StatusFailed
	job.NextRetryAt = nil
	job.SetError(msg)
	if err := w.Store.Record(ctx, job); err != nil {
		w.Logger.Error("failed to mark as failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	w.Hooks.OnFailed(ch)
}

func (w *Worker) failByID(ctx context.Context, id, msg string) {
	job, err := w.Store.Get(ctx, id)
	if err != nil {
		w.Logger.Error("failed to fetch job after panic", zap.String("job_id", id), zap.Error(err))
		return
	}
	if job.Status.IsTerminal() {
		return
	}
	w.fail(ctx, job, "", msg)
}
