package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lyb88999/gns/internal/domain"
	"github.com/lyb88999/gns/internal/queue"
	"github.com/lyb88999/gns/internal/quota"
	"github.com/lyb88999/gns/internal/registry"
	"github.com/lyb88999/gns/internal/status"
	"github.com/lyb88999/gns/internal/template"
)

// MaxBatchSize caps the submissions accepted by SubmitBatch.
const MaxBatchSize = 100

// Config holds the submission limits taken from the application config.
type Config struct {
	MaxAttempts int
	MaxWait     time.Duration
}

// NotificationService coordinates the registry, quota, status store and queue.
// All submission rules (validation, idempotency, quotas, cancel state machine)
// live here. HTTP handlers and the cron scheduler depend on this service, not
// on each other.
type NotificationService struct {
	reg    *registry.Registry
	store  *status.Store
	q      *queue.PriorityQueue
	quota  *quota.Limiter
	cfg    Config
	logger *zap.Logger

	onSubmitted func(domain.Priority)
	onRejected  func(error)
}

func NewNotificationService(
	reg *registry.Registry,
	store *status.Store,
	q *queue.PriorityQueue,
	limiter *quota.Limiter,
	cfg Config,
	logger *zap.Logger,
) *NotificationService {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 30 * time.Second
	}
	return &NotificationService{
		reg: reg, store: store, q: q, quota: limiter, cfg: cfg, logger: logger,
		onSubmitted: func(domain.Priority) {},
		onRejected:  func(error) {},
	}
}

// OnSubmitted registers a callback run for every newly accepted job.
func (s *NotificationService) OnSubmitted(fn func(domain.Priority)) {
	if fn != nil {
		s.onSubmitted = fn
	}
}

// OnRejected registers a callback run for every submission that failed
// without producing a job.
func (s *NotificationService) OnRejected(fn func(error)) {
	if fn != nil {
		s.onRejected = fn
	}
}

// Submit validates req, creates a Pending job and enqueues it.
//
// Idempotency: if an Idempotency-Key header was supplied and a job with that
// key already exists, the existing job is returned and the second return value
// is true. Nothing is re-validated or re-enqueued for a duplicate.
//
// A request rejected by validation or quota never creates a job.
func (s *NotificationService) Submit(
	ctx context.Context,
	req domain.SubmitRequest,
	idempotencyKey string,
) (*domain.SubmitResponse, bool, error) {
	resp, dup, err := s.submit(ctx, req, idempotencyKey)
	if err != nil {
		s.onRejected(err)
	}
	return resp, dup, err
}

func (s *NotificationService) submit(
	ctx context.Context,
	req domain.SubmitRequest,
	idempotencyKey string,
) (*domain.SubmitResponse, bool, error) {
	req.TaskID = strings.TrimSpace(req.TaskID)
	if req.TaskID == "" {
		return nil, false, fmt.Errorf("%w: taskId is required", domain.ErrInvalidTask)
	}
	priority, err := domain.ParsePriority(req.Priority)
	if err != nil {
		return nil, false, err
	}

	// --- idempotency check ---
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if idempotencyKey != "" {
		if existing, ok, err := s.duplicate(ctx, idempotencyKey); err != nil || ok {
			return existing, ok, err
		}
	}

	task, tpl, err := s.reg.Resolve(ctx, req.TaskID)
	if err != nil {
		return nil, false, err
	}
	if err := template.CheckData(tpl, req.Data); err != nil {
		return nil, false, err
	}
	var slot *quota.Reservation
	if s.quota != nil {
		if slot, err = s.quota.Reserve(ctx, task); err != nil {
			return nil, false, err
		}
	}

	if priority == "" {
		priority = task.Priority
	}
	if priority == "" {
		priority = domain.PriorityNormal
	}

	job := s.buildJob(req, priority, idempotencyKey)
	if err := s.store.Create(ctx, job); err != nil {
		// No job was created, so it must not count against the task's quota.
		slot.Release(context.WithoutCancel(ctx))
		if idempotencyKey != "" && errors.Is(err, domain.ErrConflict) {
			// Lost a race with a concurrent request carrying the same key.
			if existing, ok, derr := s.duplicate(ctx, idempotencyKey); derr == nil && ok {
				return existing, true, nil
			}
		}
		s.logger.Error("failed to persist job", zap.String("task_id", task.ID), zap.Error(err))
		return nil, false, fmt.Errorf("%w: persist job: %v", domain.ErrInternal, err)
	}

	if err := s.enqueue(ctx, job); err != nil {
		slot.Release(context.WithoutCancel(ctx))
		return nil, false, err
	}

	s.onSubmitted(priority)
	s.logger.Debug("job submitted",
		zap.String("job_id", job.ID),
		zap.String("task_id", task.ID),
		zap.String("priority", string(priority)),
	)
	return &domain.SubmitResponse{JobID: job.ID, Status: job.Status}, false, nil
}

// BatchResult is the outcome of one item of SubmitBatch. Exactly one of
// Response and Err is set.
type BatchResult struct {
	Response  *domain.SubmitResponse
	Duplicate bool
	Err       error
}

// SubmitBatch submits each request independently; one rejected item does not
// affect the others. Batches larger than MaxBatchSize are refused as a whole.
func (s *NotificationService) SubmitBatch(ctx context.Context, reqs []domain.SubmitRequest) ([]BatchResult, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("%w: batch must not be empty", domain.ErrInvalidTask)
	}
	if len(reqs) > MaxBatchSize {
		return nil, fmt.Errorf("%w: batch exceeds %d items", domain.ErrInvalidTask, MaxBatchSize)
	}

	results := make([]BatchResult, len(reqs))
	for i, req := range reqs {
		resp, dup, err := s.Submit(ctx, req, "")
		results[i] = BatchResult{Response: resp, Duplicate: dup, Err: err}
	}
	return results, nil
}

// GetJob returns the current snapshot of a job.
func (s *NotificationService) GetJob(ctx context.Context, id string) (*domain.NotificationJob, error) {
	return s.store.Get(ctx, id)
}

// WaitJob blocks until the job is terminal or wait elapses, whichever comes
// first. wait is clamped to the configured maximum.
func (s *NotificationService) WaitJob(ctx context.Context, id string, wait time.Duration) (*domain.NotificationJob, error) {
	if wait <= 0 {
		return s.store.Get(ctx, id)
	}
	if wait > s.cfg.MaxWait {
		wait = s.cfg.MaxWait
	}
	return s.store.Wait(ctx, id, wait)
}

func (s *NotificationService) ListJobs(ctx context.Context, f domain.JobFilter) ([]*domain.NotificationJob, int, error) {
	return s.store.List(ctx, f)
}

// CancelJob moves a job from Pending to Cancelled. Once a worker has claimed
// the job it can no longer be cancelled.
func (s *NotificationService) CancelJob(ctx context.Context, id string) (*domain.NotificationJob, error) {
	err := s.store.CompareAndSwapStatus(ctx, id, domain.StatusPending, domain.StatusCancelled)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInvalidTransition):
		return nil, domain.ErrNotCancellable
	default:
		return nil, err
	}
	s.logger.Info("job cancelled", zap.String("job_id", id))
	return s.store.Get(ctx, id)
}

// ---- private helpers ----

func (s *NotificationService) duplicate(ctx context.Context, key string) (*domain.SubmitResponse, bool, error) {
	existing, err := s.store.ByIdempotencyKey(ctx, key)
	if errors.Is(err, domain.ErrJobNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: idempotency lookup: %v", domain.ErrInternal, err)
	}
	return &domain.SubmitResponse{JobID: existing.ID, Status: existing.Status}, true, nil
}

func (s *NotificationService) buildJob(req domain.SubmitRequest, p domain.Priority, idempotencyKey string) *domain.NotificationJob {
	now := time.Now().UTC()
	data := make(map[string]string, len(req.Data))
	for k, v := range req.Data {
		data[k] = v
	}

	j := &domain.NotificationJob{
		ID:          uuid.New().String(),
		TaskID:      req.TaskID,
		Data:        data,
		Priority:    p,
		Status:      domain.StatusPending,
		MaxAttempts: s.cfg.MaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
		History:     []domain.DeliveryResult{},
	}
	if idempotencyKey != "" {
		j.IdempotencyKey = &idempotencyKey
	}
	return j
}

// enqueue places the job on the queue. A job that cannot be queued is
// recorded as Failed so it never sits in Pending forever.
func (s *NotificationService) enqueue(ctx context.Context, j *domain.NotificationJob) error {
	err := s.q.Enqueue(queue.Item{JobID: j.ID, TaskID: j.TaskID, Priority: j.Priority})
	if err == nil {
		return nil
	}

	s.logger.Warn("could not enqueue job, marking failed", zap.String("job_id", j.ID), zap.Error(err))
	// Pending cannot fail directly; claim the job the way a worker would.
	if cerr := s.store.CompareAndSwapStatus(ctx, j.ID, domain.StatusPending, domain.StatusRendering); cerr == nil {
		j.Status = domain.StatusFailed
		j.SetError(err.Error())
		if rerr := s.store.Record(ctx, j); rerr != nil {
			s.logger.Error("failed to mark unqueued job as failed", zap.String("job_id", j.ID), zap.Error(rerr))
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrInternal, err)
}
