package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lyb88999/gns/internal/domain"
	"github.com/lyb88999/gns/internal/queue"
	"github.com/lyb88999/gns/internal/quota"
	"github.com/lyb88999/gns/internal/registry"
	"github.com/lyb88999/gns/internal/repository"
	"github.com/lyb88999/gns/internal/service"
	"github.com/lyb88999/gns/internal/status"
)

type fixture struct {
	svc   *service.NotificationService
	repo  *repository.MemoryJobRepository
	store *status.Store
	reg   *registry.Registry
	q     *queue.PriorityQueue
}

func newService(t *testing.T, opts ...queue.Option) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		repo: repository.NewMemoryJobRepository(),
		reg:  registry.New(repository.NewMemoryTaskRepository(), zap.NewNop()),
		q:    queue.New(opts...),
	}
	f.store = status.NewStore(f.repo)
	limiter := quota.NewLimiter(quota.NewMemoryCounter(), time.UTC, zap.NewNop())
	f.svc = service.NewNotificationService(f.reg, f.store, f.q, limiter,
		service.Config{MaxAttempts: 5, MaxWait: time.Second}, zap.NewNop())

	_, err := f.reg.CreateTemplate(ctx, domain.CreateTemplateRequest{
		ID: "greeting", Body: "Hello ${name}", RequiredFields: []string{"name"},
	})
	require.NoError(t, err)
	_, err = f.reg.CreateTask(ctx, domain.CreateTaskRequest{
		ID: "T1", TemplateID: "greeting", Channel: domain.ChannelWebhook,
		Recipients: []string{"https://example.com/hook"},
	})
	require.NoError(t, err)
	return f
}

func req(data map[string]string) domain.SubmitRequest {
	return domain.SubmitRequest{TaskID: "T1", Data: data}
}

func TestNotificationService_Submit(t *testing.T) {
	f := newService(t)
	var submitted []domain.Priority
	f.svc.OnSubmitted(func(p domain.Priority) { submitted = append(submitted, p) })

	resp, dup, err := f.svc.Submit(context.Background(), req(map[string]string{"name": "Dev"}), "")
	require.NoError(t, err)
	assert.False(t, dup)
	assert.NotEmpty(t, resp.JobID)
	assert.Equal(t, domain.StatusPending, resp.Status)

	job, err := f.svc.GetJob(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityNormal, job.Priority)
	assert.Equal(t, 5, job.MaxAttempts)
	assert.Equal(t, map[string]string{"name": "Dev"}, job.Data)

	assert.Equal(t, 1, f.q.Len())
	assert.Equal(t, []domain.Priority{domain.PriorityNormal}, submitted)
}

func TestNotificationService_Submit_Priority(t *testing.T) {
	f := newService(t)
	r := req(map[string]string{"name": "Dev"})
	r.Priority = "HIGH"

	resp, _, err := f.svc.Submit(context.Background(), r, "")
	require.NoError(t, err)
	job, err := f.svc.GetJob(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityHigh, job.Priority)

	r.Priority = "urgent"
	_, _, err = f.svc.Submit(context.Background(), r, "")
	assert.ErrorIs(t, err, domain.ErrInvalidPriority)
}

func TestNotificationService_Submit_Rejections(t *testing.T) {
	f := newService(t)
	ctx := context.Background()
	var rejected []error
	f.svc.OnRejected(func(err error) { rejected = append(rejected, err) })

	_, _, err := f.svc.Submit(ctx, domain.SubmitRequest{TaskID: "nope"}, "")
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)

	_, _, err = f.svc.Submit(ctx, domain.SubmitRequest{}, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTask)

	_, _, err = f.svc.Submit(ctx, req(map[string]string{}), "")
	assert.ErrorIs(t, err, domain.ErrMissingField)

	_, err = f.reg.DeactivateTask(ctx, "T1")
	require.NoError(t, err)
	_, _, err = f.svc.Submit(ctx, req(map[string]string{"name": "Dev"}), "")
	assert.ErrorIs(t, err, domain.ErrTaskInactive)

	jobs, total, err := f.svc.ListJobs(ctx, domain.JobFilter{})
	require.NoError(t, err)
	assert.Equal(t, 0, total, "rejected submissions never create jobs")
	assert.Empty(t, jobs)
	assert.Equal(t, 0, f.q.Len())
	assert.Len(t, rejected, 4)
}

func TestNotificationService_Submit_Idempotency(t *testing.T) {
	f := newService(t)
	ctx := context.Background()

	first, dup, err := f.svc.Submit(ctx, req(map[string]string{"name": "Dev"}), "key-1")
	require.NoError(t, err)
	assert.False(t, dup)

	second, dup, err := f.svc.Submit(ctx, req(map[string]string{"name": "Other"}), "key-1")
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, first.JobID, second.JobID)
	assert.Equal(t, 1, f.q.Len())
}

func TestNotificationService_Submit_ConcurrentIdempotency(t *testing.T) {
	f := newService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 10)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, _, err := f.svc.Submit(ctx, req(map[string]string{"name": "Dev"}), "same")
			if err == nil {
				ids[i] = resp.JobID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	_, total, err := f.svc.ListJobs(ctx, domain.JobFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestNotificationService_Submit_RateLimited(t *testing.T) {
	f := newService(t)
	ctx := context.Background()
	_, err := f.reg.CreateTask(ctx, domain.CreateTaskRequest{
		ID: "capped", TemplateID: "greeting", Channel: domain.ChannelWebhook,
		Recipients:       []string{"https://example.com/hook"},
		RateLimitEnabled: true,
		MaxPerHour:       1,
	})
	require.NoError(t, err)

	r := domain.SubmitRequest{TaskID: "capped", Data: map[string]string{"name": "Dev"}}
	_, _, err = f.svc.Submit(ctx, r, "")
	require.NoError(t, err)
	_, _, err = f.svc.Submit(ctx, r, "")
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestNotificationService_Submit_QueueFull(t *testing.T) {
	f := newService(t, queue.WithCapacity(1))
	ctx := context.Background()

	_, _, err := f.svc.Submit(ctx, req(map[string]string{"name": "a"}), "")
	require.NoError(t, err)

	_, _, err = f.svc.Submit(ctx, req(map[string]string{"name": "b"}), "")
	assert.ErrorIs(t, err, domain.ErrInternal)

	failed := domain.StatusFailed
	jobs, total, err := f.svc.ListJobs(ctx, domain.JobFilter{Status: &failed})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.NotNil(t, jobs[0].LastError)
	assert.Contains(t, *jobs[0].LastError, "capacity")
}

func TestNotificationService_Submit_StoreFailure(t *testing.T) {
	f := newService(t)
	f.repo.CreateErr = errors.New("disk full")

	_, _, err := f.svc.Submit(context.Background(), req(map[string]string{"name": "Dev"}), "")
	assert.ErrorIs(t, err, domain.ErrInternal)
	assert.Equal(t, 0, f.q.Len())
}

func TestNotificationService_Submit_FailedPersistReleasesQuota(t *testing.T) {
	f := newService(t)
	ctx := context.Background()
	_, err := f.reg.CreateTask(ctx, domain.CreateTaskRequest{
		ID: "capped", TemplateID: "greeting", Channel: domain.ChannelWebhook,
		Recipients:       []string{"https://example.com/hook"},
		RateLimitEnabled: true,
		MaxPerHour:       1,
		MaxPerDay:        1,
	})
	require.NoError(t, err)
	r := domain.SubmitRequest{TaskID: "capped", Data: map[string]string{"name": "Dev"}}

	f.repo.CreateErr = errors.New("disk full")
	_, _, err = f.svc.Submit(ctx, r, "")
	require.ErrorIs(t, err, domain.ErrInternal)

	f.repo.CreateErr = nil
	_, _, err = f.svc.Submit(ctx, r, "")
	require.NoError(t, err, "the failed attempt must not use up the hourly slot")

	_, _, err = f.svc.Submit(ctx, r, "")
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestNotificationService_SubmitBatch(t *testing.T) {
	f := newService(t)
	ctx := context.Background()

	results, err := f.svc.SubmitBatch(ctx, []domain.SubmitRequest{
		req(map[string]string{"name": "a"}),
		req(map[string]string{}),
		{TaskID: "missing"},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.NotEmpty(t, results[0].Response.JobID)
	assert.ErrorIs(t, results[1].Err, domain.ErrMissingField)
	assert.ErrorIs(t, results[2].Err, domain.ErrTaskNotFound)

	_, err = f.svc.SubmitBatch(ctx, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTask)

	_, err = f.svc.SubmitBatch(ctx, make([]domain.SubmitRequest, service.MaxBatchSize+1))
	assert.ErrorIs(t, err, domain.ErrInvalidTask)
}

func TestNotificationService_CancelJob(t *testing.T) {
	f := newService(t)
	ctx := context.Background()

	resp, _, err := f.svc.Submit(ctx, req(map[string]string{"name": "Dev"}), "")
	require.NoError(t, err)

	job, err := f.svc.CancelJob(ctx, resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, job.Status)

	_, err = f.svc.CancelJob(ctx, resp.JobID)
	assert.ErrorIs(t, err, domain.ErrNotCancellable)

	_, err = f.svc.CancelJob(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestNotificationService_WaitJob(t *testing.T) {
	f := newService(t)
	ctx := context.Background()

	resp, _, err := f.svc.Submit(ctx, req(map[string]string{"name": "Dev"}), "")
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = f.svc.CancelJob(ctx, resp.JobID)
	}()

	job, err := f.svc.WaitJob(ctx, resp.JobID, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, job.Status)

	// Clamped to MaxWait (1s) and returns the non-terminal snapshot.
	other, _, err := f.svc.Submit(ctx, req(map[string]string{"name": "Dev"}), "")
	require.NoError(t, err)
	start := time.Now()
	job, err = f.svc.WaitJob(ctx, other.JobID, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, job.Status)
	assert.Less(t, time.Since(start), 5*time.Second)
}
