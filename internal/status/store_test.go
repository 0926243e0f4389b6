package status_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyb88999/gns/internal/domain"
	"github.com/lyb88999/gns/internal/repository"
	"github.com/lyb88999/gns/internal/status"
)

func pendingJob(id string) *domain.NotificationJob {
	now := time.Now().UTC()
	return &domain.NotificationJob{
		ID:          id,
		TaskID:      "task",
		Priority:    domain.PriorityNormal,
		Status:      domain.StatusPending,
		MaxAttempts: 3,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestStore_GetNotFound(t *testing.T) {
	s := status.NewStore(repository.NewMemoryJobRepository())
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestStore_WaitReturnsOnTerminal(t *testing.T) {
	ctx := context.Background()
	s := status.NewStore(repository.NewMemoryJobRepository())
	j := pendingJob("j1")
	require.NoError(t, s.Create(ctx, j))

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = s.CompareAndSwapStatus(ctx, "j1", domain.StatusPending, domain.StatusRendering)
		j.Status, j.Attempts = domain.StatusDelivering, 1
		_ = s.Record(ctx, j)
		j.Status = domain.StatusDelivered
		_ = s.Record(ctx, j)
	}()

	start := time.Now()
	got, err := s.Wait(ctx, "j1", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, got.Status)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestStore_WaitTimesOutWithSnapshot(t *testing.T) {
	ctx := context.Background()
	s := status.NewStore(repository.NewMemoryJobRepository())
	require.NoError(t, s.Create(ctx, pendingJob("j1")))

	got, err := s.Wait(ctx, "j1", 30*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
}

func TestStore_WaitAlreadyTerminal(t *testing.T) {
	ctx := context.Background()
	s := status.NewStore(repository.NewMemoryJobRepository())
	require.NoError(t, s.Create(ctx, pendingJob("j1")))
	require.NoError(t, s.CompareAndSwapStatus(ctx, "j1", domain.StatusPending, domain.StatusCancelled))

	got, err := s.Wait(ctx, "j1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)
}

func TestStore_WaitUnknownJob(t *testing.T) {
	s := status.NewStore(repository.NewMemoryJobRepository())
	_, err := s.Wait(context.Background(), "missing", time.Second)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestStore_WaitHonoursContext(t *testing.T) {
	s := status.NewStore(repository.NewMemoryJobRepository())
	require.NoError(t, s.Create(context.Background(), pendingJob("j1")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Wait(ctx, "j1", time.Hour)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStore_RecordTwiceIsUnobservable(t *testing.T) {
	ctx := context.Background()
	s := status.NewStore(repository.NewMemoryJobRepository())
	j := pendingJob("j1")
	require.NoError(t, s.Record(ctx, j))
	before, err := s.Get(ctx, "j1")
	require.NoError(t, err)

	require.NoError(t, s.Record(ctx, j))
	after, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
