package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyb88999/gns/internal/domain"
	"github.com/lyb88999/gns/internal/repository"
)

func newJob(id string) *domain.NotificationJob {
	now := time.Now().UTC()
	return &domain.NotificationJob{
		ID:          id,
		TaskID:      "task-1",
		Data:        map[string]string{"name": "Dev"},
		Priority:    domain.PriorityNormal,
		Status:      domain.StatusPending,
		MaxAttempts: 5,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestMemoryJobRepository_RecordUpserts(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryJobRepository()

	j := newJob("j1")
	require.NoError(t, repo.Record(ctx, j))

	got, err := repo.GetByID(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
}

func TestMemoryJobRepository_RecordIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryJobRepository()
	require.NoError(t, repo.Create(ctx, newJob("j1")))

	j, err := repo.GetByID(ctx, "j1")
	require.NoError(t, err)
	j.Status = domain.StatusRendering
	require.NoError(t, repo.Record(ctx, j))
	first, err := repo.GetByID(ctx, "j1")
	require.NoError(t, err)

	require.NoError(t, repo.Record(ctx, j))
	second, err := repo.GetByID(ctx, "j1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestMemoryJobRepository_TerminalIsImmutable(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryJobRepository()
	j := newJob("j1")
	require.NoError(t, repo.Create(ctx, j))

	for _, s := range []domain.Status{domain.StatusRendering, domain.StatusDelivering, domain.StatusDelivered} {
		j.Status = s
		if s == domain.StatusDelivering {
			j.Attempts = 1
		}
		require.NoError(t, repo.Record(ctx, j))
	}

	j.Status = domain.StatusFailed
	assert.ErrorIs(t, repo.Record(ctx, j), domain.ErrInvalidTransition)

	j.Status = domain.StatusRetrying
	assert.ErrorIs(t, repo.Record(ctx, j), domain.ErrInvalidTransition)

	got, err := repo.GetByID(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, got.Status)
}

func TestMemoryJobRepository_NoReturnToPendingOrFewerAttempts(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryJobRepository()
	j := newJob("j1")
	require.NoError(t, repo.Create(ctx, j))

	j.Status = domain.StatusRendering
	require.NoError(t, repo.Record(ctx, j))

	back := j.Clone()
	back.Status = domain.StatusPending
	assert.ErrorIs(t, repo.Record(ctx, back), domain.ErrInvalidTransition)

	j.Status = domain.StatusDelivering
	j.Attempts = 2
	require.NoError(t, repo.Record(ctx, j))

	fewer := j.Clone()
	fewer.Attempts = 1
	assert.ErrorIs(t, repo.Record(ctx, fewer), domain.ErrInvalidTransition)
}

func TestMemoryJobRepository_CompareAndSwapStatus(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryJobRepository()
	require.NoError(t, repo.Create(ctx, newJob("j1")))

	require.NoError(t, repo.CompareAndSwapStatus(ctx, "j1", domain.StatusPending, domain.StatusRendering))
	assert.ErrorIs(t,
		repo.CompareAndSwapStatus(ctx, "j1", domain.StatusPending, domain.StatusCancelled),
		domain.ErrInvalidTransition)
	assert.ErrorIs(t,
		repo.CompareAndSwapStatus(ctx, "nope", domain.StatusPending, domain.StatusCancelled),
		domain.ErrJobNotFound)
}

func TestMemoryJobRepository_HistoryIsAppendOnly(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryJobRepository()
	j := newJob("j1")
	require.NoError(t, repo.Create(ctx, j))

	require.NoError(t, repo.AppendResult(ctx, "j1", domain.DeliveryResult{Attempt: 1, Error: "timeout"}))
	require.NoError(t, repo.AppendResult(ctx, "j1", domain.DeliveryResult{Attempt: 2, Success: true}))

	// Record with a stale history does not overwrite the stored one.
	j.Status = domain.StatusRendering
	require.NoError(t, repo.Record(ctx, j))

	got, err := repo.GetByID(ctx, "j1")
	require.NoError(t, err)
	require.Len(t, got.History, 2)
	assert.Equal(t, 1, got.History[0].Attempt)
	assert.True(t, got.History[1].Success)
}

func TestMemoryJobRepository_IdempotencyKey(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryJobRepository()
	key := "order-42"

	a := newJob("a")
	a.IdempotencyKey = &key
	require.NoError(t, repo.Create(ctx, a))

	b := newJob("b")
	b.IdempotencyKey = &key
	assert.ErrorIs(t, repo.Create(ctx, b), domain.ErrConflict)

	got, err := repo.GetByIdempotencyKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "a", got.ID)

	_, err = repo.GetByIdempotencyKey(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestMemoryJobRepository_ClaimDueRetriesOnce(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryJobRepository()
	now := time.Now().UTC()

	due := newJob("due")
	due.Status = domain.StatusRetrying
	past := now.Add(-time.Second)
	due.NextRetryAt = &past
	require.NoError(t, repo.Create(ctx, due))

	later := newJob("later")
	later.Status = domain.StatusRetrying
	future := now.Add(time.Hour)
	later.NextRetryAt = &future
	require.NoError(t, repo.Create(ctx, later))

	claimed, err := repo.ClaimDueRetries(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "due", claimed[0].ID)
	assert.Nil(t, claimed[0].NextRetryAt)
	assert.True(t, claimed[0].UpdatedAt.Equal(now), "claiming counts as activity for staleness")

	stored, err := repo.GetByID(ctx, "due")
	require.NoError(t, err)
	assert.True(t, stored.UpdatedAt.Equal(now))

	again, err := repo.ClaimDueRetries(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestMemoryJobRepository_ListFiltersAndPages(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryJobRepository()
	base := time.Now().UTC()
	for i, id := range []string{"a", "b", "c"} {
		j := newJob(id)
		j.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if id == "b" {
			j.Status = domain.StatusRendering
		}
		require.NoError(t, repo.Create(ctx, j))
	}

	all, total, err := repo.List(ctx, domain.JobFilter{Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, all, 2)
	assert.Equal(t, "c", all[0].ID)

	pending := domain.StatusPending
	only, total, err := repo.List(ctx, domain.JobFilter{Status: &pending})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, only, 2)

	empty, _, err := repo.List(ctx, domain.JobFilter{Page: 5, Limit: 2})
	require.NoError(t, err)
	assert.Empty(t, empty)
}
