// Package status is the authoritative record of every notification job's
// lifecycle. Workers write to it; the API reads from it.
package status

import (
	"context"
	"sync"
	"time"

	"github.com/lyb88999/gns/internal/domain"
	"github.com/lyb88999/gns/internal/repository"
)

// pollInterval bounds how stale Wait can be when the job was updated by
// another process sharing the same database.
const pollInterval = 250 * time.Millisecond

// Store wraps a JobRepository and lets callers block until a job settles.
type Store struct {
	repo repository.JobRepository

	mu      sync.Mutex
	waiters map[string][]chan struct{}
}

func NewStore(repo repository.JobRepository) *Store {
	return &Store{
		repo:    repo,
		waiters: make(map[string][]chan struct{}),
	}
}

// Create inserts a new job. It fails with ErrConflict on a duplicate idempotency key.
func (s *Store) Create(ctx context.Context, j *domain.NotificationJob) error {
	if err := s.repo.Create(ctx, j); err != nil {
		return err
	}
	s.wake(j.ID)
	return nil
}

// Get returns the job with the given ID, or ErrJobNotFound.
func (s *Store) Get(ctx context.Context, id string) (*domain.NotificationJob, error) {
	return s.repo.GetByID(ctx, id)
}

// Record upserts j. Recording an identical job twice is a no-op; updates
// that would leave a terminal state, return to Pending or lower the attempt
// count fail with ErrInvalidTransition.
func (s *Store) Record(ctx context.Context, j *domain.NotificationJob) error {
	if err := s.repo.Record(ctx, j); err != nil {
		return err
	}
	s.wake(j.ID)
	return nil
}

// CompareAndSwapStatus moves the job from one status to another atomically.
func (s *Store) CompareAndSwapStatus(ctx context.Context, id string, from, to domain.Status) error {
	if err := s.repo.CompareAndSwapStatus(ctx, id, from, to); err != nil {
		return err
	}
	s.wake(id)
	return nil
}

// AppendResult adds one delivery attempt to the job's history.
func (s *Store) AppendResult(ctx context.Context, id string, r domain.DeliveryResult) error {
	return s.repo.AppendResult(ctx, id, r)
}

func (s *Store) List(ctx context.Context, f domain.JobFilter) ([]*domain.NotificationJob, int, error) {
	return s.repo.List(ctx, f)
}

func (s *Store) ListByStatus(ctx context.Context, st domain.Status, limit int) ([]*domain.NotificationJob, error) {
	return s.repo.ListByStatus(ctx, st, limit)
}

func (s *Store) ByIdempotencyKey(ctx context.Context, key string) (*domain.NotificationJob, error) {
	return s.repo.GetByIdempotencyKey(ctx, key)
}

func (s *Store) ClaimDueRetries(ctx context.Context, now time.Time, limit int) ([]*domain.NotificationJob, error) {
	return s.repo.ClaimDueRetries(ctx, now, limit)
}

// Wait blocks until the job reaches a terminal status, timeout elapses or ctx
// is done, then returns the latest snapshot. Only a lookup failure or ctx
// cancellation is an error; a timeout simply returns the non-terminal job.
func (s *Store) Wait(ctx context.Context, id string, timeout time.Duration) (*domain.NotificationJob, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	poll := time.NewTicker(pollInterval)
	defer poll.Stop()

	for {
		// Subscribe before reading so an update between the read and the
		// select is not missed.
		ch := s.subscribe(id)
		j, err := s.repo.GetByID(ctx, id)
		if err != nil || j.Status.IsTerminal() {
			s.unsubscribe(id, ch)
			return j, err
		}

		select {
		case <-ch:
		case <-poll.C:
			s.unsubscribe(id, ch)
		case <-deadline.C:
			s.unsubscribe(id, ch)
			return s.repo.GetByID(ctx, id)
		case <-ctx.Done():
			s.unsubscribe(id, ch)
			return nil, ctx.Err()
		}
	}
}

func (s *Store) subscribe(id string) chan struct{} {
	ch := make(chan struct{})
	s.mu.Lock()
	s.waiters[id] = append(s.waiters[id], ch)
	s.mu.Unlock()
	return ch
}

func (s *Store) unsubscribe(id string, ch chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.waiters[id]
	for i, c := range list {
		if c == ch {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(s.waiters, id)
		return
	}
	s.waiters[id] = list
}

func (s *Store) wake(id string) {
	s.mu.Lock()
	list := s.waiters[id]
	delete(s.waiters, id)
	s.mu.Unlock()
	for _, ch := range list {
		close(ch)
	}
}
