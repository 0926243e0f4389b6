package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lyb88999/gns/internal/domain"
)

// MemoryJobRepository is an in-memory JobRepository used in unit tests and
// when no DATABASE_URL is configured. Jobs are cloned on the way in and out.
type MemoryJobRepository struct {
	mu    sync.RWMutex
	jobs  map[string]*domain.NotificationJob
	byKey map[string]string

	// Optional error overrides, set in tests to simulate store failures.
	CreateErr error
	RecordErr error
	GetErr    error
}

func NewMemoryJobRepository() *MemoryJobRepository {
	return &MemoryJobRepository{
		jobs:  make(map[string]*domain.NotificationJob),
		byKey: make(map[string]string),
	}
}

func (m *MemoryJobRepository) Create(_ context.Context, j *domain.NotificationJob) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[j.ID]; ok {
		return domain.ErrConflict
	}
	if j.IdempotencyKey != nil {
		if _, ok := m.byKey[*j.IdempotencyKey]; ok {
			return domain.ErrConflict
		}
		m.byKey[*j.IdempotencyKey] = j.ID
	}
	m.jobs[j.ID] = j.Clone()
	return nil
}

func (m *MemoryJobRepository) Record(_ context.Context, j *domain.NotificationJob) error {
	if m.RecordErr != nil {
		return m.RecordErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.jobs[j.ID]
	if !ok {
		c := j.Clone()
		if c.IdempotencyKey != nil {
			m.byKey[*c.IdempotencyKey] = c.ID
		}
		m.jobs[j.ID] = c
		return nil
	}

	changed, err := checkRecord(cur, j)
	if err != nil || !changed {
		return err
	}
	next := j.Clone()
	next.History = cur.History
	next.CreatedAt = cur.CreatedAt
	next.IdempotencyKey = cur.IdempotencyKey
	next.UpdatedAt = time.Now().UTC()
	m.jobs[j.ID] = next
	return nil
}

func (m *MemoryJobRepository) GetByID(_ context.Context, id string) (*domain.NotificationJob, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return j.Clone(), nil
}

func (m *MemoryJobRepository) GetByIdempotencyKey(_ context.Context, key string) (*domain.NotificationJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byKey[key]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return m.jobs[id].Clone(), nil
}

func (m *MemoryJobRepository) List(_ context.Context, f domain.JobFilter) ([]*domain.NotificationJob, int, error) {
	normalizePage(&f)
	m.mu.RLock()
	matched := make([]*domain.NotificationJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		if f.Status != nil && j.Status != *f.Status {
			continue
		}
		if f.TaskID != "" && j.TaskID != f.TaskID {
			continue
		}
		matched = append(matched, j.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(a, b int) bool {
		if matched[a].CreatedAt.Equal(matched[b].CreatedAt) {
			return matched[a].ID > matched[b].ID
		}
		return matched[a].CreatedAt.After(matched[b].CreatedAt)
	})

	total := len(matched)
	start := (f.Page - 1) * f.Limit
	if start >= total {
		return []*domain.NotificationJob{}, total, nil
	}
	end := start + f.Limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (m *MemoryJobRepository) ListByStatus(_ context.Context, status domain.Status, limit int) ([]*domain.NotificationJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.NotificationJob
	for _, j := range m.jobs {
		if j.Status == status {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryJobRepository) CompareAndSwapStatus(_ context.Context, id string, from, to domain.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if j.Status != from || !domain.CanTransition(from, to) {
		return domain.ErrInvalidTransition
	}
	j.Status = to
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryJobRepository) AppendResult(_ context.Context, id string, r domain.DeliveryResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	j.History = append(j.History, r)
	return nil
}

func (m *MemoryJobRepository) ClaimDueRetries(_ context.Context, now time.Time, limit int) ([]*domain.NotificationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*domain.NotificationJob
	for _, j := range m.jobs {
		if j.Status == domain.StatusRetrying && j.NextRetryAt != nil && !j.NextRetryAt.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(a, b int) bool { return due[a].NextRetryAt.Before(*due[b].NextRetryAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]*domain.NotificationJob, 0, len(due))
	for _, j := range due {
		j.NextRetryAt = nil
		j.UpdatedAt = now
		out = append(out, j.Clone())
	}
	return out, nil
}

var _ JobRepository = (*MemoryJobRepository)(nil)
