package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lyb88999/gns/internal/domain"
)

// MemoryTaskRepository is an in-memory TaskRepository.
type MemoryTaskRepository struct {
	mu        sync.RWMutex
	templates map[string]*domain.Template
	tasks     map[string]*domain.Task

	GetTaskErr error
}

func NewMemoryTaskRepository() *MemoryTaskRepository {
	return &MemoryTaskRepository{
		templates: make(map[string]*domain.Template),
		tasks:     make(map[string]*domain.Task),
	}
}

func (m *MemoryTaskRepository) CreateTemplate(_ context.Context, t *domain.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.templates[t.ID]; ok {
		return domain.ErrConflict
	}
	m.templates[t.ID] = cloneTemplate(t)
	return nil
}

func (m *MemoryTaskRepository) GetTemplate(_ context.Context, id string) (*domain.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.templates[id]
	if !ok {
		return nil, domain.ErrTemplateNotFound
	}
	return cloneTemplate(t), nil
}

func (m *MemoryTaskRepository) ListTemplates(_ context.Context) ([]*domain.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Template, 0, len(m.templates))
	for _, t := range m.templates {
		out = append(out, cloneTemplate(t))
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (m *MemoryTaskRepository) CreateTask(_ context.Context, t *domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; ok {
		return domain.ErrConflict
	}
	if _, ok := m.templates[t.TemplateID]; !ok {
		return domain.ErrTemplateNotFound
	}
	m.tasks[t.ID] = cloneTask(t)
	return nil
}

func (m *MemoryTaskRepository) GetTask(_ context.Context, id string) (*domain.Task, error) {
	if m.GetTaskErr != nil {
		return nil, m.GetTaskErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	return cloneTask(t), nil
}

func (m *MemoryTaskRepository) ListTasks(_ context.Context) ([]*domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, cloneTask(t))
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}

func (m *MemoryTaskRepository) DeactivateTask(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return domain.ErrTaskNotFound
	}
	if !t.Active {
		return nil
	}
	t.Active = false
	t.DeactivatedAt = &at
	return nil
}

func cloneTemplate(t *domain.Template) *domain.Template {
	c := *t
	c.RequiredFields = append([]string(nil), t.RequiredFields...)
	return &c
}

func cloneTask(t *domain.Task) *domain.Task {
	c := *t
	c.Recipients = append([]string(nil), t.Recipients...)
	if t.CustomData != nil {
		c.CustomData = make(map[string]string, len(t.CustomData))
		for k, v := range t.CustomData {
			c.CustomData[k] = v
		}
	}
	if t.DeactivatedAt != nil {
		at := *t.DeactivatedAt
		c.DeactivatedAt = &at
	}
	return &c
}

var _ TaskRepository = (*MemoryTaskRepository)(nil)
