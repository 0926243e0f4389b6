// Package registry owns templates and tasks. Lookups are served from an
// in-memory index so the submission hot path never waits on storage.
package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/lyb88999/gns/internal/domain"
	"github.com/lyb88999/gns/internal/repository"
	"github.com/lyb88999/gns/internal/template"
)

// CronParser accepts standard five-field expressions and descriptors such as @hourly.
var CronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Registry caches templates and tasks in front of a TaskRepository.
type Registry struct {
	repo   repository.TaskRepository
	logger *zap.Logger
	now    func() time.Time

	mu        sync.RWMutex
	tasks     map[string]*domain.Task
	templates map[string]*domain.Template

	hooksMu sync.RWMutex
	hooks   []func(domain.Task)
}

func New(repo repository.TaskRepository, logger *zap.Logger) *Registry {
	return &Registry{
		repo:      repo,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		tasks:     make(map[string]*domain.Task),
		templates: make(map[string]*domain.Template),
	}
}

// OnTaskChange registers fn to run after a task is created or deactivated.
func (r *Registry) OnTaskChange(fn func(domain.Task)) {
	r.hooksMu.Lock()
	r.hooks = append(r.hooks, fn)
	r.hooksMu.Unlock()
}

// Warm loads every template and task into the index.
func (r *Registry) Warm(ctx context.Context) error {
	tpls, err := r.repo.ListTemplates(ctx)
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}
	tasks, err := r.repo.ListTasks(ctx)
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}

	r.mu.Lock()
	for _, t := range tpls {
		r.templates[t.ID] = t
	}
	for _, t := range tasks {
		r.tasks[t.ID] = t
	}
	r.mu.Unlock()

	r.logger.Info("registry loaded", zap.Int("templates", len(tpls)), zap.Int("tasks", len(tasks)))
	return nil
}

func (r *Registry) CreateTemplate(ctx context.Context, req domain.CreateTemplateRequest) (*domain.Template, error) {
	tpl := &domain.Template{
		ID:             strings.TrimSpace(req.ID),
		Body:           req.Body,
		RequiredFields: dedupe(req.RequiredFields),
		CreatedAt:      r.now(),
	}
	if tpl.ID == "" {
		tpl.ID = uuid.New().String()
	}
	if err := template.Validate(tpl); err != nil {
		return nil, err
	}
	if err := r.repo.CreateTemplate(ctx, tpl); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.templates[tpl.ID] = tpl
	r.mu.Unlock()

	r.logger.Info("template created", zap.String("template_id", tpl.ID), zap.Strings("required_fields", tpl.RequiredFields))
	return copyTemplate(tpl), nil
}

func (r *Registry) GetTemplate(ctx context.Context, id string) (*domain.Template, error) {
	tpl, err := r.template(ctx, id)
	if err != nil {
		return nil, err
	}
	return copyTemplate(tpl), nil
}

func (r *Registry) ListTemplates(ctx context.Context) ([]*domain.Template, error) {
	return r.repo.ListTemplates(ctx)
}

func (r *Registry) CreateTask(ctx context.Context, req domain.CreateTaskRequest) (*domain.Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	tpl, err := r.template(ctx, req.TemplateID)
	if err != nil {
		return nil, err
	}

	if req.CronExpression != "" {
		if _, err := CronParser.Parse(req.CronExpression); err != nil {
			return nil, fmt.Errorf("%w: cron_expression: %v", domain.ErrInvalidTask, err)
		}
		// A scheduled submission has nobody to report MissingField to.
		if err := template.CheckData(tpl, req.CustomData); err != nil {
			return nil, fmt.Errorf("%w: custom_data does not cover the template: %v", domain.ErrInvalidTask, err)
		}
	}

	task := &domain.Task{
		ID:               strings.TrimSpace(req.ID),
		Name:             req.Name,
		TemplateID:       tpl.ID,
		Channel:          req.Channel,
		Recipients:       trimAll(req.Recipients),
		Priority:         req.Priority,
		Active:           true,
		CronExpression:   req.CronExpression,
		CustomData:       req.CustomData,
		RateLimitEnabled: req.RateLimitEnabled,
		MaxPerHour:       req.MaxPerHour,
		MaxPerDay:        req.MaxPerDay,
		SilentStart:      req.SilentStart,
		SilentEnd:        req.SilentEnd,
		CreatedAt:        r.now(),
	}
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Priority == "" {
		task.Priority = domain.PriorityNormal
	}

	if err := r.repo.CreateTask(ctx, task); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.tasks[task.ID] = task
	r.mu.Unlock()

	r.logger.Info("task created",
		zap.String("task_id", task.ID),
		zap.String("template_id", task.TemplateID),
		zap.String("channel", string(task.Channel)),
		zap.Int("recipients", len(task.Recipients)),
	)
	r.notify(*task)
	return copyTask(task), nil
}

func (r *Registry) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	t, err := r.task(ctx, id)
	if err != nil {
		return nil, err
	}
	return copyTask(t), nil
}

func (r *Registry) ListTasks(ctx context.Context) ([]*domain.Task, error) {
	return r.repo.ListTasks(ctx)
}

// DeactivateTask soft-deletes a task. Future submissions fail with
// ErrTaskInactive; jobs already queued still run.
func (r *Registry) DeactivateTask(ctx context.Context, id string) (*domain.Task, error) {
	if _, err := r.task(ctx, id); err != nil {
		return nil, err
	}
	if err := r.repo.DeactivateTask(ctx, id, r.now()); err != nil {
		return nil, err
	}
	fresh, err := r.repo.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.tasks[id] = fresh
	r.mu.Unlock()

	r.logger.Info("task deactivated", zap.String("task_id", id))
	r.notify(*fresh)
	return copyTask(fresh), nil
}

// Resolve returns the active task and its template for a new submission.
func (r *Registry) Resolve(ctx context.Context, taskID string) (*domain.Task, *domain.Template, error) {
	t, tpl, err := r.Lookup(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	if !t.Active {
		return nil, nil, domain.ErrTaskInactive
	}
	return t, tpl, nil
}

// Lookup returns the task and template regardless of activity, for jobs
// already in flight.
func (r *Registry) Lookup(ctx context.Context, taskID string) (*domain.Task, *domain.Template, error) {
	t, err := r.task(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	tpl, err := r.template(ctx, t.TemplateID)
	if err != nil {
		return nil, nil, err
	}
	return copyTask(t), copyTemplate(tpl), nil
}

func (r *Registry) task(ctx context.Context, id string) (*domain.Task, error) {
	r.mu.RLock()
	t, ok := r.tasks[id]
	r.mu.RUnlock()
	if ok {
		return t, nil
	}
	if strings.TrimSpace(id) == "" {
		return nil, domain.ErrTaskNotFound
	}

	t, err := r.repo.GetTask(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrTaskNotFound) {
			err = fmt.Errorf("%w: load task: %v", domain.ErrInternal, err)
		}
		return nil, err
	}
	r.mu.Lock()
	r.tasks[id] = t
	r.mu.Unlock()
	return t, nil
}

func (r *Registry) template(ctx context.Context, id string) (*domain.Template, error) {
	r.mu.RLock()
	tpl, ok := r.templates[id]
	r.mu.RUnlock()
	if ok {
		return tpl, nil
	}
	if strings.TrimSpace(id) == "" {
		return nil, domain.ErrTemplateNotFound
	}

	tpl, err := r.repo.GetTemplate(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrTemplateNotFound) {
			err = fmt.Errorf("%w: load template: %v", domain.ErrInternal, err)
		}
		return nil, err
	}
	r.mu.Lock()
	r.templates[id] = tpl
	r.mu.Unlock()
	return tpl, nil
}

func (r *Registry) notify(t domain.Task) {
	r.hooksMu.RLock()
	hooks := slices.Clone(r.hooks)
	r.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(t)
	}
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func trimAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.TrimSpace(s)
	}
	return out
}

func copyTask(t *domain.Task) *domain.Task {
	c := *t
	c.Recipients = append([]string(nil), t.Recipients...)
	if t.CustomData != nil {
		c.CustomData = make(map[string]string, len(t.CustomData))
		for k, v := range t.CustomData {
			c.CustomData[k] = v
		}
	}
	return &c
}

func copyTemplate(t *domain.Template) *domain.Template {
	c := *t
	c.RequiredFields = append([]string(nil), t.RequiredFields...)
	return &c
}
