package worker

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/lyb88999/gns/internal/domain"
	"github.com/lyb88999/gns/internal/registry"
)

// Submitter accepts a notification for delivery. The submission service
// satisfies it.
type Submitter interface {
	Submit(ctx context.Context, req domain.SubmitRequest, idempotencyKey string) (*domain.SubmitResponse, bool, error)
}

// SchedulerWorker submits a job for every active task with a cron expression
// each time the expression fires. Entries follow task creation and
// deactivation through the registry's change hook.
type SchedulerWorker struct {
	reg    *registry.Registry
	submit Submitter
	loc    *time.Location
	logger *zap.Logger

	mu      sync.Mutex
	c       *cron.Cron
	ctx     context.Context
	entries map[string]cron.EntryID
}

func NewSchedulerWorker(reg *registry.Registry, submit Submitter, loc *time.Location, logger *zap.Logger) *SchedulerWorker {
	if loc == nil {
		loc = time.UTC
	}
	sw := &SchedulerWorker{
		reg:     reg,
		submit:  submit,
		loc:     loc,
		logger:  logger,
		c:       cron.New(cron.WithParser(registry.CronParser), cron.WithLocation(loc)),
		ctx:     context.Background(),
		entries: make(map[string]cron.EntryID),
	}
	reg.OnTaskChange(sw.sync)
	return sw
}

// Run schedules every active cron task, then blocks until ctx is cancelled.
// Jobs already firing are allowed to finish before Run returns.
func (sw *SchedulerWorker) Run(ctx context.Context) {
	sw.mu.Lock()
	sw.ctx = ctx
	sw.mu.Unlock()

	tasks, err := sw.reg.ListTasks(ctx)
	if err != nil {
		sw.logger.Error("scheduler: failed to load tasks", zap.Error(err))
	}
	for _, t := range tasks {
		sw.sync(*t)
	}

	sw.c.Start()
	sw.logger.Info("scheduler worker started", zap.Int("entries", sw.Len()), zap.String("tz", sw.loc.String()))

	<-ctx.Done()
	sw.logger.Info("scheduler worker stopping")
	<-sw.c.Stop().Done()
}

// Len returns the number of scheduled tasks.
func (sw *SchedulerWorker) Len() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return len(sw.entries)
}

// sync adds, keeps or removes the cron entry for t.
func (sw *SchedulerWorker) sync(t domain.Task) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	id, scheduled := sw.entries[t.ID]
	want := t.Active && t.CronExpression != ""

	switch {
	case want && !scheduled:
		task := t
		entryID, err := sw.c.AddJob(t.CronExpression, cron.FuncJob(func() { sw.fire(task) }))
		if err != nil {
			sw.logger.Warn("scheduler: invalid cron expression",
				zap.String("task_id", t.ID), zap.String("cron", t.CronExpression), zap.Error(err))
			return
		}
		sw.entries[t.ID] = entryID
		sw.logger.Debug("scheduler: task scheduled", zap.String("task_id", t.ID), zap.String("cron", t.CronExpression))

	case !want && scheduled:
		sw.c.Remove(id)
		delete(sw.entries, t.ID)
		sw.logger.Debug("scheduler: task unscheduled", zap.String("task_id", t.ID))
	}
}

func (sw *SchedulerWorker) fire(t domain.Task) {
	sw.mu.Lock()
	ctx := sw.ctx
	sw.mu.Unlock()

	data := make(map[string]string, len(t.CustomData))
	for k, v := range t.CustomData {
		data[k] = v
	}
	resp, _, err := sw.submit.Submit(ctx, domain.SubmitRequest{
		TaskID:   t.ID,
		Data:     data,
		Priority: string(t.Priority),
	}, "")
	if err != nil {
		sw.logger.Warn("scheduler: submission rejected", zap.String("task_id", t.ID), zap.Error(err))
		return
	}
	sw.logger.Info("scheduler: job submitted", zap.String("task_id", t.ID), zap.String("job_id", resp.JobID))
}
