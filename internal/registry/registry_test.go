package registry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lyb88999/gns/internal/domain"
	"github.com/lyb88999/gns/internal/registry"
	"github.com/lyb88999/gns/internal/repository"
)

func newRegistry(t *testing.T) (*registry.Registry, *repository.MemoryTaskRepository) {
	t.Helper()
	repo := repository.NewMemoryTaskRepository()
	reg := registry.New(repo, zap.NewNop())
	_, err := reg.CreateTemplate(context.Background(), domain.CreateTemplateRequest{
		ID:             "greeting",
		Body:           "Hello ${name}",
		RequiredFields: []string{"name"},
	})
	require.NoError(t, err)
	return reg, repo
}

func taskReq(id string) domain.CreateTaskRequest {
	return domain.CreateTaskRequest{
		ID:         id,
		TemplateID: "greeting",
		Channel:    domain.ChannelWebhook,
		Recipients: []string{"https://example.com/hook"},
	}
}

func TestRegistry_CreateTemplateValidates(t *testing.T) {
	reg, _ := newRegistry(t)

	_, err := reg.CreateTemplate(context.Background(), domain.CreateTemplateRequest{
		ID: "bad", Body: "Hi ${name} ${missing}", RequiredFields: []string{"name"},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTemplate)

	_, err = reg.CreateTemplate(context.Background(), domain.CreateTemplateRequest{
		ID: "greeting", Body: "dup",
	})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestRegistry_CreateAndResolveTask(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()

	task, err := reg.CreateTask(ctx, taskReq("T1"))
	require.NoError(t, err)
	assert.True(t, task.Active)
	assert.Equal(t, domain.PriorityNormal, task.Priority)

	got, tpl, err := reg.Resolve(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, "T1", got.ID)
	assert.Equal(t, "Hello ${name}", tpl.Body)
}

func TestRegistry_GeneratesIDs(t *testing.T) {
	reg, _ := newRegistry(t)
	task, err := reg.CreateTask(context.Background(), taskReq(""))
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)
}

func TestRegistry_CreateTaskErrors(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()

	r := taskReq("x")
	r.TemplateID = "nope"
	_, err := reg.CreateTask(ctx, r)
	assert.ErrorIs(t, err, domain.ErrTemplateNotFound)

	r = taskReq("x")
	r.Recipients = nil
	_, err = reg.CreateTask(ctx, r)
	assert.ErrorIs(t, err, domain.ErrInvalidRecipients)

	r = taskReq("x")
	r.CronExpression = "every day"
	_, err = reg.CreateTask(ctx, r)
	assert.ErrorIs(t, err, domain.ErrInvalidTask)

	r = taskReq("x")
	r.CronExpression = "@hourly"
	_, err = reg.CreateTask(ctx, r)
	assert.ErrorIs(t, err, domain.ErrInvalidTask, "custom_data must cover the template")

	r.CustomData = map[string]string{"name": "cron"}
	_, err = reg.CreateTask(ctx, r)
	assert.NoError(t, err)

	_, err = reg.CreateTask(ctx, r)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestRegistry_ResolveUnknownAndInactive(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()

	_, _, err := reg.Resolve(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)

	_, err = reg.CreateTask(ctx, taskReq("T1"))
	require.NoError(t, err)

	var changed []domain.Task
	reg.OnTaskChange(func(t domain.Task) { changed = append(changed, t) })

	task, err := reg.DeactivateTask(ctx, "T1")
	require.NoError(t, err)
	assert.False(t, task.Active)
	assert.NotNil(t, task.DeactivatedAt)

	_, _, err = reg.Resolve(ctx, "T1")
	assert.ErrorIs(t, err, domain.ErrTaskInactive)

	// In-flight jobs can still look the task up.
	_, tpl, err := reg.Lookup(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, "greeting", tpl.ID)

	require.Len(t, changed, 1)
	assert.False(t, changed[0].Active)

	_, err = reg.DeactivateTask(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
}

func TestRegistry_ReadThroughAndWarm(t *testing.T) {
	repo := repository.NewMemoryTaskRepository()
	ctx := context.Background()

	seed := registry.New(repo, zap.NewNop())
	_, err := seed.CreateTemplate(ctx, domain.CreateTemplateRequest{ID: "tpl", Body: "static"})
	require.NoError(t, err)
	_, err = seed.CreateTask(ctx, domain.CreateTaskRequest{
		ID: "T", TemplateID: "tpl", Channel: domain.ChannelSMS, Recipients: []string{"+15550001111"},
	})
	require.NoError(t, err)

	// A fresh registry finds rows created elsewhere.
	fresh := registry.New(repo, zap.NewNop())
	_, _, err = fresh.Resolve(ctx, "T")
	require.NoError(t, err)

	warmed := registry.New(repo, zap.NewNop())
	require.NoError(t, warmed.Warm(ctx))
	repo.GetTaskErr = errors.New("db down")
	_, _, err = warmed.Resolve(ctx, "T")
	assert.NoError(t, err, "warmed registry serves from memory")

	_, _, err = warmed.Resolve(ctx, "other")
	assert.ErrorIs(t, err, domain.ErrInternal)
}

func TestRegistry_ReturnsCopies(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()
	_, err := reg.CreateTask(ctx, taskReq("T1"))
	require.NoError(t, err)

	a, err := reg.GetTask(ctx, "T1")
	require.NoError(t, err)
	a.Recipients[0] = "mutated"

	b, err := reg.GetTask(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/hook", b.Recipients[0])
}
