package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lyb88999/gns/internal/domain"
	"github.com/lyb88999/gns/internal/registry"
)

// TaskHandler handles template and task registration.
type TaskHandler struct {
	reg    *registry.Registry
	logger *zap.Logger
}

func NewTaskHandler(reg *registry.Registry, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{reg: reg, logger: logger}
}

// CreateTemplate handles POST /api/v1/templates
func (h *TaskHandler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid JSON body")
		return
	}
	tpl, err := h.reg.CreateTemplate(r.Context(), req)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, tpl)
}

// GetTemplate handles GET /api/v1/templates/{id}
func (h *TaskHandler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := h.reg.GetTemplate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tpl)
}

// ListTemplates handles GET /api/v1/templates
func (h *TaskHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	tpls, err := h.reg.ListTemplates(r.Context())
	if err != nil {
		h.logger.Error("list templates failed", zap.Error(err))
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": tpls, "total": len(tpls)})
}

// CreateTask handles POST /api/v1/tasks
//
// @Summary  Register a task binding a template to a channel and recipients
// @Tags     tasks
// @Accept   json
// @Produce  json
// @Param    body  body      domain.CreateTaskRequest  true  "Task payload"
// @Success  201   {object}  domain.Task
// @Failure  400   {object}  ErrorResponse
// @Failure  404   {object}  ErrorResponse "Template not found"
// @Failure  409   {object}  ErrorResponse
// @Router   /api/v1/tasks [post]
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid JSON body")
		return
	}
	task, err := h.reg.CreateTask(r.Context(), req)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, task)
}

// GetTask handles GET /api/v1/tasks/{id}
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.reg.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, task)
}

// ListTasks handles GET /api/v1/tasks
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.reg.ListTasks(r.Context())
	if err != nil {
		h.logger.Error("list tasks failed", zap.Error(err))
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": tasks, "total": len(tasks)})
}

// DeactivateTask handles DELETE /api/v1/tasks/{id}
//
// The task is soft-deleted: new submissions fail with TaskInactive while jobs
// already queued still run.
func (h *TaskHandler) DeactivateTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.reg.DeactivateTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, task)
}
