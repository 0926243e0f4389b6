package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/lyb88999/gns/internal/api/middleware"
	"github.com/lyb88999/gns/internal/domain"
	"github.com/lyb88999/gns/internal/service"
)

// NotificationHandler handles submission and job status endpoints.
type NotificationHandler struct {
	svc    *service.NotificationService
	logger *zap.Logger
}

func NewNotificationHandler(svc *service.NotificationService, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{svc: svc, logger: logger}
}

// Submit handles POST /api/v1/notify
//
// @Summary     Submit a notification for a registered task
// @Tags        notify
// @Accept      json
// @Produce     json
// @Param       Idempotency-Key  header    string                true  "Idempotency key"
// @Param       body             body      domain.SubmitRequest  true  "taskId, data, priority"
// @Success     202              {object}  domain.SubmitResponse
// @Success     200              {object}  domain.SubmitResponse "Duplicate: returned existing job"
// @Failure     404              {object}  ErrorResponse
// @Failure     409              {object}  ErrorResponse
// @Failure     422              {object}  ErrorResponse
// @Failure     429              {object}  ErrorResponse
// @Router      /api/v1/notify [post]
func (h *NotificationHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req domain.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid JSON body")
		return
	}

	resp, isDuplicate, err := h.svc.Submit(r.Context(), req, idempotencyKey(r))
	if err != nil {
		h.logger.Warn("submit failed",
			zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
			zap.String("task_id", req.TaskID),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}

	status := http.StatusAccepted
	if isDuplicate {
		status = http.StatusOK
	}
	respondJSON(w, status, resp)
}

// GetJob handles GET /api/v1/jobs/{id}
//
// With ?wait=5s (or ?wait=5) the request blocks until the job is terminal or
// the wait elapses, then returns the latest snapshot.
//
// @Summary  Get a job with its delivery history
// @Tags     jobs
// @Produce  json
// @Param    id    path      string  true   "Job ID"
// @Param    wait  query     string  false  "Long-poll duration"
// @Success  200   {object}  domain.NotificationJob
// @Failure  404   {object}  ErrorResponse
// @Router   /api/v1/jobs/{id} [get]
func (h *NotificationHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	wait, err := parseWait(r.URL.Query().Get("wait"))
	if err != nil {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}

	job, err := h.svc.WaitJob(r.Context(), id, wait)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/v1/jobs
//
// @Summary  List jobs with filtering and pagination
// @Tags     jobs
// @Produce  json
// @Param    status   query     string  false  "Filter by status"
// @Param    task_id  query     string  false  "Filter by task"
// @Param    page     query     int     false  "Page number (default 1)"
// @Param    limit    query     int     false  "Items per page (default 20, max 100)"
// @Success  200      {object}  map[string]any
// @Router   /api/v1/jobs [get]
func (h *NotificationHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	filter, err := parseJobFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}
	jobs, total, err := h.svc.ListJobs(r.Context(), filter)
	if err != nil {
		h.logger.Error("list jobs failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, CodeInternalError, "failed to list jobs")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"data":  jobs,
		"total": total,
		"page":  filter.Page,
		"limit": filter.Limit,
	})
}

// CancelJob handles DELETE /api/v1/jobs/{id}
//
// @Summary  Cancel a job that no worker has picked up yet
// @Tags     jobs
// @Param    id   path      string  true  "Job ID"
// @Success  204
// @Failure  404  {object}  ErrorResponse
// @Failure  409  {object}  ErrorResponse
// @Router   /api/v1/jobs/{id} [delete]
func (h *NotificationHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.svc.CancelJob(r.Context(), id); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func idempotencyKey(r *http.Request) string {
	if k := r.Header.Get("Idempotency-Key"); k != "" {
		return k
	}
	return r.Header.Get("X-Idempotency-Key")
}

func parseWait(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.Atoi(s); err == nil {
		if secs < 0 {
			return 0, errInvalidWait
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, errInvalidWait
	}
	return d, nil
}

func parseJobFilter(r *http.Request) (domain.JobFilter, error) {
	q := r.URL.Query()
	filter := domain.JobFilter{Page: 1, Limit: 20, TaskID: q.Get("task_id")}

	if p, err := strconv.Atoi(q.Get("page")); err == nil && p > 0 {
		filter.Page = p
	}
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 && l <= 100 {
		filter.Limit = l
	}
	if s := q.Get("status"); s != "" {
		st, ok := parseStatus(s)
		if !ok {
			return filter, errInvalidStatus
		}
		filter.Status = &st
	}
	return filter, nil
}

var allStatuses = []domain.Status{
	domain.StatusPending, domain.StatusRendering, domain.StatusDelivering,
	domain.StatusDelivered, domain.StatusFailed, domain.StatusRetrying, domain.StatusCancelled,
}

func parseStatus(s string) (domain.Status, bool) {
	for _, st := range allStatuses {
		if strings.EqualFold(string(st), s) {
			return st, true
		}
	}
	return "", false
}

type requestError string

func (e requestError) Error() string { return string(e) }

const (
	errInvalidWait   requestError = "wait must be a non-negative duration such as 5s"
	errInvalidStatus requestError = "unknown status filter"
)
