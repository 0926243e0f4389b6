package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/lyb88999/gns/internal/domain"
	"github.com/lyb88999/gns/internal/service"
)

// BatchHandler handles multi-submission requests.
type BatchHandler struct {
	svc    *service.NotificationService
	logger *zap.Logger
}

func NewBatchHandler(svc *service.NotificationService, logger *zap.Logger) *BatchHandler {
	return &BatchHandler{svc: svc, logger: logger}
}

// BatchRequest is the body of POST /api/v1/notify/batch.
type BatchRequest struct {
	Notifications []domain.SubmitRequest `json:"notifications"`
}

// BatchItem reports the outcome of one submission in a batch.
type BatchItem struct {
	JobID  string        `json:"job_id,omitempty"`
	Status domain.Status `json:"status,omitempty"`
	Error  string        `json:"error,omitempty"`
	Code   string        `json:"code,omitempty"`
}

// SubmitBatch handles POST /api/v1/notify/batch
//
// Every item is submitted independently. The response lists one result per
// item in request order.
//
// @Summary  Submit up to 100 notifications in a single request
// @Tags     notify
// @Accept   json
// @Produce  json
// @Param    body  body      BatchRequest  true  "Batch payload"
// @Success  207   {object}  map[string]any
// @Failure  400   {object}  ErrorResponse
// @Router   /api/v1/notify/batch [post]
func (h *BatchHandler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid JSON body")
		return
	}

	results, err := h.svc.SubmitBatch(r.Context(), req.Notifications)
	if err != nil {
		h.logger.Warn("submit batch failed", zap.Error(err))
		mapError(w, err)
		return
	}

	items := make([]BatchItem, len(results))
	accepted := 0
	for i, res := range results {
		if res.Err != nil {
			_, code := ClassifyError(res.Err)
			msg := res.Err.Error()
			if code == CodeInternalError {
				msg = "internal server error"
			}
			items[i] = BatchItem{Error: msg, Code: code}
			continue
		}
		accepted++
		items[i] = BatchItem{JobID: res.Response.JobID, Status: res.Response.Status}
	}

	respondJSON(w, http.StatusMultiStatus, map[string]any{
		"accepted": accepted,
		"rejected": len(items) - accepted,
		"results":  items,
	})
}
