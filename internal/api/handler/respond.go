package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lyb88999/gns/internal/domain"
)

// Error codes returned in the "code" field of every error body.
const (
	CodeTaskNotFound     = "TaskNotFound"
	CodeTaskInactive     = "TaskInactive"
	CodeMissingField     = "MissingField"
	CodeUnauthorized     = "Unauthorized"
	CodeRateLimited      = "RateLimited"
	CodeInternalError    = "InternalError"
	CodeInvalidRequest   = "InvalidRequest"
	CodeJobNotFound      = "JobNotFound"
	CodeTemplateNotFound = "TemplateNotFound"
	CodeNotCancellable   = "NotCancellable"
	CodeConflict         = "Conflict"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, msg string) {
	respondJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

// ClassifyError translates domain sentinel errors to an HTTP status and code.
// All mapping lives here so individual handlers stay concise.
func ClassifyError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrTaskNotFound):
		return http.StatusNotFound, CodeTaskNotFound
	case errors.Is(err, domain.ErrTaskInactive):
		return http.StatusConflict, CodeTaskInactive
	case errors.Is(err, domain.ErrMissingField):
		return http.StatusUnprocessableEntity, CodeMissingField
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, CodeUnauthorized
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, CodeRateLimited
	case errors.Is(err, domain.ErrJobNotFound):
		return http.StatusNotFound, CodeJobNotFound
	case errors.Is(err, domain.ErrTemplateNotFound):
		return http.StatusNotFound, CodeTemplateNotFound
	case errors.Is(err, domain.ErrNotCancellable):
		return http.StatusConflict, CodeNotCancellable
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, domain.ErrInvalidChannel),
		errors.Is(err, domain.ErrInvalidPriority),
		errors.Is(err, domain.ErrInvalidRecipients),
		errors.Is(err, domain.ErrInvalidTemplate),
		errors.Is(err, domain.ErrInvalidTask):
		return http.StatusBadRequest, CodeInvalidRequest
	default:
		return http.StatusInternalServerError, CodeInternalError
	}
}

// mapError writes err using ClassifyError. Internal errors never leak their
// message to the client.
func mapError(w http.ResponseWriter, err error) {
	status, code := ClassifyError(err)
	msg := err.Error()
	if code == CodeInternalError {
		msg = "internal server error"
	}
	respondError(w, status, code, msg)
}
