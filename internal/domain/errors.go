package domain

import "errors"

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes and error codes via a single mapError function.
var (
	ErrTaskNotFound     = errors.New("task not found")
	ErrTaskInactive     = errors.New("task is inactive")
	ErrTemplateNotFound = errors.New("template not found")
	ErrJobNotFound      = errors.New("job not found")
	ErrMissingField     = errors.New("missing required field")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrRateLimited      = errors.New("rate limited")
	ErrInternal         = errors.New("internal error")

	ErrConflict          = errors.New("conflict: resource already exists")
	ErrInvalidPriority   = errors.New("invalid priority: must be low, normal, high, or critical")
	ErrInvalidChannel    = errors.New("invalid channel: must be webhook, email, or sms")
	ErrInvalidRecipients = errors.New("task must have at least one non-empty recipient")
	ErrInvalidTemplate   = errors.New("invalid template")
	ErrInvalidTask       = errors.New("invalid task")
	ErrNotCancellable    = errors.New("job cannot be cancelled in its current status")
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrQueueFull         = errors.New("queue is at capacity, try again later")
)
