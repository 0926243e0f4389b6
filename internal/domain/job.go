package domain

import (
	"bytes"
	"encoding/json"
	"time"
)

// DeliveryResult is the outcome of one delivery attempt.
// Results are appended to a job's history and never overwritten.
type DeliveryResult struct {
	Attempt         int       `json:"attempt"`
	Success         bool      `json:"success"`
	ChannelResponse string    `json:"channel_response,omitempty"`
	Error           string    `json:"error,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// NotificationJob is one submission of a task, tracked through delivery.
type NotificationJob struct {
	ID             string            `json:"job_id"`
	TaskID         string            `json:"task_id"`
	Data           map[string]string `json:"data"`
	Priority       Priority          `json:"priority"`
	Status         Status            `json:"status"`
	Attempts       int               `json:"attempts"`
	MaxAttempts    int               `json:"max_attempts"`
	Content        string            `json:"content,omitempty"`
	LastError      *string           `json:"last_error,omitempty"`
	IdempotencyKey *string           `json:"idempotency_key,omitempty"`
	NextRetryAt    *time.Time        `json:"next_retry_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	History        []DeliveryResult  `json:"history"`
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (j *NotificationJob) Clone() *NotificationJob {
	c := *j
	if j.Data != nil {
		c.Data = make(map[string]string, len(j.Data))
		for k, v := range j.Data {
			c.Data[k] = v
		}
	}
	if j.LastError != nil {
		v := *j.LastError
		c.LastError = &v
	}
	if j.IdempotencyKey != nil {
		v := *j.IdempotencyKey
		c.IdempotencyKey = &v
	}
	if j.NextRetryAt != nil {
		v := *j.NextRetryAt
		c.NextRetryAt = &v
	}
	c.History = append([]DeliveryResult(nil), j.History...)
	return &c
}

// SetError records msg as the job's last error.
func (j *NotificationJob) SetError(msg string) {
	j.LastError = &msg
}

// SubmitRequest is the inbound payload for POST /api/v1/notify.
type SubmitRequest struct {
	TaskID   string            `json:"taskId"`
	Data     map[string]string `json:"data"`
	Priority string            `json:"priority"`
}

// UnmarshalJSON accepts both "taskId" (as sent by the SDKs) and "task_id".
// Data values that are not strings are kept in their JSON text form.
func (r *SubmitRequest) UnmarshalJSON(b []byte) error {
	var raw struct {
		TaskID      string                     `json:"taskId"`
		TaskIDSnake string                     `json:"task_id"`
		Data        map[string]json.RawMessage `json:"data"`
		Priority    string                     `json:"priority"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	r.TaskID = raw.TaskID
	if r.TaskID == "" {
		r.TaskID = raw.TaskIDSnake
	}
	r.Priority = raw.Priority
	r.Data = make(map[string]string, len(raw.Data))
	for k, v := range raw.Data {
		// A null value counts as absent so required-field checks still fire.
		if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			r.Data[k] = s
			continue
		}
		r.Data[k] = string(v)
	}
	return nil
}

// SubmitResponse is returned when a submission is accepted.
type SubmitResponse struct {
	JobID  string `json:"job_id"`
	Status Status `json:"status"`
}

// JobFilter holds query parameters for paginated job listing.
type JobFilter struct {
	Status *Status
	TaskID string
	Page   int
	Limit  int
}
