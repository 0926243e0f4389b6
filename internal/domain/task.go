package domain

import (
	"fmt"
	"strings"
	"time"
)

// Template is a notification body with ${name} placeholders.
type Template struct {
	ID             string    `json:"id"`
	Body           string    `json:"body"`
	RequiredFields []string  `json:"required_fields"`
	CreatedAt      time.Time `json:"created_at"`
}

// Task binds a template to a channel and a recipient list.
// It is immutable once created except for soft deactivation.
type Task struct {
	ID         string   `json:"id"`
	Name       string   `json:"name,omitempty"`
	TemplateID string   `json:"template_id"`
	Channel    Channel  `json:"channel"`
	Recipients []string `json:"recipients"`
	Priority   Priority `json:"priority"`
	Active     bool     `json:"active"`

	// CronExpression schedules automatic submissions with CustomData.
	CronExpression string            `json:"cron_expression,omitempty"`
	CustomData     map[string]string `json:"custom_data,omitempty"`

	RateLimitEnabled bool   `json:"rate_limit_enabled"`
	MaxPerHour       int    `json:"max_per_hour,omitempty"`
	MaxPerDay        int    `json:"max_per_day,omitempty"`
	SilentStart      string `json:"silent_start,omitempty"` // "HH:MM"
	SilentEnd        string `json:"silent_end,omitempty"`   // "HH:MM"

	CreatedAt     time.Time  `json:"created_at"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
}

// CreateTemplateRequest is the inbound payload for registering a template.
type CreateTemplateRequest struct {
	ID             string   `json:"id"`
	Body           string   `json:"body"`
	RequiredFields []string `json:"required_fields"`
}

// CreateTaskRequest is the inbound payload for registering a task.
type CreateTaskRequest struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	TemplateID       string            `json:"template_id"`
	Channel          Channel           `json:"channel"`
	Recipients       []string          `json:"recipients"`
	Priority         Priority          `json:"priority"`
	CronExpression   string            `json:"cron_expression"`
	CustomData       map[string]string `json:"custom_data"`
	RateLimitEnabled bool              `json:"rate_limit_enabled"`
	MaxPerHour       int               `json:"max_per_hour"`
	MaxPerDay        int               `json:"max_per_day"`
	SilentStart      string            `json:"silent_start"`
	SilentEnd        string            `json:"silent_end"`
}

func (r *CreateTaskRequest) Validate() error {
	if strings.TrimSpace(r.TemplateID) == "" {
		return fmt.Errorf("%w: template_id is required", ErrInvalidTask)
	}
	if !r.Channel.IsValid() {
		return ErrInvalidChannel
	}
	if r.Priority != "" && !r.Priority.IsValid() {
		return ErrInvalidPriority
	}
	if len(r.Recipients) == 0 {
		return ErrInvalidRecipients
	}
	for _, rcpt := range r.Recipients {
		if strings.TrimSpace(rcpt) == "" {
			return ErrInvalidRecipients
		}
	}
	if r.MaxPerHour < 0 || r.MaxPerDay < 0 {
		return fmt.Errorf("%w: rate limits must not be negative", ErrInvalidTask)
	}
	if (r.SilentStart == "") != (r.SilentEnd == "") {
		return fmt.Errorf("%w: silent_start and silent_end must be set together", ErrInvalidTask)
	}
	if r.SilentStart != "" {
		if _, err := ParseClock(r.SilentStart); err != nil {
			return fmt.Errorf("%w: silent_start: %v", ErrInvalidTask, err)
		}
		if _, err := ParseClock(r.SilentEnd); err != nil {
			return fmt.Errorf("%w: silent_end: %v", ErrInvalidTask, err)
		}
	}
	return nil
}

// ParseClock parses "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// InSilentWindow reports whether now falls inside the task's quiet hours.
// Windows may cross midnight (e.g. 22:00 to 07:00). Both ends are inclusive.
func (t *Task) InSilentWindow(now time.Time) bool {
	if t.SilentStart == "" || t.SilentEnd == "" {
		return false
	}
	start, err := ParseClock(t.SilentStart)
	if err != nil {
		return false
	}
	end, err := ParseClock(t.SilentEnd)
	if err != nil {
		return false
	}
	cur := now.Hour()*60 + now.Minute()
	if start <= end {
		return cur >= start && cur <= end
	}
	return cur >= start || cur <= end
}
