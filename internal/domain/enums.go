package domain

import "strings"

// Channel is the delivery channel a task is bound to.
type Channel string

const (
	ChannelWebhook Channel = "webhook"
	ChannelEmail   Channel = "email"
	ChannelSMS     Channel = "sms"
)

func (c Channel) IsValid() bool {
	switch c {
	case ChannelWebhook, ChannelEmail, ChannelSMS:
		return true
	}
	return false
}

// Priority controls queue ordering. Critical is served first.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Priorities lists every tier from lowest to highest.
var Priorities = []Priority{PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical}

// ParsePriority accepts any letter case ("High", "HIGH", "high").
// An empty string yields the empty Priority so callers can apply their own default.
func ParsePriority(s string) (Priority, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	p := Priority(strings.ToLower(s))
	if !p.IsValid() {
		return "", ErrInvalidPriority
	}
	return p, nil
}

func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Tier returns the ordinal of p: 0 for low up to 3 for critical.
// Unknown values rank as normal.
func (p Priority) Tier() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityHigh:
		return 2
	case PriorityCritical:
		return 3
	}
	return 1
}

// PriorityFromTier is the inverse of Tier, clamped to the valid range.
func PriorityFromTier(tier int) Priority {
	if tier <= 0 {
		return PriorityLow
	}
	if tier >= len(Priorities) {
		return PriorityCritical
	}
	return Priorities[tier]
}

// Status tracks the lifecycle of a notification job.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusRendering  Status = "Rendering"
	StatusDelivering Status = "Delivering"
	StatusDelivered  Status = "Delivered"
	StatusFailed     Status = "Failed"
	StatusRetrying   Status = "Retrying"
	StatusCancelled  Status = "Cancelled"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusRendering, StatusDelivering, StatusDelivered,
		StatusFailed, StatusRetrying, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible from s.
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusFailed || s == StatusCancelled
}

// transitions is the job state machine:
//
//	Pending    -> Rendering | Cancelled
//	Rendering  -> Delivering | Failed
//	Delivering -> Delivered | Retrying | Failed
//	Retrying   -> Delivering | Failed
var transitions = map[Status][]Status{
	StatusPending:    {StatusRendering, StatusCancelled},
	StatusRendering:  {StatusDelivering, StatusFailed},
	StatusDelivering: {StatusDelivered, StatusRetrying, StatusFailed},
	StatusRetrying:   {StatusDelivering, StatusFailed},
}

// CanTransition reports whether a job may move from one status to another.
// Staying in the same status is always allowed so re-recording a job is a no-op.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
