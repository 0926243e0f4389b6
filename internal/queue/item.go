package queue

import (
	"time"

	"github.com/lyb88999/gns/internal/domain"
)

// Item is the minimal data placed on the queue.
// Workers fetch the full NotificationJob from the status store using the ID,
// keeping the queue lightweight and the store authoritative.
type Item struct {
	JobID    string
	TaskID   string
	Priority domain.Priority

	// Set by the queue on Dequeue.
	Effective  domain.Priority
	EnqueuedAt time.Time
}

type entry struct {
	item       Item
	seq        uint64
	base       int
	tier       int
	enqueuedAt time.Time
}
