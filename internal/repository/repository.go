package repository

import (
	"context"
	"time"

	"github.com/lyb88999/gns/internal/domain"
)

// TaskRepository persists templates and tasks.
// The pgx implementation is in pg_task_repo.go; memory_task_repo.go backs tests
// and runs without a database.
type TaskRepository interface {
	CreateTemplate(ctx context.Context, t *domain.Template) error
	GetTemplate(ctx context.Context, id string) (*domain.Template, error)
	ListTemplates(ctx context.Context) ([]*domain.Template, error)

	CreateTask(ctx context.Context, t *domain.Task) error
	GetTask(ctx context.Context, id string) (*domain.Task, error)
	ListTasks(ctx context.Context) ([]*domain.Task, error)
	// DeactivateTask is idempotent: deactivating an inactive task keeps the
	// original deactivation time.
	DeactivateTask(ctx context.Context, id string, at time.Time) error
}

// JobRepository persists notification jobs and their delivery history.
//
// Record is the guarded upsert behind the status store: it inserts unknown
// jobs and updates known ones only along legal state transitions with a
// non-decreasing attempt count. Re-recording an identical job changes nothing.
// History is append-only via AppendResult; Record never rewrites it.
type JobRepository interface {
	Create(ctx context.Context, j *domain.NotificationJob) error
	Record(ctx context.Context, j *domain.NotificationJob) error
	GetByID(ctx context.Context, id string) (*domain.NotificationJob, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.NotificationJob, error)
	List(ctx context.Context, filter domain.JobFilter) ([]*domain.NotificationJob, int, error)
	ListByStatus(ctx context.Context, status domain.Status, limit int) ([]*domain.NotificationJob, error)

	// CompareAndSwapStatus moves a job from one status to another only if it
	// is currently in from. It returns ErrInvalidTransition otherwise.
	CompareAndSwapStatus(ctx context.Context, id string, from, to domain.Status) error
	AppendResult(ctx context.Context, id string, r domain.DeliveryResult) error

	// ClaimDueRetries returns Retrying jobs whose backoff elapsed by now and
	// clears their NextRetryAt so no other caller claims them again.
	ClaimDueRetries(ctx context.Context, now time.Time, limit int) ([]*domain.NotificationJob, error)
}

// TokenRepository stores API token hashes.
type TokenRepository interface {
	CreateToken(ctx context.Context, t *domain.APIToken) error
	// LookupToken returns the token with the given SHA-256 hash, or ErrUnauthorized.
	LookupToken(ctx context.Context, hash string) (*domain.APIToken, error)
	RevokeToken(ctx context.Context, id string) error
}

// checkRecord validates replacing cur with next under the job state machine.
// It reports whether next differs from cur at all.
func checkRecord(cur, next *domain.NotificationJob) (bool, error) {
	if !domain.CanTransition(cur.Status, next.Status) {
		return false, domain.ErrInvalidTransition
	}
	if next.Attempts < cur.Attempts {
		return false, domain.ErrInvalidTransition
	}
	return !sameState(cur, next), nil
}

func sameState(a, b *domain.NotificationJob) bool {
	return a.Status == b.Status &&
		a.Attempts == b.Attempts &&
		a.MaxAttempts == b.MaxAttempts &&
		a.Priority == b.Priority &&
		a.Content == b.Content &&
		equalStringPtr(a.LastError, b.LastError) &&
		equalTimePtr(a.NextRetryAt, b.NextRetryAt)
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func normalizePage(f *domain.JobFilter) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 || f.Limit > 100 {
		f.Limit = 20
	}
}
