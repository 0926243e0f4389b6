package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lyb88999/gns/internal/domain"
)

const jobColumns = `id, task_id, data, priority, status, attempts, max_attempts,
	content, last_error, idempotency_key, next_retry_at, created_at, updated_at`

type pgJobRepository struct {
	pool *pgxpool.Pool
}

// NewPgJobRepository returns a JobRepository backed by PostgreSQL.
func NewPgJobRepository(pool *pgxpool.Pool) JobRepository {
	return &pgJobRepository{pool: pool}
}

func (r *pgJobRepository) Create(ctx context.Context, j *domain.NotificationJob) error {
	err := insertJob(ctx, r.pool, j)
	if isUniqueViolation(err) {
		return domain.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *pgJobRepository) Record(ctx context.Context, j *domain.NotificationJob) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	cur, err := scanJob(tx.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, j.ID))
	if errors.Is(err, pgx.ErrNoRows) {
		if err := insertJob(ctx, tx, j); err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		return tx.Commit(ctx)
	}
	if err != nil {
		return fmt.Errorf("lock job: %w", err)
	}

	changed, err := checkRecord(cur, j)
	if err != nil || !changed {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE jobs
		SET status = $1, attempts = $2, max_attempts = $3, priority = $4, content = $5,
		    last_error = $6, next_retry_at = $7, updated_at = $8
		WHERE id = $9`,
		j.Status, j.Attempts, j.MaxAttempts, j.Priority, j.Content,
		j.LastError, j.NextRetryAt, time.Now().UTC(), j.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *pgJobRepository) GetByID(ctx context.Context, id string) (*domain.NotificationJob, error) {
	j, err := scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if j.History, err = r.history(ctx, id); err != nil {
		return nil, err
	}
	return j, nil
}

func (r *pgJobRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.NotificationJob, error) {
	j, err := scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE idempotency_key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job by idempotency key: %w", err)
	}
	if j.History, err = r.history(ctx, j.ID); err != nil {
		return nil, err
	}
	return j, nil
}

func (r *pgJobRepository) List(ctx context.Context, f domain.JobFilter) ([]*domain.NotificationJob, int, error) {
	normalizePage(&f)
	where, args := buildListWhere(f)
	offset := (f.Page - 1) * f.Limit

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM jobs"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	args = append(args, f.Limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM jobs%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		jobColumns, where, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs, err := scanJobs(rows)
	return jobs, total, err
}

func (r *pgJobRepository) ListByStatus(ctx context.Context, status domain.Status, limit int) ([]*domain.NotificationJob, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = $1 ORDER BY created_at ASC LIMIT $2`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs by status: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (r *pgJobRepository) CompareAndSwapStatus(ctx context.Context, id string, from, to domain.Status) error {
	if !domain.CanTransition(from, to) {
		return domain.ErrInvalidTransition
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		to, time.Now().UTC(), id, from)
	if err != nil {
		return fmt.Errorf("swap job status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check job: %w", err)
	}
	if !exists {
		return domain.ErrJobNotFound
	}
	return domain.ErrInvalidTransition
}

func (r *pgJobRepository) AppendResult(ctx context.Context, id string, res domain.DeliveryResult) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO delivery_results (job_id, attempt, success, channel_response, error, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		id, res.Attempt, res.Success, res.ChannelResponse, res.Error, res.Timestamp,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return domain.ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("append delivery result: %w", err)
	}
	return nil
}

// ClaimDueRetries uses SKIP LOCKED so several instances can poll concurrently
// without claiming the same job.
func (r *pgJobRepository) ClaimDueRetries(ctx context.Context, now time.Time, limit int) ([]*domain.NotificationJob, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx, `
		UPDATE jobs SET next_retry_at = NULL, updated_at = $1
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = 'Retrying' AND next_retry_at <= $1
			ORDER BY next_retry_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due retries: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (r *pgJobRepository) history(ctx context.Context, id string) ([]domain.DeliveryResult, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT attempt, success, channel_response, error, created_at
		FROM delivery_results WHERE job_id = $1 ORDER BY seq ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	out := []domain.DeliveryResult{}
	for rows.Next() {
		var d domain.DeliveryResult
		if err := rows.Scan(&d.Attempt, &d.Success, &d.ChannelResponse, &d.Error, &d.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ---- helpers ----

// execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertJob(ctx context.Context, db execer, j *domain.NotificationJob) error {
	data := j.Data
	if data == nil {
		data = map[string]string{}
	}
	_, err := db.Exec(ctx, `
		INSERT INTO jobs
			(id, task_id, data, priority, status, attempts, max_attempts, content,
			 last_error, idempotency_key, next_retry_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		j.ID, j.TaskID, data, j.Priority, j.Status, j.Attempts, j.MaxAttempts, j.Content,
		j.LastError, j.IdempotencyKey, j.NextRetryAt, j.CreatedAt, j.UpdatedAt,
	)
	return err
}

// scanJob reads a single job row from any pgx row type. History is loaded separately.
func scanJob(row pgx.Row) (*domain.NotificationJob, error) {
	var j domain.NotificationJob
	err := row.Scan(
		&j.ID, &j.TaskID, &j.Data, &j.Priority, &j.Status, &j.Attempts, &j.MaxAttempts,
		&j.Content, &j.LastError, &j.IdempotencyKey, &j.NextRetryAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func scanJobs(rows pgx.Rows) ([]*domain.NotificationJob, error) {
	var result []*domain.NotificationJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, j)
	}
	return result, rows.Err()
}

// buildListWhere builds a parameterised WHERE clause from a JobFilter.
func buildListWhere(f domain.JobFilter) (string, []any) {
	var conditions []string
	var args []any

	add := func(condition string, val any) {
		args = append(args, val)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}

	if f.Status != nil {
		add("status = $%d", *f.Status)
	}
	if f.TaskID != "" {
		add("task_id = $%d", f.TaskID)
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
