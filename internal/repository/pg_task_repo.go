package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lyb88999/gns/internal/domain"
)

const taskColumns = `id, name, template_id, channel, recipients, priority, active,
	cron_expression, custom_data, rate_limit_enabled, max_per_hour, max_per_day,
	silent_start, silent_end, created_at, deactivated_at`

type pgTaskRepository struct {
	pool *pgxpool.Pool
}

// NewPgTaskRepository returns a TaskRepository backed by PostgreSQL.
func NewPgTaskRepository(pool *pgxpool.Pool) TaskRepository {
	return &pgTaskRepository{pool: pool}
}

func (r *pgTaskRepository) CreateTemplate(ctx context.Context, t *domain.Template) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO templates (id, body, required_fields, created_at)
		VALUES ($1,$2,$3,$4)`,
		t.ID, t.Body, nonNil(t.RequiredFields), t.CreatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

func (r *pgTaskRepository) GetTemplate(ctx context.Context, id string) (*domain.Template, error) {
	var t domain.Template
	err := r.pool.QueryRow(ctx,
		`SELECT id, body, required_fields, created_at FROM templates WHERE id = $1`, id,
	).Scan(&t.ID, &t.Body, &t.RequiredFields, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTemplateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return &t, nil
}

func (r *pgTaskRepository) ListTemplates(ctx context.Context) ([]*domain.Template, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, body, required_fields, created_at FROM templates ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []*domain.Template
	for rows.Next() {
		var t domain.Template
		if err := rows.Scan(&t.ID, &t.Body, &t.RequiredFields, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (r *pgTaskRepository) CreateTask(ctx context.Context, t *domain.Task) error {
	custom := t.CustomData
	if custom == nil {
		custom = map[string]string{}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		t.ID, t.Name, t.TemplateID, t.Channel, t.Recipients, t.Priority, t.Active,
		t.CronExpression, custom, t.RateLimitEnabled, t.MaxPerHour, t.MaxPerDay,
		t.SilentStart, t.SilentEnd, t.CreatedAt, t.DeactivatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return domain.ErrConflict
		case "23503":
			return domain.ErrTemplateNotFound
		}
	}
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (r *pgTaskRepository) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	t, err := scanTask(r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (r *pgTaskRepository) ListTasks(ctx context.Context) ([]*domain.Task, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *pgTaskRepository) DeactivateTask(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tasks SET active = FALSE, deactivated_at = COALESCE(deactivated_at, $1)
		WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("deactivate task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTaskNotFound
	}
	return nil
}

func scanTask(row pgx.Row) (*domain.Task, error) {
	var t domain.Task
	err := row.Scan(
		&t.ID, &t.Name, &t.TemplateID, &t.Channel, &t.Recipients, &t.Priority, &t.Active,
		&t.CronExpression, &t.CustomData, &t.RateLimitEnabled, &t.MaxPerHour, &t.MaxPerDay,
		&t.SilentStart, &t.SilentEnd, &t.CreatedAt, &t.DeactivatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
