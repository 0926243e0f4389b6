package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lyb88999/gns/internal/domain"
)

type pgTokenRepository struct {
	pool *pgxpool.Pool
}

// NewPgTokenRepository returns a TokenRepository over the api_tokens table.
func NewPgTokenRepository(pool *pgxpool.Pool) TokenRepository {
	return &pgTokenRepository{pool: pool}
}

func (r *pgTokenRepository) CreateToken(ctx context.Context, t *domain.APIToken) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO api_tokens (id, name, token_hash, expires_at, revoked, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		t.ID, t.Name, t.Hash, t.ExpiresAt, t.Revoked, t.CreatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert api token: %w", err)
	}
	return nil
}

func (r *pgTokenRepository) LookupToken(ctx context.Context, hash string) (*domain.APIToken, error) {
	var t domain.APIToken
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, token_hash, expires_at, revoked, created_at
		FROM api_tokens WHERE token_hash = $1`, hash,
	).Scan(&t.ID, &t.Name, &t.Hash, &t.ExpiresAt, &t.Revoked, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("lookup api token: %w", err)
	}
	return &t, nil
}

func (r *pgTokenRepository) RevokeToken(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE api_tokens SET revoked = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("revoke api token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUnauthorized
	}
	return nil
}
