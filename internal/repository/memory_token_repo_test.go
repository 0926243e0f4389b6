package repository_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyb88999/gns/internal/domain"
	"github.com/lyb88999/gns/internal/repository"
)

func TestMemoryTokenRepository_RevokeToken(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryTokenRepository()
	hash := domain.HashToken("secret")
	require.NoError(t, repo.CreateToken(ctx, &domain.APIToken{ID: "t1", Name: "ci", Hash: hash}))

	tok, err := repo.LookupToken(ctx, hash)
	require.NoError(t, err)
	assert.False(t, tok.Revoked)

	require.NoError(t, repo.RevokeToken(ctx, "t1"))
	tok, err = repo.LookupToken(ctx, hash)
	require.NoError(t, err)
	assert.True(t, tok.Revoked)

	assert.ErrorIs(t, repo.RevokeToken(ctx, "missing"), domain.ErrUnauthorized)
	assert.ErrorIs(t, repo.CreateToken(ctx, &domain.APIToken{ID: "t2", Hash: hash}), domain.ErrConflict)
}
