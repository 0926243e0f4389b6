package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lyb88999/gns/internal/domain"
)

const tokenNameKey contextKey = "token_name"

// TokenLookup finds a stored token by the SHA-256 hash of its secret.
type TokenLookup interface {
	LookupToken(ctx context.Context, hash string) (*domain.APIToken, error)
}

// Authenticator verifies bearer tokens. Tokens from the config are compared
// by hash in constant time; anything else is looked up in the token store,
// where it must be neither revoked nor expired.
type Authenticator struct {
	static [][]byte
	store  TokenLookup
	logger *zap.Logger
	now    func() time.Time
}

func NewAuthenticator(staticTokens []string, store TokenLookup, logger *zap.Logger) *Authenticator {
	a := &Authenticator{store: store, logger: logger, now: time.Now}
	for _, t := range staticTokens {
		if t = strings.TrimSpace(t); t != "" {
			a.static = append(a.static, []byte(domain.HashToken(t)))
		}
	}
	return a
}

// Verify returns the token's name, or ErrUnauthorized.
func (a *Authenticator) Verify(ctx context.Context, raw string) (string, error) {
	if raw == "" {
		return "", domain.ErrUnauthorized
	}
	hash := domain.HashToken(raw)
	for _, h := range a.static {
		if subtle.ConstantTimeCompare(h, []byte(hash)) == 1 {
			return "static", nil
		}
	}
	if a.store == nil {
		return "", domain.ErrUnauthorized
	}

	t, err := a.store.LookupToken(ctx, hash)
	if err != nil {
		if !errors.Is(err, domain.ErrUnauthorized) {
			a.logger.Error("token lookup failed", zap.Error(err))
			return "", domain.ErrInternal
		}
		return "", err
	}
	if !t.Usable(a.now()) {
		return "", domain.ErrUnauthorized
	}
	return t.Name, nil
}

// Middleware rejects requests without a valid "Authorization: Bearer" header.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name, err := a.Verify(r.Context(), bearer(r))
		if err != nil {
			if errors.Is(err, domain.ErrInternal) {
				writeError(w, http.StatusInternalServerError, "InternalError", "internal server error")
				return
			}
			writeError(w, http.StatusUnauthorized, "Unauthorized", "missing or invalid bearer token")
			return
		}
		ctx := context.WithValue(r.Context(), tokenNameKey, name)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetTokenName returns the name of the token that authenticated the request.
func GetTokenName(ctx context.Context) string {
	v, _ := ctx.Value(tokenNameKey).(string)
	return v
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(h) < len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

// writeError mirrors the handler package's error body.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg, "code": code})
}
