package middleware

import (
	"net"
	"net/http"

	"github.com/lyb88999/gns/internal/ratelimiter"
)

// RateLimit applies a token bucket per client IP. Place it after chi's RealIP
// so RemoteAddr already holds the forwarded address.
func RateLimit(limiters *ratelimiter.KeyedLimiters) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiters.Allow(clientIP(r)) {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "RateLimited", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
