package ratelimiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/lyb88999/gns/internal/domain"
)

// ChannelLimiters holds one token bucket limiter per delivery channel.
// Each limiter enforces a steady-state rate (e.g. 100 tokens/sec).
// Burst is set equal to the rate so no extra burst capacity is allowed
// beyond the configured per-second maximum.
type ChannelLimiters struct {
	limiters map[domain.Channel]*rate.Limiter
}

// New creates a ChannelLimiters with ratePerSec tokens per second per channel.
// A non-positive rate disables limiting.
func New(ratePerSec int) *ChannelLimiters {
	cl := &ChannelLimiters{limiters: make(map[domain.Channel]*rate.Limiter)}
	if ratePerSec <= 0 {
		return cl
	}
	r := rate.Limit(ratePerSec)
	for _, ch := range []domain.Channel{domain.ChannelWebhook, domain.ChannelEmail, domain.ChannelSMS} {
		cl.limiters[ch] = rate.NewLimiter(r, ratePerSec)
	}
	return cl
}

// Wait blocks until the channel's limiter grants a token.
// Called by each worker immediately before handing content to the gateway.
// Returns a non-nil error only if ctx is cancelled while waiting.
func (cl *ChannelLimiters) Wait(ctx context.Context, ch domain.Channel) error {
	l, ok := cl.limiters[ch]
	if !ok {
		return ctx.Err()
	}
	return l.Wait(ctx)
}

// KeyedLimiters hands out one token bucket per key (client IP on the API).
// Buckets idle longer than ttl are dropped on the next sweep.
type KeyedLimiters struct {
	mu      sync.Mutex
	r       rate.Limit
	burst   int
	ttl     time.Duration
	buckets map[string]*bucket
	swept   time.Time
}

type bucket struct {
	limiter *rate.Limiter
	seen    time.Time
}

func NewKeyed(perSec float64, burst int, ttl time.Duration) *KeyedLimiters {
	if burst < 1 {
		burst = 1
	}
	return &KeyedLimiters{
		r:       rate.Limit(perSec),
		burst:   burst,
		ttl:     ttl,
		buckets: make(map[string]*bucket),
		swept:   time.Now(),
	}
}

// Allow reports whether key may make one more request now.
func (k *KeyedLimiters) Allow(key string) bool {
	now := time.Now()

	k.mu.Lock()
	if k.ttl > 0 && now.Sub(k.swept) > k.ttl {
		for id, idle := range k.buckets {
			if now.Sub(idle.seen) > k.ttl {
				delete(k.buckets, id)
			}
		}
		k.swept = now
	}
	b, ok := k.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(k.r, k.burst)}
		k.buckets[key] = b
	}
	b.seen = now
	k.mu.Unlock()

	return b.limiter.AllowN(now, 1)
}

// Len returns the number of tracked keys.
func (k *KeyedLimiters) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buckets)
}
