// Package quota enforces per-task submission limits: hourly and daily caps
// and quiet hours.
package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lyb88999/gns/internal/domain"
)

// Counter increments a fixed-window counter and returns its new value.
// The window expires ttl after the first increment. Decr undoes one
// increment and is a no-op once the window has expired.
type Counter interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Decr(ctx context.Context, key string) error
}

// Limiter checks a task's quiet hours and hourly/daily caps before a job is created.
type Limiter struct {
	counter Counter
	loc     *time.Location
	logger  *zap.Logger
	now     func() time.Time
}

func NewLimiter(counter Counter, loc *time.Location, logger *zap.Logger) *Limiter {
	if loc == nil {
		loc = time.UTC
	}
	return &Limiter{counter: counter, loc: loc, logger: logger, now: time.Now}
}

// WithClock replaces time.Now, for tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Allow is Reserve for callers that never give the slot back.
func (l *Limiter) Allow(ctx context.Context, t *domain.Task) error {
	_, err := l.Reserve(ctx, t)
	return err
}

// Reservation holds the counter slots taken by one accepted submission.
type Reservation struct {
	l    *Limiter
	keys []string
}

// Reserve returns ErrRateLimited when the task is in quiet hours or over a cap.
// On success the caller owns one slot per cap and must Release it if the job
// is not created. A refused submission holds no slots.
// Counter failures are logged and the submission is allowed (fail open).
func (l *Limiter) Reserve(ctx context.Context, t *domain.Task) (*Reservation, error) {
	now := l.now().In(l.loc)

	if t.InSilentWindow(now) {
		return nil, fmt.Errorf("%w: task %s is in quiet hours %s-%s", domain.ErrRateLimited, t.ID, t.SilentStart, t.SilentEnd)
	}
	res := &Reservation{l: l}
	if !t.RateLimitEnabled {
		return res, nil
	}

	if t.MaxPerHour > 0 {
		key := fmt.Sprintf("gns:limit:task:%s:hour:%d", t.ID, now.Unix()/3600)
		if err := l.take(ctx, res, key, time.Hour, t.MaxPerHour); err != nil {
			res.Release(ctx)
			return nil, fmt.Errorf("%w: task %s exceeded %d per hour", err, t.ID, t.MaxPerHour)
		}
	}
	if t.MaxPerDay > 0 {
		key := fmt.Sprintf("gns:limit:task:%s:day:%s", t.ID, now.Format("20060102"))
		if err := l.take(ctx, res, key, 24*time.Hour, t.MaxPerDay); err != nil {
			res.Release(ctx)
			return nil, fmt.Errorf("%w: task %s exceeded %d per day", err, t.ID, t.MaxPerDay)
		}
	}
	return res, nil
}

func (l *Limiter) take(ctx context.Context, res *Reservation, key string, ttl time.Duration, max int) error {
	n, err := l.counter.Incr(ctx, key, ttl)
	if err != nil {
		l.logger.Warn("quota counter unavailable, allowing submission", zap.String("key", key), zap.Error(err))
		return nil
	}
	res.keys = append(res.keys, key)
	if n > int64(max) {
		return domain.ErrRateLimited
	}
	return nil
}

// Release gives the reserved slots back. It is safe on a nil Reservation
// and releases at most once.
func (r *Reservation) Release(ctx context.Context) {
	if r == nil {
		return
	}
	for _, key := range r.keys {
		if err := r.l.counter.Decr(ctx, key); err != nil {
			r.l.logger.Warn("failed to release quota slot", zap.String("key", key), zap.Error(err))
		}
	}
	r.keys = nil
}

// RedisCounter keeps counters in Redis so limits hold across instances.
type RedisCounter struct {
	client *redis.Client
}

func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

func (c *RedisCounter) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incrementing %s: %w", key, err)
	}
	if n == 1 {
		if err := c.client.Expire(ctx, key, ttl).Err(); err != nil {
			return n, fmt.Errorf("setting ttl on %s: %w", key, err)
		}
	}
	return n, nil
}

// decrScript only decrements live windows so a late release never leaves a
// counter without a TTL.
var decrScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return redis.call("DECR", KEYS[1])
end
return 0
`)

func (c *RedisCounter) Decr(ctx context.Context, key string) error {
	if err := decrScript.Run(ctx, c.client, []string{key}).Err(); err != nil {
		return fmt.Errorf("decrementing %s: %w", key, err)
	}
	return nil
}

// MemoryCounter is a process-local Counter for single-instance deployments and tests.
type MemoryCounter struct {
	mu      sync.Mutex
	now     func() time.Time
	windows map[string]*window
}

type window struct {
	count   int64
	expires time.Time
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{now: time.Now, windows: make(map[string]*window)}
}

func (c *MemoryCounter) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, w := range c.windows {
		if !now.Before(w.expires) {
			delete(c.windows, k)
		}
	}
	w, ok := c.windows[key]
	if !ok {
		w = &window{expires: now.Add(ttl)}
		c.windows[key] = w
	}
	w.count++
	return w.count, nil
}

func (c *MemoryCounter) Decr(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok := c.windows[key]; ok && w.count > 0 && c.now().Before(w.expires) {
		w.count--
	}
	return nil
}

// Connect parses a redis:// URL and verifies the server answers PING.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
