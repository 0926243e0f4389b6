package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lyb88999/gns/internal/domain"
)

const (
	tierCount       = 4
	defaultCapacity = 10000
)

// ErrAlreadyQueued is returned by Enqueue when the job is waiting in the queue.
var ErrAlreadyQueued = errors.New("job is already queued")

// PriorityQueue orders items strictly by tier (critical > high > normal > low)
// and first-in-first-out by submission sequence within a tier.
//
// Aging: every time the queue is inspected (Dequeue, Depths) each waiting item
// is re-tiered to min(critical, base + wait/threshold). A promoted item is merged
// into its new tier at its submission-order position, so an old low item that
// reaches high is served ahead of high items submitted after it. This bounds
// the latency of low items under sustained high/critical load.
type PriorityQueue struct {
	mu       sync.Mutex
	tiers    [tierCount][]*entry
	size     int
	seq      uint64
	capacity int
	queued   map[string]struct{}
	aging    time.Duration
	now      func() time.Time
	notify   chan struct{}

	onPromote func(from, to domain.Priority)
}

// Option configures a PriorityQueue.
type Option func(*PriorityQueue)

// WithCapacity bounds the number of waiting items. Enqueue fails with ErrQueueFull past it.
func WithCapacity(n int) Option {
	return func(q *PriorityQueue) {
		if n > 0 {
			q.capacity = n
		}
	}
}

// WithAgingThreshold sets how long an item waits before it is promoted one tier.
// Zero or negative disables aging.
func WithAgingThreshold(d time.Duration) Option {
	return func(q *PriorityQueue) { q.aging = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(q *PriorityQueue) { q.now = now }
}

// WithPromotionHook is called, under the queue lock, for every aging promotion.
func WithPromotionHook(fn func(from, to domain.Priority)) Option {
	return func(q *PriorityQueue) { q.onPromote = fn }
}

func New(opts ...Option) *PriorityQueue {
	q := &PriorityQueue{
		capacity: defaultCapacity,
		queued:   make(map[string]struct{}),
		now:      time.Now,
		notify:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue places an item on its priority tier.
// It is non-blocking: if the queue is at capacity, ErrQueueFull is returned
// immediately rather than blocking the caller (the HTTP handler).
// A job ID already waiting in the queue is refused with ErrAlreadyQueued.
func (q *PriorityQueue) Enqueue(item Item) error {
	if !item.Priority.IsValid() {
		return fmt.Errorf("unknown priority %q", item.Priority)
	}

	q.mu.Lock()
	if _, ok := q.queued[item.JobID]; ok {
		q.mu.Unlock()
		return ErrAlreadyQueued
	}
	if q.size >= q.capacity {
		q.mu.Unlock()
		return domain.ErrQueueFull
	}
	q.queued[item.JobID] = struct{}{}
	q.seq++
	tier := item.Priority.Tier()
	q.tiers[tier] = append(q.tiers[tier], &entry{
		item:       item,
		seq:        q.seq,
		base:       tier,
		tier:       tier,
		enqueuedAt: q.now(),
	})
	q.size++
	q.mu.Unlock()

	q.signal()
	return nil
}

// Dequeue blocks until an item is available or ctx is cancelled.
// Returns (Item{}, false) when ctx is cancelled (graceful shutdown signal).
func (q *PriorityQueue) Dequeue(ctx context.Context) (Item, bool) {
	for {
		if ctx.Err() != nil {
			return Item{}, false
		}

		q.mu.Lock()
		e, ok := q.popLocked()
		remaining := q.size
		q.mu.Unlock()

		if ok {
			// notify holds at most one token; pass it on so another
			// blocked worker picks up what is left.
			if remaining > 0 {
				q.signal()
			}
			item := e.item
			item.Effective = domain.PriorityFromTier(e.tier)
			item.EnqueuedAt = e.enqueuedAt
			return item, true
		}

		select {
		case <-q.notify:
		case <-ctx.Done():
			return Item{}, false
		}
	}
}

// Depths returns the number of items waiting per effective tier, after aging.
func (q *PriorityQueue) Depths() map[domain.Priority]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ageLocked(q.now())

	out := make(map[domain.Priority]int, tierCount)
	for t := 0; t < tierCount; t++ {
		out[domain.PriorityFromTier(t)] = len(q.tiers[t])
	}
	return out
}

// Contains reports whether jobID is waiting in the queue.
func (q *PriorityQueue) Contains(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.queued[jobID]
	return ok
}

// Len returns the total number of waiting items.
func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

func (q *PriorityQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *PriorityQueue) popLocked() (*entry, bool) {
	if q.size == 0 {
		return nil, false
	}
	q.ageLocked(q.now())
	for t := tierCount - 1; t >= 0; t-- {
		if len(q.tiers[t]) == 0 {
			continue
		}
		e := q.tiers[t][0]
		q.tiers[t][0] = nil
		q.tiers[t] = q.tiers[t][1:]
		q.size--
		delete(q.queued, e.item.JobID)
		return e, true
	}
	return nil, false
}

// ageLocked re-tiers waiting items. Targets are computed for every item from
// its original position first, then merged, so one pass never promotes an
// item twice.
func (q *PriorityQueue) ageLocked(now time.Time) {
	if q.aging <= 0 || q.size == 0 {
		return
	}

	var moved [tierCount][]*entry
	promoted := false
	for t := 0; t < tierCount-1; t++ {
		kept := q.tiers[t][:0]
		for _, e := range q.tiers[t] {
			target := e.base + int(now.Sub(e.enqueuedAt)/q.aging)
			if target >= tierCount {
				target = tierCount - 1
			}
			if target > e.tier {
				if q.onPromote != nil {
					q.onPromote(domain.PriorityFromTier(e.tier), domain.PriorityFromTier(target))
				}
				e.tier = target
				moved[target] = append(moved[target], e)
				promoted = true
				continue
			}
			kept = append(kept, e)
		}
		for i := len(kept); i < len(q.tiers[t]); i++ {
			q.tiers[t][i] = nil
		}
		q.tiers[t] = kept
	}
	if !promoted {
		return
	}

	for t := 1; t < tierCount; t++ {
		if len(moved[t]) == 0 {
			continue
		}
		sort.Slice(moved[t], func(i, j int) bool { return moved[t][i].seq < moved[t][j].seq })
		q.tiers[t] = mergeBySeq(q.tiers[t], moved[t])
	}
}

func mergeBySeq(a, b []*entry) []*entry {
	out := make([]*entry, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i].seq <= b[j].seq {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}
