// Package limiter provides per-client rate limiting for the media endpoints.
// When a Redis URL is configured the counters are shared across instances;
// otherwise an in-process sliding window is used.
package limiter

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Limiter answers whether a given client key may proceed right now.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Options configures New. Max requests per Window per key.
type Options struct {
	RedisURL string
	Max      int
	Window   time.Duration
}

// New builds a Redis-backed limiter when a URL is configured and reachable
// configuration-wise, falling back to the in-memory implementation.
func New(opts Options) Limiter {
	if opts.Max <= 0 {
		opts.Max = 10
	}
	if opts.Window <= 0 {
		opts.Window = time.Minute
	}
	if opts.RedisURL != "" {
		ropts, err := redis.ParseURL(opts.RedisURL)
		if err != nil {
			log.Warn().Err(err).Msg("invalid redis url, using in-memory rate limiter")
		} else {
			return &redisLimiter{
				client: redis.NewClient(ropts),
				max:    opts.Max,
				window: opts.Window,
			}
		}
	}
	return newMemoryLimiter(opts.Max, opts.Window)
}

type memoryLimiter struct {
	mu     sync.Mutex
	hits   map[string][]time.Time
	max    int
	window time.Duration
	now    func() time.Time // injectable for tests
}

func newMemoryLimiter(max int, window time.Duration) *memoryLimiter {
	return &memoryLimiter{
		hits:   make(map[string][]time.Time),
		max:    max,
		window: window,
		now:    time.Now,
	}
}

func (m *memoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cutoff := now.Add(-m.window)

	kept := m.hits[key][:0]
	for _, t := range m.hits[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= m.max {
		m.hits[key] = kept
		return false, nil
	}
	m.hits[key] = append(kept, now)

	// opportunistic eviction of keys that went fully stale
	if len(m.hits) > 1024 {
		for k, ts := range m.hits {
			if len(ts) == 0 || !ts[len(ts)-1].After(cutoff) {
				delete(m.hits, k)
			}
		}
	}
	return true, nil
}

type redisLimiter struct {
	client *redis.Client
	max    int
	window time.Duration
}

// Allow counts a hit under rl:<key> with the window as TTL. The increment
// and the TTL travel in one pipeline so a failure between them cannot leave
// a counter without expiry. Redis being down fails open: slow clients over
// a broken counter beat hard 500s.
func (r *redisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	rkey := "rl:" + key

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, rkey)
	expire := pipe.ExpireNX(ctx, rkey, r.window)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Msg("rate limit check failed, allowing request")
		return true, nil
	}
	if err := expire.Err(); err != nil {
		log.Warn().Err(err).Str("key", rkey).Msg("failed to set rate limit expiry")
	}
	return incr.Val() <= int64(r.max), nil
}
