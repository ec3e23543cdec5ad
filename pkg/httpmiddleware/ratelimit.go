package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter decides whether a request identified by key may proceed.
//
// Implementations use the sliding window approximation: the count of the
// previous fixed window is weighted by how much of it still overlaps the
// sliding window ending at now, and added to the current window count.
// Denied requests are not counted.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (Decision, error)
}

func slidingEstimate(prev, curr int64, windowStart, now time.Time, window time.Duration) float64 {
	overlap := 1 - float64(now.Sub(windowStart))/float64(window)
	return float64(prev)*max(overlap, 0) + float64(curr)
}

func decide(limit int, estimate float64, resetAt time.Time) Decision {
	if estimate > float64(limit) {
		return Decision{ResetAt: resetAt}
	}
	return Decision{Allowed: true, Remaining: max(limit-int(math.Ceil(estimate)), 0), ResetAt: resetAt}
}

type windowCounts struct {
	start      time.Time
	prev, curr int64
}

// MemoryLimiter keeps per-key windows in process memory.
type MemoryLimiter struct {
	limit  int
	window time.Duration

	mu   sync.Mutex
	keys map[string]*windowCounts
}

// NewMemoryLimiter allows limit requests per window and key.
func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{limit: limit, window: window, keys: make(map[string]*windowCounts)}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, now time.Time) (Decision, error) {
	start := now.Truncate(l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.keys[key]
	switch {
	case !ok:
		c = &windowCounts{start: start}
		l.keys[key] = c
	case start.Sub(c.start) == l.window:
		c.prev, c.curr, c.start = c.curr, 0, start
	case start.Sub(c.start) > l.window:
		c.prev, c.curr, c.start = 0, 0, start
	}

	d := decide(l.limit, slidingEstimate(c.prev, c.curr+1, start, now, l.window), start.Add(l.window))
	if d.Allowed {
		c.curr++
	}
	return d, nil
}

// Sweep drops keys idle for more than two windows.
func (l *MemoryLimiter) Sweep(now time.Time) {
	cutoff := now.Truncate(l.window).Add(-2 * l.window)

	l.mu.Lock()
	defer l.mu.Unlock()
	for k, c := range l.keys {
		if !c.start.After(cutoff) {
			delete(l.keys, k)
		}
	}
}

// SweepEvery runs Sweep on each tick until ctx is done.
func (l *MemoryLimiter) SweepEvery(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			l.Sweep(now)
		}
	}
}

// RedisLimiter shares windows between API replicas through Redis. Each
// fixed window is an integer key that expires after two windows.
type RedisLimiter struct {
	rdb    redis.UniversalClient
	limit  int
	window time.Duration
	prefix string
}

// NewRedisLimiter allows limit requests per window and key across all
// processes using rdb.
func NewRedisLimiter(rdb redis.UniversalClient, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, limit: limit, window: window, prefix: "streamshop:ratelimit:"}
}

func (l *RedisLimiter) windowKey(key string, start time.Time) string {
	return l.prefix + key + ":" + strconv.FormatInt(start.Unix(), 10)
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, now time.Time) (Decision, error) {
	start := now.Truncate(l.window)
	currKey := l.windowKey(key, start)
	prevKey := l.windowKey(key, start.Add(-l.window))

	var (
		prevCmd *redis.StringCmd
		currCmd *redis.IntCmd
	)
	_, err := l.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		prevCmd = p.Get(ctx, prevKey)
		currCmd = p.Incr(ctx, currKey)
		p.Expire(ctx, currKey, 2*l.window)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return Decision{}, errors.Wrap(err, "rate limit pipeline")
	}

	prev, err := prevCmd.Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Decision{}, errors.Wrap(err, "read previous window")
	}

	d := decide(l.limit, slidingEstimate(prev, currCmd.Val(), start, now, l.window), start.Add(l.window))
	if !d.Allowed {
		if err := l.rdb.Decr(ctx, currKey).Err(); err != nil {
			return d, errors.Wrap(err, "undo denied request")
		}
	}
	return d, nil
}

// RateLimitConfig configures the RateLimit middleware.
type RateLimitConfig struct {
	Limiter Limiter
	// Limit is reported in X-RateLimit-Limit.
	Limit int
	// KeyFunc extracts the client key. Defaults to the client IP.
	KeyFunc func(*http.Request) string
}

// RateLimit rejects requests over the limit with 429 and reports the quota
// in X-RateLimit-* headers. When the limiter itself fails, the request is
// let through and the failure logged.
func RateLimit(cfg RateLimitConfig) Middleware {
	keyOf := cfg.KeyFunc
	if keyOf == nil {
		keyOf = ClientIP
	}
	limit := strconv.Itoa(cfg.Limit)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			d, err := cfg.Limiter.Allow(r.Context(), keyOf(r), now)
			if err != nil {
				zctx.From(r.Context()).Warn("Rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
			if !d.Allowed {
				retry := int(math.Ceil(max(d.ResetAt.Sub(now), 0).Seconds()))
				h.Set("Retry-After", strconv.Itoa(retry))
				h.Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"code":"rate_limited","message":"rate limit exceeded"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the first X-Forwarded-For hop, then X-Real-IP, then the
// remote address host.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
