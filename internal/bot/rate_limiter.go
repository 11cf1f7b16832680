package bot

import (
	"fmt"
	"sync"
	"time"

	"github.com/Yiling-J/theine-go"
	"golang.org/x/time/rate"
)

// RateLimiter allows Limit commands per Window for each key.
// Idle limiters are evicted from the cache after one window.
type RateLimiter struct {
	mu       sync.Mutex
	limiters *theine.Cache[string, *rate.Limiter]
	limit    int
	window   time.Duration
}

// NewRateLimiter creates a limiter with a token bucket of size limit
// that refills completely over window
func NewRateLimiter(limit int, window time.Duration, capacity int64) (*RateLimiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, fmt.Errorf("rate limit must be positive (limit=%d, window=%s)", limit, window)
	}
	if capacity <= 0 {
		capacity = 10000
	}
	cache, err := theine.NewBuilder[string, *rate.Limiter](capacity).Build()
	if err != nil {
		return nil, fmt.Errorf("build rate limiter cache: %w", err)
	}
	return &RateLimiter{limiters: cache, limit: limit, window: window}, nil
}

// Allow reports whether key may run another command now
func (l *RateLimiter) Allow(key string) bool {
	return l.allowAt(key, time.Now())
}

func (l *RateLimiter) allowAt(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters.Get(key)
	if !ok {
		limiter = rate.NewLimiter(rate.Every(l.window/time.Duration(l.limit)), l.limit)
	}
	// refresh the TTL so active users keep their bucket
	l.limiters.SetWithTTL(key, limiter, 1, l.window)
	return limiter.AllowN(now, 1)
}

// Close releases the cache
func (l *RateLimiter) Close() {
	l.limiters.Close()
}
