package router

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/golang-lru/v2/simplelru"
	"golang.org/x/time/rate"
)

// RateLimiterConfig sizes the per-address token buckets.
type RateLimiterConfig struct {
	Rate       float64       // tokens per second
	Burst      int           // bucket capacity
	MaxBuckets int           // table capacity; least recently used buckets are evicted beyond it
	IdleTTL    time.Duration // Sweep evicts buckets untouched for longer than this
}

// DefaultRateLimiterConfig returns 8 frames/sec with a burst of 16.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Rate:       8,
		Burst:      16,
		MaxBuckets: 65536,
		IdleTTL:    10 * time.Minute,
	}
}

// Validate rejects configurations that could never admit a frame or that
// would evict a bucket before it has had time to refill.
func (c RateLimiterConfig) Validate() error {
	if c.Rate <= 0 {
		return fmt.Errorf("%w: rate must be positive", ErrInvalidRateLimiterConfig)
	}
	if c.Burst < 1 {
		return fmt.Errorf("%w: burst must be at least 1", ErrInvalidRateLimiterConfig)
	}
	if c.MaxBuckets < 1 {
		return fmt.Errorf("%w: max buckets must be at least 1", ErrInvalidRateLimiterConfig)
	}
	refill := time.Duration(float64(c.Burst) / c.Rate * float64(time.Second))
	if c.IdleTTL < refill {
		return fmt.Errorf("%w: idle ttl %v is shorter than full refill time %v", ErrInvalidRateLimiterConfig, c.IdleTTL, refill)
	}
	return nil
}

// RateLimiter keeps one token bucket per remote network key.
type RateLimiter struct {
	mu      sync.Mutex
	clock   clock.Clock
	cfg     RateLimiterConfig
	buckets *simplelru.LRU[string, *bucket]
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter reading time from clk.
func NewRateLimiter(cfg RateLimiterConfig, clk clock.Clock) (*RateLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	buckets, err := simplelru.NewLRU[string, *bucket](cfg.MaxBuckets, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket table: %w", err)
	}
	return &RateLimiter{
		clock:   clk,
		cfg:     cfg,
		buckets: buckets,
	}, nil
}

// Allow refills the bucket for key and consumes one token if at least one
// is available. Backward clock jumps add no tokens.
func (rl *RateLimiter) Allow(key string) bool {
	now := rl.clock.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b := rl.getOrCreateBucket(key, now)
	if now.After(b.lastSeen) {
		b.lastSeen = now
	}
	return b.limiter.AllowN(now, 1)
}

// Tokens reports the tokens currently available to key.
func (rl *RateLimiter) Tokens(key string) (float64, bool) {
	now := rl.clock.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets.Peek(key)
	if !ok {
		return 0, false
	}
	return b.limiter.TokensAt(now), true
}

func (rl *RateLimiter) getOrCreateBucket(key string, now time.Time) *bucket {
	if b, ok := rl.buckets.Get(key); ok {
		return b
	}
	b := &bucket{
		limiter:  rate.NewLimiter(rate.Limit(rl.cfg.Rate), rl.cfg.Burst),
		lastSeen: now,
	}
	rl.buckets.Add(key, b)
	return b
}

// Sweep removes buckets idle for longer than IdleTTL and returns how many
// were evicted. A removed bucket would have been full again anyway.
func (rl *RateLimiter) Sweep() int {
	now := rl.clock.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	evicted := 0
	for _, key := range rl.buckets.Keys() {
		b, ok := rl.buckets.Peek(key)
		if !ok {
			continue
		}
		if now.Sub(b.lastSeen) > rl.cfg.IdleTTL {
			rl.buckets.Remove(key)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of buckets currently held.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.buckets.Len()
}
