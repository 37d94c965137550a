// Package ratelimit provides rate limiting for tool invocations.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds rate limiter configuration.
type Config struct {
	// Semaphore: concurrent request limit
	MaxConcurrent int

	// Rate limiter: calls per second per key
	RequestsPerSecond int
	BurstSize         int

	// Debounce: suppress identical requests inside this window
	DebounceDuration time.Duration
}

// DefaultConfig returns default configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrent:     100,
		RequestsPerSecond: 10,
		BurstSize:         20,
		DebounceDuration:  0,
	}
}

// =============================================================================
// Protector
// =============================================================================

// Protector combines a concurrency semaphore, a sliding window
// limiter, and an optional debouncer in front of provider calls.
type Protector struct {
	config      *Config
	semaphore   chan struct{}
	rateLimiter *SlidingWindowLimiter
	debouncer   *Debouncer
}

// NewProtector creates a new protector.
func NewProtector(redisClient *redis.Client, config *Config) *Protector {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Protector{
		config:      config,
		semaphore:   make(chan struct{}, config.MaxConcurrent),
		rateLimiter: NewSlidingWindowLimiter(redisClient, config.RequestsPerSecond, config.BurstSize),
	}
	if config.DebounceDuration > 0 {
		p.debouncer = NewDebouncer(redisClient, config.DebounceDuration)
	}
	return p
}

// Result contains the result of a protection check.
type Result struct {
	Allowed      bool
	Reason       string
	ShouldWait   bool
	WaitDuration time.Duration
	FromDebounce bool
}

// Acquire tries to acquire permission for a call.
// Returns a release function that must be called when the call completes.
func (p *Protector) Acquire(ctx context.Context, key string) (*Result, func()) {
	select {
	case p.semaphore <- struct{}{}:
	default:
		return &Result{
			Allowed: false,
			Reason:  "too many concurrent requests",
		}, nil
	}

	releaseFunc := func() {
		<-p.semaphore
	}

	if p.debouncer != nil && p.debouncer.IsDuplicate(ctx, key) {
		releaseFunc()
		return &Result{
			Allowed:      false,
			Reason:       "duplicate request (debounced)",
			FromDebounce: true,
		}, nil
	}

	allowed, waitDuration := p.rateLimiter.Allow(ctx, key)
	if !allowed {
		releaseFunc()
		return &Result{
			Allowed:      false,
			Reason:       "rate limit exceeded",
			ShouldWait:   waitDuration > 0,
			WaitDuration: waitDuration,
		}, nil
	}

	if p.debouncer != nil {
		p.debouncer.Mark(ctx, key)
	}

	return &Result{Allowed: true}, releaseFunc
}

// =============================================================================
// SlidingWindowLimiter
// =============================================================================

// SlidingWindowLimiter implements sliding window rate limiting using Redis.
// Without Redis it falls back to a local fixed window.
type SlidingWindowLimiter struct {
	redis     *redis.Client
	rate      int
	window    time.Duration
	burstSize int

	mu         sync.Mutex
	localCount int
	localReset time.Time
}

// NewSlidingWindowLimiter creates a new sliding window rate limiter.
func NewSlidingWindowLimiter(redisClient *redis.Client, requestsPerSecond, burstSize int) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		redis:     redisClient,
		rate:      requestsPerSecond,
		window:    time.Second,
		burstSize: burstSize,
	}
}

var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local max_requests = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)

	local count = redis.call('ZCARD', key)

	if count < max_requests then
		redis.call('ZADD', key, now, now .. '-' .. math.random())
		redis.call('PEXPIRE', key, window_ms * 2)
		return 1
	else
		local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
		if #oldest > 0 then
			return -(oldest[2] + window_ms - now)
		end
		return 0
	end
`)

// Allow checks if a request is allowed and returns wait duration if not.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string) (bool, time.Duration) {
	if l.redis == nil {
		return l.allowLocal()
	}

	now := time.Now()
	windowStart := now.Add(-l.window)
	redisKey := fmt.Sprintf("ratelimit:%s", key)

	result, err := slidingWindowScript.Run(ctx, l.redis, []string{redisKey},
		now.UnixMilli(),
		windowStart.UnixMilli(),
		l.rate+l.burstSize,
		l.window.Milliseconds(),
	).Int64()

	if err != nil {
		// Redis errors fail open
		return true, 0
	}

	if result == 1 {
		return true, 0
	}

	if result < 0 {
		return false, time.Duration(-result) * time.Millisecond
	}

	return false, l.window
}

func (l *SlidingWindowLimiter) allowLocal() (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.After(l.localReset) {
		l.localCount = 0
		l.localReset = now.Add(l.window)
	}

	if l.localCount < l.rate+l.burstSize {
		l.localCount++
		return true, 0
	}

	return false, l.localReset.Sub(now)
}

// =============================================================================
// Debouncer
// =============================================================================

// Debouncer suppresses duplicate requests within a time window.
type Debouncer struct {
	redis    *redis.Client
	duration time.Duration
	local    map[string]time.Time
	mu       sync.RWMutex
}

// NewDebouncer creates a new debouncer.
func NewDebouncer(redisClient *redis.Client, duration time.Duration) *Debouncer {
	return &Debouncer{
		redis:    redisClient,
		duration: duration,
		local:    make(map[string]time.Time),
	}
}

// IsDuplicate checks if this is a duplicate request.
func (d *Debouncer) IsDuplicate(ctx context.Context, key string) bool {
	redisKey := fmt.Sprintf("debounce:%s", key)

	if d.redis != nil {
		exists, err := d.redis.Exists(ctx, redisKey).Result()
		if err == nil {
			return exists > 0
		}
	}

	d.mu.RLock()
	lastTime, exists := d.local[key]
	d.mu.RUnlock()

	return exists && time.Since(lastTime) < d.duration
}

// Mark marks this request as processed.
func (d *Debouncer) Mark(ctx context.Context, key string) {
	redisKey := fmt.Sprintf("debounce:%s", key)

	if d.redis != nil {
		d.redis.Set(ctx, redisKey, "1", d.duration)
	}

	d.mu.Lock()
	d.local[key] = time.Now()
	now := time.Now()
	for k, v := range d.local {
		if now.Sub(v) > d.duration*2 {
			delete(d.local, k)
		}
	}
	d.mu.Unlock()
}
