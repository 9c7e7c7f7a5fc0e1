package memd

import (
	"context"
	"sort"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RateLimit is a token bucket shape.
type RateLimit struct {
	// RequestsPerSecond is the refill rate.
	RequestsPerSecond float64

	// BurstSize is the bucket capacity.
	BurstSize int
}

// DefaultRateLimits are per-method limits. Transfers are the expensive
// calls; status probes are effectively unlimited.
var DefaultRateLimits = map[string]RateLimit{
	MethodReadMemory: {RequestsPerSecond: 500, BurstSize: 1000},
	MethodWrite:      {RequestsPerSecond: 250, BurstSize: 500},
	MethodModuleBase: {RequestsPerSecond: 50, BurstSize: 100},
	MethodSetFrozen:  {RequestsPerSecond: 10, BurstSize: 20},
	MethodIsFrozen:   {RequestsPerSecond: 100, BurstSize: 200},
	MethodGetStatus:  {RequestsPerSecond: 1000, BurstSize: 1000},
	MethodPing:       {RequestsPerSecond: 1000, BurstSize: 1000},
}

type bucket struct {
	mu       sync.Mutex
	limit    RateLimit
	tokens   float64
	last     time.Time
	requests int64
	denied   int64
}

func newBucket(limit RateLimit) *bucket {
	return &bucket{
		limit:  limit,
		tokens: float64(limit.BurstSize),
		last:   time.Now(),
	}
}

func (b *bucket) refillLocked(now time.Time) {
	b.tokens += now.Sub(b.last).Seconds() * b.limit.RequestsPerSecond
	if max := float64(b.limit.BurstSize); b.tokens > max {
		b.tokens = max
	}
	b.last = now
}

func (b *bucket) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.requests++
	b.refillLocked(time.Now())
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	b.denied++
	return false
}

func (b *bucket) stats(method string) LimitStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(time.Now())
	return LimitStats{
		Method:    method,
		Limit:     b.limit,
		Available: b.tokens,
		Requests:  b.requests,
		Denied:    b.denied,
	}
}

// LimitStats is a snapshot of one bucket.
type LimitStats struct {
	Method    string
	Limit     RateLimit
	Available float64
	Requests  int64
	Denied    int64
}

// DeniedPercentage returns Denied as a share of Requests.
func (s LimitStats) DeniedPercentage() float64 {
	if s.Requests == 0 {
		return 0
	}
	return float64(s.Denied) / float64(s.Requests) * 100
}

// RateLimiter applies a global bucket and per-method buckets.
type RateLimiter struct {
	mu      sync.RWMutex
	limits  map[string]RateLimit
	buckets map[string]*bucket
	global  *bucket
	enabled bool
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithMethodLimits overrides limits for specific methods.
func WithMethodLimits(limits map[string]RateLimit) RateLimiterOption {
	return func(rl *RateLimiter) {
		for method, limit := range limits {
			rl.limits[method] = limit
		}
	}
}

// WithGlobalLimit adds a bucket shared by every method.
func WithGlobalLimit(limit RateLimit) RateLimiterOption {
	return func(rl *RateLimiter) {
		rl.global = newBucket(limit)
	}
}

// WithEnabled enables or disables limiting.
func WithEnabled(enabled bool) RateLimiterOption {
	return func(rl *RateLimiter) {
		rl.enabled = enabled
	}
}

// NewRateLimiter creates a limiter seeded with DefaultRateLimits.
func NewRateLimiter(opts ...RateLimiterOption) *RateLimiter {
	rl := &RateLimiter{
		limits:  make(map[string]RateLimit, len(DefaultRateLimits)),
		buckets: make(map[string]*bucket),
		enabled: true,
	}
	for method, limit := range DefaultRateLimits {
		rl.limits[method] = limit
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Allow reports whether a call to method may proceed and consumes a token.
func (rl *RateLimiter) Allow(method string) bool {
	if !rl.IsEnabled() {
		return true
	}
	if rl.global != nil && !rl.global.allow() {
		return false
	}
	b := rl.bucketFor(method)
	if b == nil {
		return true
	}
	return b.allow()
}

func (rl *RateLimiter) bucketFor(method string) *bucket {
	rl.mu.RLock()
	b, ok := rl.buckets[method]
	rl.mu.RUnlock()
	if ok {
		return b
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if b, ok = rl.buckets[method]; ok {
		return b
	}
	limit, ok := rl.limits[method]
	if !ok {
		return nil
	}
	b = newBucket(limit)
	rl.buckets[method] = b
	return b
}

// Stats returns per-method snapshots sorted by method name.
func (rl *RateLimiter) Stats() []LimitStats {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	out := make([]LimitStats, 0, len(rl.limits))
	for method, limit := range rl.limits {
		if b, ok := rl.buckets[method]; ok {
			out = append(out, b.stats(method))
			continue
		}
		out = append(out, LimitStats{Method: method, Limit: limit, Available: float64(limit.BurstSize)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Method < out[j].Method })
	return out
}

// GlobalStats returns the global bucket snapshot, or nil.
func (rl *RateLimiter) GlobalStats() *LimitStats {
	if rl.global == nil {
		return nil
	}
	s := rl.global.stats("global")
	return &s
}

// SetEnabled toggles limiting at runtime.
func (rl *RateLimiter) SetEnabled(enabled bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.enabled = enabled
}

// IsEnabled reports whether limiting is on.
func (rl *RateLimiter) IsEnabled() bool {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.enabled
}

// UnaryServerInterceptor rejects calls over the limit with ResourceExhausted.
func (rl *RateLimiter) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !rl.Allow(info.FullMethod) {
			return nil, status.Errorf(codes.ResourceExhausted, "rate limit exceeded for method %s", info.FullMethod)
		}
		return handler(ctx, req)
	}
}
