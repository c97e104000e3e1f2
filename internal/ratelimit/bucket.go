// Package ratelimit gates requests with a per-client token bucket. Bucket state
// lives in a Store: process memory for a single instance, Redis when several
// instances must share one limit.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// tokenEpsilon absorbs float and nanosecond truncation so that waiting exactly
// 1/refill seconds always yields a whole token.
const tokenEpsilon = 1e-6

// Policy is the bucket shape for one client key.
type Policy struct {
	Burst           float64 `yaml:"burst_capacity"`
	RefillPerSecond float64 `yaml:"refill_rate_per_second"`
}

// Validate checks that the policy can ever admit a request.
func (p Policy) Validate() error {
	if p.Burst <= 0 {
		return fmt.Errorf("ratelimit: burst_capacity must be > 0, got %v", p.Burst)
	}
	if p.RefillPerSecond < 0 {
		return fmt.Errorf("ratelimit: refill_rate_per_second must be >= 0, got %v", p.RefillPerSecond)
	}
	return nil
}

// ttl is how long an idle bucket is worth keeping: after that it is full again.
func (p Policy) ttl() time.Duration {
	if p.RefillPerSecond <= 0 {
		return 24 * time.Hour
	}
	d := time.Duration(2 * p.Burst / p.RefillPerSecond * float64(time.Second))
	if d < time.Second {
		d = time.Second
	}
	return d
}

// Bucket is the persisted state for one client key.
type Bucket struct {
	Key        string
	Tokens     float64
	LastRefill time.Time
}

// Decision is the outcome of one check.
type Decision struct {
	Allowed    bool
	Remaining  float64
	RetryAfter time.Duration
}

// Take refills b for the time elapsed up to now, capped at the burst, then
// tries to deduct one token. The returned bucket must be persisted whether or
// not the request was allowed.
func Take(b Bucket, p Policy, now time.Time) (Bucket, Decision) {
	if b.LastRefill.IsZero() {
		b.Tokens = p.Burst
		b.LastRefill = now
	}
	if now.After(b.LastRefill) {
		elapsed := now.Sub(b.LastRefill).Seconds()
		b.Tokens = math.Min(p.Burst, b.Tokens+elapsed*p.RefillPerSecond)
		b.LastRefill = now
	}
	b.Tokens = clamp(b.Tokens, p.Burst)
	if b.Tokens >= 1-tokenEpsilon {
		b.Tokens = clamp(b.Tokens-1, p.Burst)
		return b, Decision{Allowed: true, Remaining: b.Tokens}
	}
	return b, Decision{Allowed: false, Remaining: b.Tokens, RetryAfter: retryAfter(b.Tokens, p)}
}

func clamp(tokens, burst float64) float64 {
	if tokens < 0 {
		return 0
	}
	if tokens > burst {
		return burst
	}
	return tokens
}

func retryAfter(tokens float64, p Policy) time.Duration {
	if p.RefillPerSecond <= 0 {
		return 0
	}
	need := 1 - tokens
	if need < 0 {
		need = 0
	}
	return time.Duration(math.Ceil(need / p.RefillPerSecond * float64(time.Second)))
}

// ErrStoreUnavailable wraps any failure to read or update bucket state.
var ErrStoreUnavailable = errors.New("ratelimit: bucket store unavailable")

// Store performs the check-refill-deduct sequence atomically per key.
type Store interface {
	Take(ctx context.Context, key string, p Policy, now time.Time) (Decision, error)
}
