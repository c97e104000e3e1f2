package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"imagegateway/internal/domain"
)

// Policies holds the default bucket shape plus per-client overrides.
type Policies struct {
	Default Policy            `yaml:"default"`
	Clients map[string]Policy `yaml:"clients"`
}

// For returns the policy for key. Override fields left at zero inherit the
// default.
func (p Policies) For(key string) Policy {
	out := p.Default
	if o, ok := p.Clients[key]; ok {
		if o.Burst > 0 {
			out.Burst = o.Burst
		}
		if o.RefillPerSecond > 0 {
			out.RefillPerSecond = o.RefillPerSecond
		}
	}
	return out
}

// LoadPolicies reads overrides from a YAML file. An empty path yields just the
// default.
func LoadPolicies(path string, def Policy) (Policies, error) {
	out := Policies{Default: def}
	path = strings.TrimSpace(path)
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Policies{}, fmt.Errorf("ratelimit: read policy file: %w", err)
		}
		var file Policies
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return Policies{}, fmt.Errorf("ratelimit: parse policy file: %w", err)
		}
		if file.Default.Burst > 0 {
			out.Default.Burst = file.Default.Burst
		}
		if file.Default.RefillPerSecond > 0 {
			out.Default.RefillPerSecond = file.Default.RefillPerSecond
		}
		out.Clients = file.Clients
	}
	if err := out.Default.Validate(); err != nil {
		return Policies{}, err
	}
	for key := range out.Clients {
		if err := out.For(key).Validate(); err != nil {
			return Policies{}, fmt.Errorf("client %q: %w", key, err)
		}
	}
	return out, nil
}

// Limiter checks client keys against their buckets.
type Limiter struct {
	store    Store
	policies Policies
	now      func() time.Time
	logger   zerolog.Logger
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func NewLimiter(store Store, policies Policies, logger zerolog.Logger, opts ...Option) *Limiter {
	l := &Limiter{store: store, policies: policies, now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check consumes one token for key. A store failure denies the request: the
// limiter fails closed so an outage cannot remove overload protection.
func (l *Limiter) Check(ctx context.Context, key string) (Decision, error) {
	if strings.TrimSpace(key) == "" {
		return Decision{}, fmt.Errorf("%w: empty client key", domain.ErrValidation)
	}
	d, err := l.store.Take(ctx, key, l.policies.For(key), l.now())
	if err != nil {
		if !errors.Is(err, ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		l.logger.Error().Err(err).Str("client", key).Msg("ratelimit: store failure, denying request")
		return Decision{Allowed: false}, err
	}
	if !d.Allowed {
		l.logger.Debug().Str("client", key).Dur("retry_after", d.RetryAfter).Msg("ratelimit: denied")
	}
	return d, nil
}
