// Package ratelimit keeps generator traffic under each provider's request, token and concurrency limits.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config defines rate limiting configuration for a provider.
// Zero values disable the corresponding limit.
type Config struct {
	RequestsPerMinute int `json:"requests_per_minute" koanf:"requests_per_minute"`
	TokensPerMinute   int `json:"tokens_per_minute" koanf:"tokens_per_minute"`
	MaxConcurrency    int `json:"max_concurrency" koanf:"max_concurrency"`
}

// Limiter throttles calls to one provider.
type Limiter struct {
	requests *rate.Limiter
	tokens   *rate.Limiter
	slots    *semaphore.Weighted
	provider string
}

// NewLimiter creates a limiter for provider.
func NewLimiter(provider string, cfg Config) *Limiter {
	l := &Limiter{provider: provider}
	if cfg.RequestsPerMinute > 0 {
		burst := cfg.RequestsPerMinute / 10
		if burst < 1 {
			burst = 1
		}
		l.requests = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), burst)
	}
	if cfg.TokensPerMinute > 0 {
		l.tokens = rate.NewLimiter(rate.Limit(float64(cfg.TokensPerMinute)/60.0), cfg.TokensPerMinute)
	}
	if cfg.MaxConcurrency > 0 {
		l.slots = semaphore.NewWeighted(int64(cfg.MaxConcurrency))
	}
	return l
}

// Acquire blocks until a request of estimatedTokens may proceed.
// The returned release function must be called when the call finishes.
func (l *Limiter) Acquire(ctx context.Context, estimatedTokens int) (func(), error) {
	if l.slots != nil {
		if err := l.slots.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("%s: waiting for concurrency slot: %w", l.provider, err)
		}
	}
	release := func() {
		if l.slots != nil {
			l.slots.Release(1)
		}
	}

	if l.requests != nil {
		if err := l.requests.Wait(ctx); err != nil {
			release()
			return nil, fmt.Errorf("%s: waiting for request budget: %w", l.provider, err)
		}
	}
	if l.tokens != nil && estimatedTokens > 0 {
		n := estimatedTokens
		if n > l.tokens.Burst() {
			n = l.tokens.Burst()
		}
		if err := l.tokens.WaitN(ctx, n); err != nil {
			release()
			return nil, fmt.Errorf("%s: waiting for token budget: %w", l.provider, err)
		}
	}
	return release, nil
}

// Provider returns the provider this limiter guards.
func (l *Limiter) Provider() string {
	return l.provider
}

// ProviderLimiterMap holds one limiter per provider.
type ProviderLimiterMap struct {
	limiters map[string]*Limiter
	configs  map[string]Config
	mu       sync.Mutex
}

// NewProviderLimiterMap creates limiters lazily from per-provider configs.
func NewProviderLimiterMap(configs map[string]Config) *ProviderLimiterMap {
	return &ProviderLimiterMap{
		limiters: make(map[string]*Limiter),
		configs:  configs,
	}
}

// GetLimiter returns the limiter for provider. Providers without configuration are unlimited.
func (m *ProviderLimiterMap) GetLimiter(provider string) *Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok := m.limiters[provider]; ok {
		return l
	}
	l := NewLimiter(provider, m.configs[provider])
	m.limiters[provider] = l
	return l
}
