// Package factory builds generator provider chains from configuration.
package factory

import (
	"fmt"

	"opnxt/pkg/config"
	"opnxt/pkg/llm"
	"opnxt/pkg/llm/circuit"
	"opnxt/pkg/llm/failover"
	"opnxt/pkg/llm/metrics"
	"opnxt/pkg/llm/providers/anthropic"
	"opnxt/pkg/llm/providers/google"
	"opnxt/pkg/llm/providers/offline"
	"opnxt/pkg/llm/providers/ollama"
	"opnxt/pkg/llm/providers/openai"
	"opnxt/pkg/llm/ratelimit"
	"opnxt/pkg/llm/retry"
	"opnxt/pkg/llm/timeout"
	"opnxt/pkg/logx"
)

// ProviderConstructor creates the raw client for one provider.
type ProviderConstructor func(cfg *config.Config, name string) (llm.Generator, error)

// GeneratorFactory creates generators with properly configured middleware chains.
// Circuit breakers and rate limiters are per provider and shared by every chain it builds.
type GeneratorFactory struct {
	config          *config.Config
	metricsRecorder metrics.Recorder
	circuitBreakers map[string]circuit.Breaker
	rateLimitMap    *ratelimit.ProviderLimiterMap
	newProvider     ProviderConstructor
	logger          *logx.Logger
}

// NewGeneratorFactory creates a factory. A nil recorder disables generator metrics.
func NewGeneratorFactory(cfg *config.Config, recorder metrics.Recorder) *GeneratorFactory {
	if recorder == nil {
		recorder = metrics.Nop()
	}

	logger := logx.NewLogger("factory")
	circuitBreakers := make(map[string]circuit.Breaker)
	for _, name := range []string{config.ProviderAnthropic, config.ProviderOpenAI, config.ProviderOllama, config.ProviderGoogle} {
		provider := name
		circuitBreakers[name] = circuit.New(cfg.Generator.Circuit,
			circuit.WithStateChange(func(from, to circuit.State) {
				if to == circuit.Open {
					logger.Warn("⚡ Circuit for %s opened after repeated failures", provider)
					return
				}
				logger.Info("⚡ Circuit for %s: %s → %s", provider, from, to)
			}))
	}

	return &GeneratorFactory{
		config:          cfg,
		metricsRecorder: recorder,
		circuitBreakers: circuitBreakers,
		rateLimitMap:    ratelimit.NewProviderLimiterMap(cfg.Generator.RateLimit),
		newProvider:     NewProvider,
		logger:          logger,
	}
}

// WithProviderConstructor replaces how raw clients are created.
func (f *GeneratorFactory) WithProviderConstructor(fn ProviderConstructor) *GeneratorFactory {
	f.newProvider = fn
	return f
}

// NewProvider creates the raw client for a configured provider.
func NewProvider(cfg *config.Config, name string) (llm.Generator, error) {
	if name == config.ProviderOffline {
		return offline.New(), nil
	}
	pc, ok := cfg.Generator.Providers.Get(name)
	if !ok {
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
	key, err := config.GetAPIKey(cfg, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get API key for provider %s: %w", name, err)
	}

	switch name {
	case config.ProviderAnthropic:
		return anthropic.New(anthropic.Config{APIKey: key, Model: pc.Model, BaseURL: pc.BaseURL}), nil
	case config.ProviderOpenAI:
		return openai.New(openai.Config{APIKey: key, Model: pc.Model, BaseURL: pc.BaseURL}), nil
	case config.ProviderOllama:
		return ollama.New(ollama.Config{Host: key, Model: pc.Model}), nil
	case config.ProviderGoogle:
		return google.New(google.Config{APIKey: key, Model: pc.Model}), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
}

// CreateChain wraps one provider in the middleware chain.
// The offline provider only gets metrics since it never fails transiently.
func (f *GeneratorFactory) CreateChain(name string) (llm.Generator, error) {
	raw, err := f.newProvider(f.config, name)
	if err != nil {
		return nil, err
	}
	if name == config.ProviderOffline {
		return llm.Chain(raw, metrics.Middleware(f.metricsRecorder, nil, nil)), nil
	}

	breaker, exists := f.circuitBreakers[name]
	if !exists {
		return nil, fmt.Errorf("no circuit breaker found for provider %s", name)
	}
	retryPolicy := retry.NewPolicy(f.config.Generator.Retry, nil)

	// Metrics -> CircuitBreaker -> Retry -> RateLimit -> Timeout -> raw client
	return llm.Chain(raw,
		metrics.Middleware(f.metricsRecorder, nil, f.logger),
		circuit.Middleware(breaker),
		retry.Middleware(retryPolicy, f.logger),
		ratelimit.Middleware(f.rateLimitMap, f.metricsRecorder),
		timeout.Middleware(f.config.Generator.Timeout),
	), nil
}

// CreateGenerator builds every configured chain behind failover, primary first.
// A chain whose provider cannot be created is skipped with a warning as long as one remains.
func (f *GeneratorFactory) CreateGenerator() (llm.Generator, error) {
	names := f.config.Generator.Chain()
	chains := make([]llm.Generator, 0, len(names))
	var firstErr error
	for _, name := range names {
		chain, err := f.CreateChain(name)
		if err != nil {
			f.logger.Warn("⚠️ Skipping generator provider %s: %v", name, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		chains = append(chains, chain)
	}
	if len(chains) == 0 {
		return nil, fmt.Errorf("no generator provider could be created: %w", firstErr)
	}
	if len(chains) == 1 {
		return chains[0], nil
	}
	return failover.New(f.metricsRecorder, f.logger, chains...), nil
}
