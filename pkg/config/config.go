// Package config loads the service configuration from YAML and OPNXT_* environment variables.
package config

import (
	"fmt"
	"sync"
	"time"

	"opnxt/pkg/contextmgr"
	"opnxt/pkg/llm/circuit"
	"opnxt/pkg/llm/ratelimit"
	"opnxt/pkg/llm/retry"
	"opnxt/pkg/logx"
)

// Provider names accepted in generator.primary and generator.secondary.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderGoogle    = "google"
	ProviderOffline   = "offline"
)

// Environment variables that carry provider credentials.
const (
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvGoogleAPIKey    = "GOOGLE_GENAI_API_KEY"
	EnvOllamaHost      = "OLLAMA_HOST"
)

// Storage drivers.
const (
	StorageSQLite = "sqlite"
	StorageMemory = "memory"
)

// EnvPrefix prefixes every environment override, e.g. OPNXT_SERVER_ADDR.
const EnvPrefix = "OPNXT_"

// Global config instance with mutex protection.
//
//nolint:gochecknoglobals // Intentional singleton pattern for config management
var (
	config *Config
	logger *logx.Logger
	mu     sync.RWMutex
)

func getLogger() *logx.Logger {
	if logger == nil {
		logger = logx.NewLogger("config")
	}
	return logger
}

// ServerConfig is the HTTP listener.
type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gte=0"`
	BodyLimit       string        `koanf:"body_limit"`
}

// StorageConfig selects the document store.
type StorageConfig struct {
	Driver      string `koanf:"driver" validate:"oneof=sqlite memory"`
	Path        string `koanf:"path" validate:"required_if=Driver sqlite"`
	SecretsFile string `koanf:"secrets_file"`
}

// ProviderConfig holds one provider's connection settings. Host is only used by Ollama.
type ProviderConfig struct {
	APIKey  string `koanf:"api_key"`
	Model   string `koanf:"model"`
	BaseURL string `koanf:"base_url" validate:"omitempty,url"`
	Host    string `koanf:"host" validate:"omitempty,url"`
}

// ProvidersConfig holds every provider's settings.
type ProvidersConfig struct {
	Anthropic ProviderConfig `koanf:"anthropic"`
	OpenAI    ProviderConfig `koanf:"openai"`
	Ollama    ProviderConfig `koanf:"ollama"`
	Google    ProviderConfig `koanf:"google"`
}

// Get returns the settings of a named provider.
func (p ProvidersConfig) Get(name string) (ProviderConfig, bool) {
	switch name {
	case ProviderAnthropic:
		return p.Anthropic, true
	case ProviderOpenAI:
		return p.OpenAI, true
	case ProviderOllama:
		return p.Ollama, true
	case ProviderGoogle:
		return p.Google, true
	default:
		return ProviderConfig{}, false
	}
}

// GeneratorConfig is the provider chain and its resilience settings.
type GeneratorConfig struct {
	RateLimit       map[string]ratelimit.Config `koanf:"rate_limit"`
	Primary         string                      `koanf:"primary" validate:"oneof=anthropic openai ollama google offline"`
	Secondary       string                      `koanf:"secondary" validate:"omitempty,oneof=anthropic openai ollama google offline,nefield=Primary"`
	Providers       ProvidersConfig             `koanf:"providers"`
	Retry           retry.Config                `koanf:"retry"`
	Circuit         circuit.Config              `koanf:"circuit"`
	Timeout         time.Duration               `koanf:"timeout" validate:"gt=0"`
	OfflineFallback bool                        `koanf:"offline_fallback"`
}

// Chain lists the configured providers in failover order.
func (g GeneratorConfig) Chain() []string {
	names := []string{g.Primary}
	if g.Secondary != "" {
		names = append(names, g.Secondary)
	}
	if g.OfflineFallback && g.Primary != ProviderOffline && g.Secondary != ProviderOffline {
		names = append(names, ProviderOffline)
	}
	return names
}

// LedgerConfig bounds impact analysis.
type LedgerConfig struct {
	MaxDepth int `koanf:"max_depth" validate:"gte=1,lte=10"`
}

// OrchestratorConfig tunes the pipeline.
type OrchestratorConfig struct {
	DefaultPolicy         string `koanf:"default_policy" validate:"oneof=auto review none"`
	MinRequirementAnswers int    `koanf:"min_requirement_answers" validate:"gte=0"`
}

// RegistryConfig points at an optional YAML agent catalog replacing the built-in one.
type RegistryConfig struct {
	CatalogFile string `koanf:"catalog_file"`
}

// EventLogConfig controls the audit log.
type EventLogConfig struct {
	Dir     string `koanf:"dir" validate:"required_if=Enabled true"`
	Enabled bool   `koanf:"enabled"`
}

// IdempotencyConfig controls the replay cache for process requests.
type IdempotencyConfig struct {
	Path     string        `koanf:"path"`
	TTL      time.Duration `koanf:"ttl" validate:"gte=0"`
	Enabled  bool          `koanf:"enabled"`
	InMemory bool          `koanf:"in_memory"`
}

// MetricsConfig controls /metrics and the usage query.
type MetricsConfig struct {
	PrometheusURL string `koanf:"prometheus_url" validate:"omitempty,url"`
	Enabled       bool   `koanf:"enabled"`
}

// DebugConfig enables domain-filtered debug logging.
type DebugConfig struct {
	Domains []string `koanf:"domains"`
	Enabled bool     `koanf:"enabled"`
}

// Config is the full service configuration.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Storage      StorageConfig      `koanf:"storage"`
	Generator    GeneratorConfig    `koanf:"generator"`
	Context      contextmgr.Config  `koanf:"context"`
	Ledger       LedgerConfig       `koanf:"ledger"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Registry     RegistryConfig     `koanf:"registry"`
	EventLog     EventLogConfig     `koanf:"eventlog"`
	Idempotency  IdempotencyConfig  `koanf:"idempotency"`
	Metrics      MetricsConfig      `koanf:"metrics"`
	Debug        DebugConfig        `koanf:"debug"`
}

// GetConfig returns the current global config BY VALUE.
// Must call LoadConfig first to initialize the global config.
func GetConfig() (Config, error) {
	mu.RLock()
	defer mu.RUnlock()
	if config == nil {
		return Config{}, fmt.Errorf("config not initialized - call LoadConfig first")
	}
	return *config, nil
}

// SetConfigForTesting sets the global config for testing purposes. Pass nil to reset.
func SetConfigForTesting(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	config = cfg
}

// LoadConfig loads path (optional) plus environment overrides into the global config.
func LoadConfig(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	mu.Lock()
	config = cfg
	mu.Unlock()

	logx.SetDebugConfig(cfg.Debug.Enabled)
	if len(cfg.Debug.Domains) > 0 {
		logx.SetDebugDomains(cfg.Debug.Domains)
	}
	getLogger().Info("✅ Config loaded (storage=%s, generator=%v)", cfg.Storage.Driver, cfg.Generator.Chain())
	return cfg, nil
}

// GetAPIKey returns the credential for a provider: the configured value, then the decrypted
// secrets file, then the environment. Ollama needs none and gets its host instead.
func GetAPIKey(cfg *Config, provider string) (string, error) {
	pc, ok := cfg.Generator.Providers.Get(provider)
	if !ok {
		return "", fmt.Errorf("unknown provider: %s", provider)
	}
	var envVar string
	switch provider {
	case ProviderAnthropic:
		envVar = EnvAnthropicAPIKey
	case ProviderOpenAI:
		envVar = EnvOpenAIAPIKey
	case ProviderGoogle:
		envVar = EnvGoogleAPIKey
	case ProviderOllama:
		if pc.Host != "" {
			return pc.Host, nil
		}
		if host, err := GetSecret(EnvOllamaHost); err == nil {
			return host, nil
		}
		return "http://localhost:11434", nil
	}

	if pc.APIKey != "" {
		return pc.APIKey, nil
	}
	key, err := GetSecret(envVar)
	if err == nil && key != "" {
		return key, nil
	}
	return "", fmt.Errorf("API key not found: %s not found in config, secrets file or environment variables", envVar)
}
