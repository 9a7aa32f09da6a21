package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"opnxt/pkg/contextmgr"
	"opnxt/pkg/ledger"
	"opnxt/pkg/llm/circuit"
	"opnxt/pkg/llm/retry"
)

const maxConfigFileSize = 1024 * 1024

// Load reads configuration with this precedence, highest first:
//  1. Environment variables (OPNXT_SERVER_ADDR, OPNXT_GENERATOR_PRIMARY, ...)
//  2. The YAML file at path, when path is non-empty
//  3. Built-in defaults
//
// Environment names drop the prefix, lowercase, and split on the first underscore:
//
//	OPNXT_SERVER_ADDR         -> server.addr
//	OPNXT_LEDGER_MAX_DEPTH    -> ledger.max_depth
//	OPNXT_GENERATOR_TIMEOUT   -> generator.timeout
func Load(path string) (*Config, error) {
	var content []byte
	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
		}
		content, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return LoadBytes(content)
}

// LoadBytes is Load for YAML content already in memory.
func LoadBytes(content []byte) (*Config, error) {
	k := koanf.New(".")

	if len(content) > 0 {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// envKey maps OPNXT_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// Default returns a fully defaulted configuration.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 5 * time.Minute
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Server.BodyLimit == "" {
		cfg.Server.BodyLimit = "2M"
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = StorageSQLite
	}
	if cfg.Storage.Driver == StorageSQLite && cfg.Storage.Path == "" {
		cfg.Storage.Path = "opnxt.db"
	}
	if cfg.Storage.SecretsFile == "" {
		cfg.Storage.SecretsFile = DefaultSecretsFile
	}

	g := &cfg.Generator
	if g.Primary == "" {
		g.Primary = ProviderOffline
	}
	if g.Timeout == 0 {
		g.Timeout = 2 * time.Minute
	}
	if g.Retry.MaxAttempts == 0 {
		g.Retry = retry.Config{
			MaxAttempts:   3,
			InitialDelay:  500 * time.Millisecond,
			MaxDelay:      8 * time.Second,
			BackoffFactor: 2.0,
			Jitter:        true,
		}
	}
	if g.Circuit.FailureThreshold == 0 {
		g.Circuit = circuit.DefaultConfig
	}
	if g.Providers.Anthropic.Model == "" {
		g.Providers.Anthropic.Model = "claude-sonnet-4-5"
	}
	if g.Providers.OpenAI.Model == "" {
		g.Providers.OpenAI.Model = "gpt-4.1"
	}
	if g.Providers.Ollama.Model == "" {
		g.Providers.Ollama.Model = "llama3.1"
	}
	if g.Providers.Google.Model == "" {
		g.Providers.Google.Model = "gemini-2.5-flash"
	}

	def := contextmgr.DefaultConfig()
	if cfg.Context.MaxContextTokens == 0 {
		cfg.Context.MaxContextTokens = def.MaxContextTokens
	}
	if cfg.Context.MaxReplyTokens == 0 {
		cfg.Context.MaxReplyTokens = def.MaxReplyTokens
	}
	if cfg.Context.CompactionBuffer == 0 {
		cfg.Context.CompactionBuffer = def.CompactionBuffer
	}
	if cfg.Context.KeepRecent == 0 {
		cfg.Context.KeepRecent = def.KeepRecent
	}

	if cfg.Ledger.MaxDepth == 0 {
		cfg.Ledger.MaxDepth = ledger.DefaultMaxDepth
	}
	if cfg.Orchestrator.DefaultPolicy == "" {
		cfg.Orchestrator.DefaultPolicy = "review"
	}
	if cfg.EventLog.Enabled && cfg.EventLog.Dir == "" {
		cfg.EventLog.Dir = "logs"
	}
	if cfg.Idempotency.Enabled && cfg.Idempotency.TTL == 0 {
		cfg.Idempotency.TTL = 24 * time.Hour
	}
	if cfg.Idempotency.Enabled && !cfg.Idempotency.InMemory && cfg.Idempotency.Path == "" {
		cfg.Idempotency.Path = "opnxt-cache"
	}
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	for _, name := range c.Generator.Chain() {
		if name == ProviderOffline || name == ProviderOllama {
			continue
		}
		if pc, _ := c.Generator.Providers.Get(name); pc.Model == "" {
			return fmt.Errorf("generator.providers.%s.model is required", name)
		}
	}
	if c.Context.MaxReplyTokens+c.Context.CompactionBuffer >= c.Context.MaxContextTokens {
		return fmt.Errorf("context.max_tokens (%d) must exceed max_reply_tokens + compaction_buffer (%d)",
			c.Context.MaxContextTokens, c.Context.MaxReplyTokens+c.Context.CompactionBuffer)
	}
	return nil
}
