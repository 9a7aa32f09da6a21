package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, StorageSQLite, cfg.Storage.Driver)
	assert.Equal(t, "opnxt.db", cfg.Storage.Path)
	assert.Equal(t, ProviderOffline, cfg.Generator.Primary)
	assert.Equal(t, 3, cfg.Generator.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Minute, cfg.Generator.Timeout)
	assert.Equal(t, 8, cfg.Ledger.MaxDepth)
	assert.Equal(t, "review", cfg.Orchestrator.DefaultPolicy)
	assert.Equal(t, 32000, cfg.Context.MaxContextTokens)
	assert.Equal(t, []string{ProviderOffline}, cfg.Generator.Chain())
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opnxt.yaml")
	yaml := `
server:
  addr: 127.0.0.1:9090
storage:
  driver: memory
generator:
  primary: anthropic
  secondary: openai
  offline_fallback: true
  timeout: 45s
  retry:
    max_attempts: 5
    initial_delay: 100ms
    max_delay: 2s
    backoff_factor: 1.5
  rate_limit:
    anthropic:
      tokens_per_minute: 40000
      max_concurrency: 2
  providers:
    anthropic:
      model: claude-opus-4
ledger:
  max_depth: 4
orchestrator:
  default_policy: auto
  min_requirement_answers: 5
idempotency:
  enabled: true
  in_memory: true
debug:
  enabled: true
  domains: [orchestrator, changes]
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr)
	assert.Equal(t, StorageMemory, cfg.Storage.Driver)
	assert.Empty(t, cfg.Storage.Path)
	assert.Equal(t, []string{ProviderAnthropic, ProviderOpenAI, ProviderOffline}, cfg.Generator.Chain())
	assert.Equal(t, 45*time.Second, cfg.Generator.Timeout)
	assert.Equal(t, 5, cfg.Generator.Retry.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Generator.Retry.InitialDelay)
	assert.Equal(t, 40000, cfg.Generator.RateLimit["anthropic"].TokensPerMinute)
	assert.Equal(t, "claude-opus-4", cfg.Generator.Providers.Anthropic.Model)
	assert.Equal(t, 4, cfg.Ledger.MaxDepth)
	assert.Equal(t, "auto", cfg.Orchestrator.DefaultPolicy)
	assert.Equal(t, 5, cfg.Orchestrator.MinRequirementAnswers)
	assert.Equal(t, 24*time.Hour, cfg.Idempotency.TTL)
	assert.Equal(t, []string{"orchestrator", "changes"}, cfg.Debug.Domains)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("OPNXT_SERVER_ADDR", ":7000")
	t.Setenv("OPNXT_LEDGER_MAX_DEPTH", "3")
	t.Setenv("OPNXT_GENERATOR_TIMEOUT", "10s")

	cfg, err := LoadBytes([]byte("server:\n  addr: \":9000\"\nledger:\n  max_depth: 6\n"))
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, 3, cfg.Ledger.MaxDepth)
	assert.Equal(t, 10*time.Second, cfg.Generator.Timeout)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "server.addr", envKey("OPNXT_SERVER_ADDR"))
	assert.Equal(t, "orchestrator.min_requirement_answers", envKey("OPNXT_ORCHESTRATOR_MIN_REQUIREMENT_ANSWERS"))
	assert.Equal(t, "debug", envKey("OPNXT_DEBUG"))
}

func TestValidationRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown provider", "generator:\n  primary: mystery\n"},
		{"secondary equals primary", "generator:\n  primary: openai\n  secondary: openai\n"},
		{"unknown policy", "orchestrator:\n  default_policy: sometimes\n"},
		{"depth too large", "ledger:\n  max_depth: 50\n"},
		{"unknown storage", "storage:\n  driver: postgres\n"},
		{"reply budget exceeds window", "context:\n  max_tokens: 1000\n  max_reply_tokens: 900\n  compaction_buffer: 200\n"},
		{"bad prometheus url", "metrics:\n  prometheus_url: not a url\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadBytes([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestGlobalConfig(t *testing.T) {
	t.Cleanup(func() { SetConfigForTesting(nil) })

	SetConfigForTesting(nil)
	_, err := GetConfig()
	require.Error(t, err)

	loaded, err := LoadConfig("")
	require.NoError(t, err)
	got, err := GetConfig()
	require.NoError(t, err)
	assert.Equal(t, loaded.Server.Addr, got.Server.Addr)
}

func TestGetAPIKeyPrecedence(t *testing.T) {
	t.Cleanup(func() { SetDecryptedSecrets(nil) })
	cfg := Default()

	t.Setenv(EnvOpenAIAPIKey, "from-env")
	key, err := GetAPIKey(cfg, ProviderOpenAI)
	require.NoError(t, err)
	assert.Equal(t, "from-env", key)

	SetDecryptedSecrets(map[string]string{EnvOpenAIAPIKey: "from-secrets"})
	key, err = GetAPIKey(cfg, ProviderOpenAI)
	require.NoError(t, err)
	assert.Equal(t, "from-secrets", key)

	cfg.Generator.Providers.OpenAI.APIKey = "from-config"
	key, err = GetAPIKey(cfg, ProviderOpenAI)
	require.NoError(t, err)
	assert.Equal(t, "from-config", key)

	t.Setenv(EnvGoogleAPIKey, "")
	_, err = GetAPIKey(cfg, ProviderGoogle)
	assert.Error(t, err)

	host, err := GetAPIKey(cfg, ProviderOllama)
	require.NoError(t, err)
	assert.NotEmpty(t, host)

	_, err = GetAPIKey(cfg, "mystery")
	assert.Error(t, err)
}
