package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, 8000, cfg.Gateway.Port)
	assert.Equal(t, "loopback", cfg.Gateway.Bind)
	assert.Equal(t, "claude", cfg.LLM.Provider)
	assert.Equal(t, "Koko", cfg.Assistant.Name)
	assert.Equal(t, 5, cfg.Assistant.MaxToolIterations)
	assert.Equal(t, 30*time.Minute, cfg.SessionTTL())
	assert.Equal(t, 120*time.Second, cfg.TurnTimeout())
	assert.Equal(t, 15*time.Second, cfg.ToolTimeout())
	assert.Equal(t, 120*time.Second, cfg.WebhookTimeout())
	assert.Equal(t, 7*24*time.Hour, cfg.PricingWindow())
	assert.Equal(t, 28*24*time.Hour, cfg.Retention())
	assert.Equal(t, "Coles", cfg.Pricing.ReferenceStore)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "@every 5m", cfg.Session.SweepSchedule)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.Gateway.Port)
}

func TestLoadValidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
gateway:
  port: 9100
  bind: lan
  auth:
    token: ${KOKO_TEST_TOKEN}
llm:
  provider: ollama
  model: llama3.2
  endpoint: http://localhost:11434
session:
  idleMinutes: 10
  maxSessions: 50
store:
  driver: redis
  redis:
    address: cache:6379
pricing:
  windowDays: 14
tools:
  nswFuel:
    apiKey: fuel-key
channels:
  irc:
    server: irc.libera.chat
    nick: koko
    channels: ["#budget"]
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("KOKO_TEST_TOKEN", "s3cret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Gateway.Port)
	assert.Equal(t, "lan", cfg.Gateway.Bind)
	assert.Equal(t, "s3cret", cfg.Gateway.Auth.Token)
	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, "llama3.2", cfg.LLM.Model)
	assert.Equal(t, 10*time.Minute, cfg.SessionTTL())
	assert.Equal(t, 50, cfg.Session.MaxSessions)
	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Equal(t, "cache:6379", cfg.Store.Redis.Address)
	assert.Equal(t, 14, cfg.Pricing.WindowDays)
	assert.Equal(t, "fuel-key", cfg.Tools.NSWFuel.APIKey)
	assert.Equal(t, 5, cfg.Tools.NSWFuel.RadiusKm, "unset fields keep defaults")
	require.NotNil(t, cfg.Channels.IRC)
	assert.Equal(t, []string{"#budget"}, cfg.Channels.IRC.Channels)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{invalid yaml"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	var ce *ConfigError
	assert.ErrorAs(t, err, &ce)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("KOKO_GATEWAY_PORT", "12345")
	t.Setenv("KOKO_LOG_LEVEL", "DEBUG")
	t.Setenv("KOKO_STORE_DRIVER", "Redis")
	t.Setenv("GOOGLE_API_KEY", "g-key")
	t.Setenv("N8N_COLES_WEBHOOK_URL", "http://n8n/coles")

	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, 12345, cfg.Gateway.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Equal(t, "g-key", cfg.Tools.GoogleAPIKey)
	assert.Equal(t, "http://n8n/coles", cfg.Tools.N8N.ColesWebhookURL)
}

func TestProviderEnvDoesNotOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tools:\n  googleApiKey: from-file\n"), 0o600))
	t.Setenv("GOOGLE_API_KEY", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Tools.GoogleAPIKey)
}

func TestExpandEnvVarsLeavesUnsetAlone(t *testing.T) {
	t.Setenv("KOKO_SET", "yes")
	assert.Equal(t, "yes-${KOKO_DEFINITELY_UNSET}", expandEnvVars("${KOKO_SET}-${KOKO_DEFINITELY_UNSET}"))
}

func TestParseConfigPath(t *testing.T) {
	tests := []struct {
		input   string
		want    []string
		wantErr bool
	}{
		{"gateway.port", []string{"gateway", "port"}, false},
		{"tools.n8n.colesWebhookUrl", []string{"tools", "n8n", "colesWebhookUrl"}, false},
		{"", nil, true},
		{"a..b", nil, true},
		{".a", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseConfigPath(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValueAtPath(t *testing.T) {
	root := map[string]any{"gateway": map[string]any{"port": 8000, "bind": "lan"}}

	val, ok := GetValueAtPath(root, []string{"gateway", "port"})
	assert.True(t, ok)
	assert.Equal(t, 8000, val)

	_, ok = GetValueAtPath(root, []string{"gateway", "port", "deeper"})
	assert.False(t, ok)

	SetValueAtPath(root, []string{"pricing", "windowDays"}, 14)
	val, ok = GetValueAtPath(root, []string{"pricing", "windowDays"})
	assert.True(t, ok)
	assert.Equal(t, 14, val)

	assert.True(t, UnsetValueAtPath(root, []string{"gateway", "port"}))
	assert.False(t, UnsetValueAtPath(root, []string{"gateway", "port"}))
	val, _ = GetValueAtPath(root, []string{"gateway", "bind"})
	assert.Equal(t, "lan", val)
}

func TestLoadRawAndSaveRaw(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	raw, err := LoadRaw(path)
	require.NoError(t, err)
	assert.Empty(t, raw)

	SetValueAtPath(raw, []string{"session", "idleMinutes"}, 45)
	require.NoError(t, SaveRaw(path, raw))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 45, cfg.Session.IdleMinutes)
}

func TestResolvePaths(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("KOKO_HOME", tmp)

	paths, err := ResolvePaths("")
	require.NoError(t, err)
	assert.Equal(t, tmp, paths.Base)
	assert.Equal(t, filepath.Join(tmp, "config.yaml"), paths.Config)
	assert.Equal(t, filepath.Join(tmp, "data", "prices.db"), paths.PriceDB())

	paths, err = ResolvePaths("/etc/koko.yaml")
	require.NoError(t, err)
	assert.Equal(t, "/etc/koko.yaml", paths.Config)
	assert.Equal(t, filepath.Join(tmp, "data"), paths.Data)
}
