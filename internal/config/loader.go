package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields lets credentials be written as ${ENV_VAR} in the file.
func expandSensitiveFields(cfg *Config) {
	cfg.Gateway.Auth.Token = expandEnvVars(cfg.Gateway.Auth.Token)
	cfg.LLM.APIKey = expandEnvVars(cfg.LLM.APIKey)
	cfg.Store.Redis.Password = expandEnvVars(cfg.Store.Redis.Password)
	cfg.Tools.GoogleAPIKey = expandEnvVars(cfg.Tools.GoogleAPIKey)
	cfg.Tools.NSWFuel.APIKey = expandEnvVars(cfg.Tools.NSWFuel.APIKey)
	cfg.Tools.NSWFuel.AuthBasic = expandEnvVars(cfg.Tools.NSWFuel.AuthBasic)
	cfg.Tools.N8N.ColesWebhookURL = expandEnvVars(cfg.Tools.N8N.ColesWebhookURL)
	cfg.Tools.N8N.MapsWebhookURL = expandEnvVars(cfg.Tools.N8N.MapsWebhookURL)
	if cfg.Channels.IRC != nil {
		cfg.Channels.IRC.Password = expandEnvVars(cfg.Channels.IRC.Password)
	}
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	expandSensitiveFields(&cfg)
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// FromRaw decodes a raw tree the way Load decodes the file, without
// environment overrides.
func FromRaw(raw map[string]any) (Config, error) {
	cfg := Defaults()
	data, err := yaml.Marshal(raw)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: err.Error()}
	}
	applyDefaults(&cfg)
	return cfg, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills zero-value fields.
func applyDefaults(cfg *Config) {
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 8000
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = "loopback"
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "claude"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 4096
	}
	if cfg.Assistant.Name == "" {
		cfg.Assistant.Name = "Koko"
	}
	if cfg.Assistant.TurnTimeoutSeconds == 0 {
		cfg.Assistant.TurnTimeoutSeconds = 120
	}
	if cfg.Assistant.MaxToolIterations == 0 {
		cfg.Assistant.MaxToolIterations = 5
	}
	if cfg.Session.IdleMinutes == 0 {
		cfg.Session.IdleMinutes = 30
	}
	if cfg.Session.MaxSessions == 0 {
		cfg.Session.MaxSessions = 1000
	}
	if cfg.Session.SweepSchedule == "" {
		cfg.Session.SweepSchedule = "@every 5m"
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
	if cfg.Store.Redis.Address == "" {
		cfg.Store.Redis.Address = "localhost:6379"
	}
	if cfg.Store.RetentionDays == 0 {
		cfg.Store.RetentionDays = 28
	}
	if cfg.Store.PruneSchedule == "" {
		cfg.Store.PruneSchedule = "@daily"
	}
	if cfg.Pricing.ReferenceStore == "" {
		cfg.Pricing.ReferenceStore = "Coles"
	}
	if cfg.Pricing.WindowDays == 0 {
		cfg.Pricing.WindowDays = 7
	}
	if cfg.Tools.TimeoutSeconds == 0 {
		cfg.Tools.TimeoutSeconds = 15
	}
	if cfg.Tools.NSWFuel.RadiusKm == 0 {
		cfg.Tools.NSWFuel.RadiusKm = 5
	}
	if cfg.Tools.NSWFuel.BaseURL == "" {
		cfg.Tools.NSWFuel.BaseURL = "https://api.onegov.nsw.gov.au"
	}
	if cfg.Tools.N8N.TimeoutSeconds == 0 {
		cfg.Tools.N8N.TimeoutSeconds = 120
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = "pretty"
	}
}

// applyEnvOverrides reads KOKO_* and the well-known provider variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KOKO_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("KOKO_GATEWAY_BIND"); v != "" {
		cfg.Gateway.Bind = v
	}
	if v := os.Getenv("KOKO_GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Auth.Token = v
	}
	if v := os.Getenv("KOKO_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("KOKO_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("KOKO_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("KOKO_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("KOKO_REDIS_ADDRESS"); v != "" {
		cfg.Store.Redis.Address = v
	}

	// Provider credentials are usually exported under their own names.
	switch cfg.LLM.Provider {
	case "gemini":
		setIfEmpty(&cfg.LLM.APIKey, "GEMINI_API_KEY")
	case "claude", "":
		setIfEmpty(&cfg.LLM.APIKey, "ANTHROPIC_API_KEY")
	}
	setIfEmpty(&cfg.Tools.GoogleAPIKey, "GOOGLE_API_KEY")
	setIfEmpty(&cfg.Tools.NSWFuel.APIKey, "NSW_FUEL_API_KEY")
	setIfEmpty(&cfg.Tools.NSWFuel.AuthBasic, "NSW_FUEL_AUTH_BASIC")
	setIfEmpty(&cfg.Tools.N8N.ColesWebhookURL, "N8N_COLES_WEBHOOK_URL")
	setIfEmpty(&cfg.Tools.N8N.MapsWebhookURL, "N8N_MAPS_WEBHOOK_URL")
}

func setIfEmpty(dst *string, env string) {
	if *dst != "" {
		return
	}
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}
