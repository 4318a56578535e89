package config

import (
	"fmt"
	"time"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

// TurnTimeout is the wall-clock bound on one conversational turn.
func (c *Config) TurnTimeout() time.Duration {
	return time.Duration(c.Assistant.TurnTimeoutSeconds) * time.Second
}

// SessionTTL is how long an idle session survives.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Session.IdleMinutes) * time.Minute
}

// ToolTimeout bounds a single outbound tool call.
func (c *Config) ToolTimeout() time.Duration {
	return time.Duration(c.Tools.TimeoutSeconds) * time.Second
}

// WebhookTimeout bounds n8n webhook calls, which scrape live sites and run long.
func (c *Config) WebhookTimeout() time.Duration {
	return time.Duration(c.Tools.N8N.TimeoutSeconds) * time.Second
}

// PricingWindow is the trailing window used for good-buy averages.
func (c *Config) PricingWindow() time.Duration {
	return time.Duration(c.Pricing.WindowDays) * 24 * time.Hour
}

// Retention is how long price observations are kept before pruning.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Store.RetentionDays) * 24 * time.Hour
}
