package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func issuePaths(issues []ValidationIssue) []string {
	var paths []string
	for _, i := range issues {
		paths = append(paths, i.Path)
	}
	return paths
}

func TestValidateDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Empty(t, Validate(&cfg))
}

func TestValidateReportsEachProblem(t *testing.T) {
	temp := 3.5
	tests := []struct {
		name   string
		mutate func(*Config)
		path   string
	}{
		{"port", func(c *Config) { c.Gateway.Port = 99999 }, "gateway.port"},
		{"bind", func(c *Config) { c.Gateway.Bind = "tailnet" }, "gateway.bind"},
		{"custom bind host", func(c *Config) { c.Gateway.Bind = "custom" }, "gateway.customBindHost"},
		{"provider", func(c *Config) { c.LLM.Provider = "openai" }, "llm.provider"},
		{"temperature", func(c *Config) { c.LLM.Temperature = &temp }, "llm.temperature"},
		{"sweep schedule", func(c *Config) { c.Session.SweepSchedule = "every now and then" }, "session.sweepSchedule"},
		{"store driver", func(c *Config) { c.Store.Driver = "postgres" }, "store.driver"},
		{"redis address", func(c *Config) { c.Store.Driver = "redis"; c.Store.Redis.Address = "" }, "store.redis.address"},
		{"prune schedule", func(c *Config) { c.Store.PruneSchedule = "@fortnightly" }, "store.pruneSchedule"},
		{"window", func(c *Config) { c.Pricing.WindowDays = -1 }, "pricing.windowDays"},
		{"log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"console style", func(c *Config) { c.Logging.ConsoleStyle = "compact" }, "logging.consoleStyle"},
		{"channel scope", func(c *Config) { c.Channels.Scope = "per-channel" }, "channels.scope"},
		{"irc server", func(c *Config) { c.Channels.IRC = &IRCConfig{Nick: "koko"} }, "channels.irc.server"},
		{"irc nick", func(c *Config) { c.Channels.IRC = &IRCConfig{Server: "irc.example.com"} }, "channels.irc.nick"},
		{"irc sasl", func(c *Config) {
			c.Channels.IRC = &IRCConfig{Server: "irc.example.com", Nick: "koko", SASL: true}
		}, "channels.irc.sasl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			issues := Validate(&cfg)
			require.NotEmpty(t, issues)
			assert.Contains(t, issuePaths(issues), tt.path)
		})
	}
}

func TestValidateAcceptsCronDescriptors(t *testing.T) {
	for _, spec := range []string{"@every 1m", "@hourly", "0 3 * * *"} {
		cfg := Defaults()
		cfg.Session.SweepSchedule = spec
		cfg.Store.PruneSchedule = spec
		assert.Empty(t, Validate(&cfg), spec)
	}
}

func TestValidateIRCValid(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.IRC = &IRCConfig{Server: "irc.example.com", Nick: "koko", Port: 6697, SASL: true, Password: "pw"}
	assert.Empty(t, Validate(&cfg))
}

func TestValidationIssueString(t *testing.T) {
	issue := ValidationIssue{Path: "gateway.port", Message: "port must be 0-65535, got -1"}
	assert.Equal(t, "gateway.port: port must be 0-65535, got -1", issue.String())
}
