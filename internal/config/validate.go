package config

import (
	"fmt"
	"slices"

	"github.com/robfig/cron/v3"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	add := func(path, format string, args ...any) {
		issues = append(issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
	}
	oneOf := func(path, value string, valid []string) {
		if value != "" && !slices.Contains(valid, value) {
			add(path, "must be one of %v, got %q", valid, value)
		}
	}

	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		add("gateway.port", "port must be 0-65535, got %d", cfg.Gateway.Port)
	}
	oneOf("gateway.bind", cfg.Gateway.Bind, []string{"auto", "lan", "loopback", "custom"})
	if cfg.Gateway.Bind == "custom" && cfg.Gateway.CustomBindHost == "" {
		add("gateway.customBindHost", "required when bind is custom")
	}

	oneOf("llm.provider", cfg.LLM.Provider, []string{"claude", "gemini", "ollama"})
	if cfg.LLM.Temperature != nil && (*cfg.LLM.Temperature < 0 || *cfg.LLM.Temperature > 2) {
		add("llm.temperature", "must be between 0 and 2, got %g", *cfg.LLM.Temperature)
	}

	if cfg.Assistant.TurnTimeoutSeconds < 0 {
		add("assistant.turnTimeoutSeconds", "must not be negative")
	}
	if cfg.Assistant.MaxToolIterations < 0 {
		add("assistant.maxToolIterations", "must not be negative")
	}

	if cfg.Session.IdleMinutes < 0 {
		add("session.idleMinutes", "must not be negative")
	}
	if cfg.Session.MaxSessions < 0 {
		add("session.maxSessions", "must not be negative")
	}
	if cfg.Session.SweepSchedule != "" {
		if _, err := scheduleParser.Parse(cfg.Session.SweepSchedule); err != nil {
			add("session.sweepSchedule", "invalid schedule: %v", err)
		}
	}

	oneOf("store.driver", cfg.Store.Driver, []string{"sqlite", "redis"})
	if cfg.Store.Driver == "redis" && cfg.Store.Redis.Address == "" {
		add("store.redis.address", "required when driver is redis")
	}
	if cfg.Store.RetentionDays < 0 {
		add("store.retentionDays", "must not be negative")
	}
	if cfg.Store.PruneSchedule != "" {
		if _, err := scheduleParser.Parse(cfg.Store.PruneSchedule); err != nil {
			add("store.pruneSchedule", "invalid schedule: %v", err)
		}
	}

	if cfg.Pricing.WindowDays < 0 {
		add("pricing.windowDays", "must not be negative")
	}

	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	oneOf("logging.level", cfg.Logging.Level, validLogLevels)
	oneOf("logging.consoleStyle", cfg.Logging.ConsoleStyle, []string{"pretty", "json"})

	oneOf("channels.scope", cfg.Channels.Scope, []string{"per-sender", "global"})
	if irc := cfg.Channels.IRC; irc != nil {
		if irc.Server == "" {
			add("channels.irc.server", "server is required")
		}
		if irc.Nick == "" {
			add("channels.irc.nick", "nick is required")
		}
		if irc.Port < 0 || irc.Port > 65535 {
			add("channels.irc.port", "port must be 0-65535, got %d", irc.Port)
		}
		if irc.SASL && irc.Password == "" {
			add("channels.irc.sasl", "SASL requires a password to be set")
		}
	}

	return issues
}
