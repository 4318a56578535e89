package config

// Config is the root configuration for Koko.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway,omitempty"`
	LLM       LLMConfig       `yaml:"llm,omitempty"`
	Assistant AssistantConfig `yaml:"assistant,omitempty"`
	Session   SessionConfig   `yaml:"session,omitempty"`
	Store     StoreConfig     `yaml:"store,omitempty"`
	Pricing   PricingConfig   `yaml:"pricing,omitempty"`
	Tools     ToolsConfig     `yaml:"tools,omitempty"`
	Channels  ChannelsConfig  `yaml:"channels,omitempty"`
	Logging   LoggingConfig   `yaml:"logging,omitempty"`
}

// GatewayConfig controls the HTTP/WebSocket server.
type GatewayConfig struct {
	Port           int         `yaml:"port,omitempty"`
	Bind           string      `yaml:"bind,omitempty"` // "auto" | "lan" | "loopback" | "custom"
	CustomBindHost string      `yaml:"customBindHost,omitempty"`
	Auth           GatewayAuth `yaml:"auth,omitempty"`
	AllowedOrigins []string    `yaml:"allowedOrigins,omitempty"`
}

// GatewayAuth configures bearer-token authentication. An empty token
// disables auth, which is how the mobile app talks to a local backend.
type GatewayAuth struct {
	Token string `yaml:"token,omitempty"`
}

// LLMConfig selects the model provider behind the assistant.
type LLMConfig struct {
	Provider    string   `yaml:"provider,omitempty"` // "claude" | "gemini" | "ollama"
	APIKey      string   `yaml:"apiKey,omitempty"`
	Model       string   `yaml:"model,omitempty"`
	Endpoint    string   `yaml:"endpoint,omitempty"`
	Fallbacks   []string `yaml:"fallbacks,omitempty"`
	MaxTokens   int      `yaml:"maxTokens,omitempty"`
	Temperature *float64 `yaml:"temperature,omitempty"`
}

// AssistantConfig tunes the conversational turn.
type AssistantConfig struct {
	Name               string `yaml:"name,omitempty"`
	TurnTimeoutSeconds int    `yaml:"turnTimeoutSeconds,omitempty"`
	MaxToolIterations  int    `yaml:"maxToolIterations,omitempty"`
}

// SessionConfig bounds the in-memory session registry.
type SessionConfig struct {
	IdleMinutes   int    `yaml:"idleMinutes,omitempty"`
	MaxSessions   int    `yaml:"maxSessions,omitempty"`
	SweepSchedule string `yaml:"sweepSchedule,omitempty"` // cron spec, "" disables
}

// StoreConfig selects where price observations live.
type StoreConfig struct {
	Driver        string      `yaml:"driver,omitempty"` // "sqlite" | "redis"
	Path          string      `yaml:"path,omitempty"`
	Redis         RedisConfig `yaml:"redis,omitempty"`
	RetentionDays int         `yaml:"retentionDays,omitempty"`
	PruneSchedule string      `yaml:"pruneSchedule,omitempty"`
}

// RedisConfig is used when store.driver is "redis".
type RedisConfig struct {
	Address  string `yaml:"address,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// PricingConfig controls the good-buy comparison.
type PricingConfig struct {
	ReferenceStore string `yaml:"referenceStore,omitempty"`
	WindowDays     int    `yaml:"windowDays,omitempty"`
}

// ToolsConfig carries credentials and endpoints for the assistant's tools.
type ToolsConfig struct {
	TimeoutSeconds int           `yaml:"timeoutSeconds,omitempty"`
	GoogleAPIKey   string        `yaml:"googleApiKey,omitempty"`
	NSWFuel        NSWFuelConfig `yaml:"nswFuel,omitempty"`
	N8N            N8NConfig     `yaml:"n8n,omitempty"`
}

// NSWFuelConfig holds FuelCheck API credentials.
type NSWFuelConfig struct {
	APIKey    string `yaml:"apiKey,omitempty"`
	AuthBasic string `yaml:"authBasic,omitempty"`
	RadiusKm  int    `yaml:"radiusKm,omitempty"`
	BaseURL   string `yaml:"baseUrl,omitempty"`
}

// N8NConfig points at the n8n webhooks that scrape Coles and Maps.
type N8NConfig struct {
	ColesWebhookURL string `yaml:"colesWebhookUrl,omitempty"`
	MapsWebhookURL  string `yaml:"mapsWebhookUrl,omitempty"`
	TimeoutSeconds  int    `yaml:"timeoutSeconds,omitempty"`
}

// ChannelsConfig defines optional chat channels.
type ChannelsConfig struct {
	// Scope is "per-sender" or "global"; see routing.ResolveConversationKey.
	Scope       string     `yaml:"scope,omitempty"`
	HomeAddress string     `yaml:"homeAddress,omitempty"`
	IRC         *IRCConfig `yaml:"irc,omitempty"`
}

// IRCConfig defines IRC channel settings.
type IRCConfig struct {
	Server   string   `yaml:"server"`
	Port     int      `yaml:"port,omitempty"`
	Nick     string   `yaml:"nick"`
	Password string   `yaml:"password,omitempty"`
	Channels []string `yaml:"channels"`
	UseTLS   bool     `yaml:"useTLS,omitempty"`
	SASL     bool     `yaml:"sasl,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"`        // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "json"
}
