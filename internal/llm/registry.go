package llm

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/soyeahso/koko/internal/config"
	"github.com/soyeahso/koko/internal/logging"
)

// ProviderError is returned when an LLM provider fails.
type ProviderError struct {
	Provider string
	Message  string
	Code     int // HTTP status code, 0 when the request never completed
}

func (e *ProviderError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("%s: %d %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// Registry maps provider names and model aliases to clients.
type Registry struct {
	mu       sync.RWMutex
	clients  map[string]Client
	aliases  map[string]string
	fallback string
	log      *logging.Logger
}

// NewRegistry creates an empty provider registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		clients: make(map[string]Client),
		aliases: make(map[string]string),
		log:     log.Sub("llm.registry"),
	}
}

// Register adds a client under the given provider name.
func (r *Registry) Register(name string, client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = client
	r.log.Info().Str("provider", name).Msg("registered LLM provider")
}

// Alias maps a model name to a provider, so "haiku" can resolve to "claude".
func (r *Registry) Alias(model, provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[model] = provider
}

// SetFallback sets the provider used when nothing else matches.
func (r *Registry) SetFallback(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = provider
}

// Resolve returns the Client for the given model reference.
// Resolution order: exact provider name → alias → fallback.
func (r *Registry) Resolve(model string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if c, ok := r.clients[model]; ok {
		return c, nil
	}
	if provider, ok := r.aliases[model]; ok {
		if c, ok := r.clients[provider]; ok {
			return c, nil
		}
	}
	if r.fallback != "" {
		if c, ok := r.clients[r.fallback]; ok {
			return c, nil
		}
	}
	return nil, fmt.Errorf("no LLM provider for model %q", model)
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for n := range r.clients {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Empty reports whether no provider is registered.
func (r *Registry) Empty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients) == 0
}

// NewRegistryFromConfig registers the configured provider. Claude and
// Gemini need an API key; Ollama only needs a reachable endpoint. A registry with no
// providers is returned when credentials are missing so the caller can
// report the assistant as unavailable.
func NewRegistryFromConfig(cfg config.LLMConfig, log *logging.Logger) *Registry {
	reg := NewRegistry(log)

	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "claude", "":
		if cfg.APIKey == "" {
			reg.log.Warn().Msg("claude selected but no API key configured")
			return reg
		}
		model := cfg.Model
		if model == "" {
			model = DefaultClaudeModel
		}
		reg.Register("claude", NewClaudeAPIClient(cfg.APIKey, model, cfg.Endpoint))
		reg.SetFallback("claude")
		for _, alias := range []string{"sonnet", "opus", "haiku", model} {
			reg.Alias(alias, "claude")
		}

	case "gemini":
		if cfg.APIKey == "" {
			reg.log.Warn().Msg("gemini selected but no API key configured")
			return reg
		}
		model := cfg.Model
		if model == "" {
			model = DefaultGeminiModel
		}
		reg.Register("gemini", NewGeminiAPIClient(cfg.APIKey, model, cfg.Endpoint))
		reg.SetFallback("gemini")
		for _, alias := range []string{"flash", "pro", model} {
			reg.Alias(alias, "gemini")
		}

	case "ollama":
		model := cfg.Model
		if model == "" {
			model = DefaultOllamaModel
		}
		reg.Register("ollama", NewOllamaAPIClient(cfg.Endpoint, model))
		reg.SetFallback("ollama")
		for _, alias := range []string{"llama", "llama3", "mistral", model} {
			reg.Alias(alias, "ollama")
		}
	}
	return reg
}
