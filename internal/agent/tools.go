package agent

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/invopop/jsonschema"
)

// Tool is a capability the assistant can invoke during a turn.
type Tool interface {
	Name() string
	// Description is shown to the model verbatim.
	Description() string
	// InputSchema returns the JSON Schema for the tool's input.
	InputSchema() string
	// Execute runs the tool with the given JSON input and returns JSON output.
	Execute(ctx context.Context, input string) (string, error)
}

// ToolRegistry holds available tools. It is safe for concurrent use.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolRegistry creates a registry holding tools.
func NewToolRegistry(tools ...Tool) *ToolRegistry {
	r := &ToolRegistry{tools: make(map[string]Tool)}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds a tool, replacing any tool with the same name.
func (r *ToolRegistry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns tool definitions sorted by name, so the system
// prompt is stable between sessions.
func (r *ToolRegistry) Definitions() []ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ToolDef, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, ToolDef{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// ToolDef is a serializable tool definition for passing to the LLM.
type ToolDef struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema string `json:"inputSchema"`
}

// SchemaFor reflects the JSON Schema of a tool input struct. Field docs come
// from `jsonschema` struct tags.
func SchemaFor(v any) string {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := r.Reflect(v)
	s.Version = ""
	data, err := json.Marshal(s)
	if err != nil {
		return "{}"
	}
	return string(data)
}
