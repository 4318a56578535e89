// Package agent implements the reasoning engine behind a session: a model
// completion loop that dispatches tool calls and keeps private conversation
// memory.
package agent

import "context"

// Engine answers one prompt, possibly invoking tools along the way, and
// remembers the exchange for later prompts.
type Engine interface {
	Invoke(ctx context.Context, prompt string) (string, error)
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, prompt string) (string, error)

func (f EngineFunc) Invoke(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}
