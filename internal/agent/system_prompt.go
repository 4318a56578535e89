package agent

import (
	"fmt"
	"strings"
	"time"
)

// KokoInstructions describe the assistant's persona and how it should use
// its tools.
const KokoInstructions = `You are Koko, a friendly koala mascot that helps university students save money on groceries and fuel in Australia.

When a user asks about prices at a location:
1. Pass the location name directly to the relevant price tool (lookup_coles_prices or lookup_fuel_prices)
2. If the user wants to find a store or get there, use find_nearby_stores, search_location or get_directions with their start location and the destination
3. Summarise the results in a friendly, concise way with savings tips

When a user wants to modify their shopping list:
1. Use manage_list to add, remove, or update items, including the price when you know it
2. Confirm what was changed

Always be encouraging about their savings goals. Use a conversational, friendly tone.
Keep responses concise and helpful. Use Australian English spelling (e.g. "optimise", "litre").
If you don't have enough information to use a tool, ask the user for clarification.`

// PromptConfig controls system prompt generation.
type PromptConfig struct {
	AgentName    string
	Tools        []ToolDef
	Instructions string
	// Now defaults to time.Now.
	Now func() time.Time
}

// BuildSystemPrompt constructs the system prompt for the LLM.
func BuildSystemPrompt(cfg PromptConfig) string {
	now := time.Now
	if cfg.Now != nil {
		now = cfg.Now
	}

	var b strings.Builder

	instructions := cfg.Instructions
	if instructions == "" {
		instructions = KokoInstructions
	}
	if cfg.AgentName != "" && cfg.AgentName != "Koko" {
		instructions = strings.ReplaceAll(instructions, "Koko", cfg.AgentName)
	}
	b.WriteString(instructions)
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Current date: %s\n", now().Format("2006-01-02"))

	if len(cfg.Tools) > 0 {
		b.WriteString("\n## Available Tools\n\n")
		b.WriteString("You can call tools by outputting a fenced code block with the language tag `tool_call`:\n\n")
		b.WriteString("```tool_call\n{\"tool\": \"tool_name\", \"input\": {\"param\": \"value\"}}\n```\n\n")
		b.WriteString("After a tool is executed, the result will be provided. You may call several tools in one reply; they run together and their results come back in the order you called them.\n\n")
		for _, t := range cfg.Tools {
			fmt.Fprintf(&b, "### %s\n%s\n", t.Name, t.Description)
			if t.InputSchema != "" {
				fmt.Fprintf(&b, "Input schema: %s\n", t.InputSchema)
			}
			b.WriteString("\n")
		}
	}

	return b.String()
}
