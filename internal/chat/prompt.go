package chat

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ComposePrompt builds the engine input for one turn: the home address
// directive, the caller's current list and the user message, separated by
// blank lines.
func ComposePrompt(req TurnRequest) string {
	var parts []string
	if addr := strings.TrimSpace(req.HomeAddress); addr != "" {
		parts = append(parts, fmt.Sprintf(
			"[USER_HOME_ADDRESS=%s] - Whenever you call a tool that needs the user's location or start address, pass the exact string %q.",
			addr, addr))
	}
	if len(req.ShoppingList) > 0 {
		list, err := json.Marshal(req.ShoppingList)
		if err == nil {
			parts = append(parts, "The user's current shopping list: "+string(list))
		}
	}
	parts = append(parts, "User message: "+req.Message)
	return strings.Join(parts, "\n\n")
}
