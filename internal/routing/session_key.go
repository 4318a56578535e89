package routing

import "github.com/soyeahso/koko/internal/domain"

// Conversation scopes.
const (
	ScopePerSender = "per-sender"
	ScopeGlobal    = "global"
)

// ResolveConversationKey builds the conversation key of an inbound message.
//
// Scopes:
//   - "per-sender": one conversation per user per chat (default)
//   - "global": one conversation per chat, shared by everyone in it
func ResolveConversationKey(msg domain.InboundMessage, scope string) domain.ConversationKey {
	key := domain.ConversationKey{
		ChannelID: msg.ChannelID,
		ChatID:    msg.ChatID,
	}
	if scope != ScopeGlobal {
		key.SenderID = msg.From
	}
	return key
}
