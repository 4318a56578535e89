package domain

// ConversationKey identifies a channel conversation partner, so a chat
// channel can keep one assistant session and one shopping list per person.
type ConversationKey struct {
	ChannelID string `json:"channelId"`
	ChatID    string `json:"chatId"`
	SenderID  string `json:"senderId,omitempty"`
}

// String returns a canonical string form of the key.
func (k ConversationKey) String() string {
	s := k.ChannelID + ":" + k.ChatID
	if k.SenderID != "" {
		s += ":" + k.SenderID
	}
	return s
}
