package domain

import "context"

// ChannelStatus reports the runtime state of a channel.
type ChannelStatus struct {
	ChannelID string `json:"channelId"`
	Connected bool   `json:"connected"`
	Running   bool   `json:"running"`
	LastError string `json:"lastError,omitempty"`
}

// Channel is a chat transport other than the HTTP gateway, such as IRC.
type Channel interface {
	ID() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg OutboundMessage) error
	// OnMessage registers the handler for inbound messages.
	OnMessage(handler func(msg InboundMessage))
	Status() ChannelStatus
}
