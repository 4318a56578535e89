// Package routing connects chat channels such as IRC to the conversation
// orchestrator. Each conversation partner keeps one assistant session and
// one shopping list on the server, since channel clients cannot hold them.
package routing

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/soyeahso/koko/internal/chat"
	"github.com/soyeahso/koko/internal/channel"
	"github.com/soyeahso/koko/internal/domain"
	"github.com/soyeahso/koko/internal/hooks"
	"github.com/soyeahso/koko/internal/logging"
)

// Chatter runs conversational turns.
type Chatter interface {
	Turn(ctx context.Context, req chat.TurnRequest) (*chat.TurnResult, error)
}

// Commands handled by the router without consulting the assistant.
const (
	CommandList  = "!list"
	CommandClear = "!clear"
)

// conversation is the server-held state of one channel partner.
type conversation struct {
	mu         sync.Mutex // serializes turns of one partner
	sessionID  string
	list       []domain.ShoppingListItem
	lastActive time.Time
}

// Options tunes a Router.
type Options struct {
	// Scope is "per-sender" (default) or "global".
	Scope string
	// HomeAddress is passed on every turn when set.
	HomeAddress string
	Hooks       *hooks.Manager
	Now         func() time.Time
}

// Router routes inbound channel messages to the orchestrator and replies
// through the originating channel.
type Router struct {
	channels *channel.Registry
	chat     Chatter
	opts     Options
	log      *logging.Logger

	mu    sync.Mutex
	convs map[string]*conversation
}

// NewRouter creates a message router.
func NewRouter(channels *channel.Registry, c Chatter, opts Options, log *logging.Logger) *Router {
	if opts.Scope == "" {
		opts.Scope = ScopePerSender
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Router{
		channels: channels,
		chat:     c,
		opts:     opts,
		log:      log.Sub("routing"),
		convs:    make(map[string]*conversation),
	}
}

func (r *Router) conversation(key domain.ConversationKey) *conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key.String()
	c, ok := r.convs[k]
	if !ok {
		c = &conversation{lastActive: r.opts.Now()}
		r.convs[k] = c
	}
	return c
}

// HandleInbound processes an inbound message from any channel and sends
// the reply back through it.
func (r *Router) HandleInbound(ctx context.Context, msg domain.InboundMessage) {
	body := strings.TrimSpace(msg.Body)
	if body == "" {
		return
	}
	r.log.Info().
		Str("channel", msg.ChannelID).
		Str("from", msg.From).
		Str("chatId", msg.ChatID).
		Str("chatType", string(msg.ChatType)).
		Msg("routing inbound message")
	r.opts.Hooks.Emit(ctx, hooks.EventMessageReceived, map[string]any{
		"channel": msg.ChannelID,
		"from":    msg.From,
	})

	key := ResolveConversationKey(msg, r.opts.Scope)
	conv := r.conversation(key)
	conv.mu.Lock()
	reply := r.turn(ctx, conv, body)
	conv.lastActive = r.opts.Now()
	conv.mu.Unlock()

	if err := r.SendTo(ctx, msg.ChannelID, replyTarget(msg), reply); err != nil {
		r.log.Error().Err(err).
			Str("channel", msg.ChannelID).
			Str("to", replyTarget(msg)).
			Msg("failed to send reply")
	}
}

// turn runs one message against a conversation. Callers hold conv.mu.
func (r *Router) turn(ctx context.Context, conv *conversation, body string) string {
	switch strings.ToLower(body) {
	case CommandList:
		return RenderList(conv.list)
	case CommandClear:
		conv.list = nil
		return "Your shopping list is now empty."
	}

	if r.chat == nil {
		return chat.ErrUnavailable.Error()
	}
	res, err := r.chat.Turn(ctx, chat.TurnRequest{
		Message:      body,
		ShoppingList: conv.list,
		SessionID:    conv.sessionID,
		HomeAddress:  r.opts.HomeAddress,
	})
	if err != nil {
		// The orchestrator already returns caller-safe errors.
		return err.Error()
	}
	conv.sessionID = res.SessionID
	conv.list = res.UpdatedList
	return res.Reply
}

// Forget drops conversations idle for longer than idle and reports how
// many went.
func (r *Router) Forget(idle time.Duration) int {
	cutoff := r.opts.Now().Add(-idle)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k, c := range r.convs {
		if !c.mu.TryLock() {
			continue
		}
		if c.lastActive.Before(cutoff) {
			delete(r.convs, k)
			n++
		}
		c.mu.Unlock()
	}
	return n
}

// Len returns the number of tracked conversations.
func (r *Router) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.convs)
}

// Wire registers HandleInbound as the message handler on all channels.
func (r *Router) Wire(ctx context.Context) {
	for _, id := range r.channels.List() {
		ch, ok := r.channels.Get(id)
		if !ok {
			continue
		}
		ch.OnMessage(func(msg domain.InboundMessage) {
			go r.HandleInbound(ctx, msg)
		})
		r.log.Debug().Str("channel", id).Msg("wired message handler")
	}
}

// replyTarget determines where to send the response.
func replyTarget(msg domain.InboundMessage) string {
	if msg.ChatType == domain.ChatTypeDM {
		return msg.From
	}
	return msg.ChatID
}

// SendTo sends a message to a specific channel.
func (r *Router) SendTo(ctx context.Context, channelID, target, body string) error {
	ch, ok := r.channels.Get(channelID)
	if !ok {
		return fmt.Errorf("channel not found: %s", channelID)
	}
	r.opts.Hooks.Emit(ctx, hooks.EventMessageSending, map[string]any{
		"channel": channelID,
		"to":      target,
	})
	return ch.Send(ctx, domain.OutboundMessage{
		ChannelID: channelID,
		To:        target,
		Body:      body,
	})
}

// RenderList formats a shopping list for plain-text channels.
func RenderList(items []domain.ShoppingListItem) string {
	if len(items) == 0 {
		return "Your shopping list is empty."
	}
	var b strings.Builder
	b.WriteString("Your shopping list:")
	total := 0.0
	for _, it := range items {
		fmt.Fprintf(&b, "\n- %d x %s", it.Quantity, it.Name)
		if it.HasPrice() {
			fmt.Fprintf(&b, " @ $%.2f", it.Price)
			total += it.Price * float64(it.Quantity)
		}
		if it.IsGoodBuy {
			b.WriteString(" (good buy)")
		}
	}
	if total > 0 {
		fmt.Fprintf(&b, "\nEstimated total: $%.2f", total)
	}
	return b.String()
}
