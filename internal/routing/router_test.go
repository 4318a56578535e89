package routing

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/koko/internal/channel"
	"github.com/soyeahso/koko/internal/chat"
	"github.com/soyeahso/koko/internal/domain"
	"github.com/soyeahso/koko/internal/hooks"
	"github.com/soyeahso/koko/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.New(nil, "silent")
}

// mockChannel records sent messages.
type mockChannel struct {
	id      string
	mu      sync.Mutex
	sent    []domain.OutboundMessage
	handler func(domain.InboundMessage)
}

func (m *mockChannel) ID() string                    { return m.id }
func (m *mockChannel) Start(context.Context) error   { return nil }
func (m *mockChannel) Stop(context.Context) error    { return nil }
func (m *mockChannel) Status() domain.ChannelStatus { return domain.ChannelStatus{ChannelID: m.id} }
func (m *mockChannel) Send(_ context.Context, msg domain.OutboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}
func (m *mockChannel) OnMessage(handler func(domain.InboundMessage)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}
func (m *mockChannel) messages() []domain.OutboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.OutboundMessage(nil), m.sent...)
}

// listChat adds the message text as an item and echoes the session.
type listChat struct {
	mu   sync.Mutex
	reqs []chat.TurnRequest
	err  error
}

func (l *listChat) Turn(_ context.Context, req chat.TurnRequest) (*chat.TurnResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reqs = append(l.reqs, req)
	if l.err != nil {
		return nil, l.err
	}
	sid := req.SessionID
	if sid == "" {
		sid = "sess-" + strings.ReplaceAll(req.Message, " ", "-")
	}
	list := append(domain.CloneList(req.ShoppingList), domain.ShoppingListItem{Name: req.Message, Quantity: 1})
	return &chat.TurnResult{Reply: "added " + req.Message, UpdatedList: list, SessionID: sid}, nil
}

func setup(t *testing.T, c Chatter, opts Options) (*Router, *mockChannel) {
	t.Helper()
	reg := channel.NewRegistry(testLogger())
	ch := &mockChannel{id: "irc"}
	reg.Register(ch)
	return NewRouter(reg, c, opts, testLogger()), ch
}

func dm(from, body string) domain.InboundMessage {
	return domain.InboundMessage{ChannelID: "irc", From: from, ChatID: from, ChatType: domain.ChatTypeDM, Body: body}
}

func TestHandleInboundRepliesToSender(t *testing.T) {
	lc := &listChat{}
	r, ch := setup(t, lc, Options{HomeAddress: "1 George St"})

	r.HandleInbound(context.Background(), dm("sam", "milk"))

	sent := ch.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.OutboundMessage{ChannelID: "irc", To: "sam", Body: "added milk"}, sent[0])
	assert.Equal(t, "1 George St", lc.reqs[0].HomeAddress)
}

func TestConversationKeepsSessionAndList(t *testing.T) {
	lc := &listChat{}
	r, _ := setup(t, lc, Options{})

	r.HandleInbound(context.Background(), dm("sam", "milk"))
	r.HandleInbound(context.Background(), dm("sam", "bread"))
	r.HandleInbound(context.Background(), dm("alex", "eggs"))

	require.Len(t, lc.reqs, 3)
	assert.Equal(t, "sess-milk", lc.reqs[1].SessionID)
	assert.Equal(t, []domain.ShoppingListItem{{Name: "milk", Quantity: 1}}, lc.reqs[1].ShoppingList)
	assert.Empty(t, lc.reqs[2].SessionID, "other senders start fresh")
	assert.Empty(t, lc.reqs[2].ShoppingList)
	assert.Equal(t, 2, r.Len())
}

func TestGroupReplyGoesToChannel(t *testing.T) {
	r, ch := setup(t, &listChat{}, Options{})
	r.HandleInbound(context.Background(), domain.InboundMessage{
		ChannelID: "irc", From: "sam", ChatID: "#budget", ChatType: domain.ChatTypeGroup, Body: "tea",
	})
	require.Len(t, ch.messages(), 1)
	assert.Equal(t, "#budget", ch.messages()[0].To)
}

func TestGlobalScopeSharesList(t *testing.T) {
	lc := &listChat{}
	r, _ := setup(t, lc, Options{Scope: ScopeGlobal})
	group := func(from, body string) domain.InboundMessage {
		return domain.InboundMessage{ChannelID: "irc", From: from, ChatID: "#house", ChatType: domain.ChatTypeGroup, Body: body}
	}

	r.HandleInbound(context.Background(), group("sam", "milk"))
	r.HandleInbound(context.Background(), group("alex", "bread"))
	assert.Len(t, lc.reqs[1].ShoppingList, 1)
	assert.Equal(t, 1, r.Len())
}

func TestListAndClearCommands(t *testing.T) {
	lc := &listChat{}
	r, ch := setup(t, lc, Options{})

	r.HandleInbound(context.Background(), dm("sam", "milk"))
	r.HandleInbound(context.Background(), dm("sam", "!LIST"))
	r.HandleInbound(context.Background(), dm("sam", "!clear"))
	r.HandleInbound(context.Background(), dm("sam", "!list"))

	sent := ch.messages()
	require.Len(t, sent, 4)
	assert.Equal(t, "Your shopping list:\n- 1 x milk", sent[1].Body)
	assert.Equal(t, "Your shopping list is now empty.", sent[2].Body)
	assert.Equal(t, "Your shopping list is empty.", sent[3].Body)
	assert.Len(t, lc.reqs, 1, "commands do not reach the assistant")
}

func TestTurnErrorIsRelayed(t *testing.T) {
	r, ch := setup(t, &listChat{err: chat.ErrAssistant}, Options{})
	r.HandleInbound(context.Background(), dm("sam", "milk"))
	require.Len(t, ch.messages(), 1)
	assert.Equal(t, chat.ErrAssistant.Error(), ch.messages()[0].Body)
}

func TestNoAssistantConfigured(t *testing.T) {
	r, ch := setup(t, nil, Options{})
	r.HandleInbound(context.Background(), dm("sam", "milk"))
	require.Len(t, ch.messages(), 1)
	assert.Equal(t, chat.ErrUnavailable.Error(), ch.messages()[0].Body)
}

func TestBlankMessagesIgnored(t *testing.T) {
	r, ch := setup(t, &listChat{}, Options{})
	r.HandleInbound(context.Background(), dm("sam", "   "))
	assert.Empty(t, ch.messages())
}

func TestHooksEmitted(t *testing.T) {
	hm := hooks.NewManager(testLogger())
	var events []string
	var mu sync.Mutex
	hm.OnAll("rec", func(_ context.Context, p hooks.Payload) error {
		mu.Lock()
		events = append(events, p.Event)
		mu.Unlock()
		return nil
	})
	r, _ := setup(t, &listChat{}, Options{Hooks: hm})
	r.HandleInbound(context.Background(), dm("sam", "milk"))
	assert.Equal(t, []string{hooks.EventMessageReceived, hooks.EventMessageSending}, events)
}

func TestWireDispatchesToHandler(t *testing.T) {
	r, ch := setup(t, &listChat{}, Options{})
	r.Wire(context.Background())

	ch.mu.Lock()
	handler := ch.handler
	ch.mu.Unlock()
	require.NotNil(t, handler)

	handler(dm("sam", "milk"))
	assert.Eventually(t, func() bool { return len(ch.messages()) == 1 }, time.Second, 10*time.Millisecond)
}

func TestForgetIdleConversations(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	r, _ := setup(t, &listChat{}, Options{Now: func() time.Time { return now }})

	r.HandleInbound(context.Background(), dm("sam", "milk"))
	now = now.Add(time.Hour)
	r.HandleInbound(context.Background(), dm("alex", "tea"))

	assert.Equal(t, 1, r.Forget(30*time.Minute))
	assert.Equal(t, 1, r.Len())
}

func TestForgetKeepsNewConversation(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	r, _ := setup(t, &listChat{}, Options{Now: func() time.Time { return now }})

	conv := r.conversation(ResolveConversationKey(dm("sam", "milk"), r.opts.Scope))
	assert.Equal(t, 0, r.Forget(30*time.Minute))
	assert.Same(t, conv, r.conversation(ResolveConversationKey(dm("sam", "tea"), r.opts.Scope)))
}

func TestSendToUnknownChannel(t *testing.T) {
	r, _ := setup(t, &listChat{}, Options{})
	assert.Error(t, r.SendTo(context.Background(), "slack", "sam", "hi"))
}

func TestResolveConversationKey(t *testing.T) {
	msg := domain.InboundMessage{ChannelID: "irc", From: "sam", ChatID: "#budget"}
	assert.Equal(t, "irc:#budget:sam", ResolveConversationKey(msg, ScopePerSender).String())
	assert.Equal(t, "irc:#budget:sam", ResolveConversationKey(msg, "").String())
	assert.Equal(t, "irc:#budget", ResolveConversationKey(msg, ScopeGlobal).String())
}

func TestRenderList(t *testing.T) {
	assert.Equal(t, "Your shopping list is empty.", RenderList(nil))
	got := RenderList([]domain.ShoppingListItem{
		{Name: "Milk", Quantity: 2, Price: 3.1, IsGoodBuy: true},
		{Name: "Bread", Quantity: 1},
	})
	assert.Equal(t, "Your shopping list:\n- 2 x Milk @ $3.10 (good buy)\n- 1 x Bread\nEstimated total: $6.20", got)
}
