// Package irc implements the IRC chat channel using the girc library.
package irc

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lrstanley/girc"

	"github.com/soyeahso/koko/internal/config"
	"github.com/soyeahso/koko/internal/domain"
	"github.com/soyeahso/koko/internal/logging"
)

// maxLineBytes keeps a PRIVMSG under the 512 byte IRC line limit once the
// prefix and target are added.
const maxLineBytes = 400

// Channel implements domain.Channel for IRC. It answers direct messages and
// channel messages that address the bot by nick.
type Channel struct {
	cfg    config.IRCConfig
	client *girc.Client
	log    *logging.Logger

	mu      sync.RWMutex
	handler func(msg domain.InboundMessage)
	running bool
	lastErr string
}

// New creates an IRC channel from configuration.
func New(cfg config.IRCConfig, log *logging.Logger) *Channel {
	return &Channel{
		cfg: cfg,
		log: log.Sub("irc"),
	}
}

func (c *Channel) ID() string { return "irc" }

func (c *Channel) OnMessage(handler func(msg domain.InboundMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// Status returns the current runtime status.
func (c *Channel) Status() domain.ChannelStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return domain.ChannelStatus{
		ChannelID: "irc",
		Connected: c.client != nil && c.client.IsConnected(),
		Running:   c.running,
		LastError: c.lastErr,
	}
}

func (c *Channel) port() int {
	if c.cfg.Port != 0 {
		return c.cfg.Port
	}
	if c.cfg.UseTLS {
		return 6697
	}
	return 6667
}

func (c *Channel) clientConfig() girc.Config {
	gircCfg := girc.Config{
		Server:  c.cfg.Server,
		Port:    c.port(),
		Nick:    c.cfg.Nick,
		User:    c.cfg.Nick,
		Name:    "Koko budget assistant",
		SSL:     c.cfg.UseTLS,
		Version: "Koko/1.0",
	}
	if c.cfg.UseTLS {
		gircCfg.TLSConfig = &tls.Config{ServerName: c.cfg.Server}
	}
	if c.cfg.SASL && c.cfg.Password != "" {
		gircCfg.SASL = &girc.SASLPlain{User: c.cfg.Nick, Pass: c.cfg.Password}
	} else if c.cfg.Password != "" {
		gircCfg.ServerPass = c.cfg.Password
	}
	return gircCfg
}

// Start connects to the IRC server and processes messages until ctx ends
// or the connection drops.
func (c *Channel) Start(ctx context.Context) error {
	client := girc.New(c.clientConfig())
	client.Handlers.Add(girc.CONNECTED, c.onConnected)
	client.Handlers.Add(girc.PRIVMSG, c.onPrivmsg)
	client.Handlers.Add(girc.DISCONNECTED, c.onDisconnected)

	c.mu.Lock()
	c.client = client
	c.running = true
	c.lastErr = ""
	c.mu.Unlock()

	c.log.Info().
		Str("server", c.cfg.Server).
		Int("port", c.port()).
		Str("nick", c.cfg.Nick).
		Strs("channels", c.cfg.Channels).
		Bool("tls", c.cfg.UseTLS).
		Msg("connecting to IRC")

	errCh := make(chan error, 1)
	go func() {
		errCh <- client.Connect()
	}()

	select {
	case err := <-errCh:
		c.mu.Lock()
		c.running = false
		if err != nil {
			c.lastErr = err.Error()
		}
		c.mu.Unlock()
		if err != nil {
			return fmt.Errorf("irc connect: %w", err)
		}
		return nil
	case <-ctx.Done():
		client.Close()
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return ctx.Err()
	}
}

// Stop gracefully disconnects from the IRC server.
func (c *Channel) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil && c.client.IsConnected() {
		c.log.Info().Msg("disconnecting from IRC")
		c.client.Quit("Koko signing off")
	}
	c.running = false
	return nil
}

// Send delivers a message to an IRC channel or user, one PRIVMSG per line.
func (c *Channel) Send(ctx context.Context, msg domain.OutboundMessage) error {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()
	if client == nil || !client.IsConnected() {
		return fmt.Errorf("irc: not connected")
	}
	if msg.To == "" {
		return fmt.Errorf("irc: no target specified")
	}

	lines := splitMessage(msg.Body, maxLineBytes)
	for _, line := range lines {
		client.Cmd.Message(msg.To, line)
	}
	c.log.Debug().Str("to", msg.To).Int("lines", len(lines)).Msg("sent IRC message")
	return nil
}

func (c *Channel) onConnected(client *girc.Client, _ girc.Event) {
	c.log.Info().Str("nick", client.GetNick()).Msg("connected to IRC")
	for _, ch := range c.cfg.Channels {
		c.log.Info().Str("channel", ch).Msg("joining channel")
		client.Cmd.Join(ch)
	}
}

func (c *Channel) onPrivmsg(client *girc.Client, e girc.Event) {
	msg, ok := inboundFromEvent(client.GetNick(), e)
	if !ok {
		return
	}

	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()
	if handler != nil {
		handler(msg)
	}
}

func (c *Channel) onDisconnected(_ *girc.Client, _ girc.Event) {
	c.log.Warn().Msg("disconnected from IRC")
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}

// inboundFromEvent converts a PRIVMSG into an inbound message. Channel
// messages count only when they address nick ("koko: add milk"); the
// address is stripped from the body.
func inboundFromEvent(nick string, e girc.Event) (domain.InboundMessage, bool) {
	if e.Source == nil || len(e.Params) == 0 || strings.EqualFold(e.Source.Name, nick) {
		return domain.InboundMessage{}, false
	}

	body := e.Last()
	if e.IsAction() {
		body = e.StripAction()
	}

	msg := domain.InboundMessage{
		ID:        uuid.New().String(),
		ChannelID: "irc",
		From:      e.Source.Name,
		ChatType:  domain.ChatTypeDM,
		ChatID:    e.Source.Name,
		Timestamp: time.Now(),
	}

	if e.IsFromChannel() {
		stripped, addressed := stripAddress(body, nick)
		if !addressed {
			return domain.InboundMessage{}, false
		}
		body = stripped
		msg.ChatType = domain.ChatTypeGroup
		msg.ChatID = e.Params[0]
	}

	msg.Body = strings.TrimSpace(body)
	if msg.Body == "" {
		return domain.InboundMessage{}, false
	}
	return msg, true
}

// stripAddress reports whether body starts with nick followed by ':' or
// ',' and returns the remainder.
func stripAddress(body, nick string) (string, bool) {
	if nick == "" || len(body) <= len(nick) || !strings.EqualFold(body[:len(nick)], nick) {
		return body, false
	}
	rest := body[len(nick):]
	switch rest[0] {
	case ':', ',':
		return rest[1:], true
	}
	return body, false
}

// splitMessage breaks a reply into IRC lines: one per non-empty input
// line, with lines longer than maxLen cut on rune boundaries.
func splitMessage(text string, maxLen int) []string {
	var chunks []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r ")
		for len(line) > maxLen {
			cut := maxLen
			for cut > 0 && !isRuneStart(line[cut]) {
				cut--
			}
			if cut == 0 {
				cut = maxLen
			}
			chunks = append(chunks, line[:cut])
			line = line[cut:]
		}
		if line != "" {
			chunks = append(chunks, line)
		}
	}
	return chunks
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
