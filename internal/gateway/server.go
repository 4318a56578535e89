// Package gateway serves the Koko HTTP API and WebSocket endpoint.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/soyeahso/koko/internal/channel"
	"github.com/soyeahso/koko/internal/chat"
	"github.com/soyeahso/koko/internal/config"
	"github.com/soyeahso/koko/internal/hooks"
	"github.com/soyeahso/koko/internal/logging"
	"github.com/soyeahso/koko/internal/metrics"
	"github.com/soyeahso/koko/internal/session"
	"github.com/soyeahso/koko/internal/version"
)

// ErrClientClosed is returned when sending to a closed connection.
var ErrClientClosed = errors.New("client connection closed")

// maxFramePayload caps one inbound WebSocket frame.
const maxFramePayload = 1 << 20

// Chatter runs conversational turns.
type Chatter interface {
	Turn(ctx context.Context, req chat.TurnRequest) (*chat.TurnResult, error)
}

// SessionLister reports live assistant sessions.
type SessionLister interface {
	List() []session.Info
	Len() int
}

// Server is the Koko gateway HTTP + WebSocket server.
type Server struct {
	cfg      config.GatewayConfig
	auth     ResolvedAuth
	log      *logging.Logger
	clients  *ClientRegistry
	handlers map[string]RequestHandler
	version  string
	eventSeq atomic.Int64

	mu        sync.RWMutex
	configRaw map[string]any
	addr      string
	startedAt time.Time

	// chat is nil when no LLM provider is available; chat requests then
	// get 503.
	chat     Chatter
	sessions SessionLister
	channels *channel.Registry
	hooks    *hooks.Manager
	metrics  *metrics.Metrics

	turnTimeout time.Duration
	httpServer  *http.Server
	upgrader    websocket.Upgrader
	authLimiter *authRateLimiter
}

// ServerOption configures the gateway server.
type ServerOption func(*Server)

// WithChat sets the turn runner behind POST /chat and chat.send.
func WithChat(c Chatter) ServerOption {
	return func(s *Server) { s.chat = c }
}

// WithSessions exposes live sessions to the session.list RPC and health.
func WithSessions(l SessionLister) ServerOption {
	return func(s *Server) { s.sessions = l }
}

// WithChannels sets the channel registry for channel status reporting.
func WithChannels(ch *channel.Registry) ServerOption {
	return func(s *Server) { s.channels = ch }
}

// WithHooks sets the hook manager for lifecycle events.
func WithHooks(hm *hooks.Manager) ServerOption {
	return func(s *Server) { s.hooks = hm }
}

// WithMetrics serves the metrics registry on GET /metrics.
func WithMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithConfigRaw sets the raw config map for the config.get RPC.
func WithConfigRaw(raw map[string]any) ServerOption {
	return func(s *Server) { s.configRaw = raw }
}

// WithTurnTimeout sizes the HTTP write timeout so long turns can finish.
func WithTurnTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.turnTimeout = d }
}

// New creates a new gateway server.
func New(cfg config.GatewayConfig, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:         cfg,
		auth:        ResolveAuth(cfg.Auth),
		log:         log.Sub("gateway"),
		clients:     NewClientRegistry(log.Sub("clients")),
		handlers:    make(map[string]RequestHandler),
		version:     version.Version,
		configRaw:   make(map[string]any),
		turnTimeout: chat.DefaultTurnTimeout,
		authLimiter: newAuthRateLimiter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.AllowedOrigins),
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	s.registerRPCHandlers()
	s.hooks.On(hooks.EventGoodBuy, "gateway.broadcast", func(_ context.Context, p hooks.Payload) error {
		s.clients.Broadcast(EventGoodBuy, p.Data, s.eventSeq.Add(1))
		return nil
	})
	return s
}

// Handle registers an RPC method handler.
func (s *Server) Handle(method string, handler RequestHandler) {
	s.handlers[method] = handler
}

// Methods returns the registered RPC method names, sorted.
func (s *Server) Methods() []string {
	methods := make([]string, 0, len(s.handlers))
	for m := range s.handlers {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

// Handler returns the routed HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)
	return chain(mux, s.middleware()...)
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.GatewayConfig) string {
	switch cfg.Bind {
	case "loopback":
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	case "lan", "auto":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return fmt.Sprintf("%s:%d", host, cfg.Port)
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Start begins listening for HTTP and WebSocket connections.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      s.turnTimeout + 15*time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if s.cfg.Bind != "loopback" && !s.auth.Enabled() {
		s.log.Warn().Msg("gateway is reachable beyond loopback without a token")
	}

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("bind", s.cfg.Bind).
		Bool("auth", s.auth.Enabled()).
		Bool("assistant", s.chat != nil).
		Int("methods", len(s.handlers)).
		Msg("gateway server ready")

	s.hooks.Emit(ctx, hooks.EventGatewayStart, map[string]any{
		"addr": ln.Addr().String(),
	})

	// Shutdown when context is cancelled
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		s.log.Info().Msg("shutting down gateway server")
		s.hooks.Emit(context.Background(), hooks.EventGatewayStop, nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.clients.CloseAll()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-stopped
	return nil
}

// Addr returns the bound listen address, or empty string if not started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// handleWebSocket authenticates, upgrades and runs the connection loop.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authLimiter.allow(r.RemoteAddr) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("rate limited after failed auth attempts")
		writeError(w, http.StatusTooManyRequests, CodeRateLimited, "too many failed attempts")
		return
	}
	authResult := Authorize(s.auth, requestToken(r))
	if !authResult.OK {
		s.authLimiter.recordFailure(r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, authResult.Reason)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxFramePayload)

	q := r.URL.Query()
	client := NewClient(conn, ClientInfo{
		ID:        q.Get("client"),
		Version:   q.Get("version"),
		UserAgent: r.UserAgent(),
	}, authResult.Method, s.log.Sub("ws"))

	if err := client.Emit(EventHello, s.hello(client), s.eventSeq.Add(1)); err != nil {
		s.log.Warn().Err(err).Msg("sending hello failed")
		client.Close()
		return
	}

	s.clients.Add(client)
	done := make(chan struct{})
	go client.keepalive(done)
	defer func() {
		close(done)
		s.clients.Remove(client.ConnID)
		client.Close()
	}()

	s.readLoop(r.Context(), client)
}

func (s *Server) hello(client *Client) Hello {
	return Hello{
		Protocol: ProtocolVersion,
		Server: ServerInfo{
			Version: s.version,
			Commit:  version.Commit,
			ConnID:  client.ConnID,
		},
		Features: Features{
			Methods: s.Methods(),
			Events:  []string{EventHello, EventGoodBuy},
		},
	}
}

// readLoop processes incoming frames from an authenticated client.
func (s *Server) readLoop(ctx context.Context, client *Client) {
	for {
		frame, err := client.Next()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Str("connId", client.ConnID).Msg("client closed connection")
			} else if !errors.Is(err, net.ErrClosed) {
				s.log.Warn().Err(err).Str("connId", client.ConnID).Msg("read error")
			}
			return
		}

		if frame.Type != FrameTypeRequest {
			s.log.Debug().Str("type", frame.Type).Msg("ignoring non-request frame")
			continue
		}

		s.dispatch(ctx, client, frame)
	}
}

// dispatch routes a request frame to the appropriate handler.
func (s *Server) dispatch(ctx context.Context, client *Client, frame Frame) {
	handler, ok := s.handlers[frame.Method]
	if !ok {
		client.Fail(frame.ID, ErrorShape{
			Code:    "method_not_found",
			Message: "unknown method: " + frame.Method,
		})
		return
	}

	handler(&RequestContext{
		Ctx:      ctx,
		Client:   client,
		Frame:    frame,
		Server:   s,
		Received: time.Now(),
	})
}
