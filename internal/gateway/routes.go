package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/soyeahso/koko/internal/chat"
	"github.com/soyeahso/koko/internal/config"
	"github.com/soyeahso/koko/internal/domain"
)

// safeConfigPrefixes lists config path prefixes readable over RPC. All
// other paths, credentials in particular, are denied.
var safeConfigPrefixes = []string{
	"gateway.port",
	"gateway.bind",
	"gateway.customBindHost",
	"assistant",
	"session",
	"pricing",
	"logging",
	"store.driver",
	"store.retentionDays",
	"store.pruneSchedule",
}

func isAllowedConfigPath(key string) bool {
	for _, prefix := range safeConfigPrefixes {
		if key == prefix || strings.HasPrefix(key, prefix+".") {
			return true
		}
	}
	return false
}

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	// Catch-all for unknown routes
	mux.HandleFunc("/", handleNotFound)
}

// registerRPCHandlers sets up all WebSocket RPC method handlers.
func (s *Server) registerRPCHandlers() {
	s.Handle("health", s.rpcHealth)
	s.Handle("chat.send", s.rpcChatSend)
	s.Handle("session.list", s.rpcSessionList)
	s.Handle("channels.status", s.rpcChannelsStatus)
	s.Handle("config.get", s.rpcConfigGet)
}

func (s *Server) rpcHealth(rc *RequestContext) {
	rc.Respond(s.health())
}

func (s *Server) health() HealthResponse {
	h := HealthResponse{
		Status:    "ok",
		Version:   s.version,
		Clients:   s.clients.Count(),
		Assistant: s.chat != nil,
	}
	if s.sessions != nil {
		h.Sessions = s.sessions.Len()
	}
	s.mu.RLock()
	started := s.startedAt
	s.mu.RUnlock()
	if !started.IsZero() {
		h.UptimeMs = time.Since(started).Milliseconds()
	}
	return h
}

func (s *Server) rpcChatSend(rc *RequestContext) {
	if s.chat == nil {
		rc.respondError(ErrorShape{Code: "unavailable", Message: noProviderMessage, Retryable: true})
		return
	}

	var req chat.TurnRequest
	if err := rc.Params(&req); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if req.SessionID == "" {
		req.SessionID = rc.Client.Session()
	}

	ctx, cancel := context.WithCancel(rc.Context())
	defer cancel()
	res, err := s.chat.Turn(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrEmptyMessage):
			rc.RespondError("invalid_params", err.Error())
		case errors.Is(err, chat.ErrUnavailable):
			rc.respondError(ErrorShape{Code: "unavailable", Message: err.Error(), Retryable: true})
		default:
			rc.RespondError("agent_error", chat.ErrAssistant.Error())
		}
		return
	}
	rc.Client.SetSession(res.SessionID)
	rc.Respond(res)
}

func (s *Server) rpcSessionList(rc *RequestContext) {
	if s.sessions == nil {
		rc.Respond(map[string]any{"sessions": []any{}})
		return
	}
	rc.Respond(map[string]any{"sessions": s.sessions.List()})
}

func (s *Server) rpcChannelsStatus(rc *RequestContext) {
	if s.channels != nil {
		rc.Respond(map[string]any{"channels": s.channels.Status()})
		return
	}
	rc.Respond(map[string]any{"channels": []domain.ChannelStatus{}})
}

type configGetParams struct {
	Key string `json:"key"`
}

func (s *Server) rpcConfigGet(rc *RequestContext) {
	var p configGetParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if p.Key == "" {
		rc.RespondError("invalid_params", "key is required")
		return
	}
	if !isAllowedConfigPath(p.Key) {
		rc.RespondError("forbidden", "access denied for config path: "+p.Key)
		return
	}
	path, err := config.ParseConfigPath(p.Key)
	if err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}

	s.mu.RLock()
	val, ok := config.GetValueAtPath(s.configRaw, path)
	s.mu.RUnlock()
	if !ok {
		rc.RespondError("not_found", "key not found: "+p.Key)
		return
	}
	rc.Respond(map[string]any{"key": p.Key, "value": val})
}
