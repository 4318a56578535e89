package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/soyeahso/koko/internal/chat"
)

// Error codes in HTTP error bodies.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeAgentError     = "AGENT_ERROR"
	CodeUnavailable    = "SERVICE_UNAVAILABLE"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeRateLimited    = "RATE_LIMITED"
	CodeNotFound       = "NOT_FOUND"
	CodeInternal       = "INTERNAL_ERROR"
)

// maxChatBody caps a POST /chat body.
const maxChatBody = 1 << 20

const noProviderMessage = "The AI assistant is not configured. Please try again later."

// ErrorBody is the JSON shape of every HTTP error response.
type ErrorBody struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// HealthResponse is returned by health endpoints. Unauthenticated HTTP
// callers only see Status.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version,omitempty"`
	Clients   int    `json:"clients,omitempty"`
	Sessions  int    `json:"sessions,omitempty"`
	Assistant bool   `json:"assistant,omitempty"`
	UptimeMs  int64  `json:"uptimeMs,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorBody{ErrorCode: code, Message: message})
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	// Details only for callers that could also chat.
	if !Authorize(s.auth, requestToken(r)).OK {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}
	writeJSON(w, http.StatusOK, s.health())
}

// handleChat runs one conversational turn.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeHTTP(w, r) {
		return
	}
	if s.chat == nil {
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, noProviderMessage)
		return
	}

	var req chat.TurnRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid request body: "+err.Error())
		return
	}

	res, err := s.chat.Turn(r.Context(), req)
	if err != nil {
		status, code, msg := chatError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// chatError maps a turn error to a status, code and caller-safe message.
func chatError(err error) (int, string, string) {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		return http.StatusBadRequest, CodeInvalidRequest, err.Error()
	case errors.Is(err, chat.ErrUnavailable):
		return http.StatusServiceUnavailable, CodeUnavailable, err.Error()
	default:
		return http.StatusInternalServerError, CodeAgentError, chat.ErrAssistant.Error()
	}
}

// authorizeHTTP enforces the bearer token and the failure rate limit. It
// writes the error response itself and reports whether to continue.
func (s *Server) authorizeHTTP(w http.ResponseWriter, r *http.Request) bool {
	if !s.auth.Enabled() {
		return true
	}
	if !s.authLimiter.allow(r.RemoteAddr) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("rate limited after failed auth attempts")
		writeError(w, http.StatusTooManyRequests, CodeRateLimited, "too many failed attempts")
		return false
	}
	res := Authorize(s.auth, requestToken(r))
	if !res.OK {
		s.authLimiter.recordFailure(r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, res.Reason)
		return false
	}
	return true
}

// handleNotFound returns a 404 for unknown routes.
func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, CodeNotFound, "not found: "+r.URL.Path)
}

// RequestHandler processes an incoming RPC request frame from a client.
type RequestHandler func(ctx *RequestContext)

// RequestContext carries everything an RPC handler needs.
type RequestContext struct {
	Ctx      context.Context
	Client   *Client
	Frame    Frame
	Server   *Server
	Received time.Time
}

// Context returns the connection's context, which ends when the client
// disconnects or the server stops.
func (rc *RequestContext) Context() context.Context {
	if rc.Ctx == nil {
		return context.Background()
	}
	return rc.Ctx
}

// Respond sends a success response.
func (rc *RequestContext) Respond(payload any) {
	if err := rc.Client.Reply(rc.Frame.ID, payload); err != nil {
		rc.Server.log.Warn().Err(err).Str("method", rc.Frame.Method).Msg("failed to send response")
	}
}

// RespondError sends an error response.
func (rc *RequestContext) RespondError(code, message string) {
	rc.respondError(ErrorShape{Code: code, Message: message})
}

func (rc *RequestContext) respondError(shape ErrorShape) {
	if err := rc.Client.Fail(rc.Frame.ID, shape); err != nil {
		rc.Server.log.Warn().Err(err).Str("method", rc.Frame.Method).Msg("failed to send error response")
	}
}

// Params unmarshals the request params into the given target.
func (rc *RequestContext) Params(target any) error {
	if len(rc.Frame.Params) == 0 {
		return nil
	}
	return json.Unmarshal(rc.Frame.Params, target)
}
