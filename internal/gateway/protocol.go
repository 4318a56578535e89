package gateway

import (
	"encoding/json"
	"fmt"
)

// Frame types for the WebSocket protocol.
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// Event names pushed to WebSocket clients.
const (
	EventHello   = "hello"
	EventGoodBuy = "koko.good_buy"
)

// Frame is the one envelope used in both directions. Type selects which
// of the field groups below is meaningful.
type Frame struct {
	Type string `json:"type"`

	// Request fields
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`

	// Response fields
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// Event fields
	Event string `json:"event,omitempty"`
	Seq   int64  `json:"seq,omitempty"`

	// Error (response only)
	Error *ErrorShape `json:"error,omitempty"`
}

// ErrorShape is the standard error format in response frames.
type ErrorShape struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// ClientInfo identifies the connecting client. It is taken from the
// client and version query parameters of the upgrade request.
type ClientInfo struct {
	ID        string `json:"id,omitempty"`
	Version   string `json:"version,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

// Hello is pushed to a client right after the upgrade.
type Hello struct {
	Protocol int        `json:"protocol"`
	Server   ServerInfo `json:"server"`
	Features Features   `json:"features"`
}

// ServerInfo identifies the gateway server.
type ServerInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	ConnID  string `json:"connId"`
}

// Features advertises available RPC methods and events.
type Features struct {
	Methods []string `json:"methods"`
	Events  []string `json:"events"`
}

func marshalPayload(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding frame payload: %w", err)
	}
	return raw, nil
}

// NewRequest builds a request frame, as sent by clients.
func NewRequest(id, method string, params any) (Frame, error) {
	raw, err := marshalPayload(params)
	return Frame{Type: FrameTypeRequest, ID: id, Method: method, Params: raw}, err
}

// NewResponse builds a successful reply to request id.
func NewResponse(id string, payload any) (Frame, error) {
	raw, err := marshalPayload(payload)
	return Frame{Type: FrameTypeResponse, ID: id, OK: ptr(true), Payload: raw}, err
}

// NewErrorResponse builds a failed reply to request id.
func NewErrorResponse(id string, shape ErrorShape) Frame {
	return Frame{Type: FrameTypeResponse, ID: id, OK: ptr(false), Error: &shape}
}

// NewEvent builds a server push numbered seq.
func NewEvent(event string, payload any, seq int64) (Frame, error) {
	raw, err := marshalPayload(payload)
	return Frame{Type: FrameTypeEvent, Event: event, Payload: raw, Seq: seq}, err
}

// Succeeded reports whether a response frame carries ok=true.
func (f Frame) Succeeded() bool {
	return f.Type == FrameTypeResponse && f.OK != nil && *f.OK
}

func ptr[T any](v T) *T { return &v }

// ProtocolVersion is announced in the hello event.
const ProtocolVersion = 1
