package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	DefaultOllamaModel    = "llama3.2"
	defaultOllamaEndpoint = "http://localhost:11434"
)

// OllamaAPIClient talks to a local Ollama server's chat endpoint.
type OllamaAPIClient struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllamaAPIClient creates a client for baseURL, e.g. "http://localhost:11434".
func NewOllamaAPIClient(baseURL, model string) *OllamaAPIClient {
	if baseURL == "" {
		baseURL = defaultOllamaEndpoint
	}
	return &OllamaAPIClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (o *OllamaAPIClient) Name() string { return "ollama" }

// Complete sends a non-streaming chat request.
func (o *OllamaAPIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	msgs := make([]Message, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, Message{Role: "system", Content: req.System})
	}
	msgs = append(msgs, req.Messages...)

	body := map[string]any{
		"model":    o.model,
		"messages": msgs,
		"stream":   false,
	}
	if req.Temperature != nil {
		body["options"] = map[string]any{"temperature": *req.Temperature}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(respBody, "error").String()
		if msg == "" {
			msg = string(respBody)
		}
		return nil, &ProviderError{Provider: o.Name(), Code: resp.StatusCode, Message: msg}
	}

	parsed := gjson.ParseBytes(respBody)
	return &CompletionResponse{
		Content:    parsed.Get("message.content").String(),
		StopReason: parsed.Get("done_reason").String(),
		Model:      o.model,
		Usage: Usage{
			InputTokens:  int(parsed.Get("prompt_eval_count").Int()),
			OutputTokens: int(parsed.Get("eval_count").Int()),
		},
		Duration: time.Since(start),
	}, nil
}
