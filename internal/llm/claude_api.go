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
	DefaultClaudeModel    = "claude-3-5-haiku-latest"
	defaultClaudeEndpoint = "https://api.anthropic.com"
)

// ClaudeAPIClient talks to the Anthropic Messages API.
type ClaudeAPIClient struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

// NewClaudeAPIClient creates a client. An empty endpoint uses the public API.
func NewClaudeAPIClient(apiKey, model, endpoint string) *ClaudeAPIClient {
	if endpoint == "" {
		endpoint = defaultClaudeEndpoint
	}
	return &ClaudeAPIClient{
		apiKey:   apiKey,
		model:    model,
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client:   &http.Client{Timeout: 120 * time.Second},
	}
}

func (c *ClaudeAPIClient) Name() string { return "claude" }

// Complete sends a non-streaming completion request.
func (c *ClaudeAPIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	body := map[string]any{
		"model":      c.model,
		"messages":   req.Messages,
		"max_tokens": maxTokens,
	}
	if req.System != "" {
		body["system"] = req.System
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(respBody, "error.message").String()
		if msg == "" {
			msg = string(respBody)
		}
		return nil, &ProviderError{Provider: c.Name(), Code: resp.StatusCode, Message: msg}
	}
	if !gjson.ValidBytes(respBody) {
		return nil, fmt.Errorf("failed to parse response: invalid JSON")
	}

	return parseClaudeResponse(respBody, time.Since(start)), nil
}

// parseClaudeResponse concatenates the text blocks of a Messages API reply.
func parseClaudeResponse(body []byte, d time.Duration) *CompletionResponse {
	parsed := gjson.ParseBytes(body)

	var content strings.Builder
	parsed.Get("content").ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			content.WriteString(block.Get("text").String())
		}
		return true
	})

	return &CompletionResponse{
		Content:    content.String(),
		StopReason: parsed.Get("stop_reason").String(),
		Model:      parsed.Get("model").String(),
		Usage: Usage{
			InputTokens:  int(parsed.Get("usage.input_tokens").Int()),
			OutputTokens: int(parsed.Get("usage.output_tokens").Int()),
		},
		Duration: d,
	}
}
