package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"google.golang.org/api/googleapi"
)

const (
	DefaultGeminiModel    = "gemini-2.0-flash"
	defaultGeminiEndpoint = "https://generativelanguage.googleapis.com"
)

// GeminiAPIClient talks to the Gemini generateContent endpoint.
type GeminiAPIClient struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

// NewGeminiAPIClient creates a client. An empty endpoint uses the public API.
func NewGeminiAPIClient(apiKey, model, endpoint string) *GeminiAPIClient {
	if endpoint == "" {
		endpoint = defaultGeminiEndpoint
	}
	return &GeminiAPIClient{
		apiKey:   apiKey,
		model:    model,
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client:   &http.Client{Timeout: 120 * time.Second},
	}
}

func (g *GeminiAPIClient) Name() string { return "gemini" }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

// geminiBody maps the chat history onto Gemini's user/model turns.
func geminiBody(req CompletionRequest) map[string]any {
	contents := make([]geminiContent, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}})
	}
	gen := map[string]any{}
	if req.MaxTokens > 0 {
		gen["maxOutputTokens"] = req.MaxTokens
	}
	if req.Temperature != nil {
		gen["temperature"] = *req.Temperature
	}
	body := map[string]any{"contents": contents}
	if len(gen) > 0 {
		body["generationConfig"] = gen
	}
	if req.System != "" {
		body["systemInstruction"] = geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	return body
}

// Complete sends a non-streaming generateContent request.
func (g *GeminiAPIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	payload, err := json.Marshal(geminiBody(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.endpoint, url.PathEscape(g.model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := googleapi.CheckResponse(resp); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			msg := gerr.Message
			if msg == "" {
				msg = strings.TrimSpace(gerr.Body)
			}
			return nil, &ProviderError{Provider: g.Name(), Code: gerr.Code, Message: msg}
		}
		return nil, err
	}
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if !gjson.ValidBytes(respBody) {
		return nil, fmt.Errorf("failed to parse response: invalid JSON")
	}
	return parseGeminiResponse(respBody, g.model, time.Since(start)), nil
}

// parseGeminiResponse joins the text parts of the first candidate.
func parseGeminiResponse(body []byte, model string, d time.Duration) *CompletionResponse {
	parsed := gjson.ParseBytes(body)
	cand := parsed.Get("candidates.0")

	var content strings.Builder
	cand.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
		content.WriteString(part.Get("text").String())
		return true
	})

	if v := parsed.Get("modelVersion").String(); v != "" {
		model = v
	}
	return &CompletionResponse{
		Content:    content.String(),
		StopReason: strings.ToLower(cand.Get("finishReason").String()),
		Model:      model,
		Usage: Usage{
			InputTokens:  int(parsed.Get("usageMetadata.promptTokenCount").Int()),
			OutputTokens: int(parsed.Get("usageMetadata.candidatesTokenCount").Int()),
		},
		Duration: d,
	}
}
