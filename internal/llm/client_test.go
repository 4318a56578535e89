package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/soyeahso/koko/internal/config"
	"github.com/soyeahso/koko/internal/logging"
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

func TestRegistryResolveOrder(t *testing.T) {
	reg := NewRegistry(silentLog())
	reg.Register("claude", &MockClient{ProviderName: "claude"})
	reg.Register("ollama", &MockClient{ProviderName: "ollama"})
	reg.Alias("haiku", "claude")
	reg.SetFallback("ollama")

	c, err := reg.Resolve("claude")
	require.NoError(t, err)
	assert.Equal(t, "claude", c.Name())

	c, err = reg.Resolve("haiku")
	require.NoError(t, err)
	assert.Equal(t, "claude", c.Name())

	c, err = reg.Resolve("anything-else")
	require.NoError(t, err)
	assert.Equal(t, "ollama", c.Name())

	assert.Equal(t, []string{"claude", "ollama"}, reg.List())
}

func TestRegistryResolveNotFound(t *testing.T) {
	reg := NewRegistry(silentLog())
	assert.True(t, reg.Empty())
	_, err := reg.Resolve("nonexistent")
	assert.ErrorContains(t, err, "no LLM provider")
}

func TestNewRegistryFromConfig(t *testing.T) {
	reg := NewRegistryFromConfig(config.LLMConfig{Provider: "claude"}, silentLog())
	assert.True(t, reg.Empty(), "claude without key registers nothing")

	reg = NewRegistryFromConfig(config.LLMConfig{Provider: "claude", APIKey: "k"}, silentLog())
	c, err := reg.Resolve("sonnet")
	require.NoError(t, err)
	assert.Equal(t, "claude", c.Name())

	reg = NewRegistryFromConfig(config.LLMConfig{Provider: "Ollama", Model: "qwen2.5"}, silentLog())
	c, err = reg.Resolve("qwen2.5")
	require.NoError(t, err)
	assert.Equal(t, "ollama", c.Name())
}

func TestMockClient(t *testing.T) {
	m := &MockClient{ProviderName: "mock"}
	resp, err := m.Complete(context.Background(), CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "mock response", resp.Content)

	m.CompleteFunc = func(context.Context, CompletionRequest) (*CompletionResponse, error) {
		return nil, errors.New("boom")
	}
	_, err = m.Complete(context.Background(), CompletionRequest{})
	assert.EqualError(t, err, "boom")
}

func TestProviderErrorFormat(t *testing.T) {
	assert.Equal(t, "claude: 429 slow down", (&ProviderError{Provider: "claude", Code: 429, Message: "slow down"}).Error())
	assert.Equal(t, "ollama: refused", (&ProviderError{Provider: "ollama", Message: "refused"}).Error())
}

func TestClaudeAPIClientComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		assert.NoError(t, json.Unmarshal(raw, &body))
		assert.Equal(t, "You are Koko.", body["system"])
		assert.EqualValues(t, 1024, body["max_tokens"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"model": "claude-test",
			"stop_reason": "end_turn",
			"content": [{"type":"text","text":"G'day! "},{"type":"tool_use","id":"x","name":"n","input":{}},{"type":"text","text":"Milk is $1.50."}],
			"usage": {"input_tokens": 12, "output_tokens": 7}
		}`)
	}))
	defer srv.Close()

	c := NewClaudeAPIClient("test-key", "claude-test", srv.URL+"/")
	resp, err := c.Complete(context.Background(), CompletionRequest{
		System:    "You are Koko.",
		Messages:  []Message{{Role: RoleUser, Content: "hi"}},
		MaxTokens: 1024,
	})
	require.NoError(t, err)
	assert.Equal(t, "G'day! Milk is $1.50.", resp.Content)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, "claude-test", resp.Model)
	assert.Equal(t, Usage{InputTokens: 12, OutputTokens: 7}, resp.Usage)
}

func TestClaudeAPIClientProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)
	}))
	defer srv.Close()

	_, err := NewClaudeAPIClient("k", "m", srv.URL).Complete(context.Background(), CompletionRequest{})
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 429, pe.Code)
	assert.Equal(t, "slow down", pe.Message)
}

func TestOllamaAPIClientComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		var body struct {
			Model    string    `json:"model"`
			Messages []Message `json:"messages"`
			Stream   bool      `json:"stream"`
		}
		assert.NoError(t, json.Unmarshal(raw, &body))
		assert.Equal(t, "llama3.2", body.Model)
		assert.False(t, body.Stream)
		if assert.Len(t, body.Messages, 2) {
			assert.Equal(t, "system", body.Messages[0].Role)
		}

		_, _ = io.WriteString(w, `{"message":{"role":"assistant","content":"Sure!"},"done":true,"done_reason":"stop","prompt_eval_count":3,"eval_count":2}`)
	}))
	defer srv.Close()

	c := NewOllamaAPIClient(srv.URL, "llama3.2")
	resp, err := c.Complete(context.Background(), CompletionRequest{
		System:   "be brief",
		Messages: []Message{{Role: RoleUser, Content: "hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Sure!", resp.Content)
	assert.Equal(t, "stop", resp.StopReason)
	assert.Equal(t, 2, resp.Usage.OutputTokens)
}

func TestOllamaAPIClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"model not found"}`)
	}))
	defer srv.Close()

	_, err := NewOllamaAPIClient(srv.URL, "missing").Complete(context.Background(), CompletionRequest{})
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 404, pe.Code)
	assert.Equal(t, "model not found", pe.Message)
}

func TestGeminiAPIClientComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-test:generateContent", r.URL.Path)
		assert.Equal(t, "g-key", r.Header.Get("x-goog-api-key"))

		raw, _ := io.ReadAll(r.Body)
		assert.Equal(t, "You are Koko.", gjson.GetBytes(raw, "systemInstruction.parts.0.text").String())
		assert.Equal(t, "model", gjson.GetBytes(raw, "contents.1.role").String())
		assert.Equal(t, int64(256), gjson.GetBytes(raw, "generationConfig.maxOutputTokens").Int())

		_, _ = io.WriteString(w, `{
			"candidates": [{"content": {"role": "model", "parts": [{"text": "Bread is "}, {"text": "$3.20."}]}, "finishReason": "STOP"}],
			"usageMetadata": {"promptTokenCount": 9, "candidatesTokenCount": 4},
			"modelVersion": "gemini-test-001"
		}`)
	}))
	defer srv.Close()

	c := NewGeminiAPIClient("g-key", "gemini-test", srv.URL)
	resp, err := c.Complete(context.Background(), CompletionRequest{
		System: "You are Koko.",
		Messages: []Message{
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, Content: "G'day"},
			{Role: RoleUser, Content: "bread?"},
		},
		MaxTokens: 256,
	})
	require.NoError(t, err)
	assert.Equal(t, "Bread is $3.20.", resp.Content)
	assert.Equal(t, "stop", resp.StopReason)
	assert.Equal(t, "gemini-test-001", resp.Model)
	assert.Equal(t, Usage{InputTokens: 9, OutputTokens: 4}, resp.Usage)
}

func TestGeminiAPIClientProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":{"code":503,"message":"model overloaded","status":"UNAVAILABLE"}}`)
	}))
	defer srv.Close()

	_, err := NewGeminiAPIClient("k", "m", srv.URL).Complete(context.Background(), CompletionRequest{})
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 503, pe.Code)
	assert.Equal(t, "model overloaded", pe.Message)
}

func TestRegistryFromConfigGemini(t *testing.T) {
	reg := NewRegistryFromConfig(config.LLMConfig{Provider: "gemini"}, silentLog())
	assert.True(t, reg.Empty())

	reg = NewRegistryFromConfig(config.LLMConfig{Provider: "gemini", APIKey: "k"}, silentLog())
	c, err := reg.Resolve("flash")
	require.NoError(t, err)
	assert.Equal(t, "gemini", c.Name())
}
