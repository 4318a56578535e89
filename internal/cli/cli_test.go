package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/koko/internal/chat"
	"github.com/soyeahso/koko/internal/config"
	"github.com/soyeahso/koko/internal/domain"
	"github.com/soyeahso/koko/internal/gateway"
)

// run executes the root command against an isolated KOKO_HOME.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(append([]string{"--log-level", "silent"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("KOKO_HOME", home)
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("KOKO_STORE_DRIVER", "")
	t.Setenv("KOKO_LLM_PROVIDER", "")
	return home
}

func TestVersion(t *testing.T) {
	isolate(t)
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "koko "), out)
}

func TestConfigSetGetUnset(t *testing.T) {
	home := isolate(t)

	out, err := run(t, "config", "set", "gateway.port", "9001")
	require.NoError(t, err)
	assert.Equal(t, "Set gateway.port = 9001\n", out)

	out, err = run(t, "config", "get", "gateway.port")
	require.NoError(t, err)
	assert.Equal(t, "9001\n", out)

	cfg, err := config.Load(filepath.Join(home, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 9001, cfg.Gateway.Port)

	_, err = run(t, "config", "unset", "gateway.port")
	require.NoError(t, err)
	_, err = run(t, "config", "get", "gateway.port")
	assert.Error(t, err)
}

func TestConfigSetRejectsInvalidValue(t *testing.T) {
	home := isolate(t)

	_, err := run(t, "config", "set", "store.driver", "postgres")
	assert.ErrorContains(t, err, "refusing to set store.driver")
	assert.NoFileExists(t, filepath.Join(home, "config.yaml"))

	_, err = run(t, "config", "set", "gateway.port", "not-a-port")
	assert.ErrorContains(t, err, "gateway.port")
}

func TestConfigGetSection(t *testing.T) {
	isolate(t)
	_, err := run(t, "config", "set", "pricing.windowDays", "14")
	require.NoError(t, err)

	out, err := run(t, "config", "get", "pricing")
	require.NoError(t, err)
	assert.Equal(t, "windowDays: 14\n", out)
}

func TestConfigPath(t *testing.T) {
	home := isolate(t)
	out, err := run(t, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "config.yaml")+"\n", out)

	out, err = run(t, "--config", "/tmp/other.yaml", "config", "path")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/other.yaml\n", out)
}

func TestConfigValidate(t *testing.T) {
	home := isolate(t)

	out, err := run(t, "config", "validate")
	require.NoError(t, err)
	assert.Equal(t, "config OK\n", out)

	path := filepath.Join(home, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  driver: postgres\n"), 0o600))
	out, err = run(t, "config", "validate")
	require.Error(t, err)
	assert.Contains(t, out, "store.driver")
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  apiKey: sk-secret\ngateway:\n  auth:\n    token: tok\n"), 0o600))

	out, err := run(t, "config", "show")
	require.NoError(t, err)
	assert.NotContains(t, out, "sk-secret")
	assert.NotContains(t, out, "token: tok")
	assert.Contains(t, out, redacted)
	assert.Contains(t, out, "port: 8000")
}

func TestRedactLeavesOriginalIRCConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Channels.IRC = &config.IRCConfig{Server: "irc.example.com", Nick: "koko", Password: "pw"}
	out := redact(cfg)
	assert.Equal(t, redacted, out.Channels.IRC.Password)
	assert.Equal(t, "pw", cfg.Channels.IRC.Password)
	assert.Empty(t, out.LLM.APIKey)
}

func TestSeedAndAverage(t *testing.T) {
	home := isolate(t)

	out, err := run(t, "seed")
	require.NoError(t, err)
	assert.Equal(t, "Seeded 420 price observations\n", out)
	assert.FileExists(t, filepath.Join(home, "data", "prices.db"))

	out, err = run(t, "prices", "avg", "full cream milk")
	require.NoError(t, err)
	assert.Contains(t, out, "Milk (1L): $")
	assert.Contains(t, out, "over 28 days")

	_, err = run(t, "prices", "avg", "caviar")
	assert.ErrorContains(t, err, "not a tracked item")
}

func TestAverageWithoutHistory(t *testing.T) {
	isolate(t)
	out, err := run(t, "prices", "avg", "rice", "--days", "3")
	require.NoError(t, err)
	assert.Equal(t, "Rice (1kg): no prices in the last 3 days\n", out)
}

func TestPricesItems(t *testing.T) {
	isolate(t)
	out, err := run(t, "prices", "items")
	require.NoError(t, err)
	assert.Equal(t, 5, strings.Count(out, "\n"))
	assert.Contains(t, out, "Eggs (Dozen)")
}

func TestChatWithoutProvider(t *testing.T) {
	isolate(t)
	_, err := run(t, "chat", "hello")
	assert.ErrorIs(t, err, errNoProvider)
}

func TestChatBadListFlag(t *testing.T) {
	isolate(t)
	_, err := run(t, "chat", "--list", "not json", "hello")
	assert.ErrorContains(t, err, "--list")
}

func TestStatusProbesGateway(t *testing.T) {
	isolate(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		_ = json.NewEncoder(w).Encode(gateway.HealthResponse{Status: "ok", Version: "dev", Sessions: 2, Assistant: true})
	}))
	defer srv.Close()

	out, err := run(t, "status", "--url", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Gateway: port=8000 bind=loopback auth=none")
	assert.Contains(t, out, "Gateway: ok at "+srv.URL+" version=dev sessions=2")
}

func TestStatusGatewayDown(t *testing.T) {
	isolate(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	out, err := run(t, "status", "--url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "not reachable")
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"true", true},
		{"FALSE", false},
		{"42", 42},
		{"0.5", 0.5},
		{"@every 5m", "@every 5m"},
		{"007", 7.0},
		{"Coles", "Coles"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseValue(tt.in), tt.in)
	}
}

// scriptedTurns appends each message to the list.
type scriptedTurns struct {
	reqs []chat.TurnRequest
}

func (s *scriptedTurns) Turn(_ context.Context, req chat.TurnRequest) (*chat.TurnResult, error) {
	s.reqs = append(s.reqs, req)
	if req.Message == "fail" {
		return nil, chat.ErrAssistant
	}
	list := append(domain.CloneList(req.ShoppingList), domain.ShoppingListItem{Name: req.Message, Quantity: 1})
	return &chat.TurnResult{Reply: "ok " + req.Message, UpdatedList: list, SessionID: "s1"}, nil
}

func TestChatLoopREPL(t *testing.T) {
	turns := &scriptedTurns{}
	var out bytes.Buffer
	c := &chatLoop{turns: turns, out: &out, home: "Kensington NSW"}

	err := c.repl(context.Background(), strings.NewReader("milk\nfail\n!list\n!clear\n\nbread\n/quit\nignored\n"))
	require.NoError(t, err)

	require.Len(t, turns.reqs, 3)
	assert.Empty(t, turns.reqs[0].SessionID)
	assert.Equal(t, "s1", turns.reqs[1].SessionID)
	assert.Equal(t, "Kensington NSW", turns.reqs[0].HomeAddress)
	assert.Empty(t, turns.reqs[2].ShoppingList, "!clear empties the list")

	text := out.String()
	assert.Contains(t, text, "ok milk")
	assert.Contains(t, text, chat.ErrAssistant.Error())
	assert.Contains(t, text, "- 1 x milk")
	assert.Contains(t, text, "Your shopping list is now empty.")
	assert.NotContains(t, text, "ignored")
}

func TestChatLoopJSON(t *testing.T) {
	var out bytes.Buffer
	c := &chatLoop{turns: &scriptedTurns{}, out: &out, json: true}
	require.NoError(t, c.send(context.Background(), "eggs"))

	var res chat.TurnResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, "s1", res.SessionID)
	assert.Equal(t, []domain.ShoppingListItem{{Name: "eggs", Quantity: 1}}, res.UpdatedList)
}
