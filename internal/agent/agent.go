package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/soyeahso/koko/internal/llm"
	"github.com/soyeahso/koko/internal/logging"
)

const (
	defaultMaxToolIterations = 5
	defaultMaxHistory        = 40
	maxParallelTools         = 4
)

// ErrNoResponse is returned when the model never produced a reply.
var ErrNoResponse = errors.New("no response from LLM")

// Config configures an Agent.
type Config struct {
	Name              string
	Model             string
	MaxTokens         int
	Temperature       *float64
	MaxToolIterations int
	// MaxHistory bounds remembered messages. Whole exchanges are dropped
	// oldest first; the newest exchange is always kept.
	MaxHistory int
	// Instructions opens the system prompt in place of KokoInstructions.
	Instructions string
	// ToolObserver, when set, is called after every tool execution.
	ToolObserver func(tool string, d time.Duration, err error)
}

// Agent is an Engine backed by an LLM client and a tool registry. Invoke
// calls are serialized so one conversation's memory is never interleaved.
type Agent struct {
	cfg    Config
	client llm.Client
	tools  *ToolRegistry
	system string
	log    *logging.Logger

	mu sync.Mutex
	// exchanges holds one entry per successful Invoke: the prompt, every
	// tool round, and the final reply.
	exchanges [][]llm.Message
}

// NewAgent creates an agent. The system prompt is built once from the tools
// registered at this point.
func NewAgent(cfg Config, client llm.Client, tools *ToolRegistry, log *logging.Logger) *Agent {
	if cfg.MaxToolIterations <= 0 {
		cfg.MaxToolIterations = defaultMaxToolIterations
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = defaultMaxHistory
	}
	if tools == nil {
		tools = NewToolRegistry()
	}
	return &Agent{
		cfg:    cfg,
		client: client,
		tools:  tools,
		system: BuildSystemPrompt(PromptConfig{
			AgentName:    cfg.Name,
			Tools:        tools.Definitions(),
			Instructions: cfg.Instructions,
		}),
		log: log.Sub("agent"),
	}
}

// Invoke sends prompt to the model, runs any requested tools, and returns
// the final reply with tool markup stripped. Memory is only updated when
// the whole exchange succeeds.
func (a *Agent) Invoke(ctx context.Context, prompt string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := time.Now()
	past := a.flatten()
	convo := append(make([]llm.Message, 0, len(past)+2*a.cfg.MaxToolIterations+2), past...)
	convo = append(convo, llm.Message{Role: llm.RoleUser, Content: prompt})

	var final *llm.CompletionResponse
	for i := 0; i < a.cfg.MaxToolIterations; i++ {
		resp, err := a.client.Complete(ctx, llm.CompletionRequest{
			Model:       a.cfg.Model,
			System:      a.system,
			Messages:    convo,
			MaxTokens:   a.cfg.MaxTokens,
			Temperature: a.cfg.Temperature,
		})
		if err != nil {
			return "", fmt.Errorf("LLM completion: %w", err)
		}
		final = resp

		calls := parseToolCalls(resp.Content)
		if len(calls) == 0 {
			break
		}

		a.log.Info().Int("toolCalls", len(calls)).Int("iteration", i+1).Msg("executing tool calls")
		convo = append(convo, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})

		results, err := a.executeToolCalls(ctx, calls)
		if err != nil {
			return "", err
		}
		convo = append(convo, llm.Message{Role: llm.RoleUser, Content: formatToolResults(results)})
	}

	if final == nil {
		return "", ErrNoResponse
	}

	reply := stripToolCalls(final.Content, a.log)
	exchange := slices.Clone(convo[len(past):])
	a.remember(append(exchange, llm.Message{Role: llm.RoleAssistant, Content: reply}))

	a.log.Info().
		Str("model", final.Model).
		Int("inputTokens", final.Usage.InputTokens).
		Int("outputTokens", final.Usage.OutputTokens).
		Dur("duration", time.Since(start)).
		Msg("response generated")

	return reply, nil
}

// History returns a copy of the remembered conversation, tool rounds
// included.
func (a *Agent) History() []llm.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flatten()
}

func (a *Agent) flatten() []llm.Message {
	var out []llm.Message
	for _, ex := range a.exchanges {
		out = append(out, ex...)
	}
	return out
}

// remember stores an exchange, then drops the oldest exchanges until the
// total fits MaxHistory.
func (a *Agent) remember(exchange []llm.Message) {
	a.exchanges = append(a.exchanges, exchange)
	total := 0
	for _, ex := range a.exchanges {
		total += len(ex)
	}
	for len(a.exchanges) > 1 && total > a.cfg.MaxHistory {
		total -= len(a.exchanges[0])
		a.exchanges[0] = nil
		a.exchanges = a.exchanges[1:]
	}
}

// toolCall is a parsed tool invocation from the LLM response.
type toolCall struct {
	Tool  string          `json:"tool"`
	Input json.RawMessage `json:"input"`
}

// toolResult holds the output from executing a tool.
type toolResult struct {
	Tool   string
	Output string
	Err    error
}

// executeToolCalls runs all calls concurrently. Results keep call order.
// Tool failures are reported to the model, not returned; only context
// cancellation aborts the turn.
func (a *Agent) executeToolCalls(ctx context.Context, calls []toolCall) ([]toolResult, error) {
	results := make([]toolResult, len(calls))

	var g errgroup.Group
	g.SetLimit(maxParallelTools)
	for i, tc := range calls {
		g.Go(func() error {
			results[i] = a.runTool(ctx, tc)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (a *Agent) runTool(ctx context.Context, tc toolCall) (res toolResult) {
	res.Tool = tc.Tool
	tool, ok := a.tools.Get(tc.Tool)
	if !ok {
		res.Err = fmt.Errorf("unknown tool: %s", tc.Tool)
		return res
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("tool %s panicked: %v", tc.Tool, r)
		}
		if a.cfg.ToolObserver != nil {
			a.cfg.ToolObserver(tc.Tool, time.Since(start), res.Err)
		}
		if res.Err != nil {
			a.log.Warn().Str("tool", tc.Tool).Err(res.Err).Msg("tool failed")
		}
	}()

	a.log.Debug().Str("tool", tc.Tool).Msg("executing tool")
	input := string(tc.Input)
	if input == "" || input == "null" {
		input = "{}"
	}
	res.Output, res.Err = tool.Execute(ctx, input)
	return res
}

// toolCallRe matches ```tool_call\n{...}\n``` blocks in LLM output.
var toolCallRe = regexp.MustCompile("(?s)```tool_call\\s*\n(\\{.*?\\})\n\\s*```")

// xmlFuncCallRe matches <function_calls>...</function_calls> XML blocks in LLM output.
var xmlFuncCallRe = regexp.MustCompile(`(?s)<function_calls>.*?</function_calls>`)

// xmlBlockLevelRe matches self-contained XML blocks that models emit for tool use.
var xmlBlockLevelRe = regexp.MustCompile(`(?s)(?:` +
	`<invoke\b[^>]*>.*?</invoke>` +
	`|<tool_call\b[^>]*>.*?</tool_call>` +
	`|<tool_use\b[^>]*>.*?</tool_use>` +
	`)`)

// xmlInlineTagRe matches parameter tags that can appear inline within text.
var xmlInlineTagRe = regexp.MustCompile(`(?s)<parameter\b[^>]*>.*?</parameter>`)

// codeFenceRe matches fenced code block opening/closing markers on their own line.
var codeFenceRe = regexp.MustCompile(`(?m)^\s*` + "```" + `\w*\s*$`)

var whitespaceLineRe = regexp.MustCompile(`(?m)^[ \t]+$`)

var blankLineCollapseRe = regexp.MustCompile(`\n{3,}`)

// parseToolCalls extracts tool_call blocks from LLM response text.
func parseToolCalls(text string) []toolCall {
	matches := toolCallRe.FindAllStringSubmatch(text, -1)
	var calls []toolCall
	for _, match := range matches {
		if len(match) < 2 {
			continue
		}
		var tc toolCall
		if err := json.Unmarshal([]byte(match[1]), &tc); err != nil {
			continue
		}
		if tc.Tool != "" {
			calls = append(calls, tc)
		}
	}
	return calls
}

// formatToolResults renders tool execution results for the LLM.
func formatToolResults(results []toolResult) string {
	var b strings.Builder
	b.WriteString("Tool execution results:\n\n")
	for _, r := range results {
		fmt.Fprintf(&b, "### %s\n", r.Tool)
		if r.Err != nil {
			fmt.Fprintf(&b, "Error: %s\n", r.Err)
		} else {
			b.WriteString(r.Output)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// stripToolCalls removes tool_call blocks and XML tool markup from the
// reply, leaving surrounding text. Block-level markup becomes a paragraph
// break and inline tags a space.
func stripToolCalls(text string, log *logging.Logger) string {
	cleaned := toolCallRe.ReplaceAllString(text, "\n\n")

	if log != nil {
		for _, m := range xmlFuncCallRe.FindAllString(cleaned, -1) {
			log.Info().Str("xml", m).Msg("stripped XML function_calls from LLM response")
		}
	}
	cleaned = xmlFuncCallRe.ReplaceAllString(cleaned, "\n\n")
	cleaned = xmlBlockLevelRe.ReplaceAllString(cleaned, "\n\n")
	cleaned = xmlInlineTagRe.ReplaceAllString(cleaned, " ")

	// Chat channels don't render markdown, so fence markers go but their
	// content stays.
	cleaned = codeFenceRe.ReplaceAllString(cleaned, "")

	cleaned = whitespaceLineRe.ReplaceAllString(cleaned, "")
	cleaned = blankLineCollapseRe.ReplaceAllString(cleaned, "\n\n")

	return strings.TrimSpace(cleaned)
}
