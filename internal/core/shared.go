package core

import (
	"context"
	"encoding/json"
	"time"
)

// This file holds the request-assembly helpers shared by every adapter
// per spec.md §4.4(ii)-(iii): merging tool-result-only messages, pairing
// tool_use/tool_result, and the common application system prompt.

// CommonSystemPrompt is the application-wide system prompt concatenated
// with each provider's dialect-specific preamble (spec.md §4.4-iii).
const CommonSystemPrompt = `You are Henri, a terminal coding assistant. You help the user accomplish
software engineering tasks by reading and editing files, running shell
commands, searching the codebase, and fetching external resources through
the tools made available to you. Think step by step, make minimal safe
changes, and report what you did.`

// AnthropicIdentityPreamble is prepended ahead of CommonSystemPrompt only
// when the Anthropic adapter is running under OAuth credentials, per
// spec.md §4.4-iii: "Anthropic OAuth mode MUST begin with an identity line
// declaring Claude Code".
const AnthropicIdentityPreamble = "You are Claude Code, Anthropic's official CLI for Claude."

// claudeCodeToolNames is the canonical-name ↔ Claude-Code-PascalCase
// bijection from spec.md §6, consulted by the Anthropic adapter on egress
// and ingress (property P7: the mapping is a bijection on the declared
// set).
var claudeCodeToolNames = map[string]string{
	"file_read":  "Read",
	"file_write": "Write",
	"file_edit":  "Edit",
	"file_delete": "FileDelete",
	"bash":       "Bash",
	"grep":       "Grep",
	"glob":       "Glob",
	"list_dir":   "LS",
	"fetch":      "Fetch",
	"todo_read":  "TodoRead",
	"todo_write": "TodoWrite",
}

var claudeCodeToolNamesReverse = reverseMap(claudeCodeToolNames)

func reverseMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}

// ToClaudeCodeName maps a canonical tool name to its Claude-Code dialect
// name; unmapped names pass through unchanged (MCP-discovered tools, for
// instance, are not part of the declared bijection set).
func ToClaudeCodeName(canonical string) string {
	if mapped, ok := claudeCodeToolNames[canonical]; ok {
		return mapped
	}
	return canonical
}

// FromClaudeCodeName reverses ToClaudeCodeName.
func FromClaudeCodeName(dialect string) string {
	if mapped, ok := claudeCodeToolNamesReverse[dialect]; ok {
		return mapped
	}
	return dialect
}

// mergedTurn is one provider-dialect turn after tool-result-only messages
// have been folded into the assistant message that issued the calls, per
// spec.md §4.1 is_tool_result_only / §4.4-ii.
type mergedTurn struct {
	Assistant   *Message // nil if this turn has no assistant message yet (leading user turn)
	ToolResults []ContentBlock
}

// MergeToolResults walks a canonical message list and folds every
// tool-result-only user message into the immediately preceding assistant
// message's turn, returning one mergedTurn per remaining message boundary.
// This implements spec.md §4.4-ii's "merge consecutive tool-result-only
// messages into one block" requirement shared by the Anthropic and OpenAI
// Chat dialects.
func MergeToolResults(messages []Message) []mergedTurn {
	var turns []mergedTurn
	for _, m := range messages {
		if IsToolResultOnly(m) && len(turns) > 0 && turns[len(turns)-1].Assistant != nil {
			turns[len(turns)-1].ToolResults = append(turns[len(turns)-1].ToolResults, m.Content...)
			continue
		}
		mt := mergedTurn{}
		if m.Role == RoleAssistant {
			cp := m
			mt.Assistant = &cp
		}
		turns = append(turns, mt)
	}
	return turns
}

// EncodeInput marshals a tool-use input block's JSON value for wire
// transmission; used by adapters building provider-specific tool_use
// structures from a canonical ContentBlock.
func EncodeInput(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}

// progressTickBytes is how many output bytes accumulate between Progress
// events, keeping the event rate independent of a provider's own SSE chunk
// granularity (spec.md §4.6 requires a steady Progress cadence, not one
// event per delta).
const progressTickBytes = 64

// progressTracker emits EventProgress per spec.md §4.6 (tokens, elapsed_s,
// tokens_per_s) while an adapter streams text. Token counts are estimated
// from streamed byte counts (4 bytes/token, the same rough ratio
// internal/llm/engine.go's token estimator uses) since only the final
// message_delta/usage carries an exact count; the estimate is good enough
// for a live rate display and is never used for billing.
type progressTracker struct {
	start        time.Time
	bytesSince   int
	totalTokens  int
}

func newProgressTracker() *progressTracker {
	return &progressTracker{start: time.Now()}
}

// Add folds newly streamed text into the tracker, emitting an EventProgress
// once enough bytes have accumulated since the last one.
func (p *progressTracker) Add(ctx context.Context, bus *Bus, text string) {
	if text == "" {
		return
	}
	p.bytesSince += len(text)
	p.totalTokens += estimateTokens(len(text))
	if p.bytesSince < progressTickBytes {
		return
	}
	p.bytesSince = 0
	elapsed := time.Since(p.start).Seconds()
	rate := 0.0
	if elapsed > 0 {
		rate = float64(p.totalTokens) / elapsed
	}
	bus.EmitCtx(ctx, Event{
		Kind:             EventProgress,
		ProgressTokens:   p.totalTokens,
		ProgressElapsedS: elapsed,
		ProgressRate:     rate,
	})
}

func estimateTokens(bytes int) int {
	tokens := bytes / 4
	if tokens == 0 && bytes > 0 {
		tokens = 1
	}
	return tokens
}

// ToolCallAccumulator accumulates streamed tool-call JSON fragments keyed
// by (index) into a pending map, per spec.md §4.4-vi. On Finish the
// accumulated string is parsed as JSON, falling back to {} on parse
// failure.
type ToolCallAccumulator struct {
	pending map[int]*pendingCall
	order   []int
}

type pendingCall struct {
	id, name string
	args     []byte
	thoughtSig string
}

func NewToolCallAccumulator() *ToolCallAccumulator {
	return &ToolCallAccumulator{pending: make(map[int]*pendingCall)}
}

// Start opens a new pending tool call at index with its id/name, optionally
// pre-supplied arguments (the "fallback to supplied arguments" path some
// dialects use when the whole call arrives in one event rather than
// streamed deltas).
func (a *ToolCallAccumulator) Start(index int, id, name string, presupplied []byte) {
	if _, ok := a.pending[index]; !ok {
		a.order = append(a.order, index)
	}
	pc := &pendingCall{id: id, name: name}
	if len(presupplied) > 0 {
		pc.args = append(pc.args, presupplied...)
	}
	a.pending[index] = pc
}

// Delta appends a partial-JSON fragment to the call at index.
func (a *ToolCallAccumulator) Delta(index int, fragment string) {
	if pc, ok := a.pending[index]; ok {
		pc.args = append(pc.args, fragment...)
	}
}

// SetThoughtSignature records a Gemini thoughtSignature for the call at index.
func (a *ToolCallAccumulator) SetThoughtSignature(index int, sig string) {
	if pc, ok := a.pending[index]; ok {
		pc.thoughtSig = sig
	}
}

// Finish returns every accumulated call, in start order, as canonical
// ToolCall values. Unparseable argument bytes become "{}" rather than
// failing the whole turn.
func (a *ToolCallAccumulator) Finish() []ToolCall {
	calls := make([]ToolCall, 0, len(a.order))
	for _, idx := range a.order {
		pc := a.pending[idx]
		args := pc.args
		if len(args) == 0 {
			args = []byte("{}")
		} else if !json.Valid(args) {
			args = []byte("{}")
		}
		calls = append(calls, ToolCall{ID: pc.id, Name: pc.name, Input: json.RawMessage(args), ThoughtSig: pc.thoughtSig})
	}
	return calls
}
