package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// AnthropicAdapter implements the Anthropic Messages API dialect (spec.md
// §4.4, §6). Grounded on internal/llm/anthropic.go's streaming state
// machine and OAuth credential handling, generalized onto the Adapter
// interface and this package's canonical types.
type AnthropicAdapter struct {
	ModelID   string
	Tokens    TokenSource
	OAuth     bool // true when running under Claude-Code OAuth identity disguise
	HTTP      *http.Client
	Usage     *ProviderUsage
	Net       *ByteCounter
	BaseURL   string // defaults to https://api.anthropic.com
	TxLog     *TxLog // nil disables transaction logging (spec.md §4.10)
	SessionID string
	thinking  ThinkingMode
}

const anthropicDefaultBaseURL = "https://api.anthropic.com"

func NewAnthropicAdapter(model string, tokens TokenSource, oauth bool, usage *ProviderUsage, net *ByteCounter) *AnthropicAdapter {
	return &AnthropicAdapter{
		ModelID: model,
		Tokens:  tokens,
		OAuth:   oauth,
		HTTP:    &http.Client{},
		Usage:   usage,
		Net:     net,
		BaseURL: anthropicDefaultBaseURL,
	}
}

func (a *AnthropicAdapter) ID() string                     { return "anthropic" }
func (a *AnthropicAdapter) Model() string                  { return a.ModelID }
func (a *AnthropicAdapter) ContextLimit() (int, bool)       { return ContextLimit("anthropic", a.ModelID) }
func (a *AnthropicAdapter) SetThinkingMode(m ThinkingMode)  { a.thinking = m }

type anthropicSystemBlock struct {
	Type         string         `json:"type"`
	Text         string         `json:"text"`
	CacheControl map[string]any `json:"cache_control,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []map[string]any `json:"content"`
}

type anthropicRequest struct {
	Model     string                 `json:"model"`
	System    []anthropicSystemBlock `json:"system,omitempty"`
	Messages  []anthropicMessage     `json:"messages"`
	Tools     []map[string]any       `json:"tools,omitempty"`
	MaxTokens int                    `json:"max_tokens"`
	Stream    bool                   `json:"stream"`
	Thinking  map[string]any         `json:"thinking,omitempty"`
	ToolChoice map[string]any        `json:"tool_choice,omitempty"`
}

// buildSystem implements spec.md §4.4-iii: the common app prompt, with the
// Claude-Code identity line prepended under OAuth, cache hints on the
// second-to-last system block.
func (a *AnthropicAdapter) buildSystem(extra string) []anthropicSystemBlock {
	var blocks []anthropicSystemBlock
	if a.OAuth {
		blocks = append(blocks, anthropicSystemBlock{Type: "text", Text: AnthropicIdentityPreamble})
	}
	prompt := CommonSystemPrompt
	if extra != "" {
		prompt += "\n\n" + extra
	}
	blocks = append(blocks, anthropicSystemBlock{Type: "text", Text: prompt})
	if len(blocks) >= 1 {
		idx := len(blocks) - 1
		if len(blocks) >= 2 {
			idx = len(blocks) - 2
		}
		blocks[idx].CacheControl = map[string]any{"type": "ephemeral"}
	}
	return blocks
}

// buildMessages renders the canonical history into Anthropic's message
// list. MergeToolResults already folds tool-result-only messages into the
// assistant turn that issued the calls (spec.md §4.4-ii); plain user/system
// messages pass through unchanged, carrying their own blocks.
func (a *AnthropicAdapter) buildMessages(messages []Message) []anthropicMessage {
	merged := MergeToolResults(messages)
	out := make([]anthropicMessage, 0, len(merged)+len(messages))
	plain := plainMessages(messages)
	pi := 0
	for _, t := range merged {
		if t.Assistant != nil {
			out = append(out, anthropicMessage{Role: "assistant", Content: blocksToAnthropic(t.Assistant.Content)})
			if len(t.ToolResults) > 0 {
				out = append(out, anthropicMessage{Role: "user", Content: blocksToAnthropic(t.ToolResults)})
			}
			continue
		}
		if pi < len(plain) {
			out = append(out, anthropicMessage{Role: string(plain[pi].Role), Content: blocksToAnthropic(plain[pi].Content)})
			pi++
		}
	}
	return out
}

// plainMessages returns every message that is neither an assistant turn
// nor a tool-result-only message (those are carried inside mergedTurn
// instead), in original order.
func plainMessages(messages []Message) []Message {
	var out []Message
	for _, m := range messages {
		if m.Role == RoleAssistant || IsToolResultOnly(m) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// blocksToAnthropic renders canonical blocks into Anthropic's content-block
// wire shape, applying the tool-name mapping (egress direction) and
// stripping fields that belong to other dialects (thought signatures,
// OpenAI encrypted reasoning).
func blocksToAnthropic(blocks []ContentBlock) []map[string]any {
	out := make([]map[string]any, 0, len(blocks))
	for _, b := range blocks {
		switch b.Kind {
		case BlockText:
			out = append(out, map[string]any{"type": "text", "text": b.Text})
		case BlockThinking:
			m := map[string]any{"type": "thinking", "thinking": b.Thinking}
			if b.ProviderData != "" {
				m["signature"] = b.ProviderData
			}
			out = append(out, m)
		case BlockToolUse:
			var input any
			if len(b.ToolUseInput) > 0 {
				_ = json.Unmarshal(b.ToolUseInput, &input)
			}
			out = append(out, map[string]any{
				"type":  "tool_use",
				"id":    b.ToolUseID,
				"name":  ToClaudeCodeName(b.ToolUseName),
				"input": input,
			})
		case BlockToolResult:
			content := b.ToolResultText
			out = append(out, map[string]any{
				"type":        "tool_result",
				"tool_use_id": b.ToolResultID,
				"content":     content,
				"is_error":    b.ToolResultError,
			})
		case BlockImage:
			out = append(out, map[string]any{
				"type":   "image",
				"source": map[string]any{"type": "base64", "media_type": b.StandaloneImageMime, "data": b.StandaloneImageData},
			})
		}
	}
	return out
}

func anthropicToolsFor(specs []ToolSpec) []map[string]any {
	out := make([]map[string]any, 0, len(specs))
	for _, s := range specs {
		out = append(out, map[string]any{
			"name":         ToClaudeCodeName(s.Name),
			"description":  s.Description,
			"input_schema": s.Schema,
		})
	}
	return out
}

func (a *AnthropicAdapter) build(req ChatRequest) anthropicRequest {
	ar := anthropicRequest{
		Model:     a.ModelID,
		System:    a.buildSystem(req.SystemExtra),
		Messages:  a.buildMessages(req.Messages),
		Tools:     anthropicToolsFor(req.Tools),
		MaxTokens: req.MaxTokens,
		Stream:    true,
	}
	if ar.MaxTokens == 0 {
		ar.MaxTokens = 8192
	}
	thinking := req.Thinking
	if thinking == ThinkingOff {
		thinking = a.thinking
	}
	if budget, ok := thinking.AnthropicBudgetTokens(); ok {
		ar.Thinking = map[string]any{"type": "enabled", "budget_tokens": budget}
	}
	switch req.ToolChoice {
	case ToolChoiceNone:
		ar.ToolChoice = map[string]any{"type": "none"}
	case ToolChoiceRequired:
		ar.ToolChoice = map[string]any{"type": "any"}
	}
	return ar
}

func (a *AnthropicAdapter) PrepareRequest(req ChatRequest) (json.RawMessage, error) {
	return json.Marshal(a.build(req))
}

// Chat implements the full C5 adapter contract for Anthropic: token
// acquisition, request assembly, SSE streaming through C4, tool-call
// accumulation, usage recording, and failure classification.
func (a *AnthropicAdapter) Chat(ctx context.Context, req ChatRequest, bus *Bus) (ChatResponse, error) {
	body, err := json.Marshal(a.build(req))
	if err != nil {
		return ChatResponse{}, err
	}

	resp, status, reqHeaders, respHeaders, url, err := a.send(ctx, body, false)
	if err != nil {
		return ChatResponse{}, err
	}
	if status == http.StatusUnauthorized {
		if _, rerr := a.Tokens.ForceRefresh(ctx); rerr == nil {
			resp, status, reqHeaders, respHeaders, url, err = a.send(ctx, body, true)
			if err != nil {
				return ChatResponse{}, err
			}
		}
	}
	if status < 200 || status >= 300 {
		defer resp.Close()
		raw, _ := io.ReadAll(resp)
		a.recordTx(ctx, url, reqHeaders, body, respHeaders, []byte(fmt.Sprintf("%q", raw)))
		return ChatResponse{}, &AdapterError{Class: ClassifyHTTP(status, string(raw)), Status: status, Body: string(raw)}
	}
	defer resp.Close()

	out, cerr := a.consume(ctx, resp, bus)
	if respBody, merr := json.Marshal(out); merr == nil {
		a.recordTx(ctx, url, reqHeaders, body, respHeaders, respBody)
	}
	return out, cerr
}

// recordTx appends one C11 transaction log entry for this request/response
// pair, a no-op when TxLog is nil or disabled (spec.md §4.4(ix), §4.10).
func (a *AnthropicAdapter) recordTx(ctx context.Context, url string, reqHeaders http.Header, reqBody []byte, respHeaders http.Header, respBody []byte) {
	if a.TxLog == nil {
		return
	}
	respHdr, _ := json.Marshal(respHeaders)
	_ = a.TxLog.RecordRequest(a.SessionID, a.ID(), url, reqHeaders, reqBody, respHdr, respBody)
}

func (a *AnthropicAdapter) send(ctx context.Context, body []byte, forceRefresh bool) (io.ReadCloser, int, http.Header, http.Header, string, error) {
	token, err := a.Tokens.AccessToken(ctx)
	if err != nil {
		return nil, 0, nil, nil, "", &AdapterError{Class: ClassAuth, Wrapped: err}
	}
	if forceRefresh {
		token, err = a.Tokens.ForceRefresh(ctx)
		if err != nil {
			return nil, 0, nil, nil, "", &AdapterError{Class: ClassAuth, Wrapped: err}
		}
	}

	url := a.BaseURL + "/v1/messages?beta=true"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, nil, nil, "", err
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	httpReq.Header.Set("anthropic-beta", "claude-code-20250219,oauth-2025-04-20,fine-grained-tool-streaming-2025-05-14,interleaved-thinking-2025-05-14")
	httpReq.Header.Set("authorization", "Bearer "+token)
	if a.Net != nil {
		a.Net.AddTx(len(body))
	}

	resp, err := a.HTTP.Do(httpReq)
	if err != nil {
		return nil, 0, nil, nil, "", &AdapterError{Class: ClassHTTP, Wrapped: err}
	}
	return resp.Body, resp.StatusCode, httpReq.Header, resp.Header, url, nil
}

// anthropicStreamState is the per-adapter state machine skeleton from
// spec.md §4.4: Idle → AwaitingHeader → Streaming{open_block?} → Done|Failed.
type anthropicStreamState int

const (
	stateIdle anthropicStreamState = iota
	stateStreaming
	stateDone
)

func (a *AnthropicAdapter) consume(ctx context.Context, r io.ReadCloser, bus *Bus) (ChatResponse, error) {
	var blocks []ContentBlock
	var textBuilders = map[int]*strings.Builder{}
	var thinkingBuilders = map[int]*strings.Builder{}
	var thinkingSigs = map[int]string{}
	var blockKinds = map[int]string{}
	accum := NewToolCallAccumulator()
	var usage UsageDelta
	stopReason := StopUnknown
	state := stateIdle
	progress := newProgressTracker()

	for ev, err := range FrameSSE(r, a.Net) {
		if err != nil {
			return ChatResponse{}, &AdapterError{Class: ClassRetryable, Wrapped: err}
		}
		state = stateStreaming

		var payload map[string]any
		if jerr := json.Unmarshal([]byte(ev.Data), &payload); jerr != nil {
			continue
		}
		typ, _ := payload["type"].(string)

		switch typ {
		case "message_start":
			if msg, ok := payload["message"].(map[string]any); ok {
				if u, ok := msg["usage"].(map[string]any); ok {
					usage.InputTokens += intField(u, "input_tokens")
					usage.CacheReadTokens += intField(u, "cache_read_input_tokens")
					usage.CacheWriteTokens += intField(u, "cache_creation_input_tokens")
				}
			}
		case "content_block_start":
			idx := intField(payload, "index")
			if cb, ok := payload["content_block"].(map[string]any); ok {
				kind, _ := cb["type"].(string)
				blockKinds[idx] = kind
				switch kind {
				case "tool_use":
					id, _ := cb["id"].(string)
					name, _ := cb["name"].(string)
					accum.Start(idx, id, FromClaudeCodeName(name), nil)
				case "text":
					textBuilders[idx] = &strings.Builder{}
				case "thinking":
					thinkingBuilders[idx] = &strings.Builder{}
				}
			}
		case "content_block_delta":
			idx := intField(payload, "index")
			delta, _ := payload["delta"].(map[string]any)
			if delta == nil {
				continue
			}
			switch delta["type"] {
			case "text_delta":
				if b, ok := textBuilders[idx]; ok {
					t, _ := delta["text"].(string)
					b.WriteString(t)
					bus.EmitCtx(ctx, Event{Kind: EventTextDelta, Text: t})
					progress.Add(ctx, bus, t)
				}
			case "thinking_delta":
				if b, ok := thinkingBuilders[idx]; ok {
					t, _ := delta["thinking"].(string)
					b.WriteString(t)
					bus.EmitCtx(ctx, Event{Kind: EventThinking, Text: t})
					progress.Add(ctx, bus, t)
				}
			case "signature_delta":
				s, _ := delta["signature"].(string)
				thinkingSigs[idx] += s
			case "input_json_delta":
				frag, _ := delta["partial_json"].(string)
				accum.Delta(idx, frag)
			}
		case "content_block_stop":
			idx := intField(payload, "index")
			switch blockKinds[idx] {
			case "text":
				if b, ok := textBuilders[idx]; ok {
					blocks = append(blocks, Text(b.String()))
					bus.EmitCtx(ctx, Event{Kind: EventTextEnd})
				}
			case "thinking":
				if b, ok := thinkingBuilders[idx]; ok {
					blocks = append(blocks, Thinking(b.String(), thinkingSigs[idx]))
					bus.EmitCtx(ctx, Event{Kind: EventThinkingEnd})
				}
			}
		case "message_delta":
			if delta, ok := payload["delta"].(map[string]any); ok {
				if sr, ok := delta["stop_reason"].(string); ok {
					stopReason = mapAnthropicStopReason(sr)
				}
			}
			if u, ok := payload["usage"].(map[string]any); ok {
				usage.OutputTokens += intField(u, "output_tokens")
			}
		case "error":
			if e, ok := payload["error"].(map[string]any); ok {
				body, _ := json.Marshal(e)
				return ChatResponse{}, &AdapterError{Class: ClassifyHTTP(0, string(body)), Body: string(body)}
			}
		}
	}

	if state == stateIdle {
		return ChatResponse{}, &AdapterError{Class: ClassHTTP, Body: "empty stream"}
	}

	calls := accum.Finish()
	for _, c := range calls {
		blocks = append(blocks, ToolUse(c.ID, c.Name, c.Input, c.ThoughtSig))
	}
	if len(calls) > 0 && stopReason == StopUnknown {
		stopReason = StopToolUse
	} else if stopReason == StopUnknown {
		stopReason = StopEndTurn
	}

	if a.Usage != nil {
		a.Usage.Record(usage)
	}
	bus.EmitCtx(ctx, Event{Kind: EventUsageUpdate, UsageDelta: usage})
	if limit, ok := a.ContextLimit(); ok {
		bus.EmitCtx(ctx, Event{Kind: EventContextUpdate, ContextTotal: usage.InputTokens + usage.OutputTokens, ContextLimit: limit, ContextKnown: true})
	}

	return ChatResponse{ContentBlocks: blocks, ToolCalls: calls, StopReason: stopReason, Usage: usage}, nil
}

func mapAnthropicStopReason(sr string) StopReason {
	switch sr {
	case "end_turn", "stop_sequence":
		return StopEndTurn
	case "tool_use":
		return StopToolUse
	case "max_tokens":
		return StopMaxTokens
	default:
		return StopUnknown
	}
}

func intField(m map[string]any, key string) int {
	if v, ok := m[key]; ok {
		if f, ok := v.(float64); ok {
			return int(f)
		}
	}
	return 0
}
