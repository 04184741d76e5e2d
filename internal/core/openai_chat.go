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

// ChatCompletionsAdapter implements the OpenAI Chat Completions dialect
// (spec.md §4.4-v "OpenAI Chat") and doubles as the base for every
// Chat-Completions-shaped variant named in spec.md §6: GitHub Copilot Chat
// (non-gpt-5 models), OpenRouter, and the generic OpenAI-compatible
// dialect. Dialect differences are expressed through the Dialect field
// rather than separate types, following the teacher's own
// internal/llm/openai_compat.go, which parameterizes one implementation
// over base URL + extra headers for Ollama/LM Studio/generic endpoints.
type ChatCompletionsAdapter struct {
	ProviderID string // "openai", "copilot", "openrouter", "openai-compat"
	ModelID    string
	BaseURL    string // e.g. https://api.openai.com/v1, https://api.githubcopilot.com, https://openrouter.ai/api/v1
	Tokens     TokenSource
	HTTP       *http.Client
	Usage      *ProviderUsage
	Net        *ByteCounter
	ExtraHeaders map[string]string // OpenRouter's HTTP-Referer/X-Title, Copilot's editor-identity headers
	TxLog      *TxLog // nil disables transaction logging (spec.md §4.10)
	SessionID  string
	thinking   ThinkingMode
}

func (a *ChatCompletionsAdapter) ID() string              { return a.ProviderID }
func (a *ChatCompletionsAdapter) Model() string           { return a.ModelID }
func (a *ChatCompletionsAdapter) ContextLimit() (int, bool) { return ContextLimit(a.ProviderID, a.ModelID) }
func (a *ChatCompletionsAdapter) SetThinkingMode(m ThinkingMode) { a.thinking = m }

type chatMsg struct {
	Role       string          `json:"role"`
	Content    string          `json:"content,omitempty"`
	ToolCalls  []chatToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Name       string          `json:"name,omitempty"`
}

type chatToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatRequestBody struct {
	Model             string            `json:"model"`
	Messages          []chatMsg         `json:"messages"`
	Tools             []map[string]any  `json:"tools,omitempty"`
	Stream            bool              `json:"stream"`
	ReasoningEffort   string            `json:"reasoning_effort,omitempty"`
	Reasoning         map[string]any    `json:"reasoning,omitempty"` // Copilot's GPT-5 `reasoning.effort`
	Temperature       float32           `json:"temperature,omitempty"`
	MaxTokens         int               `json:"max_tokens,omitempty"`
}

func (a *ChatCompletionsAdapter) build(req ChatRequest) chatRequestBody {
	systemText, userParts := flattenForChat(req)
	_ = userParts

	body := chatRequestBody{
		Model:       a.ModelID,
		Stream:      true,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	body.Messages = append(body.Messages, chatMsg{Role: "system", Content: systemText})
	body.Messages = append(body.Messages, a.buildHistory(req.Messages)...)

	for _, t := range req.Tools {
		body.Tools = append(body.Tools, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Schema,
			},
		})
	}

	thinking := req.Thinking
	if thinking == ThinkingOff {
		thinking = a.thinking
	}
	if effort, ok := thinking.ReasoningEffort(); ok {
		if a.ProviderID == "copilot" && isGPT5Family(a.ModelID) {
			body.Reasoning = map[string]any{"effort": effort}
		} else {
			body.ReasoningEffort = effort
		}
	}
	return body
}

func flattenForChat(req ChatRequest) (system, user string) {
	system = CommonSystemPrompt
	if req.SystemExtra != "" {
		system += "\n\n" + req.SystemExtra
	}
	return system, ""
}

// buildHistory renders canonical messages into the Chat Completions
// message array, merging tool-result-only messages into "tool" role
// entries addressed by tool_call_id, per spec.md §4.4-ii.
func (a *ChatCompletionsAdapter) buildHistory(messages []Message) []chatMsg {
	var out []chatMsg
	for _, m := range messages {
		switch {
		case m.Role == RoleAssistant:
			cm := chatMsg{Role: "assistant"}
			var text strings.Builder
			for _, b := range m.Content {
				switch b.Kind {
				case BlockText:
					text.WriteString(b.Text)
				case BlockToolUse:
					cm.ToolCalls = append(cm.ToolCalls, chatToolCall{
						ID:   b.ToolUseID,
						Type: "function",
						Function: struct {
							Name      string `json:"name"`
							Arguments string `json:"arguments"`
						}{Name: b.ToolUseName, Arguments: string(b.ToolUseInput)},
					})
				}
			}
			cm.Content = text.String()
			out = append(out, cm)
		case IsToolResultOnly(m):
			for _, b := range m.Content {
				out = append(out, chatMsg{Role: "tool", ToolCallID: b.ToolResultID, Content: b.ToolResultText})
			}
		default:
			var text strings.Builder
			for _, b := range m.Content {
				if b.Kind == BlockText {
					text.WriteString(b.Text)
				}
			}
			out = append(out, chatMsg{Role: string(m.Role), Content: text.String()})
		}
	}
	return out
}

func (a *ChatCompletionsAdapter) PrepareRequest(req ChatRequest) (json.RawMessage, error) {
	return json.Marshal(a.build(req))
}

func (a *ChatCompletionsAdapter) Chat(ctx context.Context, req ChatRequest, bus *Bus) (ChatResponse, error) {
	body, err := json.Marshal(a.build(req))
	if err != nil {
		return ChatResponse{}, err
	}

	r, status, reqHeaders, respHeaders, url, err := a.send(ctx, body)
	if err != nil {
		return ChatResponse{}, err
	}
	if status == http.StatusUnauthorized {
		if _, rerr := a.Tokens.ForceRefresh(ctx); rerr == nil {
			r, status, reqHeaders, respHeaders, url, err = a.send(ctx, body)
			if err != nil {
				return ChatResponse{}, err
			}
		}
	}
	if status < 200 || status >= 300 {
		defer r.Close()
		raw, _ := io.ReadAll(r)
		a.recordTx(url, reqHeaders, body, respHeaders, []byte(fmt.Sprintf("%q", raw)))
		return ChatResponse{}, &AdapterError{Class: ClassifyHTTP(status, string(raw)), Status: status, Body: string(raw)}
	}
	defer r.Close()

	out, cerr := a.consume(ctx, r, bus)
	if respBody, merr := json.Marshal(out); merr == nil {
		a.recordTx(url, reqHeaders, body, respHeaders, respBody)
	}
	return out, cerr
}

// recordTx appends one C11 transaction log entry, a no-op when TxLog is nil
// or disabled (spec.md §4.4(ix), §4.10).
func (a *ChatCompletionsAdapter) recordTx(url string, reqHeaders http.Header, reqBody []byte, respHeaders http.Header, respBody []byte) {
	if a.TxLog == nil {
		return
	}
	respHdr, _ := json.Marshal(respHeaders)
	_ = a.TxLog.RecordRequest(a.SessionID, a.ID(), url, reqHeaders, reqBody, respHdr, respBody)
}

func (a *ChatCompletionsAdapter) send(ctx context.Context, body []byte) (io.ReadCloser, int, http.Header, http.Header, string, error) {
	token, err := a.Tokens.AccessToken(ctx)
	if err != nil {
		return nil, 0, nil, nil, "", &AdapterError{Class: ClassAuth, Wrapped: err}
	}
	url := a.BaseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, nil, nil, "", err
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("authorization", "Bearer "+token)
	for k, v := range a.ExtraHeaders {
		httpReq.Header.Set(k, v)
	}
	if a.Net != nil {
		a.Net.AddTx(len(body))
	}
	resp, err := a.httpClient().Do(httpReq)
	if err != nil {
		return nil, 0, nil, nil, "", &AdapterError{Class: ClassHTTP, Wrapped: err}
	}
	return resp.Body, resp.StatusCode, httpReq.Header, resp.Header, url, nil
}

func (a *ChatCompletionsAdapter) httpClient() *http.Client {
	if a.HTTP != nil {
		return a.HTTP
	}
	return http.DefaultClient
}

// consume drives the shared adapter state machine over a Chat Completions
// SSE stream: choices[].delta.{content, reasoning_content, tool_calls[].
// function.{name, arguments}}; finish_reason on the terminal delta
// (spec.md §4.4-v). Reasoning delta may arrive under either `reasoning` or
// `reasoning_content` — both are accepted, per spec.md §4.4-v's generic
// dialect note, applied uniformly here since Copilot/OpenRouter/compat
// endpoints are all Chat-Completions-shaped.
func (a *ChatCompletionsAdapter) consume(ctx context.Context, r io.ReadCloser, bus *Bus) (ChatResponse, error) {
	var textBuilder strings.Builder
	var thinkingBuilder strings.Builder
	accum := NewToolCallAccumulator()
	started := map[int]bool{}
	var usage UsageDelta
	stopReason := StopUnknown
	sawAny := false
	progress := newProgressTracker()

	for ev, err := range FrameSSE(r, a.Net) {
		if err != nil {
			return ChatResponse{}, &AdapterError{Class: ClassRetryable, Wrapped: err}
		}
		sawAny = true

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content          string `json:"content"`
					ReasoningContent string `json:"reasoning_content"`
					Reasoning        string `json:"reasoning"`
					ToolCalls        []struct {
						Index    int    `json:"index"`
						ID       string `json:"id"`
						Function struct {
							Name      string `json:"name"`
							Arguments string `json:"arguments"`
						} `json:"function"`
					} `json:"tool_calls"`
				} `json:"delta"`
				FinishReason string `json:"finish_reason"`
			} `json:"choices"`
			Usage struct {
				PromptTokens     int `json:"prompt_tokens"`
				CompletionTokens int `json:"completion_tokens"`
			} `json:"usage"`
		}
		if jerr := json.Unmarshal([]byte(ev.Data), &chunk); jerr != nil {
			continue
		}

		if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
			usage.InputTokens = chunk.Usage.PromptTokens
			usage.OutputTokens = chunk.Usage.CompletionTokens
		}

		for _, c := range chunk.Choices {
			if c.Delta.Content != "" {
				textBuilder.WriteString(c.Delta.Content)
				bus.EmitCtx(ctx, Event{Kind: EventTextDelta, Text: c.Delta.Content})
				progress.Add(ctx, bus, c.Delta.Content)
			}
			reasoning := c.Delta.ReasoningContent
			if reasoning == "" {
				reasoning = c.Delta.Reasoning
			}
			if reasoning != "" {
				thinkingBuilder.WriteString(reasoning)
				bus.EmitCtx(ctx, Event{Kind: EventThinking, Text: reasoning})
				progress.Add(ctx, bus, reasoning)
			}
			for _, tc := range c.Delta.ToolCalls {
				if !started[tc.Index] {
					accum.Start(tc.Index, tc.ID, tc.Function.Name, nil)
					started[tc.Index] = true
				}
				if tc.Function.Arguments != "" {
					accum.Delta(tc.Index, tc.Function.Arguments)
				}
			}
			if c.FinishReason != "" {
				stopReason = mapChatFinishReason(c.FinishReason)
			}
		}
	}
	if !sawAny {
		return ChatResponse{}, &AdapterError{Class: ClassHTTP, Body: "empty stream"}
	}

	var blocks []ContentBlock
	if thinkingBuilder.Len() > 0 {
		blocks = append(blocks, Thinking(thinkingBuilder.String(), ""))
		bus.EmitCtx(ctx, Event{Kind: EventThinkingEnd})
	}
	if textBuilder.Len() > 0 {
		blocks = append(blocks, Text(textBuilder.String()))
		bus.EmitCtx(ctx, Event{Kind: EventTextEnd})
	}
	calls := accum.Finish()
	for _, c := range calls {
		blocks = append(blocks, ToolUse(c.ID, c.Name, c.Input, ""))
	}
	if stopReason == StopUnknown {
		if len(calls) > 0 {
			stopReason = StopToolUse
		} else {
			stopReason = StopEndTurn
		}
	}

	if a.Usage != nil {
		a.Usage.Record(usage)
	}
	bus.EmitCtx(ctx, Event{Kind: EventUsageUpdate, UsageDelta: usage})

	return ChatResponse{ContentBlocks: blocks, ToolCalls: calls, StopReason: stopReason, Usage: usage}, nil
}

func mapChatFinishReason(fr string) StopReason {
	switch fr {
	case "stop":
		return StopEndTurn
	case "tool_calls", "function_call":
		return StopToolUse
	case "length":
		return StopMaxTokens
	default:
		return StopUnknown
	}
}
