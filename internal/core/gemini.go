package core

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// GeminiAdapter implements the Gemini/Antigravity generateContent streaming
// dialect (spec.md §4.4-v "Gemini"), grounded on the teacher's
// internal/llm/gemini.go's request/response field shapes. Unlike the
// teacher, this adapter talks to streamGenerateContent over raw HTTP rather
// than through google.golang.org/genai's client: the genai client owns its
// own HTTP transport and parses SSE internally, leaving no hook point for
// this package's shared ByteCounter (C9 network accounting) or TxLog NDJSON
// capture (C11) to see the exact wire bytes. Requesting alt=sse gets the
// same `data: {...}\n\n` framing every other dialect uses, so this adapter
// reuses FrameSSE (C4) unchanged instead of a second, SDK-specific parser.
type GeminiAdapter struct {
	ProviderID string // "gemini" or "antigravity"
	ModelID    string
	BaseURL    string
	APIKey     string // static key path
	Tokens     TokenSource // OAuth path (Antigravity), nil if APIKey is used
	HTTP       *http.Client
	Usage      *ProviderUsage
	Net        *ByteCounter
	TxLog      *TxLog // nil disables transaction logging (spec.md §4.10)
	SessionID  string
	thinking   ThinkingMode
}

func (a *GeminiAdapter) ID() string              { return a.ProviderID }
func (a *GeminiAdapter) Model() string           { return a.ModelID }
func (a *GeminiAdapter) ContextLimit() (int, bool) { return ContextLimit(a.ProviderID, a.ModelID) }
func (a *GeminiAdapter) SetThinkingMode(m ThinkingMode) { a.thinking = m }

type geminiPart struct {
	Text             string          `json:"text,omitempty"`
	FunctionCall     *geminiFnCall   `json:"functionCall,omitempty"`
	FunctionResponse *geminiFnResp   `json:"functionResponse,omitempty"`
	Thought          bool            `json:"thought,omitempty"`
	ThoughtSignature string          `json:"thoughtSignature,omitempty"`
	InlineData       *geminiBlob     `json:"inlineData,omitempty"`
}

type geminiFnCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type geminiFnResp struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiBlob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequestBody struct {
	SystemInstruction *geminiContent           `json:"systemInstruction,omitempty"`
	Contents          []geminiContent          `json:"contents"`
	Tools             []map[string]any         `json:"tools,omitempty"`
	GenerationConfig  map[string]any           `json:"generationConfig,omitempty"`
}

func (a *GeminiAdapter) build(req ChatRequest) geminiRequestBody {
	instructions := CommonSystemPrompt
	if req.SystemExtra != "" {
		instructions += "\n\n" + req.SystemExtra
	}

	body := geminiRequestBody{
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: instructions}}},
		Contents:          a.buildContents(req.Messages),
	}
	if len(req.Tools) > 0 {
		var decls []map[string]any
		for _, t := range req.Tools {
			decls = append(decls, map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Schema,
			})
		}
		body.Tools = []map[string]any{{"functionDeclarations": decls}}
	}

	thinking := req.Thinking
	if thinking == ThinkingOff {
		thinking = a.thinking
	}
	if budget, ok := thinkingBudgetTokens(thinking); ok {
		body.GenerationConfig = map[string]any{
			"thinkingConfig": map[string]any{"thinkingBudget": budget, "includeThoughts": true},
		}
	}
	return body
}

// thinkingBudgetTokens reuses the Anthropic budget table for Gemini, since
// both dialects take an integer token budget rather than a string effort
// knob (spec.md §4.4-iv names one shared mapping for "any provider taking a
// numeric reasoning budget").
func thinkingBudgetTokens(m ThinkingMode) (int, bool) { return m.AnthropicBudgetTokens() }

// buildContents renders canonical messages to Gemini's role-tagged content
// array, folding tool-result-only messages into functionResponse parts on a
// "user"-role content item and round-tripping thoughtSignature on function
// calls (spec.md §4.4-iii).
func (a *GeminiAdapter) buildContents(messages []Message) []geminiContent {
	var out []geminiContent
	for _, m := range messages {
		if IsToolResultOnly(m) {
			var parts []geminiPart
			for _, b := range m.Content {
				parts = append(parts, geminiPart{FunctionResponse: &geminiFnResp{
					Name:     b.ToolResultID,
					Response: map[string]any{"output": b.ToolResultText, "error": b.ToolResultError},
				}})
			}
			out = append(out, geminiContent{Role: "user", Parts: parts})
			continue
		}
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		var parts []geminiPart
		for _, b := range m.Content {
			switch b.Kind {
			case BlockText:
				parts = append(parts, geminiPart{Text: b.Text})
			case BlockThinking:
				parts = append(parts, geminiPart{Text: b.Thinking, Thought: true, ThoughtSignature: b.ProviderData})
			case BlockToolUse:
				var args map[string]any
				_ = json.Unmarshal(b.ToolUseInput, &args)
				parts = append(parts, geminiPart{FunctionCall: &geminiFnCall{Name: b.ToolUseName, Args: args}, ThoughtSignature: b.ThoughtSig})
			case BlockImage:
				parts = append(parts, geminiPart{InlineData: &geminiBlob{MimeType: b.StandaloneImageMime, Data: base64.StdEncoding.EncodeToString(b.StandaloneImageData)}})
			}
		}
		out = append(out, geminiContent{Role: role, Parts: parts})
	}
	return out
}

func (a *GeminiAdapter) PrepareRequest(req ChatRequest) (json.RawMessage, error) {
	return json.Marshal(a.build(req))
}

func (a *GeminiAdapter) Chat(ctx context.Context, req ChatRequest, bus *Bus) (ChatResponse, error) {
	body, err := json.Marshal(a.build(req))
	if err != nil {
		return ChatResponse{}, err
	}

	r, status, reqHeaders, respHeaders, url, err := a.send(ctx, body)
	if err != nil {
		return ChatResponse{}, err
	}
	if status == http.StatusUnauthorized && a.Tokens != nil {
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
func (a *GeminiAdapter) recordTx(url string, reqHeaders http.Header, reqBody []byte, respHeaders http.Header, respBody []byte) {
	if a.TxLog == nil {
		return
	}
	respHdr, _ := json.Marshal(respHeaders)
	_ = a.TxLog.RecordRequest(a.SessionID, a.ID(), url, reqHeaders, reqBody, respHdr, respBody)
}

func (a *GeminiAdapter) send(ctx context.Context, body []byte) (io.ReadCloser, int, http.Header, http.Header, string, error) {
	url := a.BaseURL + "/models/" + a.ModelID + ":streamGenerateContent?alt=sse"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, nil, nil, "", err
	}
	httpReq.Header.Set("content-type", "application/json")
	if a.Tokens != nil {
		token, terr := a.Tokens.AccessToken(ctx)
		if terr != nil {
			return nil, 0, nil, nil, "", &AdapterError{Class: ClassAuth, Wrapped: terr}
		}
		httpReq.Header.Set("authorization", "Bearer "+token)
	} else {
		httpReq.Header.Set("x-goog-api-key", a.APIKey)
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

func (a *GeminiAdapter) httpClient() *http.Client {
	if a.HTTP != nil {
		return a.HTTP
	}
	return http.DefaultClient
}

// consume drives the Gemini candidates[0].content.parts stream: text parts
// accumulate to the visible reply, parts with thought:true accumulate as
// thinking (carrying thoughtSignature for round-trip), functionCall parts
// become tool calls keyed by their position in the part stream (Gemini does
// not stream partial-JSON function args; each functionCall part arrives
// whole), and usageMetadata on the final chunk reports totals (spec.md
// §4.4-v).
func (a *GeminiAdapter) consume(ctx context.Context, r io.ReadCloser, bus *Bus) (ChatResponse, error) {
	var textBuilder strings.Builder
	var thinkingBuilder strings.Builder
	var thoughtSig string
	accum := NewToolCallAccumulator()
	callIdx := 0
	var usage UsageDelta
	sawAny := false
	progress := newProgressTracker()

	for ev, err := range FrameSSE(r, a.Net) {
		if err != nil {
			return ChatResponse{}, &AdapterError{Class: ClassRetryable, Wrapped: err}
		}
		sawAny = true

		var chunk struct {
			Candidates []struct {
				Content struct {
					Parts []geminiPart `json:"parts"`
				} `json:"content"`
				FinishReason string `json:"finishReason"`
			} `json:"candidates"`
			UsageMetadata struct {
				PromptTokenCount     int `json:"promptTokenCount"`
				CandidatesTokenCount int `json:"candidatesTokenCount"`
				CachedContentTokenCount int `json:"cachedContentTokenCount"`
			} `json:"usageMetadata"`
		}
		if jerr := json.Unmarshal([]byte(ev.Data), &chunk); jerr != nil {
			continue
		}

		usage.InputTokens = chunk.UsageMetadata.PromptTokenCount
		usage.OutputTokens = chunk.UsageMetadata.CandidatesTokenCount
		usage.CacheReadTokens = chunk.UsageMetadata.CachedContentTokenCount

		for _, cand := range chunk.Candidates {
			for _, p := range cand.Content.Parts {
				switch {
				case p.FunctionCall != nil:
					idx := callIdx
					callIdx++
					args, _ := json.Marshal(p.FunctionCall.Args)
					accum.Start(idx, "", p.FunctionCall.Name, args)
					if p.ThoughtSignature != "" {
						accum.SetThoughtSignature(idx, p.ThoughtSignature)
					}
				case p.Thought:
					thinkingBuilder.WriteString(p.Text)
					if p.ThoughtSignature != "" {
						thoughtSig = p.ThoughtSignature
					}
					bus.EmitCtx(ctx, Event{Kind: EventThinking, Text: p.Text})
					progress.Add(ctx, bus, p.Text)
				case p.Text != "":
					textBuilder.WriteString(p.Text)
					bus.EmitCtx(ctx, Event{Kind: EventTextDelta, Text: p.Text})
					progress.Add(ctx, bus, p.Text)
				}
			}
		}
	}
	if !sawAny {
		return ChatResponse{}, &AdapterError{Class: ClassHTTP, Body: "empty stream"}
	}

	var blocks []ContentBlock
	if thinkingBuilder.Len() > 0 {
		blocks = append(blocks, Thinking(thinkingBuilder.String(), thoughtSig))
		bus.EmitCtx(ctx, Event{Kind: EventThinkingEnd})
	}
	if textBuilder.Len() > 0 {
		blocks = append(blocks, Text(textBuilder.String()))
		bus.EmitCtx(ctx, Event{Kind: EventTextEnd})
	}
	calls := accum.Finish()
	for i, c := range calls {
		id := c.ID
		if id == "" {
			id = genCallID(i)
		}
		blocks = append(blocks, ToolUse(id, c.Name, c.Input, c.ThoughtSig))
	}

	stopReason := StopEndTurn
	if len(calls) > 0 {
		stopReason = StopToolUse
	}

	if a.Usage != nil {
		a.Usage.Record(usage)
	}
	bus.EmitCtx(ctx, Event{Kind: EventUsageUpdate, UsageDelta: usage})

	return ChatResponse{ContentBlocks: blocks, ToolCalls: calls, StopReason: stopReason, Usage: usage}, nil
}

// genCallID synthesizes a stable tool_use id for Gemini calls, which unlike
// Anthropic/OpenAI do not carry a provider-issued call id on the wire.
func genCallID(i int) string {
	return "gemini-call-" + strconv.Itoa(i)
}
