package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ResponsesAdapter implements the OpenAI Responses API dialect (spec.md
// §4.4-v "OpenAI Responses"), shared by plain OpenAI Responses models and
// the Codex/ChatGPT-subscription provider, which speaks the identical wire
// shape against a different base URL and carries an OAuth account-id claim
// extracted from its JWT access token rather than an API key. The dialect
// itself is grounded on the teacher's internal/llm/responses_api.go and
// codex.go.
type ResponsesAdapter struct {
	ProviderID string // "openai-responses" or "codex"
	ModelID    string
	BaseURL    string
	Tokens     TokenSource
	HTTP       *http.Client
	Usage      *ProviderUsage
	Net        *ByteCounter
	AccountID  string // extracted once from the Codex JWT at login, spec.md §6/§9
	TxLog      *TxLog // nil disables transaction logging (spec.md §4.10)
	SessionID  string
	thinking   ThinkingMode
}

func (a *ResponsesAdapter) ID() string              { return a.ProviderID }
func (a *ResponsesAdapter) Model() string           { return a.ModelID }
func (a *ResponsesAdapter) ContextLimit() (int, bool) { return ContextLimit(a.ProviderID, a.ModelID) }
func (a *ResponsesAdapter) SetThinkingMode(m ThinkingMode) { a.thinking = m }

// AccountIDFromCodexToken parses the unverified JWT claims to recover the
// ChatGPT account id Codex embeds at
// https://api.openai.com/auth.chatgpt_account_id, per spec.md §9's "JWT
// account-id extraction" design note. The token's signature is not
// verified here: it already arrived over the OAuth token endpoint's TLS
// channel, and the claim is used only to route billing, not to authorize
// anything locally.
func AccountIDFromCodexToken(rawToken string) (string, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(rawToken, claims); err != nil {
		return "", err
	}
	auth, _ := claims["https://api.openai.com/auth"].(map[string]any)
	if auth == nil {
		return "", nil
	}
	id, _ := auth["chatgpt_account_id"].(string)
	return id, nil
}

type responsesInputItem struct {
	Type      string          `json:"type"`
	Role      string          `json:"role,omitempty"`
	Content   []responsesPart `json:"content,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments string          `json:"arguments,omitempty"`
	Output    string          `json:"output,omitempty"`
	EncryptedContent string   `json:"encrypted_content,omitempty"`
}

type responsesPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type responsesRequestBody struct {
	Model        string                 `json:"model"`
	Instructions string                 `json:"instructions"`
	Input        []responsesInputItem   `json:"input"`
	Tools        []map[string]any       `json:"tools,omitempty"`
	Stream       bool                   `json:"stream"`
	Reasoning    map[string]any         `json:"reasoning,omitempty"`
	Store        bool                   `json:"store"`
}

func (a *ResponsesAdapter) build(req ChatRequest) responsesRequestBody {
	instructions := CommonSystemPrompt
	if req.SystemExtra != "" {
		instructions += "\n\n" + req.SystemExtra
	}

	body := responsesRequestBody{
		Model:        a.ModelID,
		Instructions: instructions,
		Input:        a.buildInput(req.Messages),
		Stream:       true,
		Store:        false,
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, map[string]any{
			"type":        "function",
			"name":        t.Name,
			"description": t.Description,
			"parameters":  t.Schema,
		})
	}

	thinking := req.Thinking
	if thinking == ThinkingOff {
		thinking = a.thinking
	}
	if effort, ok := thinking.ReasoningEffort(); ok {
		body.Reasoning = map[string]any{"effort": effort, "summary": "auto"}
	}
	return body
}

// buildInput renders canonical messages into Responses API input items:
// message items for plain text, function_call/function_call_output items
// for tool use/result, and reasoning items carrying encrypted_content back
// verbatim for multi-turn continuity (spec.md §4.4-iii's provider round-
// trip requirement).
func (a *ResponsesAdapter) buildInput(messages []Message) []responsesInputItem {
	var out []responsesInputItem
	for _, m := range messages {
		if IsToolResultOnly(m) {
			for _, b := range m.Content {
				out = append(out, responsesInputItem{Type: "function_call_output", CallID: b.ToolResultID, Output: b.ToolResultText})
			}
			continue
		}
		if m.Role == RoleAssistant {
			for _, b := range m.Content {
				switch b.Kind {
				case BlockText:
					out = append(out, responsesInputItem{Type: "message", Role: "assistant", Content: []responsesPart{{Type: "output_text", Text: b.Text}}})
				case BlockToolUse:
					out = append(out, responsesInputItem{Type: "function_call", CallID: b.ToolUseID, Name: b.ToolUseName, Arguments: string(b.ToolUseInput)})
				case BlockThinking:
					out = append(out, responsesInputItem{Type: "reasoning", EncryptedContent: b.ProviderData})
				}
			}
			continue
		}
		var text strings.Builder
		for _, b := range m.Content {
			if b.Kind == BlockText {
				text.WriteString(b.Text)
			}
		}
		out = append(out, responsesInputItem{Type: "message", Role: string(m.Role), Content: []responsesPart{{Type: "input_text", Text: text.String()}}})
	}
	return out
}

func (a *ResponsesAdapter) PrepareRequest(req ChatRequest) (json.RawMessage, error) {
	return json.Marshal(a.build(req))
}

func (a *ResponsesAdapter) Chat(ctx context.Context, req ChatRequest, bus *Bus) (ChatResponse, error) {
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
func (a *ResponsesAdapter) recordTx(url string, reqHeaders http.Header, reqBody []byte, respHeaders http.Header, respBody []byte) {
	if a.TxLog == nil {
		return
	}
	respHdr, _ := json.Marshal(respHeaders)
	_ = a.TxLog.RecordRequest(a.SessionID, a.ID(), url, reqHeaders, reqBody, respHdr, respBody)
}

func (a *ResponsesAdapter) send(ctx context.Context, body []byte) (io.ReadCloser, int, http.Header, http.Header, string, error) {
	token, err := a.Tokens.AccessToken(ctx)
	if err != nil {
		return nil, 0, nil, nil, "", &AdapterError{Class: ClassAuth, Wrapped: err}
	}
	url := a.BaseURL + "/responses"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, nil, nil, "", err
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("authorization", "Bearer "+token)
	if a.ProviderID == "codex" {
		httpReq.Header.Set("openai-beta", "responses=experimental")
		if a.AccountID != "" {
			httpReq.Header.Set("chatgpt-account-id", a.AccountID)
		}
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

func (a *ResponsesAdapter) httpClient() *http.Client {
	if a.HTTP != nil {
		return a.HTTP
	}
	return http.DefaultClient
}

// consume drives the Responses API event stream: response.output_text.delta
// for text, response.reasoning_summary_text.delta for thinking,
// response.output_item.added/done for function_call items (id arrives on
// .added, arguments accumulate via response.function_call_arguments.delta,
// and are finalized on .done), response.completed carrying final usage and
// (for reasoning items) encrypted_content, per spec.md §4.4-v.
func (a *ResponsesAdapter) consume(ctx context.Context, r io.ReadCloser, bus *Bus) (ChatResponse, error) {
	var textBuilder strings.Builder
	var thinkingBuilder strings.Builder
	accum := NewToolCallAccumulator()
	callIndexByItemID := map[string]int{}
	nextIndex := 0
	var usage UsageDelta
	var encryptedReasoning string
	sawAny := false
	progress := newProgressTracker()

	for ev, err := range FrameSSE(r, a.Net) {
		if err != nil {
			return ChatResponse{}, &AdapterError{Class: ClassRetryable, Wrapped: err}
		}
		sawAny = true

		var envelope struct {
			Type string `json:"type"`
			Item struct {
				ID        string `json:"id"`
				Type      string `json:"type"`
				CallID    string `json:"call_id"`
				Name      string `json:"name"`
				Arguments string `json:"arguments"`
				EncryptedContent string `json:"encrypted_content"`
			} `json:"item"`
			Delta        string `json:"delta"`
			ItemID       string `json:"item_id"`
			Response     struct {
				Usage struct {
					InputTokens      int `json:"input_tokens"`
					OutputTokens     int `json:"output_tokens"`
					InputTokensDetails struct {
						CachedTokens int `json:"cached_tokens"`
					} `json:"input_tokens_details"`
				} `json:"usage"`
			} `json:"response"`
		}
		if jerr := json.Unmarshal([]byte(ev.Data), &envelope); jerr != nil {
			continue
		}

		switch envelope.Type {
		case "response.output_text.delta":
			textBuilder.WriteString(envelope.Delta)
			bus.EmitCtx(ctx, Event{Kind: EventTextDelta, Text: envelope.Delta})
			progress.Add(ctx, bus, envelope.Delta)
		case "response.reasoning_summary_text.delta":
			thinkingBuilder.WriteString(envelope.Delta)
			bus.EmitCtx(ctx, Event{Kind: EventThinking, Text: envelope.Delta})
			progress.Add(ctx, bus, envelope.Delta)
		case "response.output_item.added":
			if envelope.Item.Type == "function_call" {
				idx := nextIndex
				nextIndex++
				callIndexByItemID[envelope.Item.ID] = idx
				accum.Start(idx, envelope.Item.CallID, envelope.Item.Name, nil)
			}
		case "response.function_call_arguments.delta":
			if idx, ok := callIndexByItemID[envelope.ItemID]; ok {
				accum.Delta(idx, envelope.Delta)
			}
		case "response.output_item.done":
			if envelope.Item.Type == "function_call" {
				if idx, ok := callIndexByItemID[envelope.Item.ID]; ok && envelope.Item.Arguments != "" {
					accum.Delta(idx, envelope.Item.Arguments)
				}
			}
			if envelope.Item.Type == "reasoning" && envelope.Item.EncryptedContent != "" {
				encryptedReasoning = envelope.Item.EncryptedContent
			}
		case "response.completed":
			usage.InputTokens = envelope.Response.Usage.InputTokens
			usage.OutputTokens = envelope.Response.Usage.OutputTokens
			usage.CacheReadTokens = envelope.Response.Usage.InputTokensDetails.CachedTokens
		case "error":
			return ChatResponse{}, &AdapterError{Class: ClassAPI, Body: envelope.Delta}
		}
	}
	if !sawAny {
		return ChatResponse{}, &AdapterError{Class: ClassHTTP, Body: "empty stream"}
	}

	var blocks []ContentBlock
	if thinkingBuilder.Len() > 0 || encryptedReasoning != "" {
		blocks = append(blocks, Thinking(thinkingBuilder.String(), encryptedReasoning))
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
