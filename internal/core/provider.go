package core

import (
	"context"
	"encoding/json"
)

// Adapter is the capability-set interface spec.md §9 "Per-provider adapters
// as polymorphism" calls for: "chat, prepare_request, start_turn, models(),
// context_limit(), and optional set_thinking_mode". This supersedes the
// teacher's stale internal/llm/provider.go Provider interface (SuggestCommands/
// StreamResponse), which is incompatible with the richer streaming-event
// shape the rest of the teacher's internal/llm package (types.go, engine.go,
// anthropic.go, factory.go) actually implements — see DESIGN.md divergence
// note 3.
type Adapter interface {
	// ID returns the stable provider identifier used for usage tracking,
	// context-limit lookup, and transaction-log entries (e.g. "anthropic").
	ID() string

	// Model returns the model id this adapter instance targets.
	Model() string

	// Chat sends one provider call and streams canonical events onto bus
	// while also returning the complete ChatResponse once the stream ends.
	// Tool definitions are taken from req.Tools; passing a nil/empty slice
	// disables tool use for that call (used by the Compaction Engine, C8).
	Chat(ctx context.Context, req ChatRequest, bus *Bus) (ChatResponse, error)

	// PrepareRequest returns the exact wire JSON body Chat would send,
	// without sending it — used by the /dump-prompt debugging path and by
	// the Transaction Log (C11).
	PrepareRequest(req ChatRequest) (json.RawMessage, error)

	// ContextLimit returns this adapter's model's context window, per
	// spec.md §6's literal table.
	ContextLimit() (int, bool)
}

// ThinkingSetter is an optional interface for adapters whose dialect
// supports a reasoning/thinking knob (spec.md §4.4-iv, §9).
type ThinkingSetter interface {
	SetThinkingMode(ThinkingMode)
}

// ChatRequest is the canonical request passed into an adapter, built by the
// Turn Driver (C9) from the running message list.
type ChatRequest struct {
	Messages    []Message
	Tools       []ToolSpec
	ToolChoice  ToolChoiceMode
	Thinking    ThinkingMode
	SystemExtra string // appended after the common application system prompt
	MaxTokens   int
	Temperature float32
}

// ToolChoiceMode controls which tool, if any, the model must call.
type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceRequired ToolChoiceMode = "required"
)

// TokenSource is the C7 Auth/Token Refresher's interface as consumed by
// adapters (spec.md §4.4-i "Token acquisition").
type TokenSource interface {
	// AccessToken returns a currently-valid bearer token, refreshing if
	// the cached one is within the skew buffer of expiry.
	AccessToken(ctx context.Context) (string, error)
	// ForceRefresh invalidates the cache and refreshes unconditionally,
	// used on a single 401 retry per spec.md §4.4-i.
	ForceRefresh(ctx context.Context) (string, error)
}

// ErrorClass is the taxonomy from spec.md §7.
type ErrorClass int

const (
	ClassOther ErrorClass = iota
	ClassAuth
	ClassRefreshTokenExpired
	ClassUnauthorized
	ClassSessionCorrupted
	ClassRetryable
	ClassAPI
	ClassHTTP
)

// AdapterError carries the classified failure mode described in spec.md §7,
// so the Turn Driver and RetryProvider can branch on Class without string
// sniffing provider-specific text at the call site (classification itself
// still inspects status/body text once, in retry.go).
type AdapterError struct {
	Class   ErrorClass
	Status  int
	Body    string
	Wrapped error
}

func (e *AdapterError) Error() string {
	if e.Wrapped != nil {
		return e.Wrapped.Error()
	}
	return e.Body
}

func (e *AdapterError) Unwrap() error { return e.Wrapped }
