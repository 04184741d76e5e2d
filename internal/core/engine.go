package core

import (
	"context"
	"sync"
	"sync/atomic"
)

// defaultMaxTurns bounds a single Run call's provider↔tool round-trips, the
// same runaway-loop backstop the teacher's internal/llm/engine.go keeps
// (defaultMaxTurns = 20 there).
const defaultMaxTurns = 20

// TurnCompletedCallback fires once per completed provider↔tool round-trip,
// carrying the messages appended during that turn — used for incremental
// session persistence, grounded on internal/llm/engine.go's
// TurnCompletedCallback.
type TurnCompletedCallback func(ctx context.Context, turnIndex int, messages []Message) error

// CompactionCallback fires after an in-loop compaction substitutes the
// message list, so the caller can persist the new shape.
type CompactionCallback func(ctx context.Context, newMessages []Message, messagesCompacted int) error

// Compactor is the narrow interface the Turn Driver needs from C8; kept
// here (rather than importing internal/compact) to avoid a C9→C8 import
// cycle risk and because the driver only ever needs this one operation.
type Compactor interface {
	Compact(ctx context.Context, provider Adapter, messages []Message, preserveRecentTurns int) (Result, error)
}

// Result mirrors compact.Result's shape; defined here so Compactor doesn't
// need to import internal/compact either. Callers pass a thin adapter that
// converts compact.Result to this shape (see cmd/ wiring).
type Result struct {
	Messages          []Message
	MessagesCompacted int
}

// Engine is the Turn Driver (C9): the outer loop described in spec.md
// §4.8, generalizing internal/llm/engine.go's runLoop to single-tool
// sequential execution (spec.md §5's explicit parallelism ban) and to
// spec.md §7's literal retry/refresh policy.
type Engine struct {
	Provider Adapter
	Executor *Executor
	Usage    *ProviderUsage
	Bus      *Bus

	Compact              Compactor
	PreserveRecentTurns  int
	CompactionThreshold  int // trigger compaction when context usage crosses this many tokens; 0 disables

	MaxTurns int // 0 = defaultMaxTurns

	OnTurnCompleted TurnCompletedCallback
	OnCompaction    CompactionCallback

	// cancelled is the process-wide atomic flag spec.md §5 "Cancellation"
	// describes; the UI collaborator sets it from a Ctrl-C/Esc handler.
	cancelled atomic.Bool

	mu       sync.Mutex // serializes concurrent Run calls against the same Engine
	inTurn   atomic.Bool
}

// NewEngine constructs a Turn Driver around a provider and executor.
func NewEngine(provider Adapter, executor *Executor, usage *ProviderUsage, bus *Bus) *Engine {
	return &Engine{Provider: provider, Executor: executor, Usage: usage, Bus: bus}
}

// Cancel requests the in-flight turn stop at its next poll point.
func (e *Engine) Cancel() { e.cancelled.Store(true) }

// resetCancel clears the flag at the start of a fresh Run.
func (e *Engine) resetCancel() { e.cancelled.Store(false) }

func (e *Engine) maxTurns() int {
	if e.MaxTurns > 0 {
		return e.MaxTurns
	}
	return defaultMaxTurns
}

// IsIdle reports whether a turn is currently in flight — compaction must
// never run concurrently with a tool-driving turn (spec.md §4.7's closing
// sentence).
func (e *Engine) IsIdle() bool { return !e.inTurn.Load() }

// Run drives messages through the provider↔tool loop until end_turn,
// max_tokens, cancellation, or maxTurns is reached, returning the final
// message list. This is spec.md §4.8's pseudocode: start_turn, loop{ call
// provider, append assistant blocks, if no tool calls break, else execute
// each tool call in the order the model emitted them, append results }.
func (e *Engine) Run(ctx context.Context, messages []Message, tools []ToolSpec, thinking ThinkingMode) ([]Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.resetCancel()
	e.inTurn.Store(true)
	defer e.inTurn.Store(false)

	if e.Usage != nil {
		e.Usage.StartTurn()
	}

	for turnIndex := 0; turnIndex < e.maxTurns(); turnIndex++ {
		if e.cancelled.Load() {
			return messages, nil
		}

		if e.shouldCompact(messages) {
			compacted, err := e.runCompaction(ctx, messages)
			if err == nil {
				messages = compacted
			}
			// A failed compaction is not fatal to the turn: proceed with the
			// uncompacted list and let the provider call itself fail loudly
			// if the context really is too large.
		}

		resp, err := e.callProvider(ctx, messages, tools, thinking)
		if err != nil {
			e.Bus.EmitCtx(ctx, Event{Kind: EventError, Err: err})
			return messages, err
		}

		assistantMsg := NewAssistantBlocks(resp.ContentBlocks)
		messages = append(messages, assistantMsg)
		e.fireTurnCompleted(ctx, turnIndex, []Message{assistantMsg})

		if len(resp.ToolCalls) == 0 {
			e.Bus.EmitCtx(ctx, Event{Kind: EventDone, StopReason: resp.StopReason})
			return messages, nil
		}

		results, cancelledMidTools := e.executeToolsSequentially(ctx, resp.ToolCalls)
		resultMsg := NewToolResults(results)
		messages = append(messages, resultMsg)
		e.fireTurnCompleted(ctx, turnIndex, []Message{resultMsg})

		if cancelledMidTools {
			e.Bus.EmitCtx(ctx, Event{Kind: EventDone, StopReason: StopUnknown})
			return messages, nil
		}

		if resp.StopReason == StopMaxTokens {
			e.Bus.EmitCtx(ctx, Event{Kind: EventDone, StopReason: StopMaxTokens})
			return messages, nil
		}
	}

	e.Bus.EmitCtx(ctx, Event{Kind: EventDone, StopReason: StopUnknown})
	return messages, nil
}

// executeToolsSequentially runs every tool call strictly in the order the
// model emitted them (spec.md §5: "parallelism would violate the adapters'
// content-ordering invariants and the read-only gate's auditability"),
// polling the cancellation flag between each one. If cancellation lands
// mid-call, every tool call from that point on — including the in-flight
// one — gets a synthesized is_error "cancelled by user" result so invariant
// P1 (every ToolUse has a matching ToolResult) always holds (spec.md §8 P8,
// S3).
func (e *Engine) executeToolsSequentially(ctx context.Context, calls []ToolCall) (results []ContentBlock, cancelled bool) {
	results = make([]ContentBlock, 0, len(calls))
	for i, tc := range calls {
		if e.cancelled.Load() || ctx.Err() != nil {
			for _, remaining := range calls[i:] {
				results = append(results, ToolResultBlock(remaining.ID, "cancelled by user", true, nil, ""))
			}
			return results, true
		}

		e.Bus.EmitCtx(ctx, Event{Kind: EventToolStart, ToolID: tc.ID, ToolName: tc.Name, ToolInputPreview: previewInput(tc.Input)})
		block := e.Executor.Execute(ctx, tc)
		e.Bus.EmitCtx(ctx, Event{Kind: EventToolEnd, ToolID: tc.ID, ToolName: tc.Name, ToolIsError: block.ToolResultError, ToolSummary: summarize(block.ToolResultText)})
		results = append(results, block)
	}
	return results, false
}

// callProvider performs one provider call with spec.md §7's Unauthorized/
// SessionCorrupted single-refresh-and-retry policy layered over whatever
// transient-retry wrapping the caller already applied to e.Provider (the
// RetryAdapter in retry.go handles Retryable; this layer handles the two
// auth-adjacent classes the retry wrapper deliberately passes through).
func (e *Engine) callProvider(ctx context.Context, messages []Message, tools []ToolSpec, thinking ThinkingMode) (ChatResponse, error) {
	req := ChatRequest{Messages: messages, Tools: tools, Thinking: thinking}

	resp, err := e.Provider.Chat(ctx, req, e.Bus)
	if err == nil {
		return resp, nil
	}

	ae, ok := err.(*AdapterError)
	if !ok || (ae.Class != ClassUnauthorized && ae.Class != ClassSessionCorrupted) {
		return ChatResponse{}, err
	}

	return e.Provider.Chat(ctx, req, e.Bus)
}

func (e *Engine) shouldCompact(messages []Message) bool {
	if e.Compact == nil || e.CompactionThreshold <= 0 || e.Usage == nil {
		return false
	}
	input, output, cacheRead, _ := e.Usage.Cumulative()
	return int(input+output+cacheRead) >= e.CompactionThreshold
}

func (e *Engine) runCompaction(ctx context.Context, messages []Message) ([]Message, error) {
	result, err := e.Compact.Compact(ctx, e.Provider, messages, e.PreserveRecentTurns)
	if err != nil {
		return messages, err
	}
	if e.OnCompaction != nil {
		_ = e.OnCompaction(ctx, result.Messages, result.MessagesCompacted)
	}
	return result.Messages, nil
}

func (e *Engine) fireTurnCompleted(ctx context.Context, turnIndex int, msgs []Message) {
	if e.OnTurnCompleted != nil {
		_ = e.OnTurnCompleted(ctx, turnIndex, msgs)
	}
}

func previewInput(input []byte) string {
	const maxPreview = 200
	if len(input) <= maxPreview {
		return string(input)
	}
	return string(input[:maxPreview]) + "..."
}

func summarize(s string) string {
	const maxSummary = 120
	if len(s) <= maxSummary {
		return s
	}
	return s[:maxSummary] + "..."
}
