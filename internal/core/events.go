package core

import "context"

// EventKind enumerates the Output Event Bus (C10) event types spec.md §4.9
// names exactly.
type EventKind string

const (
	EventTextDelta     EventKind = "text_delta"
	EventTextEnd       EventKind = "text_end"
	EventThinking      EventKind = "thinking"
	EventThinkingEnd   EventKind = "thinking_end"
	EventToolStart     EventKind = "tool_start"
	EventToolEnd       EventKind = "tool_end"
	EventProgress      EventKind = "progress"
	EventUsageUpdate   EventKind = "usage_update"
	EventContextUpdate EventKind = "context_update"
	EventWarning       EventKind = "warning"
	EventError         EventKind = "error"
	EventDone          EventKind = "done"
	// EventRetry is carried on the bus so the UI collaborator can render
	// "retrying in N s" (spec.md §7 "transient retries emit Warning events
	// with 'retrying in N s'"); modeled as its own kind rather than reusing
	// Warning so tests can assert on retry counts precisely (S4).
	EventRetry EventKind = "retry"
)

// Event is one item on the Output Event Bus. Only the fields relevant to
// Kind are populated; ordering within a turn is preserved end to end
// (spec.md §4.9, §5 "Ordering").
type Event struct {
	Kind EventKind

	Text string // TextDelta, Thinking, Warning, Error

	ToolID           string // ToolStart, ToolEnd
	ToolName         string
	ToolInputPreview string // ToolStart
	ToolIsError      bool   // ToolEnd
	ToolSummary      string // ToolEnd

	ProgressTokens    int     // Progress
	ProgressElapsedS  float64 // Progress
	ProgressRate      float64 // Progress, tokens/s

	UsageDelta UsageDelta // UsageUpdate

	ContextTotal int  // ContextUpdate
	ContextLimit int  // ContextUpdate
	ContextKnown bool // ContextUpdate: false means limit is None

	RetryAttempt     int     // Retry
	RetryMaxAttempts int     // Retry
	RetryWaitSecs    float64 // Retry

	StopReason StopReason // Done
	Err        error      // Error
}

// Bus is a single-producer, single-turn-ordered event channel. Spec.md
// §4.9 calls it "a typed, buffered channel"; a small wrapper type keeps
// producers (C5/C8/C9) from needing to know the buffer size convention.
type Bus struct {
	ch chan Event
}

// NewBus creates a bus with the given buffer depth. A depth of 0 makes the
// bus synchronous, useful in tests that want to assert exact interleaving.
func NewBus(depth int) *Bus {
	return &Bus{ch: make(chan Event, depth)}
}

// Emit sends an event, respecting ctx-less backpressure: callers in the hot
// streaming path should prefer EmitCtx so a stalled consumer cannot wedge
// the adapter forever during cancellation.
func (b *Bus) Emit(e Event) { b.ch <- e }

// EmitCtx sends an event unless ctx is done first, used during cancellation
// (spec.md §5 "Cancellation") so a dropped consumer can't stall shutdown.
func (b *Bus) EmitCtx(ctx context.Context, e Event) {
	select {
	case b.ch <- e:
	case <-ctx.Done():
	}
}

// Events exposes the receive-only channel to consumers (the UI collaborator).
func (b *Bus) Events() <-chan Event { return b.ch }

// Close closes the underlying channel. Callers must ensure no further Emit
// calls occur afterward; the Turn Driver closes the bus only after its Done
// event has been sent.
func (b *Bus) Close() { close(b.ch) }
