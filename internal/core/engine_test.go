package core

import (
	"context"
	"encoding/json"
	"testing"
)

// scriptedProvider drives ChatResponses from a fixed script, one per call,
// mirroring internal/llm/engine_test.go's fakeProvider.script shape.
type scriptedProvider struct {
	script func(call int, req ChatRequest) (ChatResponse, error)
	calls  []ChatRequest
}

func (p *scriptedProvider) Chat(ctx context.Context, req ChatRequest, bus *Bus) (ChatResponse, error) {
	p.calls = append(p.calls, req)
	return p.script(len(p.calls)-1, req)
}

func (p *scriptedProvider) ID() string    { return "test-provider" }
func (p *scriptedProvider) Model() string { return "test-model" }
func (p *scriptedProvider) PrepareRequest(req ChatRequest) (json.RawMessage, error) {
	return json.Marshal(req)
}
func (p *scriptedProvider) ContextLimit() (int, bool) { return 0, false }

type countingTool struct {
	calls int
}

func (t *countingTool) Spec() ToolSpec {
	return ToolSpec{Name: "count_tool", Description: "counts executions", Schema: map[string]any{"type": "object"}}
}

func (t *countingTool) Execute(ctx context.Context, input json.RawMessage) (ToolOutput, error) {
	t.calls++
	return ToolOutput{Content: "ok"}, nil
}

func (t *countingTool) Preview(input json.RawMessage) string { return "" }

func newTestEngine(provider Adapter, tool Tool) (*Engine, *Bus) {
	reg := NewRegistry()
	if tool != nil {
		reg.Register(tool)
	}
	exec := NewExecutor(reg, false)
	bus := NewBus(64)
	return NewEngine(provider, exec, &ProviderUsage{}, bus), bus
}

// TestRunSimpleReply is spec.md S1: a reply with no tool calls ends the
// turn after one provider round-trip.
func TestRunSimpleReply(t *testing.T) {
	provider := &scriptedProvider{script: func(call int, req ChatRequest) (ChatResponse, error) {
		return ChatResponse{ContentBlocks: []ContentBlock{Text("hello")}, StopReason: StopEndTurn}, nil
	}}
	e, bus := newTestEngine(provider, nil)
	defer bus.Close()

	out, err := e.Run(context.Background(), []Message{NewUserText("hi")}, nil, ThinkingOff)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected user+assistant, got %d messages", len(out))
	}
	if len(provider.calls) != 1 {
		t.Fatalf("expected exactly one provider call, got %d", len(provider.calls))
	}
}

// TestRunSingleToolRoundTrip is spec.md S2: one tool call executes and its
// result feeds back into the next provider call.
func TestRunSingleToolRoundTrip(t *testing.T) {
	tool := &countingTool{}
	provider := &scriptedProvider{script: func(call int, req ChatRequest) (ChatResponse, error) {
		if call == 0 {
			return ChatResponse{
				ContentBlocks: []ContentBlock{ToolUse("t1", "count_tool", []byte(`{}`), "")},
				ToolCalls:     []ToolCall{{ID: "t1", Name: "count_tool", Input: []byte(`{}`)}},
				StopReason:    StopToolUse,
			}, nil
		}
		return ChatResponse{ContentBlocks: []ContentBlock{Text("done")}, StopReason: StopEndTurn}, nil
	}}
	e, bus := newTestEngine(provider, tool)
	defer bus.Close()

	out, err := e.Run(context.Background(), []Message{NewUserText("count please")}, nil, ThinkingOff)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if tool.calls != 1 {
		t.Fatalf("expected tool executed once, got %d", tool.calls)
	}
	if len(provider.calls) != 2 {
		t.Fatalf("expected two provider calls, got %d", len(provider.calls))
	}

	var sawToolResult bool
	for _, m := range out {
		for _, b := range m.Content {
			if b.Kind == BlockToolResult && b.ToolResultID == "t1" {
				sawToolResult = true
			}
		}
	}
	if !sawToolResult {
		t.Fatalf("expected a ToolResult for t1 in message history: %+v", out)
	}
}

// cancelOnExecuteTool simulates the UI collaborator setting the
// process-wide cancellation flag asynchronously, mid-turn, by cancelling
// the engine as a side effect of its own first execution.
type cancelOnExecuteTool struct {
	engine *Engine
	calls  int
}

func (t *cancelOnExecuteTool) Spec() ToolSpec {
	return ToolSpec{Name: "count_tool", Description: "cancels on first call", Schema: map[string]any{"type": "object"}}
}

func (t *cancelOnExecuteTool) Execute(ctx context.Context, input json.RawMessage) (ToolOutput, error) {
	t.calls++
	t.engine.Cancel()
	return ToolOutput{Content: "ok"}, nil
}

func (t *cancelOnExecuteTool) Preview(input json.RawMessage) string { return "" }

// TestRunCancellationMidTools is spec.md S3: cancelling between tool calls
// synthesizes an is_error "cancelled by user" result for every remaining
// call so no ToolUse is left unanswered (P1/P8).
func TestRunCancellationMidTools(t *testing.T) {
	tool := &cancelOnExecuteTool{}
	provider := &scriptedProvider{script: func(call int, req ChatRequest) (ChatResponse, error) {
		return ChatResponse{
			ToolCalls: []ToolCall{
				{ID: "t1", Name: "count_tool", Input: []byte(`{}`)},
				{ID: "t2", Name: "count_tool", Input: []byte(`{}`)},
			},
			StopReason: StopToolUse,
		}, nil
	}}
	e, bus := newTestEngine(provider, tool)
	tool.engine = e
	defer bus.Close()

	out, err := e.Run(context.Background(), []Message{NewUserText("go")}, nil, ThinkingOff)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if tool.calls != 1 {
		t.Fatalf("expected exactly the first tool to execute before cancellation landed, got %d calls", tool.calls)
	}

	results := make(map[string]ContentBlock)
	for _, m := range out {
		for _, b := range m.Content {
			if b.Kind == BlockToolResult {
				results[b.ToolResultID] = b
			}
		}
	}
	if len(results) != 2 {
		t.Fatalf("expected a ToolResult for both t1 and t2 (t2 synthesized as cancelled), got %d", len(results))
	}
	if results["t1"].ToolResultError {
		t.Fatalf("expected t1 (executed before cancellation landed) to succeed: %+v", results["t1"])
	}
	if !results["t2"].ToolResultError {
		t.Fatalf("expected t2 (after cancellation) to be synthesized as cancelled: %+v", results["t2"])
	}
}

// TestExecuteToolsSequentiallyCancellationMidBatch exercises the
// cancel-after-first-tool path directly, since Run cancels before the
// first provider call when the flag is already set at entry.
func TestExecuteToolsSequentiallyCancellationMidBatch(t *testing.T) {
	tool := &countingTool{}
	e, bus := newTestEngine(&scriptedProvider{}, tool)
	defer bus.Close()

	calls := []ToolCall{
		{ID: "t1", Name: "count_tool", Input: []byte(`{}`)},
		{ID: "t2", Name: "count_tool", Input: []byte(`{}`)},
	}
	e.Cancel()
	results, cancelled := e.executeToolsSequentially(context.Background(), calls)
	if !cancelled {
		t.Fatalf("expected cancelled=true")
	}
	if len(results) != 2 {
		t.Fatalf("expected a result for every call, got %d", len(results))
	}
	for _, r := range results {
		if !r.ToolResultError {
			t.Fatalf("expected every post-cancel result to be is_error, got %+v", r)
		}
	}
}

// TestRunMaxTokensStopsLoop is spec.md §4.8: a max_tokens stop reason ends
// the turn even if no tool calls were present.
func TestRunMaxTokensStopsLoop(t *testing.T) {
	provider := &scriptedProvider{script: func(call int, req ChatRequest) (ChatResponse, error) {
		return ChatResponse{ContentBlocks: []ContentBlock{Text("partial")}, StopReason: StopMaxTokens}, nil
	}}
	e, bus := newTestEngine(provider, nil)
	defer bus.Close()

	_, err := e.Run(context.Background(), []Message{NewUserText("hi")}, nil, ThinkingOff)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(provider.calls) != 1 {
		t.Fatalf("expected a single provider call before stopping on max_tokens, got %d", len(provider.calls))
	}
}

// TestRunSequentialToolOrder asserts tools execute strictly in the order
// the model emitted them, never concurrently (spec.md §5).
func TestRunSequentialToolOrder(t *testing.T) {
	var order []string
	tool := &orderTrackingTool{order: &order}
	provider := &scriptedProvider{script: func(call int, req ChatRequest) (ChatResponse, error) {
		if call == 0 {
			return ChatResponse{
				ToolCalls: []ToolCall{
					{ID: "a", Name: "order_tool", Input: []byte(`{"label":"a"}`)},
					{ID: "b", Name: "order_tool", Input: []byte(`{"label":"b"}`)},
					{ID: "c", Name: "order_tool", Input: []byte(`{"label":"c"}`)},
				},
				StopReason: StopToolUse,
			}, nil
		}
		return ChatResponse{ContentBlocks: []ContentBlock{Text("done")}, StopReason: StopEndTurn}, nil
	}}
	e, bus := newTestEngine(provider, tool)
	defer bus.Close()

	if _, err := e.Run(context.Background(), []Message{NewUserText("go")}, nil, ThinkingOff); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("expected strictly sequential a,b,c order, got %v", order)
	}
}

type orderTrackingTool struct {
	order *[]string
}

type orderInput struct {
	Label string `json:"label"`
}

func (t *orderTrackingTool) Spec() ToolSpec {
	return ToolSpec{Name: "order_tool", Description: "records call order", Schema: map[string]any{"type": "object"}}
}

func (t *orderTrackingTool) Execute(ctx context.Context, input json.RawMessage) (ToolOutput, error) {
	var in orderInput
	_ = json.Unmarshal(input, &in)
	*t.order = append(*t.order, in.Label)
	return ToolOutput{Content: "ok"}, nil
}

func (t *orderTrackingTool) Preview(input json.RawMessage) string { return "" }
