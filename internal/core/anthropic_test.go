package core

import (
	"context"
	"io"
	"strings"
	"testing"
)

func TestAnthropicAdapterBuildOmitsThinkingWhenOff(t *testing.T) {
	a := &AnthropicAdapter{ModelID: "claude-opus-4-6"}
	req := ChatRequest{Messages: []Message{NewUserText("hi")}}

	ar := a.build(req)
	if ar.Thinking != nil {
		t.Fatalf("expected no thinking block with ThinkingMode off, got %v", ar.Thinking)
	}
	if ar.Model != "claude-opus-4-6" {
		t.Fatalf("expected model to pass through, got %q", ar.Model)
	}
	if ar.MaxTokens != 8192 {
		t.Fatalf("expected default max_tokens 8192, got %d", ar.MaxTokens)
	}
}

func TestAnthropicAdapterBuildIdentityPreambleUnderOAuth(t *testing.T) {
	a := &AnthropicAdapter{ModelID: "claude-opus-4-6", OAuth: true}
	ar := a.build(ChatRequest{Messages: []Message{NewUserText("hi")}})
	if len(ar.System) == 0 || !strings.Contains(ar.System[0].Text, "Claude Code") {
		t.Fatalf("expected OAuth mode to prepend the Claude Code identity line, got %+v", ar.System)
	}
}

func TestAnthropicAdapterConsumeParsesStreamedTextAndToolUse(t *testing.T) {
	sse := strings.Join([]string{
		`event: message_start`,
		`data: {"type":"message_start","message":{"usage":{"input_tokens":10}}}`,
		``,
		`event: content_block_start`,
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"text"}}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hi"}}`,
		``,
		`event: content_block_stop`,
		`data: {"type":"content_block_stop","index":0}`,
		``,
		`event: content_block_start`,
		`data: {"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"call_1","name":"Bash"}}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"cmd\":\"ls\"}"}}`,
		``,
		`event: content_block_stop`,
		`data: {"type":"content_block_stop","index":1}`,
		``,
		`event: message_delta`,
		`data: {"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":5}}`,
		``,
	}, "\n") + "\n"

	a := &AnthropicAdapter{ModelID: "claude-opus-4-6"}
	bus := NewBus(64)
	resp, err := a.consume(context.Background(), io.NopCloser(strings.NewReader(sse)), bus)
	bus.Close()
	if err != nil {
		t.Fatalf("consume returned error: %v", err)
	}
	if resp.StopReason != StopToolUse {
		t.Fatalf("expected StopToolUse, got %v", resp.StopReason)
	}
	if resp.Usage.InputTokens != 10 || resp.Usage.OutputTokens != 5 {
		t.Fatalf("expected usage 10 in / 5 out, got %+v", resp.Usage)
	}
	if len(resp.ContentBlocks) != 2 {
		t.Fatalf("expected a text block and a tool_use block, got %d", len(resp.ContentBlocks))
	}
	if resp.ContentBlocks[0].Text != "hi" {
		t.Fatalf("expected streamed text %q, got %q", "hi", resp.ContentBlocks[0].Text)
	}
	toolBlock := resp.ContentBlocks[1]
	if toolBlock.Kind != BlockToolUse || toolBlock.ToolUseName != "bash" {
		t.Fatalf("expected FromClaudeCodeName(\"Bash\") == \"bash\", got %+v", toolBlock)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "bash" || resp.ToolCalls[0].ID != "call_1" {
		t.Fatalf("expected one tool call named bash with id call_1, got %+v", resp.ToolCalls)
	}
}
