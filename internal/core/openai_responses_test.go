package core

import (
	"context"
	"io"
	"strings"
	"testing"
)

func TestResponsesAdapterBuildIncludesReasoningSummary(t *testing.T) {
	a := &ResponsesAdapter{ProviderID: "openai-responses", ModelID: "gpt-5"}
	a.SetThinkingMode(ThinkingHigh)
	body := a.build(ChatRequest{Messages: []Message{NewUserText("hi")}})

	if !strings.Contains(body.Instructions, CommonSystemPrompt) {
		t.Fatalf("expected instructions to include the common app prompt")
	}
	effort, _ := ThinkingHigh.ReasoningEffort()
	if body.Reasoning == nil || body.Reasoning["effort"] != effort || body.Reasoning["summary"] != "auto" {
		t.Fatalf("expected reasoning.effort=%q and summary=auto, got %+v", effort, body.Reasoning)
	}
}

func TestResponsesAdapterBuildInputRoundTripsEncryptedReasoning(t *testing.T) {
	a := &ResponsesAdapter{ProviderID: "openai-responses", ModelID: "gpt-5"}
	messages := []Message{
		{Role: RoleAssistant, Content: []ContentBlock{
			Thinking("scratch", "opaque-blob"),
			Text("hi"),
		}},
	}
	items := a.buildInput(messages)
	if len(items) != 2 {
		t.Fatalf("expected a reasoning item and a message item, got %d: %+v", len(items), items)
	}
	if items[0].Type != "reasoning" || items[0].EncryptedContent != "opaque-blob" {
		t.Fatalf("expected reasoning item to carry encrypted_content verbatim, got %+v", items[0])
	}
	if items[1].Type != "message" || items[1].Role != "assistant" {
		t.Fatalf("expected assistant message item, got %+v", items[1])
	}
}

func TestResponsesAdapterConsumeParsesStreamedTextAndFunctionCall(t *testing.T) {
	sse := strings.Join([]string{
		`data: {"type":"response.output_text.delta","delta":"hi"}`,
		``,
		`data: {"type":"response.output_item.added","item":{"id":"item_1","type":"function_call","call_id":"call_1","name":"bash"}}`,
		``,
		`data: {"type":"response.function_call_arguments.delta","item_id":"item_1","delta":"{\"cmd\":\"ls\"}"}`,
		``,
		`data: {"type":"response.output_item.done","item":{"id":"item_1","type":"function_call"}}`,
		``,
		`data: {"type":"response.completed","response":{"usage":{"input_tokens":4,"output_tokens":2}}}`,
		``,
	}, "\n") + "\n"

	a := &ResponsesAdapter{ProviderID: "openai-responses", ModelID: "gpt-5"}
	bus := NewBus(64)
	resp, err := a.consume(context.Background(), io.NopCloser(strings.NewReader(sse)), bus)
	bus.Close()
	if err != nil {
		t.Fatalf("consume returned error: %v", err)
	}
	if resp.StopReason != StopToolUse {
		t.Fatalf("expected StopToolUse, got %v", resp.StopReason)
	}
	if resp.Usage.InputTokens != 4 || resp.Usage.OutputTokens != 2 {
		t.Fatalf("expected usage 4 in / 2 out, got %+v", resp.Usage)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "call_1" || resp.ToolCalls[0].Name != "bash" {
		t.Fatalf("expected one tool call id=call_1 name=bash, got %+v", resp.ToolCalls)
	}
}
