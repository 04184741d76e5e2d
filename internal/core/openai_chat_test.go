package core

import (
	"context"
	"io"
	"strings"
	"testing"
)

func TestChatCompletionsAdapterBuildSystemAndReasoningEffort(t *testing.T) {
	a := &ChatCompletionsAdapter{ProviderID: "openai", ModelID: "gpt-5"}
	a.SetThinkingMode(ThinkingHigh)
	req := ChatRequest{Messages: []Message{NewUserText("hi")}}

	body := a.build(req)
	if len(body.Messages) == 0 || body.Messages[0].Role != "system" {
		t.Fatalf("expected first message to be system, got %+v", body.Messages)
	}
	if !strings.Contains(body.Messages[0].Content, CommonSystemPrompt) {
		t.Fatalf("expected system content to include the common app prompt")
	}
	effort, _ := ThinkingHigh.ReasoningEffort()
	if body.ReasoningEffort != effort {
		t.Fatalf("expected reasoning_effort %q, got %q", effort, body.ReasoningEffort)
	}
}

func TestChatCompletionsAdapterBuildCopilotGPT5UsesNestedReasoning(t *testing.T) {
	a := &ChatCompletionsAdapter{ProviderID: "copilot", ModelID: "gpt-5"}
	a.SetThinkingMode(ThinkingHigh)
	body := a.build(ChatRequest{Messages: []Message{NewUserText("hi")}})
	if body.ReasoningEffort != "" {
		t.Fatalf("expected flat reasoning_effort to stay empty for copilot gpt-5, got %q", body.ReasoningEffort)
	}
	if body.Reasoning == nil || body.Reasoning["effort"] == "" {
		t.Fatalf("expected nested reasoning.effort for copilot gpt-5, got %+v", body.Reasoning)
	}
}

func TestChatCompletionsAdapterConsumeParsesStreamedTextAndToolCalls(t *testing.T) {
	sse := strings.Join([]string{
		`data: {"choices":[{"delta":{"content":"hi"}}]}`,
		``,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"bash","arguments":"{\"cmd\":"}}]}}]}`,
		``,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"ls\"}"}}]}},"finish_reason":"tool_calls"}]}`,
		``,
		`data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}],"usage":{"prompt_tokens":7,"completion_tokens":3}}`,
		``,
	}, "\n") + "\n"

	a := &ChatCompletionsAdapter{ProviderID: "openai", ModelID: "gpt-5"}
	bus := NewBus(64)
	resp, err := a.consume(context.Background(), io.NopCloser(strings.NewReader(sse)), bus)
	bus.Close()
	if err != nil {
		t.Fatalf("consume returned error: %v", err)
	}
	if resp.StopReason != StopToolUse {
		t.Fatalf("expected StopToolUse, got %v", resp.StopReason)
	}
	if resp.Usage.InputTokens != 7 || resp.Usage.OutputTokens != 3 {
		t.Fatalf("expected usage 7 in / 3 out, got %+v", resp.Usage)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "call_1" || resp.ToolCalls[0].Name != "bash" {
		t.Fatalf("expected one accumulated tool call named bash with id call_1, got %+v", resp.ToolCalls)
	}
}

func TestMapChatFinishReason(t *testing.T) {
	cases := map[string]StopReason{
		"stop":          StopEndTurn,
		"tool_calls":    StopToolUse,
		"function_call": StopToolUse,
		"length":        StopMaxTokens,
		"content_filter": StopUnknown,
	}
	for in, want := range cases {
		if got := mapChatFinishReason(in); got != want {
			t.Errorf("mapChatFinishReason(%q) = %v, want %v", in, got, want)
		}
	}
}
