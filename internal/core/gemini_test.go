package core

import (
	"context"
	"io"
	"strings"
	"testing"
)

func TestGeminiAdapterBuildThinkingBudget(t *testing.T) {
	a := &GeminiAdapter{ProviderID: "gemini", ModelID: "gemini-3-pro"}
	a.SetThinkingMode(ThinkingHigh)
	body := a.build(ChatRequest{Messages: []Message{NewUserText("hi")}})

	if body.SystemInstruction == nil || len(body.SystemInstruction.Parts) == 0 || !strings.Contains(body.SystemInstruction.Parts[0].Text, CommonSystemPrompt) {
		t.Fatalf("expected systemInstruction to include the common app prompt, got %+v", body.SystemInstruction)
	}
	wantBudget, _ := ThinkingHigh.AnthropicBudgetTokens()
	cfg, _ := body.GenerationConfig["thinkingConfig"].(map[string]any)
	if cfg == nil || cfg["thinkingBudget"] != wantBudget || cfg["includeThoughts"] != true {
		t.Fatalf("expected thinkingConfig.thinkingBudget=%d includeThoughts=true, got %+v", wantBudget, cfg)
	}
}

func TestGeminiAdapterBuildContentsRoundTripsThoughtSignature(t *testing.T) {
	a := &GeminiAdapter{ProviderID: "gemini", ModelID: "gemini-3-pro"}
	messages := []Message{
		{Role: RoleAssistant, Content: []ContentBlock{
			ToolUse("call_1", "bash", []byte(`{"cmd":"ls"}`), "sig-xyz"),
		}},
	}
	contents := a.buildContents(messages)
	if len(contents) != 1 || contents[0].Role != "model" || len(contents[0].Parts) != 1 {
		t.Fatalf("expected one model-role content with one part, got %+v", contents)
	}
	part := contents[0].Parts[0]
	if part.FunctionCall == nil || part.FunctionCall.Name != "bash" {
		t.Fatalf("expected functionCall part named bash, got %+v", part)
	}
	if part.ThoughtSignature != "sig-xyz" {
		t.Fatalf("expected thoughtSignature to round-trip, got %q", part.ThoughtSignature)
	}
}

func TestGeminiAdapterConsumeParsesTextThoughtAndFunctionCall(t *testing.T) {
	sse := strings.Join([]string{
		`data: {"candidates":[{"content":{"parts":[{"text":"thinking...","thought":true,"thoughtSignature":"sig-1"}]}}]}`,
		``,
		`data: {"candidates":[{"content":{"parts":[{"text":"hi"}]}}]}`,
		``,
		`data: {"candidates":[{"content":{"parts":[{"functionCall":{"name":"bash","args":{"cmd":"ls"}},"thoughtSignature":"sig-2"}]}}],"usageMetadata":{"promptTokenCount":6,"candidatesTokenCount":4}}`,
		``,
	}, "\n") + "\n"

	a := &GeminiAdapter{ProviderID: "gemini", ModelID: "gemini-3-pro"}
	bus := NewBus(64)
	resp, err := a.consume(context.Background(), io.NopCloser(strings.NewReader(sse)), bus)
	bus.Close()
	if err != nil {
		t.Fatalf("consume returned error: %v", err)
	}
	if resp.StopReason != StopToolUse {
		t.Fatalf("expected StopToolUse, got %v", resp.StopReason)
	}
	if resp.Usage.InputTokens != 6 || resp.Usage.OutputTokens != 4 {
		t.Fatalf("expected usage 6 in / 4 out, got %+v", resp.Usage)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "bash" || resp.ToolCalls[0].ThoughtSig != "sig-2" {
		t.Fatalf("expected one tool call named bash carrying thoughtSignature sig-2, got %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].ID == "" {
		t.Fatalf("expected a synthesized call id since Gemini omits one, got empty")
	}
	foundThinking := false
	for _, b := range resp.ContentBlocks {
		if b.Kind == BlockThinking && strings.Contains(b.Thinking, "thinking...") {
			foundThinking = true
		}
	}
	if !foundThinking {
		t.Fatalf("expected a thinking block in response, got %+v", resp.ContentBlocks)
	}
}
