package compact

import (
	"context"
	"strings"
	"testing"

	"github.com/henriterm/henri/internal/core"
)

func TestSegmentEmptyMessages(t *testing.T) {
	toCompact, toPreserve := SegmentMessages(nil, 2)
	if len(toCompact) != 0 || len(toPreserve) != 0 {
		t.Fatalf("expected both empty, got %d/%d", len(toCompact), len(toPreserve))
	}
}

func TestSegmentFewMessagesPreserveZero(t *testing.T) {
	messages := []core.Message{
		core.NewUserText("Hello"),
		core.NewAssistantBlocks([]core.ContentBlock{core.Text("Hi!")}),
	}
	toCompact, toPreserve := SegmentMessages(messages, 0)
	if len(toCompact) != 2 {
		t.Fatalf("expected 2 compacted, got %d", len(toCompact))
	}
	if len(toPreserve) != 0 {
		t.Fatalf("expected 0 preserved, got %d", len(toPreserve))
	}
}

func TestSegmentMultipleTurns(t *testing.T) {
	messages := []core.Message{
		core.NewUserText("First message"),
		core.NewAssistantBlocks([]core.ContentBlock{core.Text("First response")}),
		core.NewUserText("Second message"),
		core.NewAssistantBlocks([]core.ContentBlock{core.Text("Second response")}),
		core.NewUserText("Third message"),
		core.NewAssistantBlocks([]core.ContentBlock{core.Text("Third response")}),
	}
	toCompact, toPreserve := SegmentMessages(messages, 2)
	if len(toCompact) != 2 {
		t.Fatalf("expected 2 compacted, got %d", len(toCompact))
	}
	if len(toPreserve) != 4 {
		t.Fatalf("expected 4 preserved, got %d", len(toPreserve))
	}
}

// TestSegmentPreservesToolPair is spec.md S5: splitting must never separate
// a ToolUse from its ToolResult.
func TestSegmentPreservesToolPair(t *testing.T) {
	messages := []core.Message{
		core.NewUserText("u1"),
		core.NewAssistantBlocks([]core.ContentBlock{core.ToolUse("t1", "list_dir", []byte(`{}`), "")}),
		core.NewToolResults([]core.ContentBlock{core.ToolResultBlock("t1", "a.txt", false, nil, "")}),
		core.NewUserText("u3"),
		core.NewAssistantBlocks([]core.ContentBlock{core.Text("a3")}),
	}
	toCompact, toPreserve := SegmentMessages(messages, 1)
	if len(toCompact) != 3 {
		t.Fatalf("expected split before u3 (3 compacted), got %d", len(toCompact))
	}
	if len(toPreserve) != 2 {
		t.Fatalf("expected 2 preserved, got %d", len(toPreserve))
	}
	for _, m := range toCompact {
		for _, b := range m.Content {
			if b.Kind == core.BlockToolUse {
				found := false
				for _, other := range toCompact {
					for _, ob := range other.Content {
						if ob.Kind == core.BlockToolResult && ob.ToolResultID == b.ToolUseID {
							found = true
						}
					}
				}
				if !found {
					t.Fatalf("ToolUse %s split from its ToolResult", b.ToolUseID)
				}
			}
		}
	}
}

func TestXMLEscape(t *testing.T) {
	cases := map[string]string{
		"hello":                           "hello",
		"<tag>":                           "&lt;tag&gt;",
		"a & b":                           "a &amp; b",
		`"quoted"`:                        "&quot;quoted&quot;",
		"it's":                            "it&apos;s",
		"<script>alert('xss')</script>": "&lt;script&gt;alert(&apos;xss&apos;)&lt;/script&gt;",
	}
	for in, want := range cases {
		if got := xmlEscape(in); got != want {
			t.Errorf("xmlEscape(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBuildHistoryXMLSimpleConversation(t *testing.T) {
	messages := []core.Message{
		core.NewUserText("Hello"),
		core.NewAssistantBlocks([]core.ContentBlock{core.Text("Hi there!")}),
	}
	xml := BuildHistoryXML(messages)
	if !strings.HasPrefix(xml, "<conversation>") || !strings.HasSuffix(xml, "</conversation>") {
		t.Fatalf("missing conversation wrapper: %s", xml)
	}
	for _, want := range []string{
		`<message role="user">`, "<text>Hello</text>",
		`<message role="assistant">`, "<text>Hi there!</text>",
	} {
		if !strings.Contains(xml, want) {
			t.Errorf("xml missing %q:\n%s", want, xml)
		}
	}
}

// TestBuildHistoryXMLNoProviderFields is spec.md P4: the XML must carry no
// id= attributes nor signature/encrypted_content fields.
func TestBuildHistoryXMLNoProviderFields(t *testing.T) {
	messages := []core.Message{
		core.NewUserText("do it"),
		core.NewAssistantBlocks([]core.ContentBlock{
			core.Thinking("reasoning...", "opaque-provider-bytes"),
			core.ToolUse("call-123", "bash", []byte(`{"cmd":"ls"}`), "thought-sig-xyz"),
		}),
		core.NewToolResults([]core.ContentBlock{core.ToolResultBlock("call-123", "a.txt", false, nil, "")}),
	}
	xml := BuildHistoryXML(messages)
	for _, forbidden := range []string{"call-123", "opaque-provider-bytes", "thought-sig-xyz", `id="`} {
		if strings.Contains(xml, forbidden) {
			t.Errorf("xml leaked provider-only field %q:\n%s", forbidden, xml)
		}
	}
	if !strings.Contains(xml, `<tool_call name="bash">`) || !strings.Contains(xml, `<tool_result name="bash" status="success">a.txt</tool_result>`) {
		t.Errorf("tool call/result pairing missing:\n%s", xml)
	}
}

func TestBuildSummarizationRequestText(t *testing.T) {
	messages := []core.Message{
		core.NewUserText("What is 2+2?"),
		core.NewAssistantBlocks([]core.ContentBlock{core.Text("2+2 equals 4")}),
	}
	text := BuildSummarizationRequestText(messages)
	for _, want := range []string{"summarize", "<conversation>", "</conversation>", `<message role="user">`, `<message role="assistant">`} {
		if !strings.Contains(text, want) {
			t.Errorf("summarization text missing %q", want)
		}
	}
}

func TestSummarizationSystemPrompt(t *testing.T) {
	for _, want := range []string{"summarizing", "accomplished", "XML format", "<conversation>"} {
		if !strings.Contains(SummarizationSystemPrompt, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
}

type fakeSummarizer struct {
	text string
}

func (f *fakeSummarizer) Chat(ctx context.Context, req core.ChatRequest, bus *core.Bus) (core.ChatResponse, error) {
	if len(req.Tools) != 0 {
		panic("compaction must disable tool use")
	}
	return core.ChatResponse{ContentBlocks: []core.ContentBlock{core.Text(f.text)}, StopReason: core.StopEndTurn}, nil
}

// TestCompactEndToEnd mirrors spec.md S5.
func TestCompactEndToEnd(t *testing.T) {
	messages := []core.Message{
		core.NewUserText("u1"),
		core.NewAssistantBlocks([]core.ContentBlock{core.ToolUse("t1", "list_dir", []byte(`{}`), "")}),
		core.NewToolResults([]core.ContentBlock{core.ToolResultBlock("t1", "a.txt", false, nil, "")}),
		core.NewUserText("u3"),
		core.NewAssistantBlocks([]core.ContentBlock{core.Text("a3")}),
	}
	result, err := Compact(context.Background(), &fakeSummarizer{text: "summary text"}, messages, 1)
	if err != nil {
		t.Fatalf("Compact failed: %v", err)
	}
	if result.MessagesCompacted != 3 {
		t.Fatalf("expected 3 messages compacted, got %d", result.MessagesCompacted)
	}
	if len(result.Messages) != 3 {
		t.Fatalf("expected summary + 2 preserved messages, got %d", len(result.Messages))
	}
	if result.Messages[0].Content[0].Kind != core.BlockSummary {
		t.Fatalf("expected first message to be a Summary block")
	}
	if result.Messages[0].Content[0].SummaryText != "summary text" {
		t.Fatalf("summary text mismatch: %q", result.Messages[0].Content[0].SummaryText)
	}

	// No ToolUse should be left without its ToolResult anywhere in the result.
	for _, m := range result.Messages {
		for _, b := range m.Content {
			if b.Kind == core.BlockToolUse {
				t.Fatalf("unexpected ToolUse survived compaction: %s", b.ToolUseID)
			}
		}
	}
}
