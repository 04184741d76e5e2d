// Package compact implements the Compaction Engine (spec.md §4.7): it
// segments a conversation into a compactable prefix and a preserved tail,
// renders the prefix as XML, asks the current provider to summarize it, and
// substitutes a Summary block for the prefix.
package compact

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/henriterm/henri/internal/core"
)

// SummarizationSystemPrompt is sent verbatim as the system message of the
// summarization request, ported from
// original_source/src/compaction.rs's SUMMARIZATION_SYSTEM_PROMPT.
const SummarizationSystemPrompt = `You are summarizing a coding conversation to preserve context.

The conversation is provided in XML format with the following structure:
- <conversation> - root element containing all messages
- <message role="user|assistant"> - individual messages
- <text> - text content within messages
- <thinking> - assistant's reasoning (provider-specific data stripped)
- <tool_call name="..."> - tool invocations with <input> containing JSON parameters
- <tool_result name="..." status="success|error"> - tool outputs
- <image mime_type="..." size_bytes="..."/> - placeholder for images
- <previous_summary messages_compacted="N"> - summaries from prior compactions

Provide a structured summary including:
- What was accomplished
- Current work in progress
- Files modified or discussed
- Key decisions and rationale
- User preferences or constraints
- Next steps if identified

Be detailed enough that work can continue seamlessly. Use markdown formatting.`

// xmlEscape escapes the five characters XML forbids in text/attribute
// content, matching original_source/src/compaction.rs's xml_escape
// byte-for-byte (&, <, >, ", ').
func xmlEscape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '&':
			b.WriteString("&amp;")
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '"':
			b.WriteString("&quot;")
		case '\'':
			b.WriteString("&apos;")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

type toolResultInfo struct {
	content string
	isError bool
}

// extractToolResults indexes a tool-result-only message's blocks by the
// tool_use_id they answer, for pairing against the preceding assistant
// message's ToolUse blocks.
func extractToolResults(msg core.Message) map[string]toolResultInfo {
	out := make(map[string]toolResultInfo)
	for _, b := range msg.Content {
		if b.Kind == core.BlockToolResult {
			out[b.ToolResultID] = toolResultInfo{content: b.ToolResultText, isError: b.ToolResultError}
		}
	}
	return out
}

// BuildHistoryXML renders messages as the XML history format spec.md §4.7
// step 3 names: full content, no truncation, provider-only fields (ids,
// signatures, encrypted_content) stripped, tool calls paired with their
// results inline. Ported from build_history_xml in
// original_source/src/compaction.rs.
func BuildHistoryXML(messages []core.Message) string {
	var xml strings.Builder
	xml.WriteString("<conversation>\n")

	for i := 0; i < len(messages); i++ {
		msg := messages[i]

		if core.IsToolResultOnly(msg) {
			continue // merged into the preceding assistant message below
		}

		var toolResults map[string]toolResultInfo
		if msg.Role == core.RoleAssistant && i+1 < len(messages) && core.IsToolResultOnly(messages[i+1]) {
			toolResults = extractToolResults(messages[i+1])
		}

		xml.WriteString(fmt.Sprintf("  <message role=\"%s\">\n", msg.Role))
		for _, b := range msg.Content {
			switch b.Kind {
			case core.BlockText:
				xml.WriteString(fmt.Sprintf("    <text>%s</text>\n", xmlEscape(b.Text)))
			case core.BlockThinking:
				xml.WriteString(fmt.Sprintf("    <thinking>%s</thinking>\n", xmlEscape(b.Thinking)))
			case core.BlockToolUse:
				xml.WriteString(fmt.Sprintf("    <tool_call name=\"%s\">\n      <input>%s</input>\n", xmlEscape(b.ToolUseName), xmlEscape(string(b.ToolUseInput))))
				if result, ok := toolResults[b.ToolUseID]; ok {
					status := "success"
					if result.isError {
						status = "error"
					}
					xml.WriteString(fmt.Sprintf("      <tool_result name=\"%s\" status=\"%s\">%s</tool_result>\n", xmlEscape(b.ToolUseName), status, xmlEscape(result.content)))
				}
				xml.WriteString("    </tool_call>\n")
			case core.BlockSummary:
				xml.WriteString(fmt.Sprintf("    <previous_summary messages_compacted=\"%s\">%s</previous_summary>\n", strconv.Itoa(b.MessagesCompacted), xmlEscape(b.SummaryText)))
			case core.BlockImage:
				xml.WriteString(fmt.Sprintf("    <image mime_type=\"%s\" size_bytes=\"%d\"/>\n", xmlEscape(b.StandaloneImageMime), len(b.StandaloneImageData)))
			case core.BlockToolResult:
				// Tool results outside a tool-result-only message are not
				// expected to occur; nothing to render.
			}
		}
		xml.WriteString("  </message>\n")
	}

	xml.WriteString("</conversation>")
	return xml.String()
}

// SegmentMessages implements spec.md §4.7 step 1-2: walk right-to-left
// counting turn starts (user messages that are not tool-result-only) until
// preserveRecentTurns have been found, then nudge the split point earlier if
// it would separate a ToolUse from its ToolResult. Returns (toCompact,
// toPreserve).
func SegmentMessages(messages []core.Message, preserveRecentTurns int) (toCompact, toPreserve []core.Message) {
	if len(messages) == 0 {
		return nil, nil
	}

	turnCount := 0
	preserveFromIdx := len(messages)
	for idx := len(messages) - 1; idx >= 0; idx-- {
		msg := messages[idx]
		if msg.Role == core.RoleUser && !core.IsToolResultOnly(msg) {
			turnCount++
			if turnCount > preserveRecentTurns {
				break
			}
			preserveFromIdx = idx
		}
	}

	splitIdx := findSafeSplitPoint(messages, preserveFromIdx)
	return messages[:splitIdx], messages[splitIdx:]
}

// findSafeSplitPoint moves suggestedIdx one message earlier if the message
// immediately before it is an assistant message containing a ToolUse — that
// ToolUse's ToolResult lives at suggestedIdx and must stay on the same side
// of the split (spec.md §4.7 step 2, §8 invariant P2).
func findSafeSplitPoint(messages []core.Message, suggestedIdx int) int {
	if suggestedIdx <= 0 || suggestedIdx >= len(messages) {
		return suggestedIdx
	}
	prev := messages[suggestedIdx-1]
	if prev.Role != core.RoleAssistant {
		return suggestedIdx
	}
	for _, b := range prev.Content {
		if b.Kind == core.BlockToolUse {
			return suggestedIdx - 1
		}
	}
	return suggestedIdx
}

// BuildSummarizationRequestText is the full prompt text sent as the user
// message of the summarization request (spec.md §4.7 step 4).
func BuildSummarizationRequestText(messagesToSummarize []core.Message) string {
	return fmt.Sprintf("Please summarize the following conversation:\n\n%s\n\nProvide a comprehensive summary.",
		BuildHistoryXML(messagesToSummarize))
}

// Summarizer is the narrow slice of core.Adapter the Compaction Engine
// needs: one non-streaming-tool chat call. The Turn Driver passes its
// current provider adapter directly, since core.Adapter already satisfies
// this interface.
type Summarizer interface {
	Chat(ctx context.Context, req core.ChatRequest, bus *core.Bus) (core.ChatResponse, error)
}

// Result is the outcome of a successful Compact call.
type Result struct {
	Messages          []core.Message
	MessagesCompacted int
}

// Compact implements spec.md §4.7 end to end: segment, render, summarize,
// substitute. Tool use is disabled on the summarization call by passing no
// tool definitions, matching step 5's "invoke the current provider through
// C5 with tool use disabled".
func Compact(ctx context.Context, provider Summarizer, messages []core.Message, preserveRecentTurns int) (Result, error) {
	toCompact, toPreserve := SegmentMessages(messages, preserveRecentTurns)
	if len(toCompact) == 0 {
		return Result{Messages: messages, MessagesCompacted: 0}, nil
	}

	req := core.ChatRequest{
		Messages: []core.Message{
			{Role: core.RoleSystem, Content: []core.ContentBlock{core.Text(SummarizationSystemPrompt)}},
			core.NewUserText(BuildSummarizationRequestText(toCompact)),
		},
	}

	bus := core.NewBus(1)
	resp, err := provider.Chat(ctx, req, bus)
	bus.Close()
	if err != nil {
		return Result{}, fmt.Errorf("compaction summarization call failed: %w", err)
	}

	var textParts []string
	for _, b := range resp.ContentBlocks {
		if b.Kind == core.BlockText {
			textParts = append(textParts, b.Text)
		}
	}
	summary := strings.Join(textParts, "\n")

	out := make([]core.Message, 0, 1+len(toPreserve))
	out = append(out, core.Message{Role: core.RoleUser, Content: []core.ContentBlock{core.Summary(summary, len(toCompact))}})
	out = append(out, toPreserve...)

	return Result{Messages: out, MessagesCompacted: len(toCompact)}, nil
}
