// Package core implements Henri's agent turn engine: the canonical message
// model, tool registry and executor, provider adapters, usage tracking,
// auth refresh, the turn driver, and the output event bus.
package core

import "encoding/json"

// Role identifies a message's speaker.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// BlockKind discriminates a ContentBlock's variant.
type BlockKind string

const (
	BlockText       BlockKind = "text"
	BlockThinking   BlockKind = "thinking"
	BlockToolUse    BlockKind = "tool_use"
	BlockToolResult BlockKind = "tool_result"
	BlockImage      BlockKind = "image"
	BlockSummary    BlockKind = "summary"
)

// ContentBlock is the tagged union described in spec.md §3. Exactly one of
// the per-kind field groups is populated, selected by Kind. Blocks are
// immutable once constructed; the zero value of a field group not matching
// Kind is simply unused rather than validated, matching the teacher's
// Part/PartType convention in internal/llm/types.go generalized with the
// additional kinds (Thinking, Image, Summary) and provider-roundtrip fields
// spec.md requires.
type ContentBlock struct {
	Kind BlockKind

	// BlockText
	Text string

	// BlockThinking
	Thinking     string
	ProviderData string // opaque provider-encrypted reasoning bytes (OpenAI encrypted_content), base64 or raw as received

	// BlockToolUse
	ToolUseID       string
	ToolUseName     string
	ToolUseInput    json.RawMessage
	ThoughtSig      string // Gemini thoughtSignature, round-tripped on ToolUse

	// BlockToolResult
	ToolResultID    string // tool_use_id being answered
	ToolResultText  string
	ToolResultError bool
	ImageData       []byte
	ImageMimeType   string

	// BlockImage (standalone, not attached to a tool result)
	StandaloneImageMime string
	StandaloneImageData []byte

	// BlockSummary
	SummaryText       string
	MessagesCompacted int
}

// Text constructs a text block.
func Text(s string) ContentBlock { return ContentBlock{Kind: BlockText, Text: s} }

// Thinking constructs a thinking block, optionally with provider round-trip data.
func Thinking(s, providerData string) ContentBlock {
	return ContentBlock{Kind: BlockThinking, Thinking: s, ProviderData: providerData}
}

// ToolUse constructs a tool-use block.
func ToolUse(id, name string, input json.RawMessage, thoughtSig string) ContentBlock {
	return ContentBlock{Kind: BlockToolUse, ToolUseID: id, ToolUseName: name, ToolUseInput: input, ThoughtSig: thoughtSig}
}

// ToolResultBlock constructs a tool-result block.
func ToolResultBlock(toolUseID, text string, isError bool, imageData []byte, mimeType string) ContentBlock {
	return ContentBlock{
		Kind:            BlockToolResult,
		ToolResultID:    toolUseID,
		ToolResultText:  text,
		ToolResultError: isError,
		ImageData:       imageData,
		ImageMimeType:   mimeType,
	}
}

// Image constructs a standalone image block.
func Image(mimeType string, data []byte) ContentBlock {
	return ContentBlock{Kind: BlockImage, StandaloneImageMime: mimeType, StandaloneImageData: data}
}

// Summary constructs a compaction-artifact block.
func Summary(text string, messagesCompacted int) ContentBlock {
	return ContentBlock{Kind: BlockSummary, SummaryText: text, MessagesCompacted: messagesCompacted}
}

// Message is one turn's worth of content from a single role. Content is
// always represented as an ordered block sequence; a plain-text message is
// simply a single-element slice, matching spec.md §3's "either a single
// text string or an ordered sequence of content blocks" by normalizing the
// former into the latter at construction time.
type Message struct {
	Role    Role
	Content []ContentBlock
}

// NewUserText builds a one-block user message.
func NewUserText(s string) Message { return Message{Role: RoleUser, Content: []ContentBlock{Text(s)}} }

// NewAssistantBlocks builds an assistant message from already-built blocks.
func NewAssistantBlocks(blocks []ContentBlock) Message {
	return Message{Role: RoleAssistant, Content: blocks}
}

// NewToolResults builds a user message carrying only tool-result blocks,
// the shape spec.md §3 invariant (c) calls out for special adapter merging.
func NewToolResults(results []ContentBlock) Message {
	return Message{Role: RoleUser, Content: results}
}

// IsToolResultOnly implements spec.md §4.1's is_tool_result_only predicate:
// msg.role == user ∧ ∀ block ∈ msg.content: block is ToolResult.
func IsToolResultOnly(msg Message) bool {
	if msg.Role != RoleUser || len(msg.Content) == 0 {
		return false
	}
	for _, b := range msg.Content {
		if b.Kind != BlockToolResult {
			return false
		}
	}
	return true
}

// StopReason is the terminal state of a single provider call.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
	StopUnknown   StopReason = "unknown"
)

// ToolCall is the transient, provider-agnostic representation of a single
// requested tool invocation, emitted by the stream parser (C4/C5) and
// consumed by the Turn Driver (C9).
type ToolCall struct {
	ID         string
	Name       string
	Input      json.RawMessage
	ThoughtSig string
}

// ChatResponse is the result of one complete provider call.
type ChatResponse struct {
	ContentBlocks []ContentBlock
	ToolCalls     []ToolCall
	StopReason    StopReason
	Usage         UsageDelta
}

// UsageDelta is the token delta reported by a single provider call,
// consumed by the Usage & Context Tracker (C6).
type UsageDelta struct {
	InputTokens      int
	OutputTokens     int
	CacheReadTokens  int
	CacheWriteTokens int
}

// ToolSpec describes a callable tool's schema as transmitted to a provider.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
	IsReadOnly  bool
}

// ThinkingMode is the session's reasoning-effort configuration, mapped by
// each adapter to its own dialect's knob (spec.md §4.4-iv). The zero value
// and ThinkingOff are deliberately identical per spec.md §9 Open Question
// (ii): "only 'off' (and absent) map to an omitted thinking field."
type ThinkingMode string

const (
	ThinkingOff    ThinkingMode = ""
	ThinkingLow    ThinkingMode = "low"
	ThinkingMedium ThinkingMode = "medium"
	ThinkingHigh   ThinkingMode = "high"
	ThinkingXHigh  ThinkingMode = "xhigh"
)

// Enabled reports whether this mode requests any reasoning budget at all.
func (m ThinkingMode) Enabled() bool {
	return m != ThinkingOff
}

// AnthropicBudgetTokens maps the mode to Anthropic's budget_tokens knob per
// spec.md §4.4(iv): {off→absent, low→4000, medium→16000, high→32000, xhigh→48000}.
func (m ThinkingMode) AnthropicBudgetTokens() (int, bool) {
	switch m {
	case ThinkingLow:
		return 4000, true
	case ThinkingMedium:
		return 16000, true
	case ThinkingHigh:
		return 32000, true
	case ThinkingXHigh:
		return 48000, true
	default:
		return 0, false
	}
}

// ReasoningEffort maps the mode to the string knob OpenAI Responses, Gemini
// and Copilot's GPT-5 family all accept directly.
func (m ThinkingMode) ReasoningEffort() (string, bool) {
	if !m.Enabled() {
		return "", false
	}
	return string(m), true
}
