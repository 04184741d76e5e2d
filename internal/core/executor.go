package core

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"
	"github.com/sahilm/fuzzy"
)

// DiagnosticsProvider is the LSP collaborator consulted after a successful
// file_write/file_edit, per spec.md §4.2 step 6. It is an external
// collaborator, not part of the core's own state, matching spec.md §1's
// framing of LSP/editor integration as outside the turn engine proper.
type DiagnosticsProvider interface {
	// Diagnostics returns a formatted diagnostics string for path, or ""
	// if there is nothing to report. Callers bound this to the 500ms
	// fixed wait spec.md §5 "Timeouts" specifies via ctx.
	Diagnostics(ctx context.Context, path string) (string, error)
}

// Executor implements the Tool Executor contract of spec.md §4.2 (C3).
type Executor struct {
	Registry   *Registry
	ReadOnly   bool
	Diagnostic DiagnosticsProvider // optional; nil disables step 6
	// OutputLimit truncates tool output beyond this many bytes, preserving
	// head and tail (spec.md §9 "tool output truncation"); 0 disables it.
	OutputLimit int
}

// NewExecutor constructs an Executor bound to a registry.
func NewExecutor(reg *Registry, readOnly bool) *Executor {
	return &Executor{Registry: reg, ReadOnly: readOnly}
}

// filePathTouchingTools are the tool names whose successful execution
// triggers the LSP diagnostics hook (spec.md §4.2 step 6, "For file_write/
// file_edit only").
var filePathTouchingTools = map[string]bool{
	"file_write": true,
	"file_edit":  true,
}

// Execute runs the full C3 contract and returns a ready-to-append
// ToolResult content block. It never returns a non-nil error: every
// failure mode the contract enumerates (unknown tool, bad schema,
// read-only gate, panic, underlying tool error) becomes an is_error
// ToolResult so the turn driver can keep going, per spec.md §4.2's closing
// sentence and §7's ToolFailed propagation policy.
func (e *Executor) Execute(ctx context.Context, call ToolCall) (block ContentBlock) {
	id := call.ID
	if id == "" {
		id = uuid.NewString()
	}

	defer func() {
		if r := recover(); r != nil {
			block = ToolResultBlock(id, fmt.Sprintf("tool panicked: %v", r), true, nil, "")
		}
	}()

	tool, ok := e.Registry.Get(call.Name)
	if !ok {
		return ToolResultBlock(id, e.unknownToolMessage(call.Name), true, nil, "")
	}

	spec := tool.Spec()

	if err := validateAgainstSchema(spec.Schema, call.Input); err != nil {
		return ToolResultBlock(id, err.Error(), true, nil, "")
	}

	if e.ReadOnly && !spec.IsReadOnly {
		return ToolResultBlock(id, "tool disabled in read-only mode", true, nil, "")
	}

	out, err := tool.Execute(ctx, call.Input)
	if err != nil {
		return ToolResultBlock(id, err.Error(), true, nil, "")
	}

	content := e.truncate(out.Content)

	if !out.IsError && filePathTouchingTools[call.Name] && e.Diagnostic != nil {
		if path := extractFilePath(call.Input); path != "" {
			if diag, derr := e.Diagnostic.Diagnostics(ctx, path); derr == nil && diag != "" {
				content += "\n\n" + diag
			}
		}
	}

	return ToolResultBlock(id, content, out.IsError, out.ImageData, out.MimeType)
}

func (e *Executor) truncate(s string) string {
	if e.OutputLimit <= 0 || len(s) <= e.OutputLimit {
		return s
	}
	head := e.OutputLimit / 2
	tail := e.OutputLimit - head
	return fmt.Sprintf("%s\n... [truncated %d bytes] ...\n%s", s[:head], len(s)-e.OutputLimit, s[len(s)-tail:])
}

// unknownToolMessage builds spec.md's literal "unknown tool: <name>" error,
// enriched with a fuzzy-matched suggestion against the registered set for
// easier model self-correction — a debug-quality-of-life addition, not a
// protocol change (the is_error content remains free text).
func (e *Executor) unknownToolMessage(name string) string {
	names := make([]string, 0, len(e.Registry.tools))
	for n := range e.Registry.tools {
		names = append(names, n)
	}
	matches := fuzzy.Find(name, names)
	if len(matches) > 0 {
		return fmt.Sprintf("unknown tool: %s (did you mean %q?)", name, names[matches[0].Index])
	}
	return fmt.Sprintf("unknown tool: %s", name)
}

// validateAgainstSchema validates the raw call input against a tool's JSON
// Schema, used for adapter-side validation hints per spec.md §4.2 step 3.
func validateAgainstSchema(schema map[string]any, input json.RawMessage) error {
	if schema == nil {
		return nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("internal error encoding tool schema: %w", err)
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return fmt.Errorf("internal error decoding tool schema: %w", err)
	}
	resolved, err := s.Resolve(nil)
	if err != nil {
		return fmt.Errorf("internal error resolving tool schema: %w", err)
	}
	var value any
	if len(input) > 0 {
		if err := json.Unmarshal(input, &value); err != nil {
			return fmt.Errorf("invalid tool arguments: %w", err)
		}
	}
	if err := resolved.Validate(value); err != nil {
		return fmt.Errorf("invalid tool arguments: %w", err)
	}
	return nil
}

// extractFilePath pulls a "file_path" or "path" field out of a tool call's
// JSON input, used only to locate the LSP diagnostics target.
func extractFilePath(input json.RawMessage) string {
	var probe struct {
		FilePath string `json:"file_path"`
		Path     string `json:"path"`
	}
	if err := json.Unmarshal(input, &probe); err != nil {
		return ""
	}
	if probe.FilePath != "" {
		return probe.FilePath
	}
	return probe.Path
}
