package core

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

type execStubTool struct {
	spec    ToolSpec
	out     ToolOutput
	err     error
	panics  bool
}

func (s execStubTool) Spec() ToolSpec { return s.spec }

func (s execStubTool) Execute(ctx context.Context, input json.RawMessage) (ToolOutput, error) {
	if s.panics {
		panic("boom")
	}
	return s.out, s.err
}

func (s execStubTool) Preview(input json.RawMessage) string { return "" }

func newExecReg(t Tool) *Registry {
	r := NewRegistry()
	r.Register(t)
	return r
}

func TestExecutorUnknownToolProducesErrorResult(t *testing.T) {
	e := NewExecutor(NewRegistry(), false)
	block := e.Execute(context.Background(), ToolCall{ID: "1", Name: "frobnicate"})

	if !block.ToolResultError {
		t.Fatal("ToolResultError = false, want true")
	}
	if !strings.Contains(block.ToolResultText, "unknown tool: frobnicate") {
		t.Fatalf("text = %q, missing unknown tool message", block.ToolResultText)
	}
}

func TestExecutorUnknownToolSuggestsFuzzyMatch(t *testing.T) {
	reg := newExecReg(execStubTool{spec: ToolSpec{Name: "read_file"}})
	e := NewExecutor(reg, false)

	block := e.Execute(context.Background(), ToolCall{ID: "1", Name: "read_fle"})
	if !strings.Contains(block.ToolResultText, "did you mean") {
		t.Fatalf("text = %q, want a fuzzy suggestion", block.ToolResultText)
	}
}

func TestExecutorReadOnlyGateBlocksWriteTools(t *testing.T) {
	reg := newExecReg(execStubTool{spec: ToolSpec{Name: "shell", IsReadOnly: false}})
	e := NewExecutor(reg, true)

	block := e.Execute(context.Background(), ToolCall{ID: "1", Name: "shell"})
	if !block.ToolResultError {
		t.Fatal("expected an error result under read-only gate")
	}
	if !strings.Contains(block.ToolResultText, "read-only") {
		t.Fatalf("text = %q, want read-only mention", block.ToolResultText)
	}
}

func TestExecutorReadOnlyGateAllowsReadOnlyTools(t *testing.T) {
	reg := newExecReg(execStubTool{
		spec: ToolSpec{Name: "read_file", IsReadOnly: true},
		out:  ToolOutput{Content: "file contents"},
	})
	e := NewExecutor(reg, true)

	block := e.Execute(context.Background(), ToolCall{ID: "1", Name: "read_file"})
	if block.ToolResultError {
		t.Fatalf("unexpected error result: %q", block.ToolResultText)
	}
	if block.ToolResultText != "file contents" {
		t.Fatalf("text = %q, want %q", block.ToolResultText, "file contents")
	}
}

func TestExecutorToolErrorBecomesErrorResult(t *testing.T) {
	reg := newExecReg(execStubTool{spec: ToolSpec{Name: "shell"}, err: errors.New("exit status 1")})
	e := NewExecutor(reg, false)

	block := e.Execute(context.Background(), ToolCall{ID: "1", Name: "shell"})
	if !block.ToolResultError {
		t.Fatal("expected error result")
	}
	if block.ToolResultText != "exit status 1" {
		t.Fatalf("text = %q, want %q", block.ToolResultText, "exit status 1")
	}
}

func TestExecutorPanicRecoveredAsErrorResult(t *testing.T) {
	reg := newExecReg(execStubTool{spec: ToolSpec{Name: "shell"}, panics: true})
	e := NewExecutor(reg, false)

	block := e.Execute(context.Background(), ToolCall{ID: "1", Name: "shell"})
	if !block.ToolResultError {
		t.Fatal("expected error result from recovered panic")
	}
	if !strings.Contains(block.ToolResultText, "tool panicked") {
		t.Fatalf("text = %q, want panic message", block.ToolResultText)
	}
}

func TestExecutorGeneratesIDWhenCallIDEmpty(t *testing.T) {
	reg := newExecReg(execStubTool{spec: ToolSpec{Name: "shell"}, out: ToolOutput{Content: "ok"}})
	e := NewExecutor(reg, false)

	block := e.Execute(context.Background(), ToolCall{Name: "shell"})
	if block.ToolResultID == "" {
		t.Fatal("ToolResultID left empty, want a generated UUID")
	}
}

func TestExecutorTruncatesLongOutputPreservingHeadAndTail(t *testing.T) {
	reg := newExecReg(execStubTool{
		spec: ToolSpec{Name: "shell"},
		out:  ToolOutput{Content: strings.Repeat("x", 100) + "MIDDLE" + strings.Repeat("y", 100)},
	})
	e := NewExecutor(reg, false)
	e.OutputLimit = 20

	block := e.Execute(context.Background(), ToolCall{ID: "1", Name: "shell"})
	if !strings.HasPrefix(block.ToolResultText, strings.Repeat("x", 10)) {
		t.Fatalf("text does not preserve head: %q", block.ToolResultText[:30])
	}
	if !strings.Contains(block.ToolResultText, "truncated") {
		t.Fatalf("text = %q, want a truncation marker", block.ToolResultText)
	}
}

func TestExecutorInvalidSchemaInputRejected(t *testing.T) {
	reg := newExecReg(execStubTool{spec: ToolSpec{
		Name: "shell",
		Schema: map[string]any{
			"type":                 "object",
			"properties":           map[string]any{"command": map[string]any{"type": "string"}},
			"required":             []any{"command"},
			"additionalProperties": false,
		},
	}})
	e := NewExecutor(reg, false)

	block := e.Execute(context.Background(), ToolCall{ID: "1", Name: "shell", Input: json.RawMessage(`{}`)})
	if !block.ToolResultError {
		t.Fatal("expected schema validation failure to produce an error result")
	}
}

func TestExecutorDiagnosticsHookRunsOnlyForFileTouchingTools(t *testing.T) {
	reg := newExecReg(execStubTool{
		spec: ToolSpec{Name: "file_write"},
		out:  ToolOutput{Content: "wrote file"},
	})
	e := NewExecutor(reg, false)
	e.Diagnostic = diagnosticsFunc(func(ctx context.Context, path string) (string, error) {
		return "1 error on line 3", nil
	})

	block := e.Execute(context.Background(), ToolCall{
		ID:    "1",
		Name:  "file_write",
		Input: json.RawMessage(`{"file_path":"main.go"}`),
	})
	if !strings.Contains(block.ToolResultText, "1 error on line 3") {
		t.Fatalf("text = %q, want diagnostics appended", block.ToolResultText)
	}
}

func TestExecutorDiagnosticsHookSkippedForOtherTools(t *testing.T) {
	called := false
	reg := newExecReg(execStubTool{spec: ToolSpec{Name: "read_file"}, out: ToolOutput{Content: "data"}})
	e := NewExecutor(reg, false)
	e.Diagnostic = diagnosticsFunc(func(ctx context.Context, path string) (string, error) {
		called = true
		return "should not appear", nil
	})

	block := e.Execute(context.Background(), ToolCall{ID: "1", Name: "read_file", Input: json.RawMessage(`{"path":"main.go"}`)})
	if called {
		t.Fatal("diagnostics hook ran for a non-file-touching tool")
	}
	if block.ToolResultText != "data" {
		t.Fatalf("text = %q, want %q", block.ToolResultText, "data")
	}
}

type diagnosticsFunc func(ctx context.Context, path string) (string, error)

func (f diagnosticsFunc) Diagnostics(ctx context.Context, path string) (string, error) {
	return f(ctx, path)
}
