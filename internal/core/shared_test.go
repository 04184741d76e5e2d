package core

import "testing"

// TestClaudeCodeNameBijection verifies property P7 (spec.md §6/§8): the
// canonical-name <-> Claude-Code-dialect-name mapping round-trips on the
// declared set in both directions.
func TestClaudeCodeNameBijection(t *testing.T) {
	for canonical, dialect := range claudeCodeToolNames {
		if got := ToClaudeCodeName(canonical); got != dialect {
			t.Errorf("ToClaudeCodeName(%q) = %q, want %q", canonical, got, dialect)
		}
		if got := FromClaudeCodeName(dialect); got != canonical {
			t.Errorf("FromClaudeCodeName(%q) = %q, want %q", dialect, got, canonical)
		}
		if got := FromClaudeCodeName(ToClaudeCodeName(canonical)); got != canonical {
			t.Errorf("round-trip canonical->dialect->canonical broke for %q, got %q", canonical, got)
		}
		if got := ToClaudeCodeName(FromClaudeCodeName(dialect)); got != dialect {
			t.Errorf("round-trip dialect->canonical->dialect broke for %q, got %q", dialect, got)
		}
	}
}

// TestClaudeCodeNamePassthroughForUnmapped verifies names outside the
// declared bijection set (e.g. MCP-discovered tools) pass through unchanged
// rather than erroring, per the ToClaudeCodeName/FromClaudeCodeName doc
// comments.
func TestClaudeCodeNamePassthroughForUnmapped(t *testing.T) {
	if got := ToClaudeCodeName("mcp__server__tool"); got != "mcp__server__tool" {
		t.Errorf("expected unmapped name to pass through, got %q", got)
	}
	if got := FromClaudeCodeName("mcp__server__tool"); got != "mcp__server__tool" {
		t.Errorf("expected unmapped name to pass through, got %q", got)
	}
}

func TestToolCallAccumulatorOrderAndInvalidJSONFallback(t *testing.T) {
	a := NewToolCallAccumulator()
	a.Start(1, "call_b", "grep", nil)
	a.Start(0, "call_a", "bash", nil)
	a.Delta(0, `{"cmd":`)
	a.Delta(0, `"ls"}`)
	a.Delta(1, `not json`)
	a.SetThoughtSignature(1, "sig-1")

	calls := a.Finish()
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].ID != "call_b" || calls[0].Name != "grep" {
		t.Fatalf("expected first call in start order (index 1, call_b), got %+v", calls[0])
	}
	if string(calls[0].Input) != "{}" {
		t.Fatalf("expected invalid JSON args to fall back to {}, got %q", calls[0].Input)
	}
	if calls[0].ThoughtSig != "sig-1" {
		t.Fatalf("expected thought signature to round-trip, got %q", calls[0].ThoughtSig)
	}
	if calls[1].ID != "call_a" || string(calls[1].Input) != `{"cmd":"ls"}` {
		t.Fatalf("expected second call to have valid accumulated args, got %+v", calls[1])
	}
}

func TestToolCallAccumulatorEmptyArgsFallback(t *testing.T) {
	a := NewToolCallAccumulator()
	a.Start(0, "call_1", "bash", nil)
	calls := a.Finish()
	if len(calls) != 1 || string(calls[0].Input) != "{}" {
		t.Fatalf("expected empty args to fall back to {}, got %+v", calls)
	}
}
