package core

import "testing"

func TestProviderUsageCumulativeAccumulates(t *testing.T) {
	p := &ProviderUsage{}
	p.Record(UsageDelta{InputTokens: 10, OutputTokens: 5, CacheReadTokens: 2, CacheWriteTokens: 1})
	p.Record(UsageDelta{InputTokens: 3, OutputTokens: 1})

	in, out, cacheRead, cacheWrite := p.Cumulative()
	if in != 13 || out != 6 || cacheRead != 2 || cacheWrite != 1 {
		t.Fatalf("unexpected cumulative totals: in=%d out=%d cacheRead=%d cacheWrite=%d", in, out, cacheRead, cacheWrite)
	}
}

// TestProviderUsageTurnTotalIsolatesOneTurn covers the seqlock-style
// snapshot-then-diff pattern spec.md §5 calls for: StartTurn must isolate
// only what happened since it was called, not the all-time total.
func TestProviderUsageTurnTotalIsolatesOneTurn(t *testing.T) {
	p := &ProviderUsage{}
	p.Record(UsageDelta{InputTokens: 100, OutputTokens: 50})

	p.StartTurn()
	p.Record(UsageDelta{InputTokens: 7, OutputTokens: 3})
	p.Record(UsageDelta{InputTokens: 1, OutputTokens: 1})

	in, out := p.TurnTotal()
	if in != 8 || out != 4 {
		t.Fatalf("expected turn total to exclude pre-StartTurn usage, got in=%d out=%d", in, out)
	}

	cumIn, cumOut, _, _ := p.Cumulative()
	if cumIn != 108 || cumOut != 54 {
		t.Fatalf("expected cumulative to include everything, got in=%d out=%d", cumIn, cumOut)
	}
}

func TestUsageTrackerPerProviderIsolation(t *testing.T) {
	tracker := NewUsageTracker()
	tracker.For("anthropic").Record(UsageDelta{InputTokens: 10})
	tracker.For("openai-responses").Record(UsageDelta{InputTokens: 20})

	aIn, _, _, _ := tracker.For("anthropic").Cumulative()
	oIn, _, _, _ := tracker.For("openai-responses").Cumulative()
	if aIn != 10 || oIn != 20 {
		t.Fatalf("expected isolated per-provider counters, got anthropic=%d openai=%d", aIn, oIn)
	}
}

func TestContextLimitKnownProviders(t *testing.T) {
	if limit, ok := ContextLimit("anthropic", "claude-opus-4"); !ok || limit != 200000 {
		t.Fatalf("unexpected anthropic context limit: %d, %v", limit, ok)
	}
	if limit, ok := ContextLimit("codex", "gpt-5-codex"); !ok || limit != 272000 {
		t.Fatalf("unexpected codex context limit: %d, %v", limit, ok)
	}
	if limit, ok := ContextLimit("copilot", "gpt-5-mini"); !ok || limit != 400000 {
		t.Fatalf("unexpected copilot gpt-5 context limit: %d, %v", limit, ok)
	}
	if _, ok := ContextLimit("copilot", "gpt-4o"); ok {
		t.Fatalf("expected unknown context limit for non-gpt-5 copilot model")
	}
}

func TestContextLimitUnknownProvider(t *testing.T) {
	if _, ok := ContextLimit("some-new-provider", "whatever"); ok {
		t.Fatalf("expected ContextLimit to report unknown for an unrecognized provider")
	}
}

func TestByteCounterAddAndRead(t *testing.T) {
	c := &ByteCounter{}
	c.AddRx(100)
	c.AddTx(50)
	if c.Rx() != 100 || c.Tx() != 50 {
		t.Fatalf("unexpected counter values: rx=%d tx=%d", c.Rx(), c.Tx())
	}
}
