package core

import (
	"strings"
	"sync"
	"sync/atomic"
)

// ProviderUsage is the process-global, lock-free counter set for one
// provider id, per spec.md §3 and §4.6. Cumulative counters are atomics;
// the turn snapshot is a seqlock-style "snap, work, read diff" pair rather
// than a mutex, matching spec.md §5's "turn snapshots are seqlock-style".
type ProviderUsage struct {
	inputTokens  atomic.Int64
	outputTokens atomic.Int64
	cacheRead    atomic.Int64
	cacheWrite   atomic.Int64

	turnInputSnapshot  atomic.Int64
	turnOutputSnapshot atomic.Int64
}

// Record adds one provider call's token delta to the cumulative counters.
// Cache-read tokens are additive to the context-window total; cache-write
// tokens are a subset indicator of the output tokens already counted, not
// an additional quantity (spec.md glossary "Context limit" + §4.6).
func (p *ProviderUsage) Record(d UsageDelta) {
	p.inputTokens.Add(int64(d.InputTokens))
	p.outputTokens.Add(int64(d.OutputTokens))
	p.cacheRead.Add(int64(d.CacheReadTokens))
	p.cacheWrite.Add(int64(d.CacheWriteTokens))
}

// StartTurn snapshots the cumulative counters so TurnTotal can later report
// only what this turn consumed, even across multiple provider calls within
// one turn (tool round-trips).
func (p *ProviderUsage) StartTurn() {
	p.turnInputSnapshot.Store(p.inputTokens.Load())
	p.turnOutputSnapshot.Store(p.outputTokens.Load())
}

// TurnTotal returns (input, output) consumed since the last StartTurn.
func (p *ProviderUsage) TurnTotal() (input, output int64) {
	return p.inputTokens.Load() - p.turnInputSnapshot.Load(),
		p.outputTokens.Load() - p.turnOutputSnapshot.Load()
}

// Cumulative returns the all-time totals for this provider.
func (p *ProviderUsage) Cumulative() (input, output, cacheRead, cacheWrite int64) {
	return p.inputTokens.Load(), p.outputTokens.Load(), p.cacheRead.Load(), p.cacheWrite.Load()
}

// UsageTracker is the process-wide singleton described in spec.md §9
// "Global mutable state": UsageCounters and NetworkStats must be an
// explicit process-wide singleton with init() at startup and lock-free
// atomic reads.
type UsageTracker struct {
	mu         sync.Mutex
	byProvider map[string]*ProviderUsage
	net        ByteCounter
}

// NewUsageTracker constructs an empty tracker. Call sites normally hold one
// instance per process (see NewGlobalUsageTracker for the singleton form
// the Turn Driver uses by default).
func NewUsageTracker() *UsageTracker {
	return &UsageTracker{byProvider: make(map[string]*ProviderUsage)}
}

// For returns (creating if necessary) the per-provider counters. Guarded by
// a mutex since first-touch of a new provider ID mutates byProvider; once
// returned, *ProviderUsage itself stays lock-free (atomics only).
func (t *UsageTracker) For(providerID string) *ProviderUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.byProvider[providerID]; ok {
		return p
	}
	p := &ProviderUsage{}
	t.byProvider[providerID] = p
	return p
}

// Network exposes the shared rx/tx byte counters (spec.md §4.6).
func (t *UsageTracker) Network() *ByteCounter { return &t.net }

var globalUsageTracker = NewUsageTracker()

// GlobalUsageTracker returns the process-wide singleton instance.
func GlobalUsageTracker() *UsageTracker { return globalUsageTracker }

// ContextLimit returns the provider/model-derived maximum combined token
// count, per spec.md §6's literal table. A false second return means
// "unknown", which callers surface as ContextUpdate{limit: None}.
func ContextLimit(providerID, model string) (int, bool) {
	switch providerID {
	case "anthropic":
		return 200000, true
	case "openai-responses", "codex":
		return 272000, true
	case "copilot":
		if isGPT5Family(model) {
			return 400000, true
		}
		return 0, false
	case "zen":
		if isGPT5Family(model) {
			return 400000, true
		}
		if hasAny(model, "glm", "big-pickle") {
			return 200000, true
		}
		return 0, false
	default:
		return 0, false
	}
}

func isGPT5Family(model string) bool { return hasAny(model, "gpt-5") }

func hasAny(s string, subs ...string) bool {
	s = strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
