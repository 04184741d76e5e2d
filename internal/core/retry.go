package core

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// RetryConfig configures the Turn Driver's transient-failure retry policy.
// Defaults follow spec.md §4.8/§7 literally (3 attempts, 1s/2s/4s backoff),
// which differs from the teacher's own DefaultRetryConfig (5 attempts, 1s
// base, 30s cap) — see DESIGN.md divergence note 2. The exponential +
// jitter + Retry-After-aware backoff mechanism itself is carried over from
// internal/llm/retry.go unchanged.
type RetryConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryConfig returns spec.md's literal defaults: up to 3 retries at
// 1s, 2s, 4s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseBackoff: 1 * time.Second,
		MaxBackoff:  4 * time.Second,
	}
}

// RetryAdapter wraps an Adapter with spec.md §7's retry policy: Retryable
// errors get exponential-backoff retries up to MaxAttempts; everything else
// passes straight through for the Turn Driver to classify.
type RetryAdapter struct {
	inner  Adapter
	config RetryConfig
}

// WrapWithRetry applies the retry policy around an adapter.
func WrapWithRetry(a Adapter, config RetryConfig) Adapter {
	return &RetryAdapter{inner: a, config: config}
}

func (r *RetryAdapter) ID() string    { return r.inner.ID() }
func (r *RetryAdapter) Model() string { return r.inner.Model() }
func (r *RetryAdapter) ContextLimit() (int, bool) { return r.inner.ContextLimit() }
func (r *RetryAdapter) PrepareRequest(req ChatRequest) (json.RawMessage, error) {
	return r.inner.PrepareRequest(req)
}

func (r *RetryAdapter) Chat(ctx context.Context, req ChatRequest, bus *Bus) (ChatResponse, error) {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		resp, err := r.inner.Chat(ctx, req, bus)
		if err == nil {
			return resp, nil
		}
		if !isRetryable(err) {
			return ChatResponse{}, err
		}
		lastErr = err

		if ctx.Err() != nil {
			return ChatResponse{}, ctx.Err()
		}
		if attempt >= r.config.MaxAttempts {
			break
		}

		wait := r.calculateBackoff(attempt, lastErr)
		bus.EmitCtx(ctx, Event{Kind: EventRetry, RetryAttempt: attempt, RetryMaxAttempts: r.config.MaxAttempts, RetryWaitSecs: wait.Seconds()})

		select {
		case <-ctx.Done():
			return ChatResponse{}, ctx.Err()
		case <-time.After(wait):
		}
	}

	return ChatResponse{}, lastErr
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if ae, ok := err.(*AdapterError); ok {
		return ae.Class == ClassRetryable
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "408") ||
		strings.Contains(errStr, "overloaded") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded")
}

var retryAfterRegex = regexp.MustCompile(`(?i)retry[- ]?after[:\s]+(\d+)`)

func (r *RetryAdapter) calculateBackoff(attempt int, err error) time.Duration {
	if matches := retryAfterRegex.FindStringSubmatch(err.Error()); len(matches) > 1 {
		if secs, perr := strconv.Atoi(matches[1]); perr == nil && secs > 0 {
			wait := time.Duration(secs) * time.Second
			if wait > r.config.MaxBackoff {
				wait = r.config.MaxBackoff
			}
			return wait
		}
	}

	backoff := float64(r.config.BaseBackoff) * math.Pow(2, float64(attempt-1))
	jitter := (rand.Float64() - 0.5) * 0.5 * backoff
	backoff += jitter
	if backoff > float64(r.config.MaxBackoff) {
		backoff = float64(r.config.MaxBackoff)
	}
	return time.Duration(backoff)
}

// ClassifyHTTP implements spec.md §7's HTTP status classification: 408,
// 429, 500, 502, 503, 504 plus body substrings "overloaded", "rate_limit",
// "timeout" classify as Retryable; 401 as Unauthorized; bodies containing
// both "tool_use" and "tool_result" error strings as SessionCorrupted; all
// other non-2xx as API.
func ClassifyHTTP(status int, body string) ErrorClass {
	lower := strings.ToLower(body)
	switch status {
	case 401:
		return ClassUnauthorized
	case 408, 429, 500, 502, 503, 504:
		return ClassRetryable
	}
	if strings.Contains(lower, "overloaded") || strings.Contains(lower, "rate_limit") || strings.Contains(lower, "timeout") {
		return ClassRetryable
	}
	if strings.Contains(lower, "tool_use") && strings.Contains(lower, "tool_result") {
		return ClassSessionCorrupted
	}
	return ClassAPI
}
