package core

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

// flakyAdapter fails with a scripted error for the first N calls, then
// succeeds, mirroring internal/llm's retry-path tests.
type flakyAdapter struct {
	failTimes int
	calls     int
	err       error
}

func (a *flakyAdapter) ID() string    { return "flaky" }
func (a *flakyAdapter) Model() string { return "flaky-model" }
func (a *flakyAdapter) ContextLimit() (int, bool) { return 0, false }
func (a *flakyAdapter) PrepareRequest(req ChatRequest) (json.RawMessage, error) {
	return json.Marshal(req)
}

func (a *flakyAdapter) Chat(ctx context.Context, req ChatRequest, bus *Bus) (ChatResponse, error) {
	a.calls++
	if a.calls <= a.failTimes {
		return ChatResponse{}, a.err
	}
	return ChatResponse{ContentBlocks: []ContentBlock{Text("ok")}, StopReason: StopEndTurn}, nil
}

func fastRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond}
}

func TestRetryAdapterRetriesRetryableClass(t *testing.T) {
	inner := &flakyAdapter{failTimes: 2, err: &AdapterError{Class: ClassRetryable, Status: 503}}
	wrapped := WrapWithRetry(inner, fastRetryConfig())
	bus := NewBus(16)
	defer bus.Close()

	resp, err := wrapped.Chat(context.Background(), ChatRequest{}, bus)
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if inner.calls != 3 {
		t.Fatalf("expected 3 attempts (2 failures + 1 success), got %d", inner.calls)
	}
	if len(resp.ContentBlocks) == 0 {
		t.Fatalf("expected a response on the successful attempt")
	}
}

func TestRetryAdapterGivesUpAfterMaxAttempts(t *testing.T) {
	retryable := &AdapterError{Class: ClassRetryable, Status: 503}
	inner := &flakyAdapter{failTimes: 10, err: retryable}
	wrapped := WrapWithRetry(inner, fastRetryConfig())
	bus := NewBus(16)
	defer bus.Close()

	_, err := wrapped.Chat(context.Background(), ChatRequest{}, bus)
	if err == nil {
		t.Fatalf("expected failure after exhausting retries")
	}
	if inner.calls != 3 {
		t.Fatalf("expected exactly MaxAttempts=3 calls, got %d", inner.calls)
	}
}

func TestRetryAdapterDoesNotRetryNonRetryableClass(t *testing.T) {
	inner := &flakyAdapter{failTimes: 10, err: &AdapterError{Class: ClassUnauthorized, Status: 401}}
	wrapped := WrapWithRetry(inner, fastRetryConfig())
	bus := NewBus(16)
	defer bus.Close()

	_, err := wrapped.Chat(context.Background(), ChatRequest{}, bus)
	if err == nil {
		t.Fatalf("expected failure to surface immediately")
	}
	if inner.calls != 1 {
		t.Fatalf("expected no retries for a non-retryable class, got %d calls", inner.calls)
	}
}

func TestRetryAdapterStopsOnContextCancellation(t *testing.T) {
	inner := &flakyAdapter{failTimes: 10, err: &AdapterError{Class: ClassRetryable, Status: 503}}
	wrapped := WrapWithRetry(inner, RetryConfig{MaxAttempts: 5, BaseBackoff: 50 * time.Millisecond, MaxBackoff: 200 * time.Millisecond})
	bus := NewBus(16)
	defer bus.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := wrapped.Chat(ctx, ChatRequest{}, bus)
	if err == nil {
		t.Fatalf("expected an error once the context is cancelled mid-backoff")
	}
	if inner.calls >= 5 {
		t.Fatalf("expected cancellation to cut retries short, got %d calls", inner.calls)
	}
}

func TestDefaultRetryConfigMatchesSpecDefaults(t *testing.T) {
	cfg := DefaultRetryConfig()
	if cfg.MaxAttempts != 3 {
		t.Errorf("expected 3 max attempts, got %d", cfg.MaxAttempts)
	}
	if cfg.BaseBackoff != time.Second {
		t.Errorf("expected 1s base backoff, got %v", cfg.BaseBackoff)
	}
	if cfg.MaxBackoff != 4*time.Second {
		t.Errorf("expected 4s max backoff, got %v", cfg.MaxBackoff)
	}
}

func TestIsRetryableClassifiesAdapterError(t *testing.T) {
	if !isRetryable(&AdapterError{Class: ClassRetryable}) {
		t.Errorf("expected ClassRetryable to be retryable")
	}
	if isRetryable(&AdapterError{Class: ClassUnauthorized}) {
		t.Errorf("expected ClassUnauthorized to not be retryable")
	}
	if isRetryable(nil) {
		t.Errorf("expected nil error to not be retryable")
	}
	if !isRetryable(errors.New("503 service unavailable")) {
		t.Errorf("expected plain 503 error text to be retryable")
	}
	if isRetryable(errors.New("400 bad request")) {
		t.Errorf("expected plain 400 error text to not be retryable")
	}
}

func TestClassifyHTTPStatusCodes(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   ErrorClass
	}{
		{401, "", ClassUnauthorized},
		{429, "", ClassRetryable},
		{500, "", ClassRetryable},
		{502, "", ClassRetryable},
		{503, "", ClassRetryable},
		{504, "", ClassRetryable},
		{408, "", ClassRetryable},
		{529, "the model is overloaded", ClassRetryable},
		{400, `error: tool_use without matching tool_result`, ClassSessionCorrupted},
		{400, "malformed request", ClassAPI},
	}
	for _, c := range cases {
		got := ClassifyHTTP(c.status, c.body)
		if got != c.want {
			t.Errorf("ClassifyHTTP(%d, %q) = %v, want %v", c.status, c.body, got, c.want)
		}
	}
}
