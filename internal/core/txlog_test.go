package core

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestTxLogDisabledByDefaultNoOp(t *testing.T) {
	dir := t.TempDir()
	log, err := NewTxLog(dir)
	if err != nil {
		t.Fatalf("NewTxLog failed: %v", err)
	}
	defer log.Close()

	if log.Enabled() {
		t.Fatalf("expected transaction log to start disabled")
	}

	h := http.Header{"Authorization": []string{"Bearer secret"}}
	if err := log.RecordRequest("s1", "anthropic", "https://example/v1/messages", h, nil, nil, nil); err != nil {
		t.Fatalf("RecordRequest failed: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "tx.ndjson"))
	if err != nil {
		t.Fatalf("read ndjson: %v", err)
	}
	if len(b) != 0 {
		t.Fatalf("expected no bytes written while disabled, got %q", b)
	}
}

func TestTxLogRedactsAuthorization(t *testing.T) {
	dir := t.TempDir()
	log, err := NewTxLog(dir)
	if err != nil {
		t.Fatalf("NewTxLog failed: %v", err)
	}
	defer log.Close()
	log.Enable()

	h := http.Header{
		"Authorization": []string{"Bearer sk-super-secret"},
		"Content-Type":  []string{"application/json"},
	}
	if err := log.RecordRequest("s1", "anthropic", "https://example/v1/messages", h, json.RawMessage(`{"a":1}`), nil, nil); err != nil {
		t.Fatalf("RecordRequest failed: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "tx.ndjson"))
	if err != nil {
		t.Fatalf("read ndjson: %v", err)
	}
	if strings.Contains(string(b), "sk-super-secret") {
		t.Fatalf("transaction log leaked the bearer token: %s", b)
	}
	if !strings.Contains(string(b), "[redacted]") {
		t.Fatalf("expected authorization header to be replaced with a redaction marker: %s", b)
	}

	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected exactly one NDJSON line, got %d", len(lines))
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &decoded); err != nil {
		t.Fatalf("line is not valid JSON: %v", err)
	}
	for _, field := range []string{"timestamp", "url", "session_id", "provider_id", "request_headers"} {
		if _, ok := decoded[field]; !ok {
			t.Errorf("missing field %q in transaction log line: %v", field, decoded)
		}
	}
}

func TestTxLogAppendsMultipleLines(t *testing.T) {
	dir := t.TempDir()
	log, err := NewTxLog(dir)
	if err != nil {
		t.Fatalf("NewTxLog failed: %v", err)
	}
	defer log.Close()
	log.Enable()

	for i := 0; i < 3; i++ {
		if err := log.RecordRequest("s1", "anthropic", "https://example/v1/messages", http.Header{}, nil, nil, nil); err != nil {
			t.Fatalf("RecordRequest %d failed: %v", i, err)
		}
	}

	b, err := os.ReadFile(filepath.Join(dir, "tx.ndjson"))
	if err != nil {
		t.Fatalf("read ndjson: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 appended lines, got %d", len(lines))
	}
}

func TestTxLogEnableDisableToggle(t *testing.T) {
	dir := t.TempDir()
	log, err := NewTxLog(dir)
	if err != nil {
		t.Fatalf("NewTxLog failed: %v", err)
	}
	defer log.Close()

	log.Enable()
	if !log.Enabled() {
		t.Fatalf("expected Enabled() true after Enable()")
	}
	log.Disable()
	if log.Enabled() {
		t.Fatalf("expected Enabled() false after Disable()")
	}
}
