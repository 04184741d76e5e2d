package core

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	_ "modernc.org/sqlite"
)

// TxLog is the Transaction Log (C11): when enabled, one NDJSON line per
// provider request/response pair is appended under the session data
// directory (spec.md §4.10). Disabled by default; toggled by a slash
// command. Grounded on internal/debuglog's NDJSON line shape (the teacher's
// reader/formatter for this exact file format) and internal/tools/edit.go's
// syscall.Flock pattern for the short-held write lock spec.md §5 "Shared
// resources (v)" calls for.
type TxLog struct {
	enabled atomic.Bool

	mu   sync.Mutex
	file *os.File
	path string

	index *txIndex // nil if the side index could not be opened; indexing is best-effort
}

// txLogLine is one NDJSON record. Field names mirror internal/debuglog's
// rawEntry so an existing `term-llm debug-log show` style reader could
// parse this file unmodified.
type txLogLine struct {
	Timestamp       time.Time       `json:"timestamp"`
	SessionID       string          `json:"session_id"`
	ProviderID      string          `json:"provider_id"`
	URL             string          `json:"url"`
	RequestHeaders  json.RawMessage `json:"request_headers"`
	RequestBody     json.RawMessage `json:"request_body,omitempty"`
	ResponseHeaders json.RawMessage `json:"response_headers,omitempty"`
	ResponseBody    json.RawMessage `json:"response_body_or_events,omitempty"`
}

// NewTxLog opens (creating if needed) the NDJSON file at dataDir/tx.ndjson.
// The log starts disabled; call Enable to start recording.
func NewTxLog(dataDir string) (*TxLog, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create transaction log directory: %w", err)
	}
	path := filepath.Join(dataDir, "tx.ndjson")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open transaction log: %w", err)
	}

	idx, idxErr := openTxIndex(filepath.Join(dataDir, "tx_index.sqlite"))
	if idxErr != nil {
		idx = nil // the NDJSON file alone is sufficient; the index only speeds lookback
	}

	return &TxLog{file: f, path: path, index: idx}, nil
}

// Enable/Disable implement the slash-command toggle spec.md §4.10 names.
func (t *TxLog) Enable()  { t.enabled.Store(true) }
func (t *TxLog) Disable() { t.enabled.Store(false) }
func (t *TxLog) Enabled() bool { return t.enabled.Load() }

// Close releases the underlying file handle and the side index, if open.
func (t *TxLog) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.index != nil {
		_ = t.index.Close()
	}
	return t.file.Close()
}

// redactAuthorization copies headers, replacing any Authorization value
// with a fixed placeholder — never log bearer tokens or API keys.
func redactAuthorization(h http.Header) json.RawMessage {
	redacted := make(map[string][]string, len(h))
	for k, vs := range h {
		if httpHeaderIsAuth(k) {
			redacted[k] = []string{"[redacted]"}
			continue
		}
		redacted[k] = vs
	}
	b, err := json.Marshal(redacted)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}

func httpHeaderIsAuth(key string) bool {
	switch http.CanonicalHeaderKey(key) {
	case "Authorization", "X-Goog-Api-Key", "X-Api-Key":
		return true
	default:
		return false
	}
}

// RecordRequest appends one transaction, no-op if the log is disabled. The
// file append itself is serialized by t.mu and wrapped in a short-held
// syscall.Flock so a concurrent `term-llm debug-log` reader never sees a
// torn line, matching spec.md §5's "appended under a short-held file lock".
func (t *TxLog) RecordRequest(sessionID, providerID, url string, reqHeaders http.Header, reqBody, respHeaders json.RawMessage, respBody json.RawMessage) error {
	if !t.Enabled() {
		return nil
	}

	line := txLogLine{
		Timestamp:       time.Now(),
		SessionID:       sessionID,
		ProviderID:      providerID,
		URL:             url,
		RequestHeaders:  redactAuthorization(reqHeaders),
		RequestBody:     reqBody,
		ResponseHeaders: respHeaders,
		ResponseBody:    respBody,
	}
	b, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("marshal transaction log line: %w", err)
	}
	b = append(b, '\n')

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := syscall.Flock(int(t.file.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("lock transaction log: %w", err)
	}
	defer syscall.Flock(int(t.file.Fd()), syscall.LOCK_UN)

	offset, err := t.file.Seek(0, io.SeekCurrent)
	if err != nil {
		offset = -1 // index entry becomes best-effort only; the line itself still gets written
	}

	if _, err := t.file.Write(b); err != nil {
		return fmt.Errorf("append transaction log: %w", err)
	}

	if t.index != nil && offset >= 0 {
		_ = t.index.record(sessionID, providerID, line.Timestamp, offset, int64(len(b)))
	}
	return nil
}

// txIndex is the lightweight sqlite side-index spec.md's DOMAIN STACK
// wiring calls for: session_id → NDJSON byte offset, for fast `/dump-prompt`
// lookback without scanning the whole file. Grounded on
// internal/session/sqlite.go's WAL/busy_timeout pragma set.
type txIndex struct {
	db *sql.DB
}

func openTxIndex(path string) (*txIndex, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open transaction index: %w", err)
	}
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS tx_offsets (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			provider_id TEXT NOT NULL,
			ts TIMESTAMP NOT NULL,
			offset INTEGER NOT NULL,
			length INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_tx_offsets_session ON tx_offsets(session_id, ts DESC);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create transaction index schema: %w", err)
	}
	return &txIndex{db: db}, nil
}

func (x *txIndex) record(sessionID, providerID string, ts time.Time, offset, length int64) error {
	_, err := x.db.Exec(`INSERT INTO tx_offsets (session_id, provider_id, ts, offset, length) VALUES (?, ?, ?, ?, ?)`,
		sessionID, providerID, ts, offset, length)
	return err
}

// Lookback returns the byte offsets of the most recent n transactions for a
// session, most recent first — used by a `/dump-prompt`-style command to
// seek directly into tx.ndjson instead of scanning it.
func (x *txIndex) Lookback(ctx context.Context, sessionID string, n int) ([]int64, error) {
	rows, err := x.db.QueryContext(ctx, `SELECT offset FROM tx_offsets WHERE session_id = ? ORDER BY ts DESC LIMIT ?`, sessionID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var offsets []int64
	for rows.Next() {
		var off int64
		if err := rows.Scan(&off); err != nil {
			return nil, err
		}
		offsets = append(offsets, off)
	}
	return offsets, rows.Err()
}

func (x *txIndex) Close() error { return x.db.Close() }
