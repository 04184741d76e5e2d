package core

import (
	"bufio"
	"io"
	"strings"
	"sync/atomic"
)

// SSEEvent is one reassembled Server-Sent-Events payload: the concatenation
// of every `data:` line within one blank-line-delimited block, per spec.md
// §4.3. Event carries the optional `event:` name line when present.
type SSEEvent struct {
	Name string
	Data string
}

// sseDone is the literal payload the generic OpenAI-compatible and Chat
// Completions dialects use to terminate a stream.
const sseDone = "[DONE]"

// ByteCounter is incremented by every chunk read from the wire, feeding the
// process-global network byte counters in C6 (spec.md §4.3, §4.6, §5).
type ByteCounter struct {
	rx atomic.Int64
	tx atomic.Int64
}

func (c *ByteCounter) AddRx(n int) { c.rx.Add(int64(n)) }
func (c *ByteCounter) AddTx(n int) { c.tx.Add(int64(n)) }
func (c *ByteCounter) Rx() int64   { return c.rx.Load() }
func (c *ByteCounter) Tx() int64   { return c.tx.Load() }

// FrameSSE reassembles a byte stream of arbitrary chunking into discrete
// SSEEvent payloads. It is stateless across calls: reassembly state lives
// entirely in the returned iterator closure, so the same reader produces
// the same event sequence regardless of how upstream chunked the bytes
// (property P6: frame(chunks) == frame([S])). Malformed lines (no leading
// "data:"/"event:"/"id:"/retry: prefix within a block) are dropped, not
// fatal — matching spec.md §4.3 "malformed bytes are logged and dropped".
//
// counter, if non-nil, is incremented with the raw byte count of every
// underlying Read before framing, per spec.md §4.3's rx-counter hook.
func FrameSSE(r io.Reader, counter *ByteCounter) func(yield func(SSEEvent, error) bool) {
	return func(yield func(SSEEvent, error) bool) {
		counted := r
		if counter != nil {
			counted = &countingReader{r: r, counter: counter}
		}
		scanner := bufio.NewScanner(counted)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

		var dataLines []string
		var eventName string

		flush := func() (SSEEvent, bool) {
			if len(dataLines) == 0 {
				return SSEEvent{}, false
			}
			ev := SSEEvent{Name: eventName, Data: strings.Join(dataLines, "\n")}
			dataLines = nil
			eventName = ""
			return ev, true
		}

		for scanner.Scan() {
			line := scanner.Text()
			line = strings.TrimSuffix(line, "\r")

			if line == "" {
				if ev, ok := flush(); ok {
					if ev.Data == sseDone {
						return
					}
					if !yield(ev, nil) {
						return
					}
				}
				continue
			}

			switch {
			case strings.HasPrefix(line, "data:"):
				dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			case strings.HasPrefix(line, "event:"):
				eventName = strings.TrimPrefix(strings.TrimPrefix(line, "event:"), " ")
			case strings.HasPrefix(line, "id:"), strings.HasPrefix(line, "retry:"), strings.HasPrefix(line, ":"):
				// ids, retry hints, and comments are accepted but not surfaced.
			default:
				// malformed: dropped silently per spec.md §4.3.
			}
		}

		if err := scanner.Err(); err != nil {
			yield(SSEEvent{}, err)
			return
		}
		if ev, ok := flush(); ok && ev.Data != sseDone {
			yield(ev, nil)
		}
	}
}

type countingReader struct {
	r       io.Reader
	counter *ByteCounter
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.counter.AddRx(n)
	}
	return n, err
}

// SplitDataLines is a small helper adapters use when a single data: block
// itself carries newline-joined JSON fragments (some providers wrap a JSON
// array across several data: lines); it is the inverse of the join FrameSSE
// performs so round-tripping a multi-line block is lossless.
func SplitDataLines(data string) []string {
	return strings.Split(data, "\n")
}
