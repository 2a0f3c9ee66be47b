// Package stream decodes the agent runtime's newline-delimited event stream
// into content and log events.
package stream

import (
	"bytes"
	"errors"
	"io"
	"strings"

	"github.com/Rrens/sales-copilot/internal/domain"
	"github.com/tidwall/gjson"
)

const (
	// DataPrefix marks a line that carries an event payload
	DataPrefix = "data:"
	// LogMarker routes a line to the diagnostic transcript
	LogMarker = "[LOG]"

	readBufferSize = 4096
)

// Decoder turns arbitrarily split byte chunks into ordered stream events.
// A Decoder holds per-response state and must not be reused.
type Decoder struct {
	buf     []byte
	flushed bool
}

// NewDecoder creates a decoder for a single response body
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends a chunk and returns the events for every line it completed.
// The trailing partial line is kept until the next chunk or Flush.
func (d *Decoder) Feed(chunk []byte) []domain.StreamEvent {
	if d.flushed || len(chunk) == 0 {
		return nil
	}
	d.buf = append(d.buf, chunk...)

	var events []domain.StreamEvent
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		if ev, ok := parseLine(string(d.buf[:i])); ok {
			events = append(events, ev)
		}
		d.buf = d.buf[i+1:]
	}
	// release the backing array once everything has been consumed
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return events
}

// Flush treats any unterminated trailing fragment as a final line. Feed is a
// no-op afterwards.
func (d *Decoder) Flush() []domain.StreamEvent {
	if d.flushed {
		return nil
	}
	d.flushed = true
	rest := d.buf
	d.buf = nil
	if len(rest) == 0 {
		return nil
	}
	if ev, ok := parseLine(string(rest)); ok {
		return []domain.StreamEvent{ev}
	}
	return nil
}

// Read drives a fresh decoder over r until EOF, calling emit for every event
// in stream order. Only read errors are returned; payloads never fail.
func Read(r io.Reader, emit func(domain.StreamEvent)) error {
	d := NewDecoder()
	buf := make([]byte, readBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, ev := range d.Feed(buf[:n]) {
				emit(ev)
			}
		}
		if errors.Is(err, io.EOF) {
			for _, ev := range d.Flush() {
				emit(ev)
			}
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func parseLine(line string) (domain.StreamEvent, bool) {
	line = strings.TrimSuffix(line, "\r")

	var text string
	switch {
	case strings.HasPrefix(line, DataPrefix):
		payload := strings.TrimPrefix(line[len(DataPrefix):], " ")
		text = decodePayload(payload)
	case strings.Contains(line, LogMarker):
		// the runtime prints tool logs without the data prefix
		text = line
	default:
		return domain.StreamEvent{}, false
	}

	if strings.Contains(text, LogMarker) {
		logText := strings.TrimSpace(strings.Replace(text, LogMarker, "", 1))
		return domain.StreamEvent{Kind: domain.EventLog, Text: logText}, true
	}
	if text == "" {
		return domain.StreamEvent{}, false
	}
	return domain.StreamEvent{Kind: domain.EventContent, Text: text}, true
}

// decodePayload unquotes JSON string literals and passes anything else through
func decodePayload(payload string) string {
	if !gjson.Valid(payload) {
		return payload
	}
	res := gjson.Parse(payload)
	if res.Type != gjson.String {
		return payload
	}
	return res.String()
}
