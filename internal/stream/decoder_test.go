package stream_test

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/Rrens/sales-copilot/internal/domain"
	"github.com/Rrens/sales-copilot/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func content(s string) domain.StreamEvent {
	return domain.StreamEvent{Kind: domain.EventContent, Text: s}
}

func logLine(s string) domain.StreamEvent {
	return domain.StreamEvent{Kind: domain.EventLog, Text: s}
}

func feedAll(chunks ...string) []domain.StreamEvent {
	d := stream.NewDecoder()
	var events []domain.StreamEvent
	for _, c := range chunks {
		events = append(events, d.Feed([]byte(c))...)
	}
	return append(events, d.Flush()...)
}

func TestDecoder_ThreeChunkScenario(t *testing.T) {
	events := feedAll(
		`data: "Hel`,
		"lo\"\n[LOG] tool=x\n",
		"data: \" world\"\n",
	)

	assert.Equal(t, []domain.StreamEvent{
		content("Hello"),
		logLine("tool=x"),
		content(" world"),
	}, events)

	var answer strings.Builder
	for _, ev := range events {
		if ev.Kind == domain.EventContent {
			answer.WriteString(ev.Text)
		}
	}
	assert.Equal(t, "Hello world", answer.String())
}

func TestDecoder_ChunkBoundaryIndependence(t *testing.T) {
	raw := "data: \"Give me\"\r\n" +
		"data: \" the profile\"\n" +
		"[LOG] calling profile_agent\n" +
		"data: {\"not\": \"a string\"}\n" +
		"\n" +
		"event: ping\n" +
		"data: \"caf\\u00e9 \\\"quoted\\\"\"\n" +
		"data: [LOG] {\"tool\":\"redshift\"}\n" +
		"data: \"unterminated\n" +
		"data: \"tail\""

	want := feedAll(raw)
	require.Len(t, want, 8)

	// every single split point
	for i := 0; i <= len(raw); i++ {
		got := feedAll(raw[:i], raw[i:])
		require.Equal(t, want, got, "split at %d", i)
	}

	// random multi-way splits
	rng := rand.New(rand.NewSource(42))
	for n := 0; n < 200; n++ {
		var chunks []string
		rest := raw
		for len(rest) > 0 {
			k := rng.Intn(len(rest)) + 1
			if k > 7 {
				k = k%7 + 1
			}
			chunks = append(chunks, rest[:k])
			rest = rest[k:]
		}
		require.Equal(t, want, feedAll(chunks...))
	}
}

func TestDecoder_Payloads(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []domain.StreamEvent
	}{
		{"json string", `data: "hi"`, []domain.StreamEvent{content("hi")}},
		{"escaped newline", `data: "a\nb"`, []domain.StreamEvent{content("a\nb")}},
		{"no space after prefix", `data:"hi"`, []domain.StreamEvent{content("hi")}},
		{"raw text passthrough", `data: plain text`, []domain.StreamEvent{content("plain text")}},
		{"malformed json passthrough", `data: "broken`, []domain.StreamEvent{content(`"broken`)}},
		{"object passthrough", `data: {"a":1}`, []domain.StreamEvent{content(`{"a":1}`)}},
		{"log inside json string", `data: "[LOG] step 2"`, []domain.StreamEvent{logLine("step 2")}},
		{"bare log line", `[LOG] tool=x`, []domain.StreamEvent{logLine("tool=x")}},
		{"unprefixed line dropped", `event: message`, nil},
		{"empty payload dropped", `data: ""`, nil},
		{"blank line dropped", ``, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, feedAll(tt.line+"\n"))
		})
	}
}

func TestDecoder_NotReusableAfterFlush(t *testing.T) {
	d := stream.NewDecoder()
	assert.Empty(t, d.Feed([]byte(`data: "a`)))
	assert.Equal(t, []domain.StreamEvent{content(`"a`)}, d.Flush())
	assert.Nil(t, d.Feed([]byte("data: \"b\"\n")))
	assert.Nil(t, d.Flush())
}

func TestRead(t *testing.T) {
	raw := "data: \"Hello\"\n[LOG] tool=x\ndata: \" world\"\n"

	var got []domain.StreamEvent
	err := stream.Read(iotest.OneByteReader(strings.NewReader(raw)), func(ev domain.StreamEvent) {
		got = append(got, ev)
	})
	require.NoError(t, err)
	assert.Equal(t, []domain.StreamEvent{content("Hello"), logLine("tool=x"), content(" world")}, got)
}

func TestRead_PropagatesReadError(t *testing.T) {
	boom := errors.New("connection reset")
	r := io.MultiReader(bytes.NewReader([]byte("data: \"partial\"\n")), iotest.ErrReader(boom))

	var got []domain.StreamEvent
	err := stream.Read(r, func(ev domain.StreamEvent) { got = append(got, ev) })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []domain.StreamEvent{content("partial")}, got)
}
