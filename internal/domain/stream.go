package domain

// StreamEventKind distinguishes user-visible content from diagnostic output
type StreamEventKind string

const (
	EventContent StreamEventKind = "content"
	EventLog     StreamEventKind = "log"
)

// StreamEvent is one decoded unit of an agent response
type StreamEvent struct {
	Kind StreamEventKind `json:"kind"`
	Text string          `json:"text"`
}
