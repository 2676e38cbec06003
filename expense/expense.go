// Package expense tracks LLM spend. The detector emits one event per
// successful model call; implementations must be safe for concurrent Track
// calls because chunked scrubs fan out.
package expense

import "sync"

// Event records the token usage of a single model call.
type Event struct {
	Model        string         `json:"model"`
	Operation    string         `json:"operation"`
	InputTokens  int            `json:"input_tokens"`
	OutputTokens int            `json:"output_tokens"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Tracker is the cost-reporting capability consumed by the LLM detector.
type Tracker interface {
	Track(Event)
}

// Log is an in-memory Tracker, safe for concurrent use.
type Log struct {
	mu     sync.Mutex
	events []Event
}

// NewLog returns an empty in-memory tracker.
func NewLog() *Log {
	return &Log{}
}

// Track appends an event.
func (l *Log) Track(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

// Events returns a copy of all recorded events.
func (l *Log) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Totals returns the accumulated input and output token counts.
func (l *Log) Totals() (inputTokens, outputTokens int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		inputTokens += e.InputTokens
		outputTokens += e.OutputTokens
	}
	return inputTokens, outputTokens
}
