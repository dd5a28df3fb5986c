package chat

import "time"

// EventType tags a client-visible stream event.
type EventType string

const (
	EventConnected EventType = "connected"
	EventChunk     EventType = "chunk"
	EventComplete  EventType = "complete"
	EventError     EventType = "error"
)

// Event is one discrete unit of the client-visible response protocol.
// For any request the emission sequence is: exactly one connected event,
// zero or more chunk events in emission order, then exactly one of
// complete or error.
type Event struct {
	Type         EventType `json:"type"`
	Content      string    `json:"content,omitempty"`
	FullResponse string    `json:"fullResponse,omitempty"`
	Timestamp    string    `json:"timestamp,omitempty"`
	Message      string    `json:"message,omitempty"`
}

// Sink receives events as they are produced. A non-nil error tells the
// orchestrator the client is gone and forwarding must stop.
type Sink func(Event) error

// Connected builds the stream-opening event.
func Connected() Event {
	return Event{Type: EventConnected}
}

// Chunk builds a text fragment event.
func Chunk(content string) Event {
	return Event{Type: EventChunk, Content: content}
}

// Complete builds the success terminator carrying the full concatenated text.
func Complete(fullResponse string, at time.Time) Event {
	return Event{
		Type:         EventComplete,
		FullResponse: fullResponse,
		Timestamp:    at.UTC().Format(time.RFC3339),
	}
}

// Failure builds the error terminator.
func Failure(message string) Event {
	return Event{Type: EventError, Message: message}
}
