package model

import (
	"encoding/json"
	"strings"
	"time"
)

// EventType is the name the gateway gives a webhook event.
type EventType string

const (
	EventMessagesUpsert   EventType = "messages.upsert"
	EventConnectionUpdate EventType = "connection.update"
)

// NormalizeEventType maps the gateway's upper-snake spelling ("MESSAGES_UPSERT") and
// the dotted spelling onto one EventType.
func NormalizeEventType(raw string) EventType {
	return EventType(strings.ToLower(strings.ReplaceAll(strings.TrimSpace(raw), "_", ".")))
}

// MapSubjectToEventType extracts the event type from a subject of the form
// "<prefix>.<group>.<action>[.<instance>]", e.g. "gateway.events.messages.upsert.line_5511".
// It returns false when no known event type is found.
func MapSubjectToEventType(subject string) (EventType, bool) {
	parts := strings.Split(subject, ".")
	for i := 0; i+1 < len(parts); i++ {
		candidate := EventType(parts[i] + "." + parts[i+1])
		switch candidate {
		case EventMessagesUpsert, EventConnectionUpdate:
			return candidate, true
		}
	}
	return "", false
}

// MessageMetadata is the JetStream delivery metadata attached to a consumed event.
type MessageMetadata struct {
	ConsumerSequence uint64
	StreamSequence   uint64
	NumDelivered     uint64
	NumPending       uint64
	Timestamp        time.Time
	Stream           string
	Consumer         string
	Domain           string
	MessageID        string
	MessageSubject   string
}

// DLQPayload is published to the dead letter subject when an event cannot be processed.
type DLQPayload struct {
	SourceSubject   string          `json:"source_subject"`
	OriginalPayload json.RawMessage `json:"original_payload"`
	Error           string          `json:"error"`
	ErrorType       string          `json:"error_type"` // "retryable" or "fatal"
	RetryCount      uint64          `json:"retry_count"`
	MaxRetry        int             `json:"max_retry"`
	Timestamp       time.Time       `json:"timestamp"`
}
