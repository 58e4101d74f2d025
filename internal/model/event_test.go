package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapSubjectToEventType(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		expectedType  EventType
		expectedFound bool
	}{
		{"message with instance", "gateway.events.messages.upsert.line_5511999990000", EventMessagesUpsert, true},
		{"connection without instance", "gateway.events.connection.update", EventConnectionUpdate, true},
		{"unknown action", "gateway.events.chats.update.line_1", "", false},
		{"no dots", "unknown", "", false},
		{"empty string", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actualType, actualFound := MapSubjectToEventType(tt.input)
			assert.Equal(t, tt.expectedType, actualType)
			assert.Equal(t, tt.expectedFound, actualFound)
		})
	}
}

func TestNormalizeEventType(t *testing.T) {
	assert.Equal(t, EventMessagesUpsert, NormalizeEventType("MESSAGES_UPSERT"))
	assert.Equal(t, EventConnectionUpdate, NormalizeEventType("connection.update"))
}
