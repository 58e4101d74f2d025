package model

import (
	"encoding/json"
	"strings"
)

// GatewayEvent is the envelope of an Evolution API webhook as forwarded onto NATS.
type GatewayEvent struct {
	Event        string          `json:"event" validate:"required"`
	Instance     string          `json:"instance,omitempty"`
	InstanceName string          `json:"instanceName,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	// State is used by older gateway versions that send connection state at top level.
	State string `json:"state,omitempty"`
}

// InstanceID returns whichever instance field the gateway filled.
func (e *GatewayEvent) InstanceID() string {
	if e.Instance != "" {
		return e.Instance
	}
	return e.InstanceName
}

// MessageKey identifies a WhatsApp message.
type MessageKey struct {
	RemoteJid string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
	ID        string `json:"id,omitempty"`
}

// MediaContent is any media sub-message carrying an optional caption.
type MediaContent struct {
	URL     string `json:"url,omitempty"`
	Caption string `json:"caption,omitempty"`
}

// MessageContent is the subset of the WhatsApp message body this service reads.
type MessageContent struct {
	Conversation        string `json:"conversation,omitempty"`
	ExtendedTextMessage *struct {
		Text string `json:"text,omitempty"`
	} `json:"extendedTextMessage,omitempty"`
	ImageMessage    *MediaContent `json:"imageMessage,omitempty"`
	VideoMessage    *MediaContent `json:"videoMessage,omitempty"`
	AudioMessage    *MediaContent `json:"audioMessage,omitempty"`
	DocumentMessage *MediaContent `json:"documentMessage,omitempty"`
}

// MessageUpsertData is the data of a messages.upsert event.
type MessageUpsertData struct {
	Key      MessageKey      `json:"key"`
	PushName string          `json:"pushName,omitempty"`
	Message  *MessageContent `json:"message,omitempty"`
}

// SenderPhone returns the contact digits from the remote JID.
func (d *MessageUpsertData) SenderPhone() string {
	jid := d.Key.RemoteJid
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		jid = jid[:i]
	}
	return jid
}

// Text returns the best textual rendering of the message.
func (d *MessageUpsertData) Text() string {
	m := d.Message
	if m == nil {
		return ""
	}
	switch {
	case m.Conversation != "":
		return m.Conversation
	case m.ExtendedTextMessage != nil && m.ExtendedTextMessage.Text != "":
		return m.ExtendedTextMessage.Text
	case m.ImageMessage != nil && m.ImageMessage.Caption != "":
		return m.ImageMessage.Caption
	case m.VideoMessage != nil && m.VideoMessage.Caption != "":
		return m.VideoMessage.Caption
	}
	return "Mídia recebida"
}

// MessageType classifies the message body as text, image, video, audio or document.
func (d *MessageUpsertData) MessageType() string {
	m := d.Message
	switch {
	case m == nil:
		return "text"
	case m.ImageMessage != nil:
		return "image"
	case m.VideoMessage != nil:
		return "video"
	case m.AudioMessage != nil:
		return "audio"
	case m.DocumentMessage != nil:
		return "document"
	}
	return "text"
}

// ConnectionUpdateData is the data of a connection.update event.
type ConnectionUpdateData struct {
	State        string `json:"state"`
	StatusReason int    `json:"statusReason,omitempty"`
}

// IsDisconnect reports whether the state means the line lost its WhatsApp session.
func (d *ConnectionUpdateData) IsDisconnect() bool {
	return d.State == "close" || d.State == "DISCONNECTED"
}

// Notification is a push event delivered to an operator or a segment's supervisors.
type Notification struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// Notification event names.
const (
	NotifyLineReallocated = "line-reallocated"
	NotifyLineUnavailable = "line-unavailable"
	NotifyLineAssigned    = "line-assigned"
	NotifyLineBanned      = "line-banned"
	NotifyNewMessage      = "new-message"
)

// LineChangePayload is the data of line-* notifications.
type LineChangePayload struct {
	OperatorID int64  `json:"operator_id"`
	OldLineID  *int64 `json:"old_line_id,omitempty"`
	LineID     *int64 `json:"line_id,omitempty"`
	LinePhone  string `json:"line_phone,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// InboundMessagePayload is the data of new-message notifications.
type InboundMessagePayload struct {
	LineID       int64  `json:"line_id"`
	ContactPhone string `json:"contact_phone"`
	ContactName  string `json:"contact_name,omitempty"`
	Text         string `json:"text"`
	MessageType  string `json:"message_type"`
	MediaURL     string `json:"media_url,omitempty"`
}

// MediaURL returns the URL of whichever media sub-message is present.
func (d *MessageUpsertData) MediaURL() string {
	m := d.Message
	if m == nil {
		return ""
	}
	for _, media := range []*MediaContent{m.ImageMessage, m.VideoMessage, m.AudioMessage, m.DocumentMessage} {
		if media != nil && media.URL != "" {
			return media.URL
		}
	}
	return ""
}
