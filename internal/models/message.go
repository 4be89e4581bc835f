package models

import (
	"time"
)

// MessageEnvelope carries a single text message through the system.
// Inbound envelopes come from the connection driver; outbound envelopes are
// built from API requests. The envelope itself is not persisted here --
// downstream webhook consumers own message storage and de-duplicate on
// MessageID.
type MessageEnvelope struct {
	SessionID string            `json:"sessionId"`
	From      string            `json:"from,omitempty"`
	To        string            `json:"to,omitempty"`
	Message   string            `json:"message"`
	MessageID string            `json:"messageId"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
