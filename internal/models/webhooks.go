package models

// Webhook notification types
const (
	NotificationQR           = "qr"
	NotificationConnected    = "connected"
	NotificationDisconnected = "disconnected"
	NotificationMessage      = "message"
)

// Notification is the payload delivered to a chatbot's registered callback
// and pushed on the live status stream. Data depends on Type: the QR string
// for "qr", a MessageEnvelope for "message", nil otherwise.
type Notification struct {
	Type      string      `json:"type"`
	ChatbotID string      `json:"chatbotId"`
	SessionID string      `json:"sessionId"`
	Data      interface{} `json:"data,omitempty"`
}
