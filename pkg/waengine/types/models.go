package types

// Session status values reported by the engine
const (
	StatusStarting = "STARTING"
	StatusScanQR   = "SCAN_QR_CODE"
	StatusWorking  = "WORKING"
	StatusStopped  = "STOPPED"
	StatusFailed   = "FAILED"
)

// Webhook event names posted by the engine
const (
	EventQR            = "qr"
	EventSessionStatus = "session.status"
	EventMessage       = "message"
)

// WebhookPayload is the envelope the engine posts to our ingestion endpoint.
type WebhookPayload struct {
	ID        string `json:"id"`
	Event     string `json:"event"`
	Session   string `json:"session"`
	Timestamp int64  `json:"timestamp"`
	Payload   struct {
		QR     string `json:"qr,omitempty"`
		Status string `json:"status,omitempty"`
		ID     string `json:"id,omitempty"`
		From   string `json:"from,omitempty"`
		To     string `json:"to,omitempty"`
		Body   string `json:"body,omitempty"`
	} `json:"payload"`
}

// StartSessionRequest asks the engine to create and start a session.
type StartSessionRequest struct {
	Name  string `json:"name"`
	Start bool   `json:"start"`
}

// SendTextRequest asks the engine to deliver a text message on a session.
// Metadata is passed through to the engine opaquely.
type SendTextRequest struct {
	Session  string            `json:"session"`
	ChatID   string            `json:"chatId"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SendTextResponse carries the engine-assigned message id.
type SendTextResponse struct {
	ID string `json:"id"`
}
