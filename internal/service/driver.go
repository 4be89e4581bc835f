package service

import (
	"context"

	"wagate/internal/models"
)

// EventKind tags a connection driver lifecycle event.
type EventKind string

const (
	EventQRGenerated     EventKind = "qr"
	EventConnected       EventKind = "connected"
	EventDisconnected    EventKind = "disconnected"
	EventMessageReceived EventKind = "message"
)

// Event is one lifecycle event emitted by a connection driver. QRCode is set
// for EventQRGenerated, Message for EventMessageReceived.
type Event struct {
	Kind    EventKind
	QRCode  string
	Message *models.MessageEnvelope
}

// ConnectionDriver is the opaque handle to one live connection on the
// messaging network. The session manager owns the handle exclusively; exactly
// one driver may be bound to a session id at a time.
//
// Events carries the driver's lifecycle stream in emission order. The driver
// closes the channel once it will emit no more events (after Stop or a final
// network-initiated disconnect).
type ConnectionDriver interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	SendText(ctx context.Context, to, body string, metadata map[string]string) (string, error)
	Events() <-chan Event
}

// DriverFactory builds a connection driver bound to a session id.
type DriverFactory interface {
	NewDriver(sessionID string) (ConnectionDriver, error)
}
