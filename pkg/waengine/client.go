// Package waengine implements the connection driver against a WAHA-style
// WhatsApp engine. Commands go out as HTTP calls; lifecycle events come back
// through the engine's webhook, which the caller feeds into DispatchWebhook.
package waengine

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"wagate/internal/models"
	"wagate/internal/service"
	"wagate/pkg/waengine/types"

	"github.com/sirupsen/logrus"
)

// Client talks to the engine and tracks the driver bound to each session id.
// It implements service.DriverFactory.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *logrus.Logger

	mu      sync.RWMutex
	drivers map[string]*driver
}

func NewClient(baseURL, apiKey string, timeout time.Duration, logger *logrus.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
		drivers: make(map[string]*driver),
	}
}

// NewDriver binds a driver to a session id. A session id can hold at most one
// driver at a time.
func (c *Client) NewDriver(sessionID string) (service.ConnectionDriver, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.drivers[sessionID]; exists {
		return nil, fmt.Errorf("driver already bound to session %s", sessionID)
	}

	d := &driver{
		client:    c,
		sessionID: sessionID,
		events:    make(chan service.Event, eventBufferSize),
	}
	c.drivers[sessionID] = d
	return d, nil
}

// DispatchWebhook routes an engine webhook payload to the driver bound to its
// session. Payloads for unbound sessions are dropped; the engine keeps
// posting for a short while after a session is torn down.
func (c *Client) DispatchWebhook(payload *types.WebhookPayload) {
	c.mu.RLock()
	d, ok := c.drivers[payload.Session]
	c.mu.RUnlock()

	if !ok {
		c.logger.WithFields(logrus.Fields{
			"session_id": payload.Session,
			"event":      payload.Event,
		}).Debug("Engine event for unbound session dropped")
		return
	}

	event, ok := convertEvent(payload)
	if !ok {
		return
	}
	d.deliver(event)
}

func (c *Client) release(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.drivers, sessionID)
}

// convertEvent maps an engine payload onto a driver event. Intermediate
// statuses (STARTING, SCAN_QR_CODE) are not forwarded; the QR event itself
// carries the scannable transition.
func convertEvent(payload *types.WebhookPayload) (service.Event, bool) {
	switch payload.Event {
	case types.EventQR:
		if payload.Payload.QR == "" {
			return service.Event{}, false
		}
		return service.Event{Kind: service.EventQRGenerated, QRCode: payload.Payload.QR}, true

	case types.EventSessionStatus:
		switch payload.Payload.Status {
		case types.StatusWorking:
			return service.Event{Kind: service.EventConnected}, true
		case types.StatusStopped, types.StatusFailed:
			return service.Event{Kind: service.EventDisconnected}, true
		case types.StatusStarting, types.StatusScanQR:
			// Intermediate statuses; the qr event carries the scannable
			// transition.
			return service.Event{}, false
		}
		return service.Event{}, false

	case types.EventMessage:
		return service.Event{
			Kind: service.EventMessageReceived,
			Message: &models.MessageEnvelope{
				From:      payload.Payload.From,
				To:        payload.Payload.To,
				Message:   payload.Payload.Body,
				MessageID: payload.Payload.ID,
				Timestamp: time.Unix(payload.Timestamp, 0).UTC(),
			},
		}, true
	}

	return service.Event{}, false
}
