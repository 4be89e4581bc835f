package waengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"wagate/internal/errors"
	"wagate/internal/service"
	"wagate/pkg/waengine/types"
)

const eventBufferSize = 32

// driver is the per-session connection handle. Engine webhook events arrive
// through deliver; the session manager consumes them from Events in order.
type driver struct {
	client    *Client
	sessionID string
	events    chan service.Event

	mu     sync.Mutex
	closed bool
}

func (d *driver) Start(ctx context.Context) error {
	body := types.StartSessionRequest{Name: d.sessionID, Start: true}
	resp, err := d.request(ctx, http.MethodPost, "/api/sessions", body)
	if err != nil {
		return errors.WrapRetryable(err, errors.ErrCodeEngineAPI, "failed to start session")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return errors.NewEngineError("/api/sessions", resp.StatusCode, fmt.Errorf("failed to start session"))
	}
	return nil
}

// Stop tears the connection down. On a clean stop the driver emits a final
// disconnected event before closing its stream; if the engine call fails the
// stream is closed without one so the caller can drive its own teardown.
func (d *driver) Stop(ctx context.Context) error {
	endpoint := fmt.Sprintf("/api/sessions/%s/stop", d.sessionID)
	resp, err := d.request(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		d.shutdown(false)
		return errors.WrapRetryable(err, errors.ErrCodeEngineAPI, "failed to stop session")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	// A 404 means the engine already dropped the session.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		d.shutdown(false)
		return errors.NewEngineError(endpoint, resp.StatusCode, fmt.Errorf("failed to stop session"))
	}

	d.shutdown(true)
	return nil
}

func (d *driver) SendText(ctx context.Context, to, body string, metadata map[string]string) (string, error) {
	req := types.SendTextRequest{Session: d.sessionID, ChatID: to, Text: body, Metadata: metadata}
	resp, err := d.request(ctx, http.MethodPost, "/api/sendText", req)
	if err != nil {
		return "", errors.WrapRetryable(err, errors.ErrCodeEngineAPI, "failed to send message")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", errors.NewEngineError("/api/sendText", resp.StatusCode, fmt.Errorf("failed to send message"))
	}

	var result types.SendTextResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeEngineAPI, "failed to decode send response")
	}
	return result.ID, nil
}

func (d *driver) Events() <-chan service.Event {
	return d.events
}

// deliver queues one event for the session manager. A disconnected event is
// terminal: the stream closes behind it.
//
// Lifecycle events never get dropped: the per-session event loop always
// drains the stream, so a full buffer only means the loop is momentarily
// behind and the send blocks until it catches up. Message traffic is
// best-effort under that same pressure.
func (d *driver) deliver(event service.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}

	if event.Kind == service.EventMessageReceived {
		select {
		case d.events <- event:
		default:
			d.client.logger.WithField("session_id", d.sessionID).
				Warn("Driver event buffer full, dropping message event")
		}
		return
	}

	d.events <- event

	if event.Kind == service.EventDisconnected {
		d.closed = true
		close(d.events)
		d.client.release(d.sessionID)
	}
}

func (d *driver) shutdown(emitDisconnected bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.closed = true

	if emitDisconnected {
		d.events <- service.Event{Kind: service.EventDisconnected}
	}
	close(d.events)
	d.client.release(d.sessionID)
}

func (d *driver) request(ctx context.Context, method, path string, payload interface{}) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.client.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if d.client.apiKey != "" {
		req.Header.Set("X-Api-Key", d.client.apiKey)
	}

	return d.client.http.Do(req)
}
