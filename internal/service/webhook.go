package service

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"wagate/internal/errors"
	"wagate/internal/metrics"
	"wagate/internal/models"

	"github.com/asaskevich/EventBus"
	"github.com/sirupsen/logrus"
)

// WebhookDispatcher delivers notifications to each chatbot's registered
// callback. Delivery is fire-and-forget: failures are logged and counted,
// never retried here and never surfaced to the session manager.
type WebhookDispatcher struct {
	client  *http.Client
	targets map[string]string
	logger  *logrus.Logger
}

func NewWebhookDispatcher(channels []models.ChannelConfig, timeout time.Duration, logger *logrus.Logger) *WebhookDispatcher {
	targets := make(map[string]string, len(channels))
	for _, channel := range channels {
		if channel.WebhookURL != "" {
			targets[channel.ChatbotID] = channel.WebhookURL
		}
	}
	return &WebhookDispatcher{
		client:  &http.Client{Timeout: timeout},
		targets: targets,
		logger:  logger,
	}
}

// Subscribe attaches the dispatcher to the notification bus. SubscribeAsync
// keeps delivery off the session manager's event loops.
func (d *WebhookDispatcher) Subscribe(bus EventBus.Bus) error {
	return bus.SubscribeAsync(TopicNotifications, d.Deliver, false)
}

// Deliver posts one notification to the chatbot's callback, if one is
// configured.
func (d *WebhookDispatcher) Deliver(notification models.Notification) {
	target, ok := d.targets[notification.ChatbotID]
	if !ok {
		return
	}

	log := d.logger.WithFields(logrus.Fields{
		"chatbot_id": notification.ChatbotID,
		"session_id": notification.SessionID,
		"type":       notification.Type,
	})

	body, err := json.Marshal(notification)
	if err != nil {
		metrics.WebhookDeliveries.WithLabelValues("failure").Inc()
		log.WithError(err).Error("Failed to encode webhook notification")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		metrics.WebhookDeliveries.WithLabelValues("failure").Inc()
		log.WithError(err).Error("Failed to build webhook request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		metrics.WebhookDeliveries.WithLabelValues("failure").Inc()
		log.WithError(errors.Wrap(err, errors.ErrCodeWebhookDelivery, "callback unreachable")).
			Warn("Webhook delivery failed")
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.WebhookDeliveries.WithLabelValues("failure").Inc()
		log.WithError(errors.New(errors.ErrCodeWebhookDelivery, "callback rejected delivery").
			WithContext("status", resp.StatusCode)).Warn("Webhook delivery rejected")
		return
	}

	metrics.WebhookDeliveries.WithLabelValues("success").Inc()
	log.Debug("Webhook delivered")
}
