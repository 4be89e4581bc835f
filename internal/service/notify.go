package service

import (
	"fmt"

	"wagate/internal/models"

	"github.com/asaskevich/EventBus"
)

// TopicNotifications carries every lifecycle notification. Per-chatbot
// topics exist alongside it so stream subscribers only see their own tenant.
const TopicNotifications = "session.notifications"

// ChatbotTopic returns the per-tenant notification topic.
func ChatbotTopic(chatbotID string) string {
	return fmt.Sprintf("session.notifications.%s", chatbotID)
}

// Notifier hands a notification off for delivery. Implementations must not
// block: the session manager calls Notify from its event handlers after
// persistence and does not wait for delivery.
type Notifier interface {
	Notify(notification models.Notification)
}

// BusNotifier fans notifications out on an event bus. The webhook dispatcher
// subscribes to the global topic, live status streams to per-chatbot topics.
type BusNotifier struct {
	bus EventBus.Bus
}

func NewBusNotifier(bus EventBus.Bus) *BusNotifier {
	return &BusNotifier{bus: bus}
}

func (n *BusNotifier) Notify(notification models.Notification) {
	n.bus.Publish(TopicNotifications, notification)
	n.bus.Publish(ChatbotTopic(notification.ChatbotID), notification)
}
