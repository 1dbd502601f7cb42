package broker

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// eventTopics are the device event streams every AVM publishes.
var eventTopics = []string{"sensors", "battery", "gps", "recording", "gsm", "camera", "nfc"}

// QueueBinding pairs an event queue with its routing key on the
// android-events exchange.
type QueueBinding struct {
	Queue      string
	RoutingKey string
}

// EventQueueBindings returns the per-AVM queue/routing-key pairs. The
// sensors stream fans out sub-topics, so its binding takes a wildcard.
func EventQueueBindings(avmID string) []QueueBinding {
	bindings := make([]QueueBinding, 0, len(eventTopics))
	for _, topic := range eventTopics {
		queue := fmt.Sprintf("android-events.%s.%s", avmID, topic)
		routing := queue
		if topic == "sensors" {
			routing += ".*"
		}
		bindings = append(bindings, QueueBinding{Queue: queue, RoutingKey: routing})
	}
	return bindings
}

// CreateEventQueues declares and binds the event queues for one AVM.
func (b *Broker) CreateEventQueues(avmID string) error {
	for _, binding := range EventQueueBindings(avmID) {
		_, err := b.pub.QueueDeclare(binding.Queue, true, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("declare event queue %s: %w", binding.Queue, err)
		}
		if err := b.pub.QueueBind(binding.Queue, binding.RoutingKey, ExchangeEvents, false, nil); err != nil {
			return fmt.Errorf("bind event queue %s: %w", binding.Queue, err)
		}
	}
	return nil
}

// DeleteEventQueues removes the event queues of one AVM. Queues added by
// older service versions are not tracked; removing those needs the admin API.
func (b *Broker) DeleteEventQueues(avmID string) error {
	for _, binding := range EventQueueBindings(avmID) {
		if _, err := b.pub.QueueDelete(binding.Queue, false, false, false); err != nil {
			return fmt.Errorf("delete event queue %s: %w", binding.Queue, err)
		}
	}
	return nil
}

// NewMessageID returns a fresh opaque hex message id.
func NewMessageID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
