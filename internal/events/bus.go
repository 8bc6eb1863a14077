package events

import (
	"github.com/asaskevich/EventBus"
	"github.com/sirupsen/logrus"
)

// In-process fanout topics consumed by the bridge server and sinks.
const (
	TopicJobState    = "sync:job_state"
	TopicJobProgress = "sync:job_progress"
	TopicListing     = "sync:listing"
	TopicBars        = "sync:bars"
	TopicStrategies  = "sync:strategies"
)

// Bus decouples watchers from local consumers (bridge fanout, NATS, Influx).
// Publishing with no subscribers is a no-op, so watchers can always publish.
type Bus struct {
	bus EventBus.Bus
	log *logrus.Entry
}

// NewBus creates an in-process event bus.
func NewBus(log *logrus.Entry) *Bus {
	return &Bus{bus: EventBus.New(), log: log}
}

// Publish emits a payload on a topic.
func (b *Bus) Publish(topic string, payload interface{}) {
	b.bus.Publish(topic, payload)
}

// Subscribe registers an async callback for a topic.
func (b *Bus) Subscribe(topic string, fn interface{}) error {
	if err := b.bus.SubscribeAsync(topic, fn, false); err != nil {
		return err
	}
	b.log.WithField("topic", topic).Debug("Subscribed to bus topic")
	return nil
}

// Unsubscribe removes a callback from a topic.
func (b *Bus) Unsubscribe(topic string, fn interface{}) error {
	return b.bus.Unsubscribe(topic, fn)
}
