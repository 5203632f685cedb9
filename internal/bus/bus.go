// Package bus is the process-wide typed event bus all call components
// communicate through. Delivery is synchronous and in subscription order
// within a topic; a failing handler never blocks the rest.
package bus

import (
	"sync"

	"github.com/rs/zerolog"
)

// Handler receives every event published to a subscribed topic.
type Handler func(Event)

type subscriber struct {
	id   uint64
	fn   Handler
	once bool
}

// Bus fans events out to topic subscribers. The zero value is not usable;
// construct with New and pass the instance to every component that needs it.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[Topic][]*subscriber
	log    zerolog.Logger
}

func New(log zerolog.Logger) *Bus {
	return &Bus{
		subs: make(map[Topic][]*subscriber),
		log:  log,
	}
}

// Subscribe registers a handler for a topic and returns its unsubscribe
// function. Every call adds an independent registration: Go func values are
// not comparable, so two method values of the same method on different
// receivers are two subscribers, never a duplicate.
func (b *Bus) Subscribe(topic Topic, h Handler) func() {
	return b.subscribe(topic, h, false)
}

// SubscribeOnce registers a handler that removes itself before its first
// invocation.
func (b *Bus) SubscribeOnce(topic Topic, h Handler) func() {
	return b.subscribe(topic, h, true)
}

func (b *Bus) subscribe(topic Topic, h Handler, once bool) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], &subscriber{id: id, fn: h, once: once})
	return func() { b.remove(topic, id) }
}

// remove drops one registration. When the last handler for a topic is
// removed the topic entry itself is dropped. Removing twice is a no-op.
func (b *Bus) remove(topic Topic, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[topic]
	for i, s := range list {
		if s.id == id {
			b.subs[topic] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(b.subs[topic]) == 0 {
		delete(b.subs, topic)
	}
}

// Publish delivers the event to every handler registered for its topic at
// publish time. The subscriber list is snapshotted first, so unsubscribing
// mid-dispatch does not affect the current delivery. A panicking handler is
// logged and the remaining handlers still run.
func (b *Bus) Publish(evt Event) {
	if evt.Payload == nil {
		return
	}
	topic := evt.Payload.Topic()

	b.mu.RLock()
	list := b.subs[topic]
	snapshot := make([]*subscriber, len(list))
	copy(snapshot, list)
	b.mu.RUnlock()

	for _, s := range snapshot {
		if s.once {
			b.remove(topic, s.id)
		}
		b.invoke(topic, s, evt)
	}
}

func (b *Bus) invoke(topic Topic, s *subscriber, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Str("topic", string(topic)).
				Str("call_id", evt.Ctx.CallID).
				Interface("panic", r).
				Msg("event handler panicked")
		}
	}()
	s.fn(evt)
}

// SubscriberCount reports the current number of handlers for a topic.
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
