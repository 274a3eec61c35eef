package broker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"livechat/internal/models"
)

// DefaultBufferSize is the per-subscription queue length.
const DefaultBufferSize = 256

// Hub keeps the subscriptions of this process and delivers events to them.
// Used alone it is the in-process broker.
type Hub struct {
	// topic -> subscription id -> subscription
	topics map[string]map[string]*Subscription
	mu     sync.RWMutex

	bufferSize int
	closed     bool
}

var _ Broker = (*Hub)(nil)

// NewHub creates an in-process broker. bufferSize <= 0 uses DefaultBufferSize.
func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		topics:     make(map[string]map[string]*Subscription),
		bufferSize: bufferSize,
	}
}

func (h *Hub) Start(ctx context.Context) error { return nil }

func (h *Hub) Publish(ctx context.Context, topic string, ev models.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ev.Topic = topic
	return h.Deliver(ev)
}

func (h *Hub) Subscribe(ctx context.Context, topic string, who Subscriber, filter Filter) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &Subscription{
		id:     uuid.NewString(),
		topic:  topic,
		who:    who,
		filter: filter,
		owner:  h,
		ch:     make(chan models.Event, h.bufferSize),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[string]*Subscription)
	}
	h.topics[topic][sub.id] = sub

	slog.Debug("[BROKER] Subscribed", "topic", topic, "subscription", sub.id, "user", who.UserID, "count", len(h.topics[topic]))
	return sub, nil
}

func (h *Hub) Unsubscribe(sub *Subscription) error {
	if sub == nil {
		return nil
	}
	if sub.owner != h {
		return ErrUnknownSubscription
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.topics[sub.topic]; ok {
		if _, ok := subs[sub.id]; ok {
			delete(subs, sub.id)
			if len(subs) == 0 {
				delete(h.topics, sub.topic)
			}
			slog.Debug("[BROKER] Unsubscribed", "topic", sub.topic, "subscription", sub.id)
		}
	}
	sub.close()
	return nil
}

// Deliver fans ev out to the local subscribers of ev.Topic. A subscriber whose queue is full
// misses the event; nobody blocks.
func (h *Hub) Deliver(ev models.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return ErrClosed
	}

	subs, ok := h.topics[ev.Topic]
	if !ok {
		return nil
	}

	for _, sub := range subs {
		if !sub.accepts(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			slog.Warn("[BROKER] Subscriber queue full, event dropped", "topic", ev.Topic, "subscription", sub.id, "user", sub.who.UserID, "type", ev.Type)
		}
	}
	return nil
}

// SubscriberCount returns the number of local subscriptions on topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Close removes every subscription, closing their channels.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	count := 0
	for topic, subs := range h.topics {
		for _, sub := range subs {
			sub.close()
			count++
		}
		delete(h.topics, topic)
	}
	slog.Info("[BROKER] Hub closed", "subscriptions", count)
	return nil
}
