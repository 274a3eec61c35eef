package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/goccy/go-json"

	"livechat/internal/models"
)

// Transport is a shared bus that carries encoded events between processes.
type Transport interface {
	// Name is used in logs.
	Name() string
	Publish(ctx context.Context, topic string, payload []byte) error
	// Listen subscribes to every topic and returns once the subscription is confirmed.
	// The channel is closed when ctx ends or the transport is closed.
	Listen(ctx context.Context) (<-chan []byte, error)
	Close() error
}

// Bridged publishes through a shared Transport and delivers whatever the transport receives
// to the subscriptions held by this process. Every process, including the publisher, gets
// events back from the bus, so all instances see the same stream.
type Bridged struct {
	hub       *Hub
	transport Transport

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

var _ Broker = (*Bridged)(nil)

// NewBridged creates a broker on top of transport.
func NewBridged(transport Transport, bufferSize int) *Bridged {
	return &Bridged{
		hub:       NewHub(bufferSize),
		transport: transport,
	}
}

// Start subscribes to the bus and relays events until Close.
func (b *Bridged) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return nil
	}

	listenCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	payloads, err := b.transport.Listen(listenCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("listen on %s: %w", b.transport.Name(), err)
	}

	b.cancel = cancel
	b.done = make(chan struct{})
	b.started = true

	go b.relay(payloads)

	slog.Info("[BROKER] Relay started", "transport", b.transport.Name())
	return nil
}

func (b *Bridged) relay(payloads <-chan []byte) {
	defer close(b.done)

	for payload := range payloads {
		var ev models.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			slog.Error("[BROKER] Error unmarshaling event", "transport", b.transport.Name(), "error", err, "size", len(payload))
			continue
		}
		if err := b.hub.Deliver(ev); err != nil {
			if errors.Is(err, ErrClosed) {
				return
			}
			slog.Error("[BROKER] Failed to deliver event", "topic", ev.Topic, "error", err)
		}
	}

	slog.Info("[BROKER] Relay stopped", "transport", b.transport.Name())
}

func (b *Bridged) Publish(ctx context.Context, topic string, ev models.Event) error {
	ev.Topic = topic
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.transport.Publish(ctx, topic, payload); err != nil {
		return fmt.Errorf("publish %s on %s: %w", ev.Type, b.transport.Name(), err)
	}
	return nil
}

func (b *Bridged) Subscribe(ctx context.Context, topic string, who Subscriber, filter Filter) (*Subscription, error) {
	return b.hub.Subscribe(ctx, topic, who, filter)
}

func (b *Bridged) Unsubscribe(sub *Subscription) error {
	return b.hub.Unsubscribe(sub)
}

// SubscriberCount returns the number of local subscriptions on topic.
func (b *Bridged) SubscriberCount(topic string) int {
	return b.hub.SubscriberCount(topic)
}

// Close stops the relay, closes local subscriptions and the transport.
func (b *Bridged) Close() error {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.started = false
	b.cancel = nil
	b.mu.Unlock()

	hubErr := b.hub.Close()
	transportErr := b.transport.Close()
	if cancel != nil {
		cancel()
		<-done
	}
	return errors.Join(hubErr, transportErr)
}
