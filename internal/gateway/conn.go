// Package gateway relays broker events to WebSocket clients and accepts their room commands.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"livechat/internal/apperr"
	"livechat/internal/broker"
	"livechat/internal/models"
	"livechat/internal/session"
)

// ErrConnClosed is returned by Open after Teardown.
var ErrConnClosed = errors.New("gateway: connection closed")

// Authorizer decides whether a user may subscribe to a topic.
type Authorizer interface {
	CanSubscribe(ctx context.Context, user models.UserSnapshot, topic string) error
}

// Conn holds the broker subscriptions of one client connection, keyed by topic, and merges
// their events into a single stream.
type Conn struct {
	id     string
	user   models.UserSnapshot
	broker broker.Broker
	authz  Authorizer
	log    *slog.Logger

	events chan models.Event
	done   chan struct{}
	wg     sync.WaitGroup

	mu     sync.Mutex
	subs   map[string]*broker.Subscription
	closed bool
}

// NewConn creates the subscription state for an authenticated user.
func NewConn(user models.UserSnapshot, b broker.Broker, authz Authorizer, buffer int) *Conn {
	if buffer <= 0 {
		buffer = broker.DefaultBufferSize
	}
	id := uuid.NewString()
	return &Conn{
		id:     id,
		user:   user,
		broker: b,
		authz:  authz,
		log:    slog.With("conn", id, "user", user.ID),
		events: make(chan models.Event, buffer),
		done:   make(chan struct{}),
		subs:   make(map[string]*broker.Subscription),
	}
}

func (c *Conn) ID() string                  { return c.id }
func (c *Conn) User() models.UserSnapshot   { return c.user }
func (c *Conn) Events() <-chan models.Event { return c.events }

// Done is closed by Teardown.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Topics lists the topics this connection is subscribed to.
func (c *Conn) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	topics := make([]string, 0, len(c.subs))
	for topic := range c.subs {
		topics = append(topics, topic)
	}
	return topics
}

// Open subscribes to topic. Opening a topic twice keeps the first subscription.
func (c *Conn) Open(ctx context.Context, topic string) error {
	const op = "gateway.Open"

	if err := c.authz.CanSubscribe(ctx, c.user, topic); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnClosed
	}
	if _, ok := c.subs[topic]; ok {
		return nil
	}

	who := broker.Subscriber{ConnID: c.id, UserID: c.user.ID}
	sub, err := c.broker.Subscribe(ctx, topic, who, session.FilterFor(topic))
	if err != nil {
		return apperr.Dependency(op, err)
	}
	c.subs[topic] = sub

	c.wg.Add(1)
	go c.forward(sub)

	c.log.Debug("[GATEWAY] Subscription opened", "topic", topic, "subscription", sub.ID())
	return nil
}

// forward copies sub's events into the connection stream until the subscription ends.
// A room:deleted event is the last one a subscription forwards.
func (c *Conn) forward(sub *broker.Subscription) {
	defer c.wg.Done()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			select {
			case c.events <- ev:
			case <-c.done:
				return
			}
			if ev.Type == models.EventRoomDeleted {
				c.release(sub.Topic(), sub)
			}
		case <-c.done:
			return
		}
	}
}

// Close unsubscribes from topic. Closing a topic that is not open is a no-op.
func (c *Conn) Close(topic string) error {
	c.mu.Lock()
	sub, ok := c.subs[topic]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return c.release(topic, sub)
}

// release removes sub if it is still the registration for topic.
func (c *Conn) release(topic string, sub *broker.Subscription) error {
	c.mu.Lock()
	if c.subs[topic] != sub {
		c.mu.Unlock()
		return nil
	}
	delete(c.subs, topic)
	c.mu.Unlock()

	c.log.Debug("[GATEWAY] Subscription closed", "topic", topic, "subscription", sub.ID())
	return c.unsubscribe(sub)
}

// unsubscribe retries a failed unsubscribe once; a handle left behind leaks broker capacity.
func (c *Conn) unsubscribe(sub *broker.Subscription) error {
	err := c.broker.Unsubscribe(sub)
	if err == nil {
		return nil
	}
	c.log.Warn("[GATEWAY] Unsubscribe failed, retrying", "topic", sub.Topic(), "subscription", sub.ID(), "error", err)

	if err = c.broker.Unsubscribe(sub); err != nil {
		c.log.Error("[GATEWAY] Unsubscribe failed", "topic", sub.Topic(), "subscription", sub.ID(), "error", err)
		return err
	}
	return nil
}

// Teardown releases every subscription of the connection. It attempts all of them even when
// some fail, and is safe to call more than once.
func (c *Conn) Teardown() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := c.subs
	c.subs = make(map[string]*broker.Subscription)
	c.mu.Unlock()

	close(c.done)

	var errs []error
	for _, sub := range subs {
		if err := c.unsubscribe(sub); err != nil {
			errs = append(errs, err)
		}
	}
	c.wg.Wait()

	c.log.Debug("[GATEWAY] Connection torn down", "subscriptions", len(subs), "failed", len(errs))
	return errors.Join(errs...)
}
