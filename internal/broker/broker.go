// Package broker fans published room events out to every subscriber of a topic.
//
// Delivery is best-effort and at-most-once per subscriber: an event published while a topic has
// no subscribers is dropped, and nothing is replayed. Within one topic a subscriber sees events in
// the order this process observed them.
package broker

import (
	"context"
	"errors"
	"sync"

	"livechat/internal/models"
)

var (
	// ErrClosed is returned by a broker after Close.
	ErrClosed = errors.New("broker: closed")
	// ErrUnknownSubscription is returned when unsubscribing a handle from another broker.
	ErrUnknownSubscription = errors.New("broker: unknown subscription")
)

// Broker is the publish/subscribe contract shared by the in-process and shared-bus brokers.
type Broker interface {
	// Publish sends ev to every current subscriber of topic.
	Publish(ctx context.Context, topic string, ev models.Event) error
	// Subscribe registers interest in topic. The subscriber identity is captured now and
	// passed to filter on every delivery.
	Subscribe(ctx context.Context, topic string, who Subscriber, filter Filter) (*Subscription, error)
	// Unsubscribe removes the subscription and closes its event channel. Idempotent.
	Unsubscribe(sub *Subscription) error
	// Start begins receiving events from the shared bus, if any.
	Start(ctx context.Context) error
	// Close unsubscribes everything and releases the bus.
	Close() error
}

// Subscriber identifies who opened a subscription.
type Subscriber struct {
	ConnID string
	UserID string
}

// Filter reports whether ev should be delivered to sub.
type Filter func(ev models.Event, sub Subscriber) bool

// ExcludeOrigin drops events that the subscriber itself caused.
func ExcludeOrigin(ev models.Event, sub Subscriber) bool {
	return ev.OriginUserID == "" || ev.OriginUserID != sub.UserID
}

// Subscription is one registration on one topic. Events() yields deliveries until the
// subscription is removed, at which point the channel is closed.
type Subscription struct {
	id     string
	topic  string
	who    Subscriber
	filter Filter
	owner  *Hub

	ch        chan models.Event
	closeOnce sync.Once
}

func (s *Subscription) ID() string                  { return s.id }
func (s *Subscription) Topic() string               { return s.topic }
func (s *Subscription) Subscriber() Subscriber      { return s.who }
func (s *Subscription) Events() <-chan models.Event { return s.ch }

func (s *Subscription) accepts(ev models.Event) bool {
	if s.filter == nil {
		return true
	}
	return s.filter(ev, s.who)
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() { close(s.ch) })
}
