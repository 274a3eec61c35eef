// Package nats carries broker events over NATS subjects and stores attachments in a
// JetStream object store.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"livechat/internal/broker"
)

// Connect dials natsURL with reconnects enabled.
func Connect(natsURL string) (*nats.Conn, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("livechat"),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("[NATS] Disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("[NATS] Reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	slog.Info("[NATS] Connected to NATS", "url", natsURL)
	return nc, nil
}

// Transport publishes each topic on "<prefix>.<topic>" and listens on "<prefix>.room.>".
type Transport struct {
	nc     *nats.Conn
	prefix string

	mu     sync.Mutex
	subs   []*nats.Subscription
	closed bool
}

var _ broker.Transport = (*Transport)(nil)

func NewTransport(nc *nats.Conn, prefix string) *Transport {
	return &Transport{nc: nc, prefix: prefix}
}

func (t *Transport) Name() string { return "nats" }

func (t *Transport) subject(topic string) string {
	if t.prefix == "" {
		return topic
	}
	return t.prefix + "." + topic
}

func (t *Transport) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	subject := t.subject(topic)
	if err := t.nc.Publish(subject, payload); err != nil {
		slog.Error("[NATS] Failed to publish event", "subject", subject, "error", err)
		return err
	}
	return nil
}

func (t *Transport) Listen(ctx context.Context) (<-chan []byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, errors.New("nats transport closed")
	}

	subject := t.subject("room.>")
	msgs := make(chan *nats.Msg, broker.DefaultBufferSize)
	sub, err := t.nc.ChanSubscribe(subject, msgs)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	// Round-trip so the server has registered the interest before we report ready.
	if err := t.nc.FlushWithContext(ctx); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("flush subscription %s: %w", subject, err)
	}
	t.subs = append(t.subs, sub)

	slog.Info("[NATS] Subscribed", "subject", subject)

	out := make(chan []byte, broker.DefaultBufferSize)
	go func() {
		defer close(out)
		defer func() {
			if sub.IsValid() {
				_ = sub.Unsubscribe()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-msgs:
				select {
				case out <- msg.Data:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close drops the subscriptions; the connection belongs to the caller.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	var errs []error
	for _, sub := range t.subs {
		if !sub.IsValid() {
			continue
		}
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrBadSubscription) && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, err)
		}
	}
	t.subs = nil
	return errors.Join(errs...)
}
