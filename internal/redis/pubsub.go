package redis

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/go-redis/redis/v8"

	"livechat/internal/broker"
)

// Transport carries broker events over Redis pub/sub. Every topic is published on
// prefix+topic and a single pattern subscription receives all room topics.
type Transport struct {
	client *Client
	prefix string

	mu     sync.Mutex
	subs   []*redis.PubSub
	closed bool
}

var _ broker.Transport = (*Transport)(nil)

// NewTransport creates a transport. prefix namespaces the channels: "livechat" publishes
// on "livechat:room.<id>.<kind>".
func NewTransport(client *Client, prefix string) *Transport {
	return &Transport{client: client, prefix: namespace(prefix)}
}

func (t *Transport) Name() string { return "redis" }

func (t *Transport) Publish(ctx context.Context, topic string, payload []byte) error {
	channel := t.prefix + topic
	if err := t.client.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		slog.Error("[REDIS] Failed to publish event", "channel", channel, "error", err)
		return err
	}
	return nil
}

func (t *Transport) Listen(ctx context.Context) (<-chan []byte, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, errors.New("redis transport closed")
	}
	t.mu.Unlock()

	pattern := t.prefix + "room.*"
	pubsub := t.client.rdb.PSubscribe(ctx, pattern)

	// Wait for subscription confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		slog.Error("[REDIS] Failed to receive subscription confirmation", "pattern", pattern, "error", err)
		return nil, err
	}

	t.mu.Lock()
	t.subs = append(t.subs, pubsub)
	t.mu.Unlock()

	slog.Info("[REDIS] Subscribed to Redis pub/sub", "pattern", pattern)

	out := make(chan []byte, broker.DefaultBufferSize)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					slog.Info("[REDIS] Redis pub/sub channel closed", "pattern", pattern)
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close ends every pattern subscription. The shared client stays open.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	var errs []error
	for _, ps := range t.subs {
		if err := ps.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			errs = append(errs, err)
		}
	}
	t.subs = nil
	return errors.Join(errs...)
}
