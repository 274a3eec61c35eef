package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livechat/internal/models"
)

func mustEvent(t *testing.T, typ models.EventType, roomID, origin string, data any) models.Event {
	t.Helper()
	ev, err := models.NewEvent(typ, "", roomID, origin, data)
	require.NoError(t, err)
	return ev
}

func receive(t *testing.T, sub *Subscription) models.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event on %s", sub.Topic())
	}
	return models.Event{}
}

func assertNoEvent(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if ok {
			t.Fatalf("unexpected event %s on %s", ev.Type, sub.Topic())
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_PublishSubscribeUnsubscribe(t *testing.T) {
	ctx := context.Background()
	h := NewHub(0)

	sub, err := h.Subscribe(ctx, MessageTopic("r1"), Subscriber{UserID: "u1"}, nil)
	require.NoError(t, err)

	// Unrelated topic should not be delivered.
	require.NoError(t, h.Publish(ctx, MessageTopic("r2"), mustEvent(t, models.EventMessageCreated, "r2", "", nil)))
	assertNoEvent(t, sub)

	require.NoError(t, h.Publish(ctx, MessageTopic("r1"), mustEvent(t, models.EventMessageCreated, "r1", "", map[string]string{"content": "hi"})))
	got := receive(t, sub)
	assert.Equal(t, models.EventMessageCreated, got.Type)
	assert.Equal(t, MessageTopic("r1"), got.Topic)

	require.NoError(t, h.Unsubscribe(sub))
	_, ok := <-sub.Events()
	assert.False(t, ok, "expected channel to be closed after unsubscribe")
	assert.Equal(t, 0, h.SubscriberCount(MessageTopic("r1")))

	// Idempotent.
	require.NoError(t, h.Unsubscribe(sub))
}

func TestHub_PublishWithoutSubscribersDoesNotBlock(t *testing.T) {
	h := NewHub(1)
	ev := mustEvent(t, models.EventTypingStart, "empty", "u1", nil)

	done := make(chan error, 1)
	go func() {
		done <- h.Publish(context.Background(), TypingTopic("empty"), ev)
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("publish to a topic without subscribers blocked")
	}
}

func TestHub_ExcludeOriginFilter(t *testing.T) {
	ctx := context.Background()
	h := NewHub(0)
	topic := TypingTopic("r1")

	author, err := h.Subscribe(ctx, topic, Subscriber{UserID: "alice"}, ExcludeOrigin)
	require.NoError(t, err)
	other, err := h.Subscribe(ctx, topic, Subscriber{UserID: "bob"}, ExcludeOrigin)
	require.NoError(t, err)

	require.NoError(t, h.Publish(ctx, topic, mustEvent(t, models.EventTypingStart, "r1", "alice", nil)))

	ev := receive(t, other)
	assert.Equal(t, "alice", ev.OriginUserID)
	assertNoEvent(t, other)
	assertNoEvent(t, author)
}

func TestHub_PerSubscriberOrder(t *testing.T) {
	ctx := context.Background()
	h := NewHub(0)
	topic := MessageTopic("r1")

	sub, err := h.Subscribe(ctx, topic, Subscriber{UserID: "u"}, nil)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		require.NoError(t, h.Publish(ctx, topic, mustEvent(t, models.EventMessageCreated, "r1", "", map[string]int{"n": i})))
	}
	for i := 0; i < 50; i++ {
		var data map[string]int
		require.NoError(t, receive(t, sub).Decode(&data))
		assert.Equal(t, i, data["n"])
	}
}

func TestHub_FullQueueDropsWithoutBlocking(t *testing.T) {
	ctx := context.Background()
	h := NewHub(1)
	topic := MessageTopic("r1")

	sub, err := h.Subscribe(ctx, topic, Subscriber{UserID: "slow"}, nil)
	require.NoError(t, err)

	require.NoError(t, h.Publish(ctx, topic, mustEvent(t, models.EventMessageCreated, "r1", "", nil)))
	require.NoError(t, h.Publish(ctx, topic, mustEvent(t, models.EventMessageCreated, "r1", "", nil)))

	receive(t, sub)
	assertNoEvent(t, sub)
}

func TestHub_CloseClosesSubscriptions(t *testing.T) {
	ctx := context.Background()
	h := NewHub(0)

	var subs []*Subscription
	for _, topic := range RoomTopics("r1") {
		sub, err := h.Subscribe(ctx, topic, Subscriber{UserID: "u"}, nil)
		require.NoError(t, err)
		subs = append(subs, sub)
	}

	require.NoError(t, h.Close())
	for _, sub := range subs {
		_, ok := <-sub.Events()
		assert.False(t, ok)
	}

	_, err := h.Subscribe(ctx, MessageTopic("r1"), Subscriber{}, nil)
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, h.Publish(ctx, MessageTopic("r1"), models.Event{}), ErrClosed)
}

func TestHub_UnsubscribeForeignHandle(t *testing.T) {
	ctx := context.Background()
	a, b := NewHub(0), NewHub(0)

	sub, err := a.Subscribe(ctx, MessageTopic("r1"), Subscriber{}, nil)
	require.NoError(t, err)
	require.ErrorIs(t, b.Unsubscribe(sub), ErrUnknownSubscription)
}

func TestHub_ConcurrentSubscribePublish(t *testing.T) {
	ctx := context.Background()
	h := NewHub(0)
	topic := PresenceTopic("busy")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			sub, err := h.Subscribe(ctx, topic, Subscriber{}, nil)
			if err == nil {
				_ = h.Unsubscribe(sub)
			}
		}()
		go func() {
			defer wg.Done()
			_ = h.Publish(ctx, topic, models.Event{Type: models.EventPresenceUpdate})
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, h.SubscriberCount(topic))
}
