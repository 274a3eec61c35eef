package gateway

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livechat/internal/apperr"
	"livechat/internal/broker"
	"livechat/internal/models"
)

// roomAuthz lets members of a single room subscribe to its topics.
type roomAuthz struct {
	room    string
	members map[string]bool
}

func (a roomAuthz) CanSubscribe(_ context.Context, user models.UserSnapshot, topic string) error {
	roomID, _, err := broker.ParseTopic(topic)
	if err != nil {
		return apperr.Validation("test", map[string]string{"topic": err.Error()})
	}
	if roomID != a.room || !a.members[user.ID] {
		return apperr.Auth("test", "not a member of this room")
	}
	return nil
}

var authz = roomAuthz{room: "r1", members: map[string]bool{"alice": true, "bob": true}}

func newEvent(t *testing.T, typ models.EventType, topic, origin string) models.Event {
	t.Helper()
	ev, err := models.NewEvent(typ, topic, "r1", origin, nil)
	require.NoError(t, err)
	return ev
}

func next(t *testing.T, c *Conn) models.Event {
	t.Helper()
	select {
	case ev := <-c.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event on connection")
		return models.Event{}
	}
}

func TestConn_OpenForwardsAndFilters(t *testing.T) {
	ctx := context.Background()
	hub := broker.NewHub(0)
	defer hub.Close()

	alice := NewConn(models.UserSnapshot{ID: "alice"}, hub, authz, 0)
	defer alice.Teardown()

	require.NoError(t, alice.Open(ctx, broker.TypingTopic("r1")))
	require.NoError(t, alice.Open(ctx, broker.MessageTopic("r1")))
	require.NoError(t, alice.Open(ctx, broker.MessageTopic("r1")))
	assert.Equal(t, 1, hub.SubscriberCount(broker.MessageTopic("r1")))

	require.NoError(t, hub.Publish(ctx, broker.TypingTopic("r1"), newEvent(t, models.EventTypingStart, "", "alice")))
	require.NoError(t, hub.Publish(ctx, broker.TypingTopic("r1"), newEvent(t, models.EventTypingStart, "", "bob")))
	require.NoError(t, hub.Publish(ctx, broker.MessageTopic("r1"), newEvent(t, models.EventMessageCreated, "", "alice")))

	got := []models.EventType{next(t, alice).Type, next(t, alice).Type}
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	assert.Equal(t, []models.EventType{models.EventMessageCreated, models.EventTypingStart}, got)

	select {
	case ev := <-alice.Events():
		t.Fatalf("own typing event delivered: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConn_OpenRequiresAuthorization(t *testing.T) {
	ctx := context.Background()
	hub := broker.NewHub(0)
	defer hub.Close()

	carol := NewConn(models.UserSnapshot{ID: "carol"}, hub, authz, 0)
	defer carol.Teardown()

	err := carol.Open(ctx, broker.MessageTopic("r1"))
	assert.True(t, apperr.Is(err, apperr.KindAuth))
	assert.Equal(t, 0, hub.SubscriberCount(broker.MessageTopic("r1")))
	assert.Empty(t, carol.Topics())
}

func TestConn_CloseTopic(t *testing.T) {
	ctx := context.Background()
	hub := broker.NewHub(0)
	defer hub.Close()

	bob := NewConn(models.UserSnapshot{ID: "bob"}, hub, authz, 0)
	defer bob.Teardown()

	require.NoError(t, bob.Open(ctx, broker.MessageTopic("r1")))
	require.NoError(t, bob.Open(ctx, broker.PresenceTopic("r1")))
	require.NoError(t, bob.Close(broker.MessageTopic("r1")))
	require.NoError(t, bob.Close(broker.MessageTopic("r1")))

	assert.Equal(t, 0, hub.SubscriberCount(broker.MessageTopic("r1")))
	assert.Equal(t, []string{broker.PresenceTopic("r1")}, bob.Topics())
}

func TestConn_TeardownReleasesEverything(t *testing.T) {
	ctx := context.Background()
	hub := broker.NewHub(0)
	defer hub.Close()

	bob := NewConn(models.UserSnapshot{ID: "bob"}, hub, authz, 0)
	for _, topic := range broker.RoomTopics("r1") {
		require.NoError(t, bob.Open(ctx, topic))
	}

	require.NoError(t, bob.Teardown())
	require.NoError(t, bob.Teardown())

	for _, topic := range broker.RoomTopics("r1") {
		assert.Equal(t, 0, hub.SubscriberCount(topic), topic)
	}
	select {
	case <-bob.Done():
	default:
		t.Fatal("done not closed")
	}
	require.ErrorIs(t, bob.Open(ctx, broker.MessageTopic("r1")), ErrConnClosed)
}

func TestConn_RoomDeletedEndsSubscription(t *testing.T) {
	ctx := context.Background()
	hub := broker.NewHub(0)
	defer hub.Close()

	bob := NewConn(models.UserSnapshot{ID: "bob"}, hub, authz, 0)
	defer bob.Teardown()

	topic := broker.MessageTopic("r1")
	require.NoError(t, bob.Open(ctx, topic))
	require.NoError(t, hub.Publish(ctx, topic, newEvent(t, models.EventRoomDeleted, "", "")))

	assert.Equal(t, models.EventRoomDeleted, next(t, bob).Type)
	assert.Eventually(t, func() bool { return hub.SubscriberCount(topic) == 0 }, time.Second, 10*time.Millisecond)
	assert.Empty(t, bob.Topics())
}

// flakyBroker fails the first unsubscribe of every subscription, or all of them when stuck.
type flakyBroker struct {
	*broker.Hub
	stuck bool

	mu       sync.Mutex
	attempts map[string]int
}

func (b *flakyBroker) Unsubscribe(sub *broker.Subscription) error {
	b.mu.Lock()
	b.attempts[sub.ID()]++
	n := b.attempts[sub.ID()]
	b.mu.Unlock()

	if b.stuck || n == 1 {
		return errors.New("bus hiccup")
	}
	return b.Hub.Unsubscribe(sub)
}

func TestConn_TeardownRetriesOnce(t *testing.T) {
	ctx := context.Background()
	hub := broker.NewHub(0)
	defer hub.Close()
	b := &flakyBroker{Hub: hub, attempts: map[string]int{}}

	bob := NewConn(models.UserSnapshot{ID: "bob"}, b, authz, 0)
	for _, topic := range broker.RoomTopics("r1") {
		require.NoError(t, bob.Open(ctx, topic))
	}

	require.NoError(t, bob.Teardown())
	for _, topic := range broker.RoomTopics("r1") {
		assert.Equal(t, 0, hub.SubscriberCount(topic), topic)
	}
	for id, n := range b.attempts {
		assert.Equal(t, 2, n, id)
	}
}

func TestConn_TeardownAttemptsAllAndReports(t *testing.T) {
	ctx := context.Background()
	hub := broker.NewHub(0)
	defer hub.Close()
	b := &flakyBroker{Hub: hub, stuck: true, attempts: map[string]int{}}

	bob := NewConn(models.UserSnapshot{ID: "bob"}, b, authz, 0)
	for _, topic := range broker.RoomTopics("r1") {
		require.NoError(t, bob.Open(ctx, topic))
	}

	require.Error(t, bob.Teardown())
	assert.Len(t, b.attempts, 3)
	for id, n := range b.attempts {
		assert.Equal(t, 2, n, id)
	}
}
