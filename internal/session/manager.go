// Package session drives a user's participation in rooms: presence, typing, messages,
// and the room commands around them.
package session

import (
	"context"
	"strings"
	"time"

	"livechat/internal/apperr"
	"livechat/internal/broker"
	"livechat/internal/ingest"
	"livechat/internal/logging"
	"livechat/internal/models"
	"livechat/internal/presence"
)

// DefaultTimeout bounds each persistence, presence and publish call.
const DefaultTimeout = 5 * time.Second

// Store is the persistent store as seen by the manager.
type Store interface {
	ingest.MessageStore
	CreateRoom(ctx context.Context, name, creatorID string) (*models.Room, error)
	GetRoom(ctx context.Context, id string) (*models.Room, error)
	IsMember(ctx context.Context, roomID, userID string) (bool, error)
	AddMembers(ctx context.Context, roomID string, userIDs []string) (*models.Room, error)
	ListRoomsForUser(ctx context.Context, userID string) ([]models.Room, error)
	ListMessages(ctx context.Context, roomID string) ([]models.Message, error)
	DeleteRoom(ctx context.Context, roomID string) error
}

// Manager is safe for concurrent use; it holds no per-room state of its own.
type Manager struct {
	store    Store
	presence presence.Store
	broker   broker.Broker
	ingest   *ingest.Pipeline
	timeout  time.Duration
}

type Options struct {
	Store    Store
	Presence presence.Store
	Broker   broker.Broker
	Ingest   *ingest.Pipeline
	// Timeout <= 0 uses DefaultTimeout.
	Timeout time.Duration
}

func New(opts Options) *Manager {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Manager{
		store:    opts.Store,
		presence: opts.Presence,
		broker:   opts.Broker,
		ingest:   opts.Ingest,
		timeout:  opts.Timeout,
	}
}

func (m *Manager) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.timeout)
}

func authenticated(op string, user models.UserSnapshot) error {
	if user.ID == "" {
		return apperr.Auth(op, "authentication required")
	}
	return nil
}

// authorize checks that user is signed in and belongs to roomID.
func (m *Manager) authorize(ctx context.Context, op, roomID string, user models.UserSnapshot) error {
	if err := authenticated(op, user); err != nil {
		return err
	}
	if roomID == "" {
		return apperr.Validation(op, map[string]string{"roomId": "Room id is required"})
	}

	ctx, cancel := m.bound(ctx)
	defer cancel()

	ok, err := m.store.IsMember(ctx, roomID, user.ID)
	if err != nil {
		return apperr.Wrap(op, err)
	}
	if ok {
		return nil
	}
	exists, err := m.store.RoomExists(ctx, roomID)
	if err != nil {
		return apperr.Wrap(op, err)
	}
	if !exists {
		return apperr.NotFound(op, "room")
	}
	return apperr.Auth(op, "not a member of this room")
}

// Join marks user present in roomID and broadcasts the member list. Joining again keeps the
// existing entry and broadcasts anyway.
func (m *Manager) Join(ctx context.Context, user models.UserSnapshot, roomID string) error {
	const op = "session.Join"
	if err := m.authorize(ctx, op, roomID, user); err != nil {
		return err
	}

	pctx, cancel := m.bound(ctx)
	added, err := m.presence.AddMember(pctx, roomID, user)
	cancel()
	if err != nil {
		return apperr.Wrap(op, err)
	}

	logging.FromContext(ctx).Info("[SESSION] Joined room", "room", roomID, "user", user.ID, "new", added)
	m.broadcastPresence(ctx, roomID, user.ID)
	return nil
}

// Leave removes user from the room's presence and broadcasts the member list.
func (m *Manager) Leave(ctx context.Context, user models.UserSnapshot, roomID string) error {
	const op = "session.Leave"
	if err := m.authorize(ctx, op, roomID, user); err != nil {
		return err
	}

	pctx, cancel := m.bound(ctx)
	err := m.presence.RemoveMember(pctx, roomID, user.ID)
	cancel()
	if err != nil {
		return apperr.Wrap(op, err)
	}

	logging.FromContext(ctx).Info("[SESSION] Left room", "room", roomID, "user", user.ID)
	m.broadcastPresence(ctx, roomID, user.ID)
	return nil
}

// Members returns the users currently present in roomID, sorted by name.
func (m *Manager) Members(ctx context.Context, user models.UserSnapshot, roomID string) ([]models.UserSnapshot, error) {
	const op = "session.Members"
	if err := m.authorize(ctx, op, roomID, user); err != nil {
		return nil, err
	}

	ctx, cancel := m.bound(ctx)
	defer cancel()

	members, err := m.presence.ListMembers(ctx, roomID)
	if err != nil {
		return nil, apperr.Wrap(op, err)
	}
	presence.SortByName(members)
	return members, nil
}

// broadcastPresence publishes the current member list. The presence change already happened,
// so failures are only logged.
func (m *Manager) broadcastPresence(ctx context.Context, roomID, originUserID string) {
	logger := logging.FromContext(ctx)

	ctx, cancel := m.bound(ctx)
	defer cancel()

	members, err := m.presence.ListMembers(ctx, roomID)
	if err != nil {
		logger.Error("[SESSION] Failed to list presence", "room", roomID, "error", err)
		return
	}
	presence.SortByName(members)

	topic := broker.PresenceTopic(roomID)
	ev, err := models.NewEvent(models.EventPresenceUpdate, topic, roomID, originUserID, models.PresenceData{Members: members})
	if err != nil {
		logger.Error("[SESSION] Failed to encode presence", "room", roomID, "error", err)
		return
	}
	if err := m.broker.Publish(ctx, topic, ev); err != nil {
		logger.Error("[SESSION] Failed to publish presence", "room", roomID, "error", err)
	}
}

// StartTyping tells the other subscribers of the room that user is typing.
func (m *Manager) StartTyping(ctx context.Context, user models.UserSnapshot, roomID string) error {
	return m.typing(ctx, "session.StartTyping", user, roomID, models.EventTypingStart, models.TypingStarted)
}

// StopTyping tells the other subscribers of the room that user stopped typing.
func (m *Manager) StopTyping(ctx context.Context, user models.UserSnapshot, roomID string) error {
	return m.typing(ctx, "session.StopTyping", user, roomID, models.EventTypingStop, models.TypingStopped)
}

func (m *Manager) typing(ctx context.Context, op string, user models.UserSnapshot, roomID string, typ models.EventType, direction string) error {
	if err := m.authorize(ctx, op, roomID, user); err != nil {
		return err
	}

	topic := broker.TypingTopic(roomID)
	ev, err := models.NewEvent(typ, topic, roomID, user.ID, models.TypingData{User: user, Direction: direction})
	if err != nil {
		return apperr.Dependency(op, err)
	}

	ctx, cancel := m.bound(ctx)
	defer cancel()

	// Subscribers exclude their own typing events with broker.ExcludeOrigin.
	if err := m.broker.Publish(ctx, topic, ev); err != nil {
		return apperr.Dependency(op, err)
	}
	return nil
}

// SendMessage stores the message and publishes it to every subscriber of the room, the
// sender included. A failed publish is logged; the stored message stays.
func (m *Manager) SendMessage(ctx context.Context, user models.UserSnapshot, roomID string, content models.Content) (*models.Message, error) {
	const op = "session.SendMessage"
	if err := m.authorize(ctx, op, roomID, user); err != nil {
		return nil, err
	}

	ictx, cancel := m.bound(ctx)
	msg, err := m.ingest.Ingest(ictx, roomID, user, content)
	cancel()
	if err != nil {
		return nil, err
	}

	logger := logging.FromContext(ctx)
	topic := broker.MessageTopic(roomID)
	ev, err := models.NewEvent(models.EventMessageCreated, topic, roomID, user.ID, msg)
	if err != nil {
		logger.Error("[SESSION] Failed to encode message", "room", roomID, "message", msg.ID, "error", err)
		return msg, nil
	}

	pctx, cancel := m.bound(ctx)
	defer cancel()
	if err := m.broker.Publish(pctx, topic, ev); err != nil {
		logger.Error("[SESSION] Message stored but not delivered live", "room", roomID, "message", msg.ID, "error", err)
	}
	return msg, nil
}

// CanSubscribe reports whether user may subscribe to topic.
func (m *Manager) CanSubscribe(ctx context.Context, user models.UserSnapshot, topic string) error {
	const op = "session.CanSubscribe"
	roomID, _, err := broker.ParseTopic(topic)
	if err != nil {
		return apperr.Validation(op, map[string]string{"topic": err.Error()})
	}
	return m.authorize(ctx, op, roomID, user)
}

// FilterFor returns the delivery filter subscriptions to topic should use.
func FilterFor(topic string) broker.Filter {
	if _, kind, err := broker.ParseTopic(topic); err == nil && kind == broker.KindTyping {
		return broker.ExcludeOrigin
	}
	return nil
}

func trimmedName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}
