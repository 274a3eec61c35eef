package session

import (
	"context"

	"golang.org/x/sync/errgroup"

	"livechat/internal/apperr"
	"livechat/internal/broker"
	"livechat/internal/logging"
	"livechat/internal/models"
)

// CreateRoom creates a room with user as its first member. Names are unique.
func (m *Manager) CreateRoom(ctx context.Context, user models.UserSnapshot, name string) (*models.Room, error) {
	const op = "session.CreateRoom"
	if err := authenticated(op, user); err != nil {
		return nil, err
	}
	name = trimmedName(name)
	if name == "" {
		return nil, apperr.Validation(op, map[string]string{"name": "Name is required"})
	}

	ctx, cancel := m.bound(ctx)
	defer cancel()

	room, err := m.store.CreateRoom(ctx, name, user.ID)
	if err != nil {
		return nil, apperr.Wrap(op, err)
	}
	logging.FromContext(ctx).Info("[SESSION] Room created", "room", room.ID, "name", room.Name, "user", user.ID)
	return room, nil
}

// GetRoom returns a room the user belongs to.
func (m *Manager) GetRoom(ctx context.Context, user models.UserSnapshot, roomID string) (*models.Room, error) {
	const op = "session.GetRoom"
	if err := m.authorize(ctx, op, roomID, user); err != nil {
		return nil, err
	}

	ctx, cancel := m.bound(ctx)
	defer cancel()

	room, err := m.store.GetRoom(ctx, roomID)
	return room, apperr.Wrap(op, err)
}

// AddMembers adds userIDs to the room and returns it with all members.
func (m *Manager) AddMembers(ctx context.Context, user models.UserSnapshot, roomID string, userIDs []string) (*models.Room, error) {
	const op = "session.AddMembers"
	if err := m.authorize(ctx, op, roomID, user); err != nil {
		return nil, err
	}
	if len(userIDs) == 0 {
		return nil, apperr.Validation(op, map[string]string{"userIds": "At least one user id is required"})
	}

	ctx, cancel := m.bound(ctx)
	defer cancel()

	room, err := m.store.AddMembers(ctx, roomID, userIDs)
	if err != nil {
		return nil, apperr.Wrap(op, err)
	}
	return room, nil
}

// ListRoomsForUser lists the rooms of userID. Users may only list their own rooms; an empty
// userID means the caller.
func (m *Manager) ListRoomsForUser(ctx context.Context, user models.UserSnapshot, userID string) ([]models.Room, error) {
	const op = "session.ListRoomsForUser"
	if err := authenticated(op, user); err != nil {
		return nil, err
	}
	if userID == "" {
		userID = user.ID
	}
	if userID != user.ID {
		return nil, apperr.Auth(op, "cannot list rooms of another user")
	}

	ctx, cancel := m.bound(ctx)
	defer cancel()

	rooms, err := m.store.ListRoomsForUser(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(op, err)
	}
	return rooms, nil
}

// ListMessages returns the room's history, oldest first.
func (m *Manager) ListMessages(ctx context.Context, user models.UserSnapshot, roomID string) ([]models.Message, error) {
	const op = "session.ListMessages"
	if err := m.authorize(ctx, op, roomID, user); err != nil {
		return nil, err
	}

	ctx, cancel := m.bound(ctx)
	defer cancel()

	msgs, err := m.store.ListMessages(ctx, roomID)
	if err != nil {
		return nil, apperr.Wrap(op, err)
	}
	return msgs, nil
}

// DeleteRoom deletes the room with its history, clears its presence and publishes
// room:deleted on each of its topics so open subscriptions can end.
func (m *Manager) DeleteRoom(ctx context.Context, user models.UserSnapshot, roomID string) error {
	const op = "session.DeleteRoom"
	if err := m.authorize(ctx, op, roomID, user); err != nil {
		return err
	}

	dctx, cancel := m.bound(ctx)
	err := m.store.DeleteRoom(dctx, roomID)
	cancel()
	if err != nil {
		return apperr.Wrap(op, err)
	}

	logger := logging.FromContext(ctx)
	logger.Info("[SESSION] Room deleted", "room", roomID, "user", user.ID)

	rctx, cancel := m.bound(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(rctx)
	g.Go(func() error {
		if err := m.presence.Clear(gctx, roomID); err != nil {
			logger.Error("[SESSION] Failed to clear presence", "room", roomID, "error", err)
		}
		return nil
	})
	for _, topic := range broker.RoomTopics(roomID) {
		topic := topic
		g.Go(func() error {
			// No origin: the deleting user's own typing subscription must see it too.
			ev, err := models.NewEvent(models.EventRoomDeleted, topic, roomID, "", models.RoomDeletedData{RoomID: roomID})
			if err != nil {
				return err
			}
			if err := m.broker.Publish(gctx, topic, ev); err != nil {
				logger.Error("[SESSION] Failed to publish room deletion", "room", roomID, "topic", topic, "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("[SESSION] Failed to release room", "room", roomID, "error", err)
	}
	return nil
}
