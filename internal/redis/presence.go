package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/goccy/go-json"

	"livechat/internal/models"
	"livechat/internal/presence"
)

// PresenceStore keeps one hash per room: field = user id, value = encoded snapshot.
// HSETNX makes "insert unless present" a single server-side step.
type PresenceStore struct {
	client *Client
	prefix string
}

var _ presence.Store = (*PresenceStore)(nil)

// NewPresenceStore keeps room hashes under "<prefix>:presence:room:<id>".
func NewPresenceStore(client *Client, prefix string) *PresenceStore {
	return &PresenceStore{client: client, prefix: namespace(prefix)}
}

func (s *PresenceStore) key(roomID string) string {
	return s.prefix + "presence:room:" + roomID
}

func (s *PresenceStore) AddMember(ctx context.Context, roomID string, user models.UserSnapshot) (bool, error) {
	value, err := json.Marshal(user)
	if err != nil {
		return false, fmt.Errorf("marshal snapshot: %w", err)
	}
	added, err := s.client.rdb.HSetNX(ctx, s.key(roomID), user.ID, value).Result()
	if err != nil {
		return false, fmt.Errorf("hsetnx %s: %w", s.key(roomID), err)
	}
	return added, nil
}

func (s *PresenceStore) RemoveMember(ctx context.Context, roomID, userID string) error {
	if err := s.client.rdb.HDel(ctx, s.key(roomID), userID).Err(); err != nil {
		return fmt.Errorf("hdel %s: %w", s.key(roomID), err)
	}
	return nil
}

func (s *PresenceStore) ListMembers(ctx context.Context, roomID string) ([]models.UserSnapshot, error) {
	values, err := s.client.rdb.HVals(ctx, s.key(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("hvals %s: %w", s.key(roomID), err)
	}

	members := make([]models.UserSnapshot, 0, len(values))
	for _, v := range values {
		var u models.UserSnapshot
		if err := json.Unmarshal([]byte(v), &u); err != nil {
			slog.Error("[REDIS] Skipping malformed presence entry", "room", roomID, "error", err)
			continue
		}
		members = append(members, u)
	}
	return members, nil
}

func (s *PresenceStore) Clear(ctx context.Context, roomID string) error {
	if err := s.client.rdb.Del(ctx, s.key(roomID)).Err(); err != nil {
		return fmt.Errorf("del %s: %w", s.key(roomID), err)
	}
	return nil
}
