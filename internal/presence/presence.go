// Package presence tracks which users are currently in each room.
//
// Entries are keyed by user id, so re-joining with a changed profile never creates a second
// entry. Entries do not expire: a client that disconnects without leaving stays present until
// someone removes it.
package presence

import (
	"context"
	"sort"
	"sync"

	"livechat/internal/models"
)

// Store is a set of present users per room, shared by every server process.
type Store interface {
	// AddMember inserts user into room unless an entry for user.ID exists. It reports whether
	// an entry was added. The check and the insert are one atomic step.
	AddMember(ctx context.Context, roomID string, user models.UserSnapshot) (bool, error)
	// RemoveMember deletes the entry for userID. Removing an absent user is not an error.
	RemoveMember(ctx context.Context, roomID, userID string) error
	// ListMembers returns the present users in no particular order.
	ListMembers(ctx context.Context, roomID string) ([]models.UserSnapshot, error)
	// Clear drops every entry of a room.
	Clear(ctx context.Context, roomID string) error
}

// Memory is a Store for a single process.
type Memory struct {
	mu    sync.RWMutex
	rooms map[string]map[string]models.UserSnapshot
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{rooms: make(map[string]map[string]models.UserSnapshot)}
}

func (m *Memory) AddMember(ctx context.Context, roomID string, user models.UserSnapshot) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	members := m.rooms[roomID]
	if members == nil {
		members = make(map[string]models.UserSnapshot)
		m.rooms[roomID] = members
	}
	if _, ok := members[user.ID]; ok {
		return false, nil
	}
	members[user.ID] = user
	return true, nil
}

func (m *Memory) RemoveMember(ctx context.Context, roomID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if members, ok := m.rooms[roomID]; ok {
		delete(members, userID)
		if len(members) == 0 {
			delete(m.rooms, roomID)
		}
	}
	return nil
}

func (m *Memory) ListMembers(ctx context.Context, roomID string) ([]models.UserSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	members := make([]models.UserSnapshot, 0, len(m.rooms[roomID]))
	for _, u := range m.rooms[roomID] {
		members = append(members, u)
	}
	return members, nil
}

func (m *Memory) Clear(ctx context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, roomID)
	return nil
}

// SortByName orders a member list for display. Store results carry no order.
func SortByName(members []models.UserSnapshot) {
	sort.Slice(members, func(i, j int) bool {
		if members[i].Name == members[j].Name {
			return members[i].ID < members[j].ID
		}
		return members[i].Name < members[j].Name
	})
}
