// Package store persists users, rooms, memberships and message history.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"livechat/internal/apperr"
	"livechat/internal/models"
)

// Store provides access to the chat database.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the sqlite database at path and migrates the schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	// sqlite allows one writer; a single connection also keeps ":memory:" databases intact.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&User{}, &Room{}, &Message{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// New wraps an already opened and migrated database.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// EnsureUser creates the user or refreshes its name and avatar.
func (s *Store) EnsureUser(ctx context.Context, u models.UserSnapshot, email string) (models.UserSnapshot, error) {
	if u.ID == "" {
		return models.UserSnapshot{}, apperr.Validation("store.EnsureUser", map[string]string{"id": "User id is required"})
	}

	user := User{ID: u.ID, FullName: u.Name, Email: email, AvatarURL: u.AvatarURL}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"full_name", "email", "avatar_url", "updated_at"}),
	}).Create(&user).Error
	if err != nil {
		return models.UserSnapshot{}, apperr.Dependency("store.EnsureUser", err)
	}
	return user.snapshot(), nil
}

// GetUser returns the current snapshot of a user.
func (s *Store) GetUser(ctx context.Context, id string) (models.UserSnapshot, error) {
	var user User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.UserSnapshot{}, apperr.NotFound("store.GetUser", "user")
		}
		return models.UserSnapshot{}, apperr.Dependency("store.GetUser", err)
	}
	return user.snapshot(), nil
}

// CreateRoom creates a room named name with the creator as its first member.
func (s *Store) CreateRoom(ctx context.Context, name, creatorID string) (*models.Room, error) {
	const op = "store.CreateRoom"

	var room Room
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Room{}).Where("name = ?", name).Count(&count).Error; err != nil {
			return apperr.Dependency(op, err)
		}
		if count > 0 {
			return apperr.Validation(op, map[string]string{"name": "Chatroom already exists"})
		}

		var creator User
		if err := tx.First(&creator, "id = ?", creatorID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound(op, "user")
			}
			return apperr.Dependency(op, err)
		}

		room = Room{ID: uuid.NewString(), Name: name, Users: []User{creator}}
		if err := tx.Omit("Users.*").Create(&room).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperr.Validation(op, map[string]string{"name": "Chatroom already exists"})
			}
			return apperr.Dependency(op, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := room.toModel()
	return &out, nil
}

// GetRoom returns a room with its members, newest member first.
func (s *Store) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	room, err := s.findRoom(s.db.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	out := room.toModel()
	return &out, nil
}

func (s *Store) findRoom(db *gorm.DB, id string) (*Room, error) {
	var room Room
	err := db.Preload("Users", func(db *gorm.DB) *gorm.DB {
		return db.Order("users.created_at DESC")
	}).First(&room, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("store.GetRoom", "room")
		}
		return nil, apperr.Dependency("store.GetRoom", err)
	}
	return &room, nil
}

// RoomExists reports whether a room with id exists.
func (s *Store) RoomExists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Room{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, apperr.Dependency("store.RoomExists", err)
	}
	return count > 0, nil
}

// IsMember reports whether userID belongs to roomID.
func (s *Store) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Table("room_members").
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Count(&count).Error
	if err != nil {
		return false, apperr.Dependency("store.IsMember", err)
	}
	return count > 0, nil
}

// AddMembers adds users to a room and returns the room with all members.
func (s *Store) AddMembers(ctx context.Context, roomID string, userIDs []string) (*models.Room, error) {
	const op = "store.AddMembers"

	var room *Room
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if room, err = s.findRoom(tx, roomID); err != nil {
			return err
		}
		if len(userIDs) == 0 {
			return nil
		}

		var users []User
		if err := tx.Where("id IN ?", userIDs).Find(&users).Error; err != nil {
			return apperr.Dependency(op, err)
		}
		if len(users) != len(unique(userIDs)) {
			return apperr.NotFound(op, "user")
		}

		if err := tx.Model(room).Association("Users").Append(&users); err != nil {
			return apperr.Dependency(op, err)
		}
		room, err = s.findRoom(tx, roomID)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := room.toModel()
	return &out, nil
}

// ListRoomsForUser returns the rooms userID belongs to, each with its members and latest message.
func (s *Store) ListRoomsForUser(ctx context.Context, userID string) ([]models.Room, error) {
	const op = "store.ListRoomsForUser"
	db := s.db.WithContext(ctx)

	var rooms []Room
	err := db.
		Joins("JOIN room_members ON room_members.room_id = rooms.id").
		Where("room_members.user_id = ?", userID).
		Preload("Users", func(db *gorm.DB) *gorm.DB {
			return db.Order("users.created_at DESC")
		}).
		Order("rooms.created_at DESC").
		Find(&rooms).Error
	if err != nil {
		return nil, apperr.Dependency(op, err)
	}

	out := make([]models.Room, 0, len(rooms))
	for _, r := range rooms {
		room := r.toModel()

		var last Message
		err := db.Preload("User").Where("room_id = ?", r.ID).Order("created_at DESC, id DESC").Limit(1).Find(&last).Error
		if err != nil {
			return nil, apperr.Dependency(op, err)
		}
		if last.ID != "" {
			msg := last.toModel()
			room.LastMessage = &msg
		}
		out = append(out, room)
	}
	return out, nil
}

// CreateMessage stores a message and returns it with its author resolved.
func (s *Store) CreateMessage(ctx context.Context, roomID, authorID, content, imageURL string) (*models.Message, error) {
	const op = "store.CreateMessage"
	db := s.db.WithContext(ctx)

	msg := Message{
		ID:       ulid.Make().String(),
		RoomID:   roomID,
		UserID:   authorID,
		Content:  content,
		ImageURL: imageURL,
	}
	if err := db.Omit("User").Create(&msg).Error; err != nil {
		return nil, apperr.Dependency(op, err)
	}
	if err := db.Preload("User").First(&msg, "id = ?", msg.ID).Error; err != nil {
		return nil, apperr.Dependency(op, err)
	}

	out := msg.toModel()
	return &out, nil
}

// ListMessages returns a room's messages oldest first.
func (s *Store) ListMessages(ctx context.Context, roomID string) ([]models.Message, error) {
	var msgs []Message
	err := s.db.WithContext(ctx).
		Preload("User").
		Where("room_id = ?", roomID).
		Order("created_at ASC, id ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, apperr.Dependency("store.ListMessages", err)
	}

	out := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.toModel())
	}
	return out, nil
}

// DeleteRoom removes a room with its memberships and messages.
func (s *Store) DeleteRoom(ctx context.Context, roomID string) error {
	const op = "store.DeleteRoom"

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", roomID).Delete(&Message{}).Error; err != nil {
			return apperr.Dependency(op, err)
		}
		if err := tx.Exec("DELETE FROM room_members WHERE room_id = ?", roomID).Error; err != nil {
			return apperr.Dependency(op, err)
		}
		result := tx.Delete(&Room{}, "id = ?", roomID)
		if result.Error != nil {
			return apperr.Dependency(op, result.Error)
		}
		if result.RowsAffected == 0 {
			return apperr.NotFound(op, "room")
		}
		return nil
	})
}

func unique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
