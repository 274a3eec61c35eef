package store

import (
	"time"

	"livechat/internal/models"
)

// User is a chat user as persisted.
type User struct {
	ID        string `gorm:"primaryKey;size:64"`
	FullName  string `gorm:"size:255"`
	Email     string `gorm:"size:255"`
	AvatarURL string `gorm:"size:1024"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Room is a chat room; members are kept in the room_members join table.
type Room struct {
	ID        string `gorm:"primaryKey;size:36"`
	Name      string `gorm:"uniqueIndex;size:255;not null"`
	Users     []User `gorm:"many2many:room_members;"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one chat message.
type Message struct {
	ID        string `gorm:"primaryKey;size:26"`
	RoomID    string `gorm:"index;size:36;not null"`
	UserID    string `gorm:"index;size:64;not null"`
	User      User
	Content   string    `gorm:"type:text"`
	ImageURL  string    `gorm:"size:1024"`
	CreatedAt time.Time `gorm:"index"`
}

func (u User) snapshot() models.UserSnapshot {
	return models.UserSnapshot{ID: u.ID, Name: u.FullName, AvatarURL: u.AvatarURL}
}

func (r Room) toModel() models.Room {
	members := make([]models.UserSnapshot, 0, len(r.Users))
	for _, u := range r.Users {
		members = append(members, u.snapshot())
	}
	return models.Room{
		ID:        r.ID,
		Name:      r.Name,
		Members:   members,
		CreatedAt: r.CreatedAt,
	}
}

func (m Message) toModel() models.Message {
	return models.Message{
		ID:        m.ID,
		RoomID:    m.RoomID,
		Author:    m.User.snapshot(),
		Content:   m.Content,
		MediaURL:  m.ImageURL,
		CreatedAt: m.CreatedAt,
	}
}
