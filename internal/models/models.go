package models

import "time"

// UserSnapshot is a point-in-time copy of a user's public profile.
type UserSnapshot struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Room is a named channel and the users entitled to read and write it.
type Room struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Members     []UserSnapshot `json:"members"`
	CreatedAt   time.Time      `json:"createdAt"`
	LastMessage *Message       `json:"lastMessage,omitempty"`
}

// HasMember reports whether userID is among the room's members.
func (r *Room) HasMember(userID string) bool {
	for _, m := range r.Members {
		if m.ID == userID {
			return true
		}
	}
	return false
}

// Message is an immutable chat message. At least one of Content and MediaURL is set.
type Message struct {
	ID        string       `json:"id"`
	RoomID    string       `json:"roomId"`
	Author    UserSnapshot `json:"author"`
	Content   string       `json:"content,omitempty"`
	MediaURL  string       `json:"mediaUrl,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
}

// Content is what a client submits for a new message.
type Content struct {
	Text  string
	Media *Media
}

// Empty reports whether neither text nor media is present.
func (c Content) Empty() bool {
	return c.Text == "" && c.Media == nil
}
