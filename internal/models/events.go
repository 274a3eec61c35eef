package models

import (
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"
)

// EventType names the kind of payload carried by an Event.
type EventType string

const (
	EventMessageCreated EventType = "message:created"
	EventTypingStart    EventType = "typing:start"
	EventTypingStop     EventType = "typing:stop"
	EventPresenceUpdate EventType = "presence:update"
	// EventRoomDeleted is the last event on every topic of a deleted room.
	EventRoomDeleted EventType = "room:deleted"
)

// Event is the envelope published on the broker and pushed to clients.
type Event struct {
	Type         EventType       `json:"type"`
	Topic        string          `json:"topic"`
	RoomID       string          `json:"roomId"`
	OriginUserID string          `json:"originUserId,omitempty"`
	Timestamp    int64           `json:"timestamp"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// NewEvent encodes data into a new envelope stamped with the current time.
func NewEvent(typ EventType, topic, roomID, originUserID string, data any) (Event, error) {
	ev := Event{
		Type:         typ,
		Topic:        topic,
		RoomID:       roomID,
		OriginUserID: originUserID,
		Timestamp:    time.Now().UnixMilli(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Event{}, fmt.Errorf("marshal %s data: %w", typ, err)
		}
		ev.Data = raw
	}
	return ev, nil
}

// Decode unmarshals the event data into v.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("event %s has no data", e.Type)
	}
	return json.Unmarshal(e.Data, v)
}

// Typing directions carried by TypingData.
const (
	TypingStarted = "started"
	TypingStopped = "stopped"
)

type TypingData struct {
	User      UserSnapshot `json:"user"`
	Direction string       `json:"direction"`
}

type PresenceData struct {
	Members []UserSnapshot `json:"members"`
}

type RoomDeletedData struct {
	RoomID string `json:"roomId"`
}

// Media is an uploaded attachment still waiting to be stored.
type Media struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}
