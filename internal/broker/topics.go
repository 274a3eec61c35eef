package broker

import (
	"fmt"
	"strings"
)

// Kind is the event stream a topic carries for its room.
type Kind string

const (
	KindMessage  Kind = "message"
	KindTyping   Kind = "typing"
	KindPresence Kind = "presence"
)

// Valid reports whether k is a known topic kind.
func (k Kind) Valid() bool {
	switch k {
	case KindMessage, KindTyping, KindPresence:
		return true
	}
	return false
}

// Topic returns the topic for kind in roomID, e.g. "room.<id>.message".
func Topic(roomID string, kind Kind) string {
	return "room." + roomID + "." + string(kind)
}

func MessageTopic(roomID string) string  { return Topic(roomID, KindMessage) }
func TypingTopic(roomID string) string   { return Topic(roomID, KindTyping) }
func PresenceTopic(roomID string) string { return Topic(roomID, KindPresence) }

// RoomTopics lists every topic a room owns.
func RoomTopics(roomID string) []string {
	return []string{MessageTopic(roomID), TypingTopic(roomID), PresenceTopic(roomID)}
}

// ParseTopic splits a topic into its room id and kind.
func ParseTopic(topic string) (roomID string, kind Kind, err error) {
	parts := strings.Split(topic, ".")
	if len(parts) != 3 || parts[0] != "room" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed topic %q", topic)
	}
	kind = Kind(parts[2])
	if !kind.Valid() {
		return "", "", fmt.Errorf("unknown topic kind %q", parts[2])
	}
	return parts[1], kind, nil
}
