package api

import "livechat/internal/models"

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error     string            `json:"error"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	Retryable bool              `json:"retryable,omitempty"`
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status  string            `json:"status"`
	Details map[string]string `json:"details,omitempty"`
}

type CreateRoomRequest struct {
	Name string `json:"name"`
}

type AddMembersRequest struct {
	UserIDs []string `json:"userIds"`
}

// SendMessageRequest is the JSON form of a text message. Images are sent as multipart.
type SendMessageRequest struct {
	Content string `json:"content"`
}

type PresenceResponse struct {
	RoomID  string                `json:"roomId"`
	Members []models.UserSnapshot `json:"members"`
}
