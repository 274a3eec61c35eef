// Package api exposes the room commands over HTTP.
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"livechat/internal/media"
	"livechat/internal/models"
)

// Sessions is the command surface the handlers drive.
type Sessions interface {
	CreateRoom(ctx context.Context, user models.UserSnapshot, name string) (*models.Room, error)
	GetRoom(ctx context.Context, user models.UserSnapshot, roomID string) (*models.Room, error)
	AddMembers(ctx context.Context, user models.UserSnapshot, roomID string, userIDs []string) (*models.Room, error)
	ListRoomsForUser(ctx context.Context, user models.UserSnapshot, userID string) ([]models.Room, error)
	ListMessages(ctx context.Context, user models.UserSnapshot, roomID string) ([]models.Message, error)
	DeleteRoom(ctx context.Context, user models.UserSnapshot, roomID string) error
	SendMessage(ctx context.Context, user models.UserSnapshot, roomID string, content models.Content) (*models.Message, error)
	StartTyping(ctx context.Context, user models.UserSnapshot, roomID string) error
	StopTyping(ctx context.Context, user models.UserSnapshot, roomID string) error
	Join(ctx context.Context, user models.UserSnapshot, roomID string) error
	Leave(ctx context.Context, user models.UserSnapshot, roomID string) error
	Members(ctx context.Context, user models.UserSnapshot, roomID string) ([]models.UserSnapshot, error)
}

// Pinger is a dependency checked by /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Sessions Sessions
	Auth     Authenticator
	// Media serves stored attachments under MediaBaseURL. Nil disables the route.
	Media        media.Opener
	MediaBaseURL string
	// MaxUploadBytes caps the multipart body of a message upload.
	MaxUploadBytes int64
	// Health lists the dependencies pinged by /health, by name.
	Health map[string]Pinger
	// WebSocket handles /ws. Nil disables the route.
	WebSocket http.HandlerFunc
}

// Handler holds the dependencies of the HTTP routes.
type Handler struct {
	sessions  Sessions
	media     media.Opener
	maxUpload int64
	health    map[string]Pinger
}

// NewRouter builds the gin engine serving every route.
func NewRouter(opts Options) *gin.Engine {
	h := &Handler{
		sessions:  opts.Sessions,
		media:     opts.Media,
		maxUpload: opts.MaxUploadBytes,
		health:    opts.Health,
	}

	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger())

	router.GET("/health", h.healthHandler)
	if opts.WebSocket != nil {
		router.GET("/ws", gin.WrapF(opts.WebSocket))
	}
	if h.media != nil {
		base := "/" + strings.Trim(opts.MediaBaseURL, "/")
		router.GET(base+"/:name", h.serveMedia)
	}

	rooms := router.Group("/rooms", AuthMiddleware(opts.Auth))
	rooms.POST("", h.createRoom)
	rooms.GET("", h.listRooms)
	rooms.GET("/:id", h.getRoom)
	rooms.DELETE("/:id", h.deleteRoom)
	rooms.POST("/:id/members", h.addMembers)
	rooms.GET("/:id/messages", h.listMessages)
	rooms.POST("/:id/messages", h.sendMessage)
	rooms.POST("/:id/typing/start", h.startTyping)
	rooms.POST("/:id/typing/stop", h.stopTyping)
	rooms.POST("/:id/join", h.join)
	rooms.POST("/:id/leave", h.leave)
	rooms.GET("/:id/presence", h.presence)

	return router
}
