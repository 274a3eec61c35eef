package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"livechat/internal/apperr"
	"livechat/internal/logging"
	"livechat/internal/media"
	"livechat/internal/models"
)

const healthTimeout = 2 * time.Second

// multipartOverhead is the room left for form fields and part headers on top of the image.
const multipartOverhead = 64 << 10

// healthHandler handles GET /health.
func (h *Handler) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	status, resp := http.StatusOK, HealthResponse{Status: "healthy", Details: map[string]string{}}
	for name, p := range h.health {
		if err := p.Ping(ctx); err != nil {
			logging.FromContext(ctx).Warn("[API] Health check failed", "dependency", name, "error", err)
			status, resp.Status = http.StatusServiceUnavailable, "unhealthy"
			resp.Details[name] = err.Error()
			continue
		}
		resp.Details[name] = "ok"
	}
	c.JSON(status, resp)
}

// serveMedia handles GET <media base>/:name.
func (h *Handler) serveMedia(c *gin.Context) {
	rc, contentType, err := h.media.Open(c.Request.Context(), c.Param("name"))
	if errors.Is(err, media.ErrNotFound) {
		fail(c, apperr.NotFound("api.serveMedia", "media"))
		return
	}
	if err != nil {
		fail(c, apperr.Dependency("api.serveMedia", err))
		return
	}
	defer rc.Close()
	c.DataFromReader(http.StatusOK, -1, contentType, rc, nil)
}

// createRoom handles POST /rooms.
func (h *Handler) createRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperr.Validation("api.createRoom", map[string]string{"body": "Invalid request body"}))
		return
	}
	room, err := h.sessions.CreateRoom(c.Request.Context(), currentUser(c), req.Name)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

// listRooms handles GET /rooms. An optional userId query must name the caller.
func (h *Handler) listRooms(c *gin.Context) {
	rooms, err := h.sessions.ListRoomsForUser(c.Request.Context(), currentUser(c), c.Query("userId"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rooms)
}

// getRoom handles GET /rooms/:id.
func (h *Handler) getRoom(c *gin.Context) {
	room, err := h.sessions.GetRoom(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// deleteRoom handles DELETE /rooms/:id.
func (h *Handler) deleteRoom(c *gin.Context) {
	if err := h.sessions.DeleteRoom(c.Request.Context(), currentUser(c), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// addMembers handles POST /rooms/:id/members.
func (h *Handler) addMembers(c *gin.Context) {
	var req AddMembersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperr.Validation("api.addMembers", map[string]string{"body": "Invalid request body"}))
		return
	}
	room, err := h.sessions.AddMembers(c.Request.Context(), currentUser(c), c.Param("id"), req.UserIDs)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// listMessages handles GET /rooms/:id/messages.
func (h *Handler) listMessages(c *gin.Context) {
	messages, err := h.sessions.ListMessages(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

// sendMessage handles POST /rooms/:id/messages. JSON bodies carry text only; multipart bodies
// may add an "image" file next to the "content" field.
func (h *Handler) sendMessage(c *gin.Context) {
	const op = "api.sendMessage"

	var content models.Content
	if c.ContentType() == gin.MIMEMultipartPOSTForm {
		if h.maxUpload > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+multipartOverhead)
		}
		if err := c.Request.ParseMultipartForm(32 << 20); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				fail(c, apperr.Validation(op, map[string]string{"image": "Image is too large"}))
				return
			}
			fail(c, apperr.Validation(op, map[string]string{"body": "Invalid multipart form"}))
			return
		}
		content.Text = c.PostForm("content")

		file, header, err := c.Request.FormFile("image")
		switch {
		case err == nil:
			defer file.Close()
			content.Media = &models.Media{
				Filename:    header.Filename,
				ContentType: header.Header.Get("Content-Type"),
				Size:        header.Size,
				Body:        file,
			}
		case !errors.Is(err, http.ErrMissingFile):
			fail(c, apperr.Validation(op, map[string]string{"image": "Invalid image upload"}))
			return
		}
	} else {
		var req SendMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, apperr.Validation(op, map[string]string{"body": "Invalid request body"}))
			return
		}
		content.Text = req.Content
	}

	msg, err := h.sessions.SendMessage(c.Request.Context(), currentUser(c), c.Param("id"), content)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// roomAction adapts a session command that only needs the caller and the room.
func (h *Handler) roomAction(c *gin.Context, action func(context.Context, models.UserSnapshot, string) error) {
	if err := action(c.Request.Context(), currentUser(c), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) startTyping(c *gin.Context) { h.roomAction(c, h.sessions.StartTyping) }
func (h *Handler) stopTyping(c *gin.Context)  { h.roomAction(c, h.sessions.StopTyping) }
func (h *Handler) join(c *gin.Context)        { h.roomAction(c, h.sessions.Join) }
func (h *Handler) leave(c *gin.Context)       { h.roomAction(c, h.sessions.Leave) }

// presence handles GET /rooms/:id/presence.
func (h *Handler) presence(c *gin.Context) {
	roomID := c.Param("id")
	members, err := h.sessions.Members(c.Request.Context(), currentUser(c), roomID)
	if err != nil {
		fail(c, err)
		return
	}
	if members == nil {
		members = []models.UserSnapshot{}
	}
	c.JSON(http.StatusOK, PresenceResponse{RoomID: roomID, Members: members})
}
