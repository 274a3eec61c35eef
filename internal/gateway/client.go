package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"livechat/internal/apperr"
	"livechat/internal/logging"
	"livechat/internal/models"
)

const (
	// Time allowed to write a message
	writeWait = 10 * time.Second

	// Time allowed to read next pong message
	pongWait = 60 * time.Second

	// Send pings with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Max message size
	maxMessageSize = 64 * 1024
)

// Sessions is the part of the session manager clients drive over the socket.
type Sessions interface {
	Authorizer
	Join(ctx context.Context, user models.UserSnapshot, roomID string) error
	Leave(ctx context.Context, user models.UserSnapshot, roomID string) error
	StartTyping(ctx context.Context, user models.UserSnapshot, roomID string) error
	StopTyping(ctx context.Context, user models.UserSnapshot, roomID string) error
}

// client pumps one WebSocket: events and replies out, requests in.
type client struct {
	conn     *Conn
	ws       *websocket.Conn
	sessions Sessions
	replies  chan Reply
	ctx      context.Context
	log      *slog.Logger
}

func newClient(conn *Conn, ws *websocket.Conn, sessions Sessions) *client {
	logger := conn.log
	return &client{
		conn:     conn,
		ws:       ws,
		sessions: sessions,
		replies:  make(chan Reply, 16),
		ctx:      logging.ContextWithLogger(context.Background(), logger),
		log:      logger,
	}
}

// reply queues r for the write pump, giving up once the connection is torn down.
func (c *client) reply(r Reply) {
	select {
	case c.replies <- r:
	case <-c.conn.Done():
	}
}

// ReadPump pumps requests from the WebSocket into the session manager
func (c *client) ReadPump() {
	defer func() {
		c.teardown()
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("[GATEWAY] Unexpected close", "error", err)
			}
			return
		}
		c.handle(message)
	}
}

// WritePump pumps events and replies to the WebSocket
func (c *client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.teardown()
		c.ws.Close()
	}()

	for {
		select {
		case ev := <-c.conn.Events():
			if err := c.write(ev); err != nil {
				c.log.Error("[GATEWAY] Failed to write event", "topic", ev.Topic, "type", ev.Type, "error", err)
				return
			}

		case r := <-c.replies:
			if err := c.write(r); err != nil {
				c.log.Error("[GATEWAY] Failed to write reply", "for", r.For, "error", err)
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Error("[GATEWAY] Failed to send ping", "error", err)
				return
			}

		case <-c.conn.Done():
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		}
	}
}

func (c *client) write(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *client) teardown() {
	if err := c.conn.Teardown(); err != nil {
		c.log.Error("[GATEWAY] Teardown left subscriptions behind", "error", err)
	}
}

func (c *client) handle(message []byte) {
	var req Request
	if err := json.Unmarshal(message, &req); err != nil {
		c.log.Warn("[GATEWAY] Error unmarshaling request", "error", err)
		c.reply(failure(req, apperr.Validation("gateway.handle", map[string]string{"frame": "Malformed JSON"})))
		return
	}

	if err := c.dispatch(req); err != nil {
		c.log.Debug("[GATEWAY] Request failed", "type", req.Type, "topic", req.Topic, "room", req.RoomID, "error", err)
		c.reply(failure(req, err))
		return
	}
	c.reply(ack(req))
}

func (c *client) dispatch(req Request) error {
	user := c.conn.User()

	switch req.Type {
	case FrameSubscribe:
		return c.conn.Open(c.ctx, req.Topic)
	case FrameUnsubscribe:
		return c.conn.Close(req.Topic)
	case FrameJoin:
		return c.sessions.Join(c.ctx, user, req.RoomID)
	case FrameLeave:
		return c.sessions.Leave(c.ctx, user, req.RoomID)
	case FrameTypingStart:
		return c.sessions.StartTyping(c.ctx, user, req.RoomID)
	case FrameTypingStop:
		return c.sessions.StopTyping(c.ctx, user, req.RoomID)
	default:
		return apperr.Validation("gateway.dispatch", map[string]string{"type": "Unknown frame type " + req.Type})
	}
}
