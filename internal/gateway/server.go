package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"livechat/internal/apperr"
	"livechat/internal/auth"
	"livechat/internal/broker"
	"livechat/internal/models"
)

// Authenticator resolves a bearer token to a user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (models.UserSnapshot, error)
}

type Options struct {
	Auth     Authenticator
	Sessions Sessions
	Broker   broker.Broker
	// Buffer is the per-connection event queue length.
	Buffer int
	// CheckOrigin defaults to accepting every origin.
	CheckOrigin func(r *http.Request) bool
}

// Server upgrades authenticated requests to WebSocket connections and tracks them so they
// can be torn down on shutdown.
type Server struct {
	auth     Authenticator
	sessions Sessions
	broker   broker.Broker
	buffer   int
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[*Conn]struct{}
	closed bool
}

func NewServer(opts Options) *Server {
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &Server{
		auth:     opts.Auth,
		sessions: opts.Sessions,
		broker:   opts.Broker,
		buffer:   opts.Buffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		conns: make(map[*Conn]struct{}),
	}
}

// ServeWS verifies the token before upgrading; without a valid token the connection is refused.
// An optional roomId query parameter subscribes the connection to every topic of that room.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	remoteAddr := r.RemoteAddr
	slog.Debug("[GATEWAY] New WebSocket connection request", "from", remoteAddr)

	token := auth.ExtractTokenFromRequest(r)
	if token == "" {
		slog.Warn("[GATEWAY] No token provided", "from", remoteAddr)
		http.Error(w, "Unauthorized: token required", http.StatusUnauthorized)
		return
	}

	user, err := s.auth.Authenticate(r.Context(), token)
	if apperr.IsRetryable(err) {
		slog.Error("[GATEWAY] Token check unavailable", "from", remoteAddr, "error", err)
		http.Error(w, "Service unavailable: try again", http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		slog.Warn("[GATEWAY] Token validation failed", "from", remoteAddr, "error", err)
		http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("[GATEWAY] Failed to upgrade connection", "user", user.ID, "error", err)
		return
	}

	conn := NewConn(user, s.broker, s.sessions, s.buffer)
	if !s.register(conn) {
		ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		ws.Close()
		return
	}
	conn.log.Info("[GATEWAY] Connection upgraded successfully", "from", remoteAddr)

	c := newClient(conn, ws, s.sessions)
	go func() {
		<-conn.Done()
		s.unregister(conn)
	}()
	go c.WritePump()
	go c.ReadPump()

	if roomID := r.URL.Query().Get("roomId"); roomID != "" {
		for _, topic := range broker.RoomTopics(roomID) {
			req := Request{Type: FrameSubscribe, Topic: topic}
			if err := conn.Open(c.ctx, topic); err != nil {
				c.reply(failure(req, err))
				continue
			}
			c.reply(ack(req))
		}
	}
}

func (s *Server) register(conn *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) unregister(conn *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

// ConnectionCount returns the number of open connections.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Close tears down every connection and refuses new ones.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	conns := make([]*Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	var errs []error
	for _, conn := range conns {
		if err := conn.Teardown(); err != nil {
			errs = append(errs, err)
		}
	}
	slog.Info("[GATEWAY] Closed connections", "count", len(conns))
	return errors.Join(errs...)
}
