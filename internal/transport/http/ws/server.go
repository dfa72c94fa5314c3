// Package ws serves the live event stream over WebSocket.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/observability/internal/domain"
	"github.com/xiaot623/gogo/observability/internal/hub"
)

// Snapshotter supplies the backlog sent to a new subscriber.
type Snapshotter interface {
	Snapshot(ctx context.Context) ([]domain.Event, error)
}

// Options tune the connection keepalive.
type Options struct {
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64
}

// DefaultOptions returns the keepalive settings used by serve.
func DefaultOptions() Options {
	return Options{
		PingInterval:   30 * time.Second,
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		MaxMessageSize: 4096,
	}
}

// Server handles WebSocket connections.
type Server struct {
	hub      *hub.Hub
	backlog  Snapshotter
	opts     Options
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewServer creates a new WebSocket server.
func NewServer(h *hub.Hub, backlog Snapshotter, opts Options) *Server {
	return &Server{
		hub:     h,
		backlog: backlog,
		opts:    opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: slog.Default().With("component", "ws"),
	}
}

// RegisterRoutes registers the stream endpoint.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/stream", s.HandleStream)
}

// HandleStream upgrades the request, sends the initial snapshot and then
// streams every stored event. ?session_id= narrows delivery to one session.
// GET /stream
func (s *Server) HandleStream(c echo.Context) error {
	ctx := c.Request().Context()

	initial, err := s.backlog.Snapshot(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	sessionID := c.QueryParam("session_id")
	if sessionID != "" {
		initial = filterSession(initial, sessionID)
	}

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("failed to upgrade websocket", "error", err)
		return nil
	}

	conn := s.hub.NewConnection(ws, sessionID)
	if err := s.hub.SendJSONToConnection(conn, hub.Message{Type: hub.TypeInitial, Data: initial}); err != nil {
		s.logger.Warn("failed to queue snapshot", "conn_id", conn.ID, "error", err)
	}
	s.hub.Register(conn)

	ws.SetReadLimit(s.opts.MaxMessageSize)

	go s.writePump(conn)
	go s.readPump(conn)

	return nil
}

// readPump drains the connection so control frames are processed. Clients
// have nothing to say; anything they send is discarded.
func (s *Server) readPump(conn *hub.Connection) {
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
		return nil
	})

	for {
		if _, _, err := conn.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Debug("websocket read error", "conn_id", conn.ID, "error", err)
			}
			return
		}
	}
}

// writePump writes queued messages and keeps the connection alive.
func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Debug("failed to write message", "conn_id", conn.ID, "error", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func filterSession(events []domain.Event, sessionID string) []domain.Event {
	out := make([]domain.Event, 0, len(events))
	for _, ev := range events {
		if ev.SessionID == sessionID {
			out = append(out, ev)
		}
	}
	return out
}
