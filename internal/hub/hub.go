// Package hub fans stored events out to WebSocket subscribers.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/xiaot623/gogo/observability/internal/domain"
)

// Message types sent to subscribers.
const (
	TypeInitial = "initial"
	TypeEvent   = "event"
)

// Message is the envelope written to every subscriber.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Connection represents a single WebSocket subscriber.
type Connection struct {
	ID string
	// SessionID narrows delivery to one session; empty means all events.
	SessionID string
	Conn      *websocket.Conn
	Send      chan []byte
	mu        sync.Mutex
}

// Hub manages all subscriber connections.
type Hub struct {
	connections map[string]*Connection

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *broadcastMessage
	done       chan struct{}

	logger *slog.Logger
	mu     sync.RWMutex
}

type broadcastMessage struct {
	sessionID string
	data      []byte
}

// NewHub creates a new Hub. Run must be started before events are published.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan *broadcastMessage, 256),
		done:        make(chan struct{}),
		logger:      slog.Default().With("component", "hub"),
	}
}

// Run starts the hub's main loop and returns when ctx is done. Messages are
// delivered in the order they were published.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, conn := range h.connections {
				delete(h.connections, id)
				close(conn.Send)
			}
			h.mu.Unlock()
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			h.mu.Unlock()
			h.logger.Debug("connection registered", "conn_id", conn.ID, "session_id", conn.SessionID)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				delete(h.connections, conn.ID)
				close(conn.Send)
			}
			h.mu.Unlock()
			h.logger.Debug("connection unregistered", "conn_id", conn.ID)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for id, conn := range h.connections {
				if conn.SessionID != "" && conn.SessionID != msg.sessionID {
					continue
				}
				select {
				case conn.Send <- msg.data:
				default:
					// Slow subscriber, drop it here so later messages skip it.
					h.logger.Warn("connection buffer full, closing", "conn_id", conn.ID)
					delete(h.connections, id)
					close(conn.Send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// NewConnection wraps ws for sessionID ("" for every session).
func (h *Hub) NewConnection(ws *websocket.Conn, sessionID string) *Connection {
	return &Connection{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Conn:      ws,
		Send:      make(chan []byte, 256),
	}
}

// Register registers a connection with the hub.
func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.done:
	}
}

// Unregister unregisters a connection from the hub.
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Publish queues ev for every matching subscriber.
func (h *Hub) Publish(ctx context.Context, ev *domain.Event) error {
	data, err := json.Marshal(Message{Type: TypeEvent, Data: ev})
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- &broadcastMessage{sessionID: ev.SessionID, data: data}:
		return nil
	case <-h.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendJSONToConnection queues v for one connection only.
func (h *Hub) SendJSONToConnection(conn *Connection, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case conn.Send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// GetConnectionCount returns the number of active connections.
func (h *Hub) GetConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline for the connection.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

// Close closes the connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ErrBufferFull is returned when the send buffer is full.
var ErrBufferFull = &BufferFullError{}

// BufferFullError represents a buffer full error.
type BufferFullError struct{}

func (e *BufferFullError) Error() string {
	return "send buffer full"
}

// ErrClosed is returned by Publish once the hub has stopped.
var ErrClosed = &closedError{}

type closedError struct{}

func (e *closedError) Error() string {
	return "hub closed"
}
