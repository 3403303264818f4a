package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// MessageHandler reacts to session lifecycle and commands
type MessageHandler interface {
	HandleConnect(c *Connection)
	HandleMessage(ctx context.Context, c *Connection, msg ClientMessage)
	HandleDisconnect(c *Connection)
}

// ConnectionManager manages the WebSocket sessions of the room
type ConnectionManager struct {
	connections map[*Connection]bool
	mu          sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	handler  MessageHandler
}

// Connection is one session's WebSocket
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Manager *ConnectionManager

	ConnectedAt time.Time

	mu     sync.Mutex
	send   chan []byte
	closed bool
	name   string
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  64,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, handler MessageHandler) *ConnectionManager {
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = DefaultConnectionConfig().SendBufferSize
	}
	return &ConnectionManager{
		connections: make(map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:  config,
		handler: handler,
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Manager:     cm,
		ConnectedAt: time.Now(),
		send:        make(chan []byte, cm.config.SendBufferSize),
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("remote_addr", r.RemoteAddr).
		Msg("WebSocket connection established")

	cm.handler.HandleConnect(connection)
	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.connections[conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Int("total_connections", len(cm.connections)).
		Msg("connection registered")
}

// unregisterConnection removes a connection and reports whether it was still registered
func (cm *ConnectionManager) unregisterConnection(conn *Connection) bool {
	cm.mu.Lock()
	_, exists := cm.connections[conn]
	delete(cm.connections, conn)
	cm.mu.Unlock()

	if !exists {
		return false
	}
	conn.closeSend()

	log.Info().
		Str("connection_id", conn.ID).
		Str("name", conn.Name()).
		Msg("connection unregistered")
	return true
}

// Broadcast sends msg to every connection
func (cm *ConnectionManager) Broadcast(msg ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal message for broadcast")
		return
	}

	cm.mu.RLock()
	targets := make([]*Connection, 0, len(cm.connections))
	for conn := range cm.connections {
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range targets {
		conn.sendRaw(data)
	}

	log.Debug().
		Str("type", string(msg.Type)).
		Int("connections", len(targets)).
		Msg("message broadcasted")
}

// ConnectionCount returns the number of open sessions
func (cm *ConnectionManager) ConnectionCount() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections)
}

// HasSessionFor reports whether another connection is logged in as name
func (cm *ConnectionManager) HasSessionFor(name string, except *Connection) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	for conn := range cm.connections {
		if conn != except && conn.Name() == name {
			return true
		}
	}
	return false
}

// CloseAll disconnects every session
func (cm *ConnectionManager) CloseAll() {
	cm.mu.RLock()
	targets := make([]*Connection, 0, len(cm.connections))
	for conn := range cm.connections {
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range targets {
		conn.Conn.Close()
	}
}

// Name returns the account the session is logged in as, if any
func (c *Connection) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

func (c *Connection) setName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.name = name
}

// SendMessage queues msg for this session. A session whose buffer is full is
// disconnected.
func (c *Connection) SendMessage(msg ServerMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("type", string(msg.Type)).Msg("failed to marshal message")
		return false
	}
	return c.sendRaw(data)
}

func (c *Connection) sendRaw(data []byte) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	select {
	case c.send <- data:
		c.mu.Unlock()
		return true
	default:
	}
	c.mu.Unlock()

	log.Warn().
		Str("connection_id", c.ID).
		Str("name", c.Name()).
		Msg("connection send buffer full, closing connection")
	c.Conn.Close()
	return false
}

func (c *Connection) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump reads commands until the connection closes, then runs the disconnect handler
func (c *Connection) readPump() {
	defer func() {
		if c.Manager.unregisterConnection(c) {
			c.Manager.handler.HandleDisconnect(c)
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			return
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.SendMessage(ServerMessage{Type: MessageError, Error: "invalid message"})
			continue
		}
		c.Manager.handler.HandleMessage(context.Background(), c, msg)
	}
}
