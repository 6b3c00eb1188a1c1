// Package hub provides connection management for WebSocket clients and
// the channel pub/sub backing message fan-out.
package hub

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/chatwire/chatwire/internal/metrics"
)

// Connection represents a single WebSocket connection.
type Connection struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte

	mu       sync.Mutex
	channels map[string]bool
}

// Hub manages all WebSocket connections.
type Hub struct {
	// Connections indexed by connection ID
	connections map[string]*Connection

	// Channels maps channel name to the set of subscribed connection IDs
	channels map[string]map[string]bool

	register   chan *Connection
	unregister chan *Connection

	// Broadcast channel for publishing to one fan-out channel
	broadcast chan *channelMessage

	mu sync.RWMutex
}

type channelMessage struct {
	Channel string
	Data    []byte
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		channels:    make(map[string]map[string]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan *channelMessage, 256),
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			metrics.ActiveConnections.Set(float64(len(h.connections)))
			h.mu.Unlock()
			log.Printf("Connection registered: %s", conn.ID)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				delete(h.connections, conn.ID)
				for channel := range conn.channelSet() {
					h.dropSubscriptionLocked(channel, conn.ID)
				}
				close(conn.Send)
				metrics.ActiveConnections.Set(float64(len(h.connections)))
			}
			h.mu.Unlock()
			log.Printf("Connection unregistered: %s", conn.ID)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for connID := range h.channels[msg.Channel] {
				if conn, exists := h.connections[connID]; exists {
					select {
					case conn.Send <- msg.Data:
					default:
						// Buffer full, close the connection
						log.Printf("Connection %s buffer full, closing", connID)
						go h.Unregister(conn)
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// NewConnection creates a new connection for the hub.
func (h *Hub) NewConnection(ws *websocket.Conn) *Connection {
	return &Connection{
		ID:       uuid.New().String(),
		Conn:     ws,
		Send:     make(chan []byte, 256),
		channels: make(map[string]bool),
	}
}

// Register registers a connection with the hub.
func (h *Hub) Register(conn *Connection) {
	h.register <- conn
}

// Unregister unregisters a connection from the hub.
func (h *Hub) Unregister(conn *Connection) {
	h.unregister <- conn
}

// Subscribe adds the connection to a fan-out channel.
func (h *Hub) Subscribe(conn *Connection, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.channels[channel] == nil {
		h.channels[channel] = make(map[string]bool)
	}
	h.channels[channel][conn.ID] = true
	conn.addChannel(channel)
}

// Unsubscribe removes the connection from a fan-out channel.
func (h *Hub) Unsubscribe(conn *Connection, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.dropSubscriptionLocked(channel, conn.ID)
	conn.removeChannel(channel)
}

// Publish sends a payload to all subscribers of a channel. Delivery is
// fire-and-forget.
func (h *Hub) Publish(channel string, data []byte) {
	h.broadcast <- &channelMessage{Channel: channel, Data: data}
}

// PublishJSON marshals v and publishes it to a channel.
func (h *Hub) PublishJSON(channel string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Publish(channel, data)
	return nil
}

// SendToConnection sends a message to a specific connection.
func (h *Hub) SendToConnection(connID string, data []byte) bool {
	h.mu.RLock()
	conn, ok := h.connections[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	select {
	case conn.Send <- data:
		return true
	default:
		return false
	}
}

// SendJSONToConnection marshals v and sends it to a specific connection.
func (h *Hub) SendJSONToConnection(connID string, v interface{}) bool {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("Failed to marshal message for %s: %v", connID, err)
		return false
	}
	return h.SendToConnection(connID, data)
}

// BroadcastAll sends a message to every connection. Used for the
// online-user list on connect and disconnect.
func (h *Hub) BroadcastAll(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("Failed to marshal broadcast: %v", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for connID, conn := range h.connections {
		select {
		case conn.Send <- data:
		default:
			log.Printf("Skipping connection %s: buffer full", connID)
		}
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

func (h *Hub) dropSubscriptionLocked(channel, connID string) {
	if h.channels[channel] == nil {
		return
	}
	delete(h.channels[channel], connID)
	if len(h.channels[channel]) == 0 {
		delete(h.channels, channel)
	}
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

func (c *Connection) addChannel(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[channel] = true
}

func (c *Connection) removeChannel(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.channels, channel)
}

func (c *Connection) channelSet() map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]bool, len(c.channels))
	for ch := range c.channels {
		out[ch] = true
	}
	return out
}
