package websocket

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// defaultWriteTimeout bounds every write to a dashboard tab. A tab that stops
// reading gets dropped instead of blocking publishers.
const defaultWriteTimeout = 10 * time.Second

// Client wraps one downstream WebSocket connection (a dashboard tab). All
// writes go through Send: gorilla connections support one concurrent writer,
// and the store publishes from several goroutines at once.
type Client struct {
	conn         *websocket.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration
}

// Conn returns the underlying WebSocket connection. Callers may read from it;
// writes must go through Send.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// Send writes one text message to the tab. Writes are serialized per
// connection and bounded by the write timeout; a timed-out write returns an
// error and the caller drops the client.
func (c *Client) Send(msg []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// Hub manages the set of connected dashboard tabs and fans inbox snapshots
// out to them. It supports multiple tabs up to a configurable cap.
type Hub struct {
	mu           sync.RWMutex
	clients      map[*Client]struct{}
	maxClients   int
	writeTimeout time.Duration
}

// NewHub creates a new Hub with a connection limit.
func NewHub(maxClients int) *Hub {
	if maxClients <= 0 {
		maxClients = 10
	}
	return &Hub{
		clients:      make(map[*Client]struct{}),
		maxClients:   maxClients,
		writeTimeout: defaultWriteTimeout,
	}
}

// Register adds a WebSocket connection. If the limit is exceeded, the new
// connection is closed and nil is returned.
func (h *Hub) Register(conn *websocket.Conn) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.clients) >= h.maxClients {
		log.Printf("websocket: max connections (%d) exceeded, closing new connection", h.maxClients)
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many connections"),
			// Zero deadline - best effort.
			//nolint:exhaustruct
			time.Time{},
		)
		_ = conn.Close()
		return nil
	}

	client := &Client{conn: conn, writeTimeout: h.writeTimeout}
	h.clients[client] = struct{}{}
	return client
}

// Unregister removes a client and closes its connection.
func (h *Hub) Unregister(client *Client) {
	if client == nil {
		return
	}

	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()

	_ = client.conn.Close()
}

// Broadcast sends a message to every connected client. A client whose write
// fails or times out is dropped; one stalled tab never blocks the rest.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if err := client.Send(msg); err != nil {
			log.Printf("websocket: failed to write message: %v", err)
			// Best-effort cleanup: unregister this client.
			go h.Unregister(client)
		}
	}
}

// ActiveConnections returns the number of connected clients.
func (h *Hub) ActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}
