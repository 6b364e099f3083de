// Package realtime implements the client side of the CRM push channel: a
// WebSocket connection with topic-based subscriptions, a connection state
// machine and automatic reconnection.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/relaycrm/unibox/internal/inbox"
	"github.com/relaycrm/unibox/internal/models"
)

// Envelope is the wire frame for every message on the push channel.
type Envelope struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// controlFrame is sent to the server to open or close interest in a topic.
type controlFrame struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
}

type subscription struct {
	id      string
	topic   string
	handler inbox.EventHandler
}

// Client is a reconnecting WebSocket client. Local subscriptions survive
// connection loss: the server is assumed to remember nothing, so on every
// (re)connect the client re-asserts a subscribe frame for each held topic.
//
// Incoming frames are dispatched synchronously from the read loop, so handlers
// observe events strictly in delivery order.
type Client struct {
	url    string
	token  string
	dialer *websocket.Dialer

	mu       sync.RWMutex
	writeMu  sync.Mutex
	conn     *websocket.Conn
	status   models.ConnectionStatus
	subs     map[string]*subscription
	topics   map[string]map[string]*subscription
	onStatus func(models.ConnectionStatus)
}

// NewClient creates a client for the push channel at rawURL. The token is
// passed as a query parameter on dial, the same way browsers authenticate
// WebSocket connections.
func NewClient(rawURL, token string) *Client {
	return &Client{
		url:    rawURL,
		token:  token,
		dialer: websocket.DefaultDialer,
		status: models.StatusDisconnected,
		subs:   make(map[string]*subscription),
		topics: make(map[string]map[string]*subscription),
	}
}

// OnStatusChange registers a callback invoked on every connection status
// transition. The callback runs on the client's run loop goroutine.
func (c *Client) OnStatusChange(fn func(models.ConnectionStatus)) {
	c.mu.Lock()
	c.onStatus = fn
	c.mu.Unlock()
}

// ConnectionStatus returns the current connection status.
func (c *Client) ConnectionStatus() models.ConnectionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// IsConnected reports whether the channel is currently connected.
func (c *Client) IsConnected() bool {
	return c.ConnectionStatus() == models.StatusConnected
}

// Subscribe registers interest in a topic and returns an opaque subscription
// id. The first subscription for a topic sends a subscribe frame if the
// channel is connected; otherwise the frame is sent on the next connect.
func (c *Client) Subscribe(topic string, handler inbox.EventHandler) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("topic is empty")
	}
	if handler == nil {
		return "", fmt.Errorf("handler is nil")
	}

	sub := &subscription{id: uuid.NewString(), topic: topic, handler: handler}

	c.mu.Lock()
	first := len(c.topics[topic]) == 0
	if c.topics[topic] == nil {
		c.topics[topic] = make(map[string]*subscription)
	}
	c.topics[topic][sub.id] = sub
	c.subs[sub.id] = sub
	conn := c.conn
	c.mu.Unlock()

	if first && conn != nil {
		if err := c.sendControl(conn, "subscribe", topic); err != nil {
			// Keep the registration; the subscribe frame is replayed on the
			// next reconnect.
			log.Printf("Realtime: failed to send subscribe for topic %s: %v", topic, err)
		}
	}
	return sub.id, nil
}

// Unsubscribe removes a subscription. Unknown ids are a no-op. When the last
// subscription for a topic goes away, an unsubscribe frame is sent if the
// channel is connected.
func (c *Client) Unsubscribe(subscriptionID string) {
	c.mu.Lock()
	sub, ok := c.subs[subscriptionID]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.subs, subscriptionID)
	delete(c.topics[sub.topic], subscriptionID)
	last := len(c.topics[sub.topic]) == 0
	if last {
		delete(c.topics, sub.topic)
	}
	conn := c.conn
	c.mu.Unlock()

	if last && conn != nil {
		if err := c.sendControl(conn, "unsubscribe", sub.topic); err != nil {
			log.Printf("Realtime: failed to send unsubscribe for topic %s: %v", sub.topic, err)
		}
	}
}

// Run connects to the push channel and keeps the connection alive until the
// context is canceled, reconnecting with exponential backoff. It blocks;
// callers run it on its own goroutine.
func (c *Client) Run(ctx context.Context) {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0 // retry until canceled
	policy.MaxInterval = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		c.setStatus(models.StatusConnecting)
		conn, resp, err := c.dialer.DialContext(ctx, c.dialURL(), nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			c.setStatus(models.StatusDisconnected)
			wait := policy.NextBackOff()
			log.Printf("Realtime: dial failed: %v (retrying in %s)", err, wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}

		policy.Reset()
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()

		c.setStatus(models.StatusConnected)
		c.replaySubscriptions(conn)
		c.readLoop(ctx, conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
		c.setStatus(models.StatusDisconnected)
	}
}

// dialURL appends the auth token as a query parameter when one is configured.
func (c *Client) dialURL() string {
	if c.token == "" {
		return c.url
	}
	u, err := url.Parse(c.url)
	if err != nil {
		return c.url
	}
	q := u.Query()
	q.Set("token", c.token)
	u.RawQuery = q.Encode()
	return u.String()
}

// replaySubscriptions re-asserts every held topic after a (re)connect.
func (c *Client) replaySubscriptions(conn *websocket.Conn) {
	c.mu.RLock()
	topics := make([]string, 0, len(c.topics))
	for topic := range c.topics {
		topics = append(topics, topic)
	}
	c.mu.RUnlock()

	for _, topic := range topics {
		if err := c.sendControl(conn, "subscribe", topic); err != nil {
			log.Printf("Realtime: failed to replay subscribe for topic %s: %v", topic, err)
			return
		}
	}
}

// readLoop reads frames until the connection fails or the context is
// canceled. Each envelope is dispatched to every handler registered for its
// topic, in delivery order.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()
	defer close(stop)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("Realtime: read failed: %v", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("Realtime: failed to decode frame: %v", err)
			continue
		}
		c.dispatch(env)
	}
}

// dispatch delivers one envelope to the handlers registered for its topic.
// Frames for topics without a registration are dropped silently; the server
// may still push briefly after an unsubscribe.
func (c *Client) dispatch(env Envelope) {
	c.mu.RLock()
	handlers := make([]inbox.EventHandler, 0, len(c.topics[env.Topic]))
	for _, sub := range c.topics[env.Topic] {
		handlers = append(handlers, sub.handler)
	}
	c.mu.RUnlock()

	for _, handler := range handlers {
		handler(env.Type, env.Payload)
	}
}

// sendControl writes a subscribe/unsubscribe frame. Writes are serialized:
// gorilla connections support one concurrent writer.
func (c *Client) sendControl(conn *websocket.Conn, action, topic string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(controlFrame{Action: action, Topic: topic})
}

// setStatus records a status transition and notifies the registered callback.
func (c *Client) setStatus(status models.ConnectionStatus) {
	c.mu.Lock()
	if c.status == status {
		c.mu.Unlock()
		return
	}
	c.status = status
	fn := c.onStatus
	c.mu.Unlock()

	if fn != nil {
		fn(status)
	}
}
