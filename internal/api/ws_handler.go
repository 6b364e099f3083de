package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/relaycrm/unibox/internal/auth"
	"github.com/relaycrm/unibox/internal/inbox"
	ws "github.com/relaycrm/unibox/internal/websocket"
)

// WebSocketHandler handles the /api/v1/inbox/ws endpoint pushing aggregate
// snapshots to dashboard tabs.
type WebSocketHandler struct {
	store    *inbox.Store
	hub      *ws.Hub
	apiToken string
}

// NewWebSocketHandler creates a new WebSocketHandler instance.
func NewWebSocketHandler(store *inbox.Store, hub *ws.Hub, apiToken string) *WebSocketHandler {
	return &WebSocketHandler{
		store:    store,
		hub:      hub,
		apiToken: apiToken,
	}
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins. This server is expected to be used behind a
		// reverse proxy in a trusted environment.
		return true
	},
}

// Handle upgrades the HTTP connection to a WebSocket and registers it with
// the Hub. Authentication is handled via query parameter (?token=...) since
// WebSocket connections cannot set custom headers in browsers. A new tab
// receives the current snapshot immediately so it does not wait for the next
// event.
func (h *WebSocketHandler) Handle(w http.ResponseWriter, r *http.Request) {
	// Extract token from query parameter (WebSocket connections can't set headers).
	token := r.URL.Query().Get("token")
	if token == "" {
		// Fallback to Authorization header for tools that can set headers.
		authHeader := r.Header.Get("Authorization")
		if authHeader != "" {
			fields := strings.Fields(authHeader)
			if len(fields) >= 2 && strings.EqualFold(fields[0], "Bearer") {
				token = strings.TrimSpace(strings.Join(fields[1:], " "))
			}
		}
	}

	if !auth.TokenMatches(token, h.apiToken) {
		log.Printf("WebSocketHandler: rejected connection with missing or invalid token")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocketHandler: failed to upgrade connection: %v", err)
		return
	}

	client := h.hub.Register(conn)
	if client == nil {
		log.Printf("WebSocketHandler: connection rejected (max connections exceeded)")
		return
	}

	if payload, err := json.Marshal(h.store.Snapshot()); err != nil {
		log.Printf("WebSocketHandler: failed to encode snapshot: %v", err)
	} else if err := client.Send(payload); err != nil {
		log.Printf("WebSocketHandler: failed to send initial snapshot: %v", err)
		h.hub.Unregister(client)
		return
	}

	// Read loop to keep the connection open and detect disconnects.
	go h.readLoop(client)
}

// readLoop reads messages from the WebSocket until the connection is closed,
// then unregisters the client.
func (h *WebSocketHandler) readLoop(client *ws.Client) {
	conn := client.Conn()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.hub.Unregister(client)
}
