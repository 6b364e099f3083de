// Command fake-backend runs a standalone CRM stand-in for local development:
// it serves a seeded conversation list, accepts mark-read calls, and pushes a
// synthetic realtime event stream over WebSocket so the unibox server can be
// exercised without a real CRM deployment.
package main

import (
	"encoding/json"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaycrm/unibox/internal/inbox"
	"github.com/relaycrm/unibox/internal/models"
	"github.com/relaycrm/unibox/internal/realtime"
)

const listenAddress = ":9090"

// eventInterval is the pace of synthetic realtime events.
const eventInterval = 5 * time.Second

func main() {
	backend := newFakeBackend()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/conversations", backend.handleConversations)
	mux.HandleFunc("/api/conversations/", backend.handleMarkRead)
	mux.HandleFunc("/ws", backend.handleWebSocket)

	go backend.emitEvents()

	log.Printf("Fake CRM backend listening on %s", listenAddress)
	if err := http.ListenAndServe(listenAddress, mux); err != nil {
		log.Fatalf("Fake backend failed to start: %v", err)
	}
}

type fakeBackend struct {
	mu            sync.Mutex
	conversations []models.ConversationSummary
	upgrader      websocket.Upgrader
	conns         map[*websocket.Conn]map[string]bool // conn -> subscribed topics
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		conversations: seedConversations(),
		conns:         make(map[*websocket.Conn]map[string]bool),
	}
}

func seedConversations() []models.ConversationSummary {
	now := time.Now()
	ada := &models.ContactRef{ID: "7", DisplayName: "Ada Lovelace", PipelineName: "Enterprise"}
	grace := &models.ContactRef{ID: "12", DisplayName: "Grace Hopper", PipelineName: "SMB"}

	return []models.ConversationSummary{
		{
			ID: "conv-1", ChannelType: "whatsapp", PrimaryContact: ada,
			UnreadCount: 3, MessageCount: 18, UpdatedAt: now.Add(-2 * time.Minute),
			LastMessage: &models.LastMessage{Content: "Can we move the demo to Thursday?"},
		},
		{
			ID: "conv-2", ChannelType: "email", PrimaryContact: ada,
			UnreadCount: 1, MessageCount: 6, UpdatedAt: now.Add(-3 * time.Hour),
			LastMessage: &models.LastMessage{Content: "Re: Q3 renewal proposal"},
		},
		{
			ID: "conv-3", ChannelType: "linkedin", PrimaryContact: grace,
			UnreadCount: 0, MessageCount: 4, UpdatedAt: now.Add(-26 * time.Hour),
			LastMessage: &models.LastMessage{Content: "Thanks for connecting!"},
		},
		{
			// No resolved contact: exercised as an unmatched conversation.
			ID: "conv-4", ChannelType: "email",
			UnreadCount: 2, MessageCount: 2, UpdatedAt: now.Add(-30 * time.Minute),
			LastMessage: &models.LastMessage{Content: "Newsletter bounce notification"},
		},
	}
}

func (b *fakeBackend) handleConversations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	b.mu.Lock()
	response := models.ConversationsResponse{
		Conversations: append([]models.ConversationSummary(nil), b.conversations...),
		Pagination:    models.PaginationInfo{TotalCount: len(b.conversations)},
	}
	b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

func (b *fakeBackend) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/read") {
		http.NotFound(w, r)
		return
	}

	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/conversations/"), "/read")
	b.mu.Lock()
	for i := range b.conversations {
		if b.conversations[i].ID == id {
			b.conversations[i].UnreadCount = 0
		}
	}
	b.mu.Unlock()

	log.Printf("Marked conversation %s as read", id)
	w.WriteHeader(http.StatusNoContent)
}

func (b *fakeBackend) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}

	b.mu.Lock()
	b.conns[conn] = make(map[string]bool)
	b.mu.Unlock()

	log.Printf("Push client connected")
	go b.readLoop(conn)
}

func (b *fakeBackend) readLoop(conn *websocket.Conn) {
	defer func() {
		b.mu.Lock()
		delete(b.conns, conn)
		b.mu.Unlock()
		_ = conn.Close()
		log.Printf("Push client disconnected")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame struct {
			Action string `json:"action"`
			Topic  string `json:"topic"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}

		b.mu.Lock()
		switch frame.Action {
		case "subscribe":
			b.conns[conn][frame.Topic] = true
		case "unsubscribe":
			delete(b.conns[conn], frame.Topic)
		}
		b.mu.Unlock()
		log.Printf("Push client %s topic %s", frame.Action, frame.Topic)
	}
}

// emitEvents pushes a synthetic record_activity event for a random seeded
// contact at a fixed pace.
func (b *fakeBackend) emitEvents() {
	channels := []string{"whatsapp", "email", "linkedin"}
	records := []string{"7", "12"}

	for range time.Tick(eventInterval) {
		recordID := records[rand.Intn(len(records))]
		event := inbox.RecordActivityEvent{
			ContactRecordID: recordID,
			ChannelType:     channels[rand.Intn(len(channels))],
			Direction:       inbox.DirectionInbound,
			Unread:          true,
			Timestamp:       time.Now(),
			ContentPreview:  "Synthetic message at " + time.Now().Format(time.RFC3339),
		}
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}

		b.broadcast(realtime.Envelope{
			Topic:   inbox.TopicInboxUpdates,
			Type:    inbox.EventRecordActivity,
			Payload: payload,
		})
		b.broadcast(realtime.Envelope{
			Topic:   inbox.RecordTopic(recordID),
			Type:    inbox.EventRecordActivity,
			Payload: payload,
		})
	}
}

func (b *fakeBackend) broadcast(env realtime.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for conn, topics := range b.conns {
		if !topics[env.Topic] {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Printf("Failed to push event: %v", err)
		}
	}
}
