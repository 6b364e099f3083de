package testutil

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/relaycrm/unibox/internal/inbox"
)

// FakeTransport is an in-memory implementation of the realtime transport the
// subscription manager and store consume. It records subscribe/unsubscribe
// calls and can emit events to currently held handlers.
type FakeTransport struct {
	mu           sync.Mutex
	nextID       int
	handlers     map[string]inbox.EventHandler // subscription id -> handler
	topics       map[string]string             // subscription id -> topic
	Subscribes   []string                      // topics, in call order
	Unsubscribes []string                      // subscription ids, in call order
	SubscribeErr error
}

// NewFakeTransport creates an empty fake transport.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		handlers: make(map[string]inbox.EventHandler),
		topics:   make(map[string]string),
	}
}

// Subscribe registers a handler and returns a synthetic subscription id.
func (f *FakeTransport) Subscribe(topic string, handler inbox.EventHandler) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.SubscribeErr != nil {
		return "", f.SubscribeErr
	}

	f.nextID++
	id := fmt.Sprintf("sub-%d", f.nextID)
	f.handlers[id] = handler
	f.topics[id] = topic
	f.Subscribes = append(f.Subscribes, topic)
	return id, nil
}

// Unsubscribe drops a subscription. Unknown ids are recorded but otherwise a
// no-op, matching the real transport's contract.
func (f *FakeTransport) Unsubscribe(subscriptionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Unsubscribes = append(f.Unsubscribes, subscriptionID)
	delete(f.handlers, subscriptionID)
	delete(f.topics, subscriptionID)
}

// ActiveTopics returns the topics with a live subscription, unordered.
func (f *FakeTransport) ActiveTopics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	topics := make([]string, 0, len(f.topics))
	for _, topic := range f.topics {
		topics = append(topics, topic)
	}
	return topics
}

// Emit synchronously delivers one event to every handler subscribed to the
// topic. The payload is marshaled to JSON first.
func (f *FakeTransport) Emit(t *testing.T, topic, eventType string, payload any) {
	t.Helper()

	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Failed to marshal event payload: %v", err)
	}

	f.mu.Lock()
	handlers := make([]inbox.EventHandler, 0)
	for id, handlerTopic := range f.topics {
		if handlerTopic == topic {
			handlers = append(handlers, f.handlers[id])
		}
	}
	f.mu.Unlock()

	for _, handler := range handlers {
		handler(eventType, data)
	}
}
