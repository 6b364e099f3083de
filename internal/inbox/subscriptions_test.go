package inbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport is an in-memory Transport recording subscribe/unsubscribe
// calls. Shared by the subscription manager and store tests.
type fakeTransport struct {
	mu           sync.Mutex
	nextID       int
	handlers     map[string]EventHandler
	topics       map[string]string
	subscribes   []string
	unsubscribes []string
	subscribeErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		handlers: make(map[string]EventHandler),
		topics:   make(map[string]string),
	}
}

func (f *fakeTransport) Subscribe(topic string, handler EventHandler) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.subscribeErr != nil {
		return "", f.subscribeErr
	}

	f.nextID++
	id := fmt.Sprintf("sub-%d", f.nextID)
	f.handlers[id] = handler
	f.topics[id] = topic
	f.subscribes = append(f.subscribes, topic)
	return id, nil
}

func (f *fakeTransport) Unsubscribe(subscriptionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.unsubscribes = append(f.unsubscribes, subscriptionID)
	delete(f.handlers, subscriptionID)
	delete(f.topics, subscriptionID)
}

func (f *fakeTransport) activeTopics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	topics := make([]string, 0, len(f.topics))
	for _, topic := range f.topics {
		topics = append(topics, topic)
	}
	return topics
}

// emit synchronously delivers one event to every handler subscribed to topic.
func (f *fakeTransport) emit(t *testing.T, topic, eventType string, payload any) {
	t.Helper()

	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Failed to marshal event payload: %v", err)
	}

	f.mu.Lock()
	handlers := make([]EventHandler, 0)
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

func noopHandler(string, []byte) {}

func TestSubscriptionManager(t *testing.T) {
	t.Run("connecting opens the global subscription", func(t *testing.T) {
		transport := newFakeTransport()
		manager := NewSubscriptionManager(transport, noopHandler)

		manager.SetConnected(true)

		assert.Equal(t, []string{TopicInboxUpdates}, transport.activeTopics())
	})

	t.Run("selecting a record opens the record subscription", func(t *testing.T) {
		transport := newFakeTransport()
		manager := NewSubscriptionManager(transport, noopHandler)

		manager.SetConnected(true)
		manager.SetRecord("7")

		assert.ElementsMatch(t, []string{TopicInboxUpdates, RecordTopic("7")}, transport.activeTopics())
	})

	t.Run("switching records never leaves two record subscriptions", func(t *testing.T) {
		transport := newFakeTransport()
		manager := NewSubscriptionManager(transport, noopHandler)

		manager.SetConnected(true)
		manager.SetRecord("7")
		manager.SetRecord("12")

		assert.ElementsMatch(t, []string{TopicInboxUpdates, RecordTopic("12")}, transport.activeTopics())
		// The old record subscription was dropped exactly once.
		require.Len(t, transport.unsubscribes, 1)
	})

	t.Run("deselecting drops only the record subscription", func(t *testing.T) {
		transport := newFakeTransport()
		manager := NewSubscriptionManager(transport, noopHandler)

		manager.SetConnected(true)
		manager.SetRecord("7")
		manager.SetRecord("")

		assert.Equal(t, []string{TopicInboxUpdates}, transport.activeTopics())
	})

	t.Run("selection while disconnected opens nothing", func(t *testing.T) {
		transport := newFakeTransport()
		manager := NewSubscriptionManager(transport, noopHandler)

		manager.SetRecord("7")

		assert.Empty(t, transport.activeTopics())
	})

	t.Run("disconnect tears everything down", func(t *testing.T) {
		transport := newFakeTransport()
		manager := NewSubscriptionManager(transport, noopHandler)

		manager.SetConnected(true)
		manager.SetRecord("7")
		manager.SetConnected(false)

		assert.Empty(t, transport.activeTopics())
	})

	t.Run("reconnect re-establishes both subscriptions from scratch", func(t *testing.T) {
		transport := newFakeTransport()
		manager := NewSubscriptionManager(transport, noopHandler)

		manager.SetConnected(true)
		manager.SetRecord("7")
		manager.SetConnected(false)
		manager.SetConnected(true)

		assert.ElementsMatch(t, []string{TopicInboxUpdates, RecordTopic("7")}, transport.activeTopics())
		// Two rounds of subscribes: initial and after reconnect.
		assert.Len(t, transport.subscribes, 4)
	})

	t.Run("redundant connectivity calls are idempotent", func(t *testing.T) {
		transport := newFakeTransport()
		manager := NewSubscriptionManager(transport, noopHandler)

		manager.SetConnected(true)
		manager.SetConnected(true)
		manager.SetRecord("7")
		manager.SetRecord("7")

		assert.Len(t, transport.subscribes, 2)
		assert.Empty(t, transport.unsubscribes)
	})

	t.Run("teardown is idempotent", func(t *testing.T) {
		transport := newFakeTransport()
		manager := NewSubscriptionManager(transport, noopHandler)

		manager.SetConnected(true)
		manager.SetRecord("7")
		manager.Teardown()
		manager.Teardown()

		assert.Empty(t, transport.activeTopics())
		assert.Len(t, transport.unsubscribes, 2)
	})

	t.Run("subscribe failure is retried on the next reconcile", func(t *testing.T) {
		transport := newFakeTransport()
		manager := NewSubscriptionManager(transport, noopHandler)

		transport.subscribeErr = errors.New("transport down")
		manager.SetConnected(true)
		assert.Empty(t, transport.activeTopics())

		transport.subscribeErr = nil
		manager.SetConnected(true)
		assert.Equal(t, []string{TopicInboxUpdates}, transport.activeTopics())
	})
}
