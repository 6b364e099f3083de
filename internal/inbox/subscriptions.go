package inbox

import (
	"log"
	"sync"
)

// EventHandler receives one realtime event: its kind and raw JSON payload.
type EventHandler func(eventType string, payload []byte)

// Transport is the slice of the realtime channel the subscription manager
// uses. Implementations must treat Unsubscribe of an unknown id as a no-op.
type Transport interface {
	Subscribe(topic string, handler EventHandler) (string, error)
	Unsubscribe(subscriptionID string)
}

// SubscriptionManager keeps exactly two kinds of live subscriptions on the
// push channel: one global subscription whenever the channel is connected, and
// one record-scoped subscription whenever the channel is connected and a
// record is selected. It assumes the transport forgets subscriptions on
// disconnect, so a reconnect re-establishes both from scratch.
type SubscriptionManager struct {
	mu        sync.Mutex
	transport Transport
	handler   EventHandler

	connected          bool
	recordID           string
	globalSubID        string
	recordSubID        string
	subscribedRecordID string
}

// NewSubscriptionManager creates a manager delivering all events to handler.
func NewSubscriptionManager(transport Transport, handler EventHandler) *SubscriptionManager {
	return &SubscriptionManager{
		transport: transport,
		handler:   handler,
	}
}

// SetConnected records the connectivity flag and reconciles subscriptions.
// Safe to call redundantly; subscribe/unsubscribe are only issued when the
// held state differs from the desired one.
func (m *SubscriptionManager) SetConnected(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = connected
	m.reconcileLocked()
}

// SetRecord records the currently selected record id ("" for none) and
// reconciles the record-scoped subscription. Switching records drops the old
// subscription before the new one is opened; two record subscriptions are
// never live at once.
func (m *SubscriptionManager) SetRecord(recordID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordID = recordID
	m.reconcileLocked()
}

// Teardown drops every held subscription. Called on unmount and on loss of
// connectivity; idempotent.
func (m *SubscriptionManager) Teardown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	m.reconcileLocked()
}

// reconcileLocked drives held subscriptions toward the desired state.
func (m *SubscriptionManager) reconcileLocked() {
	if !m.connected {
		if m.globalSubID != "" {
			m.transport.Unsubscribe(m.globalSubID)
			m.globalSubID = ""
		}
		if m.recordSubID != "" {
			m.transport.Unsubscribe(m.recordSubID)
			m.recordSubID = ""
			m.subscribedRecordID = ""
		}
		return
	}

	if m.globalSubID == "" {
		id, err := m.transport.Subscribe(TopicInboxUpdates, m.handler)
		if err != nil {
			log.Printf("Subscriptions: failed to subscribe to %s: %v", TopicInboxUpdates, err)
		} else {
			m.globalSubID = id
		}
	}

	if m.recordSubID != "" && m.subscribedRecordID != m.recordID {
		m.transport.Unsubscribe(m.recordSubID)
		m.recordSubID = ""
		m.subscribedRecordID = ""
	}

	if m.recordID != "" && m.recordSubID == "" {
		topic := RecordTopic(m.recordID)
		id, err := m.transport.Subscribe(topic, m.handler)
		if err != nil {
			log.Printf("Subscriptions: failed to subscribe to %s: %v", topic, err)
		} else {
			m.recordSubID = id
			m.subscribedRecordID = m.recordID
		}
	}
}
