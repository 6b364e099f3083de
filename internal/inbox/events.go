package inbox

import "time"

// TopicInboxUpdates is the global topic carrying updates for every record.
const TopicInboxUpdates = "inbox.updates"

// RecordTopic returns the record-scoped topic for a contact record id.
func RecordTopic(recordID string) string {
	return "inbox.records." + recordID
}

// Realtime event kinds understood by the reducer. Anything else is logged and
// dropped.
const (
	EventRecordActivity      = "record_activity"
	EventConversationMessage = "conversation_message"
	EventConversationUpdated = "conversation_updated"
)

// Message direction relative to the workspace.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// RecordActivityEvent is a per-record delta update: one message happened on
// one channel of a known contact record.
type RecordActivityEvent struct {
	ContactRecordID string    `json:"contact_record_id"`
	ChannelType     string    `json:"channel_type"`
	Direction       string    `json:"direction"`
	Unread          bool      `json:"unread"`
	Timestamp       time.Time `json:"timestamp"`
	ContentPreview  string    `json:"content_preview,omitempty"`
}

// EventMessage is the message body carried by a conversation_message event.
type EventMessage struct {
	Content   string `json:"content"`
	Direction string `json:"direction"`
}

// ConversationMessageEvent announces a new message on a conversation the
// backend already listed.
type ConversationMessageEvent struct {
	ConversationID string       `json:"conversation_id"`
	Message        EventMessage `json:"message"`
	Timestamp      time.Time    `json:"timestamp"`
}

// ConversationUpdatedEvent patches counters of a known conversation. Absent
// fields leave the current value untouched.
type ConversationUpdatedEvent struct {
	ConversationID string     `json:"conversation_id"`
	MessageCount   *int       `json:"message_count,omitempty"`
	UnreadCount    *int       `json:"unread_count,omitempty"`
	LastActivity   *time.Time `json:"last_activity,omitempty"`
}
