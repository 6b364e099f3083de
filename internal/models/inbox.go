package models

import "time"

// ConnectionStatus describes the state of the upstream realtime channel.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
)

// ContactRef identifies the CRM record a conversation has been matched to.
type ContactRef struct {
	ID           string `json:"id"`
	DisplayName  string `json:"display_name"`
	PipelineName string `json:"pipeline_name,omitempty"`
}

// LastMessage carries the preview text of a conversation's newest message.
type LastMessage struct {
	Content string `json:"content"`
}

// ConversationSummary is the atomic unit delivered by the CRM backend: one
// channel-specific thread (an email thread, a WhatsApp chat, ...) with its own
// counters. It is read-only to the aggregation core.
type ConversationSummary struct {
	ID             string       `json:"id"`
	ChannelType    string       `json:"channel_type"`
	PrimaryContact *ContactRef  `json:"primary_contact,omitempty"`
	UnreadCount    int          `json:"unread_count"`
	MessageCount   int          `json:"message_count"`
	UpdatedAt      time.Time    `json:"updated_at"`
	LastMessage    *LastMessage `json:"last_message,omitempty"`
}

// ChannelSummary is the per-channel breakdown inside an InboxRecord. A single
// channel can represent several conversations of the same type.
type ChannelSummary struct {
	ChannelType        string    `json:"channel_type"`
	ConversationCount  int       `json:"conversation_count"`
	MessageCount       int       `json:"message_count"`
	UnreadCount        int       `json:"unread_count"`
	LastActivity       time.Time `json:"last_activity"`
	LastMessagePreview string    `json:"last_message_preview,omitempty"`
}

// InboxRecord is the aggregation unit: one CRM contact with all of its
// conversations folded into per-channel summaries.
//
// TotalUnread always equals the sum of Channels[*].UnreadCount; every update
// path that changes a channel's unread count adjusts the total in the same
// step. AvailableChannels lists channel types in first-seen order.
type InboxRecord struct {
	ID                string                     `json:"id"`
	Title             string                     `json:"title"`
	PipelineName      string                     `json:"pipeline_name,omitempty"`
	Channels          map[string]*ChannelSummary `json:"channels"`
	AvailableChannels []string                   `json:"available_channels"`
	TotalUnread       int                        `json:"total_unread"`
	LastActivity      time.Time                  `json:"last_activity"`
	PreferredChannel  string                     `json:"preferred_channel,omitempty"`
}

// Clone returns a deep copy of the record. Mutation paths copy before writing
// so that previously published snapshots are never modified.
func (r *InboxRecord) Clone() *InboxRecord {
	out := *r
	out.Channels = make(map[string]*ChannelSummary, len(r.Channels))
	for channelType, channel := range r.Channels {
		c := *channel
		out.Channels[channelType] = &c
	}
	out.AvailableChannels = append([]string(nil), r.AvailableChannels...)
	return &out
}

// InboxState is the top-level aggregate. Records are kept sorted descending by
// LastActivity after every mutation; the raw conversation list is retained so
// per-conversation realtime events can be matched back to their record.
type InboxState struct {
	Records          []*InboxRecord        `json:"records"`
	Conversations    []ConversationSummary `json:"conversations"`
	SelectedRecordID string                `json:"selected_record_id,omitempty"`
	UnmatchedCount   int                   `json:"unmatched_count"`
}

// NewInboxState returns an empty state, the value held before the first fetch.
func NewInboxState() *InboxState {
	return &InboxState{}
}

// Clone returns a shallow copy of the state with fresh top-level slices.
// Records themselves are shared; callers clone the individual record they are
// about to change (copy-on-write).
func (s *InboxState) Clone() *InboxState {
	return &InboxState{
		Records:          append([]*InboxRecord(nil), s.Records...),
		Conversations:    append([]ConversationSummary(nil), s.Conversations...),
		SelectedRecordID: s.SelectedRecordID,
		UnmatchedCount:   s.UnmatchedCount,
	}
}

// RecordIndex returns the position of the record with the given id, or -1.
func (s *InboxState) RecordIndex(recordID string) int {
	for i, record := range s.Records {
		if record.ID == recordID {
			return i
		}
	}
	return -1
}

// ConversationIndex returns the position of the conversation with the given
// id in the retained raw list, or -1.
func (s *InboxState) ConversationIndex(conversationID string) int {
	for i := range s.Conversations {
		if s.Conversations[i].ID == conversationID {
			return i
		}
	}
	return -1
}

// ChannelAvailability describes one channel of the selected record as exposed
// to the UI. In this mode availability is derived from the record's aggregated
// channels, no per-channel connectivity round-trip is made.
type ChannelAvailability struct {
	ChannelType string `json:"channel_type"`
	Available   bool   `json:"available"`
	Connected   bool   `json:"connected"`
}

// PaginationInfo mirrors the pagination block of the CRM list endpoint.
type PaginationInfo struct {
	TotalCount  int  `json:"total_count"`
	HasNext     bool `json:"has_next"`
	HasPrevious bool `json:"has_previous"`
}

// ConversationsResponse is the payload of the CRM conversation list endpoint.
type ConversationsResponse struct {
	Conversations []ConversationSummary `json:"conversations"`
	Pagination    PaginationInfo        `json:"pagination"`
}
