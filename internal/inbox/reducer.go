package inbox

import (
	"encoding/json"
	"log"

	"github.com/relaycrm/unibox/internal/models"
)

// Reduce applies one realtime event to the state and returns the resulting
// state. The input state is never mutated; every change produces a new value.
// When the event cannot be matched to any known record or conversation, the
// input state is returned unchanged (same pointer), so callers can detect
// no-ops by identity. Decode failures and unrecognized kinds are logged and
// dropped; Reduce never fails.
func Reduce(state *models.InboxState, eventType string, payload []byte) *models.InboxState {
	switch eventType {
	case EventRecordActivity:
		var ev RecordActivityEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			log.Printf("Reducer: failed to decode %s event: %v", eventType, err)
			return state
		}
		return ApplyRecordActivity(state, ev)
	case EventConversationMessage:
		var ev ConversationMessageEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			log.Printf("Reducer: failed to decode %s event: %v", eventType, err)
			return state
		}
		return ApplyConversationMessage(state, ev)
	case EventConversationUpdated:
		var ev ConversationUpdatedEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			log.Printf("Reducer: failed to decode %s event: %v", eventType, err)
			return state
		}
		return ApplyConversationUpdated(state, ev)
	default:
		log.Printf("Reducer: ignoring unrecognized event type %q", eventType)
		return state
	}
}

// ApplyRecordActivity applies a per-record delta update. The unread delta is 1
// for an unread inbound message and 0 otherwise. Timestamps overwrite the
// current last activity: record-scoped events are assumed monotonic per
// record, so no max-comparison is done here (unlike the aggregator).
func ApplyRecordActivity(state *models.InboxState, ev RecordActivityEvent) *models.InboxState {
	idx := state.RecordIndex(ev.ContactRecordID)
	if idx < 0 {
		return state
	}

	next := state.Clone()
	record := next.Records[idx].Clone()
	next.Records[idx] = record

	channel := ensureChannel(record, ev.ChannelType)
	if ev.Unread && ev.Direction == DirectionInbound {
		channel.UnreadCount++
		record.TotalUnread++
	}
	channel.LastActivity = ev.Timestamp
	record.LastActivity = ev.Timestamp
	record.PreferredChannel = ev.ChannelType
	if ev.ContentPreview != "" {
		channel.LastMessagePreview = truncatePreview(ev.ContentPreview)
	}

	sortByActivity(next.Records)
	return next
}

// ApplyConversationMessage applies a new message on a known conversation. The
// matching entry in the retained raw conversation list is patched as well
// (preview, timestamp, unread) so later reducer lookups against that list stay
// consistent.
func ApplyConversationMessage(state *models.InboxState, ev ConversationMessageEvent) *models.InboxState {
	convIdx := state.ConversationIndex(ev.ConversationID)
	if convIdx < 0 {
		return state
	}

	conv := state.Conversations[convIdx]
	inbound := ev.Message.Direction == DirectionInbound

	next := state.Clone()

	patched := conv
	patched.UpdatedAt = ev.Timestamp
	if ev.Message.Content != "" {
		patched.LastMessage = &models.LastMessage{Content: ev.Message.Content}
	}
	if inbound {
		patched.UnreadCount++
	}
	next.Conversations[convIdx] = patched

	if conv.PrimaryContact != nil {
		if idx := next.RecordIndex(conv.PrimaryContact.ID); idx >= 0 {
			record := next.Records[idx].Clone()
			next.Records[idx] = record

			channel := ensureChannel(record, conv.ChannelType)
			if ev.Message.Content != "" {
				channel.LastMessagePreview = truncatePreview(ev.Message.Content)
			}
			channel.LastActivity = ev.Timestamp
			record.LastActivity = ev.Timestamp
			record.PreferredChannel = conv.ChannelType
			if inbound {
				channel.UnreadCount++
				record.TotalUnread++
			}

			sortByActivity(next.Records)
		}
	}

	return next
}

// ApplyConversationUpdated patches counters of a known conversation. The
// channel absorbs the raw unread value while the record total is adjusted by
// the delta against the channel's prior value; overwriting the total with a
// single channel's count would double-count across channels.
func ApplyConversationUpdated(state *models.InboxState, ev ConversationUpdatedEvent) *models.InboxState {
	convIdx := state.ConversationIndex(ev.ConversationID)
	if convIdx < 0 {
		return state
	}

	conv := state.Conversations[convIdx]

	next := state.Clone()

	patched := conv
	if ev.MessageCount != nil {
		patched.MessageCount = *ev.MessageCount
	}
	if ev.UnreadCount != nil {
		patched.UnreadCount = *ev.UnreadCount
	}
	if ev.LastActivity != nil {
		patched.UpdatedAt = *ev.LastActivity
	}
	next.Conversations[convIdx] = patched

	if conv.PrimaryContact != nil {
		if idx := next.RecordIndex(conv.PrimaryContact.ID); idx >= 0 {
			record := next.Records[idx].Clone()
			next.Records[idx] = record

			channel := ensureChannel(record, conv.ChannelType)
			if ev.MessageCount != nil {
				channel.MessageCount = *ev.MessageCount
			}
			if ev.UnreadCount != nil {
				delta := *ev.UnreadCount - channel.UnreadCount
				channel.UnreadCount = *ev.UnreadCount
				record.TotalUnread += delta
			}
			if ev.LastActivity != nil {
				channel.LastActivity = *ev.LastActivity
				if ev.LastActivity.After(record.LastActivity) {
					record.LastActivity = *ev.LastActivity
					record.PreferredChannel = conv.ChannelType
				}
				sortByActivity(next.Records)
			}
		}
	}

	return next
}
