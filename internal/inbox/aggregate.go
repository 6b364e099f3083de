package inbox

import (
	"sort"

	"github.com/relaycrm/unibox/internal/models"
)

// maxPreviewLength caps channel previews. Truncation happens at assignment
// time; previews are never re-derived later.
const maxPreviewLength = 100

// AggregateResult is the output of one aggregation pass.
type AggregateResult struct {
	Records   []*models.InboxRecord
	Unmatched int
}

// Aggregate folds a flat list of conversation summaries into one InboxRecord
// per contact, each with a per-channel breakdown. It is pure and
// deterministic: the same input always yields the same output, including
// record order. Conversations without a resolved contact never create or
// update a record; they are only counted as unmatched.
func Aggregate(conversations []models.ConversationSummary) AggregateResult {
	byID := make(map[string]*models.InboxRecord)
	order := make([]string, 0, len(conversations))
	unmatched := 0

	for i := range conversations {
		conv := &conversations[i]
		if conv.PrimaryContact == nil || conv.PrimaryContact.ID == "" {
			unmatched++
			continue
		}

		record, ok := byID[conv.PrimaryContact.ID]
		if !ok {
			// First occurrence of this contact seeds the display metadata.
			record = &models.InboxRecord{
				ID:           conv.PrimaryContact.ID,
				Title:        conv.PrimaryContact.DisplayName,
				PipelineName: conv.PrimaryContact.PipelineName,
				Channels:     make(map[string]*models.ChannelSummary),
			}
			byID[record.ID] = record
			order = append(order, record.ID)
		}

		foldConversation(record, conv)
	}

	records := make([]*models.InboxRecord, 0, len(order))
	for _, id := range order {
		records = append(records, byID[id])
	}
	sortByActivity(records)

	return AggregateResult{Records: records, Unmatched: unmatched}
}

// foldConversation merges one conversation into its record. Channel counters
// are incremented by the conversation's own counts, not by 1: a channel can
// already represent several conversations.
func foldConversation(record *models.InboxRecord, conv *models.ConversationSummary) {
	channel := ensureChannel(record, conv.ChannelType)

	channel.ConversationCount++
	channel.MessageCount += conv.MessageCount
	channel.UnreadCount += conv.UnreadCount
	if conv.LastMessage != nil {
		channel.LastMessagePreview = truncatePreview(conv.LastMessage.Content)
	}
	if conv.UpdatedAt.After(channel.LastActivity) {
		channel.LastActivity = conv.UpdatedAt
	}

	record.TotalUnread += conv.UnreadCount
	if record.PreferredChannel == "" || conv.UpdatedAt.After(record.LastActivity) {
		record.LastActivity = conv.UpdatedAt
		record.PreferredChannel = conv.ChannelType
	}
}

// ensureChannel resolves or creates the channel summary for a channel type,
// appending the type to AvailableChannels the first time it is seen.
func ensureChannel(record *models.InboxRecord, channelType string) *models.ChannelSummary {
	channel, ok := record.Channels[channelType]
	if !ok {
		channel = &models.ChannelSummary{ChannelType: channelType}
		record.Channels[channelType] = channel
		record.AvailableChannels = append(record.AvailableChannels, channelType)
	}
	return channel
}

// sortByActivity sorts records descending by last activity. The ordering is a
// user-visible contract (most recently active contact first). Ordering across
// equal timestamps is not guaranteed.
func sortByActivity(records []*models.InboxRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].LastActivity.After(records[j].LastActivity)
	})
}

// truncatePreview cuts preview text to maxPreviewLength characters.
func truncatePreview(content string) string {
	runes := []rune(content)
	if len(runes) <= maxPreviewLength {
		return content
	}
	return string(runes[:maxPreviewLength])
}
