package inbox

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/relaycrm/unibox/internal/models"
)

// defaultPageSize is the conversation page size requested from the CRM
// backend when the caller does not specify one.
const defaultPageSize = 50

// ListClient is the slice of the CRM API the store consumes: the paginated
// conversation list and the per-conversation mark-read RPC.
type ListClient interface {
	GetConversations(ctx context.Context, offset, limit int) (*models.ConversationsResponse, error)
	MarkConversationRead(ctx context.Context, conversationID string) error
}

// Snapshot is the read-model handed to the UI layer: the aggregate view plus
// the small amount of session state around it. Snapshots are immutable; the
// store publishes a fresh one after every mutation.
type Snapshot struct {
	Records             []*models.InboxRecord        `json:"records"`
	UnmatchedCount      int                          `json:"unmatched_count"`
	SelectedRecord      *models.InboxRecord          `json:"selected_record,omitempty"`
	ChannelAvailability []models.ChannelAvailability `json:"channel_availability,omitempty"`
	Loading             bool                         `json:"loading"`
	LoadingChannels     bool                         `json:"loading_channels"`
	Error               string                       `json:"error,omitempty"`
	ConnectionStatus    models.ConnectionStatus      `json:"connection_status"`
	IsConnected         bool                         `json:"is_connected"`
}

// Store wires the aggregator, the event reducer and the subscription manager
// together around a single InboxState snapshot. All mutation paths (fetch
// result, each reducer, mark-read) produce a brand-new state value and swap it
// wholesale, so concurrent readers never observe a partially-updated
// structure. Across the fetch path and the event path the whole-state
// replacement is last-write-wins; there is no field-level merge.
type Store struct {
	mu     sync.RWMutex
	client ListClient
	subs   *SubscriptionManager

	state           *models.InboxState
	availability    []models.ChannelAvailability
	status          models.ConnectionStatus
	loading         bool
	loadingChannels bool
	hasLoaded       bool
	lastError       string
	closed          bool

	pageSize int
	onChange func(Snapshot)
}

// NewStore creates a store over the given CRM client and realtime transport.
// The store starts empty and disconnected; callers run the initial fetch and
// feed connectivity transitions.
func NewStore(client ListClient, transport Transport) *Store {
	s := &Store{
		client:   client,
		state:    models.NewInboxState(),
		status:   models.StatusDisconnected,
		pageSize: defaultPageSize,
	}
	s.subs = NewSubscriptionManager(transport, s.HandleEvent)
	return s
}

// SetPageSize overrides the default conversation page size.
func (s *Store) SetPageSize(size int) {
	if size <= 0 {
		return
	}
	s.mu.Lock()
	s.pageSize = size
	s.mu.Unlock()
}

// OnChange registers a callback invoked with every published snapshot.
func (s *Store) OnChange(fn func(Snapshot)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// FetchInbox loads a page of conversations from the CRM backend, aggregates
// it and replaces records and conversations in state. The loading flag is
// raised only on the first fetch of the session or when force is set;
// background refreshes do not flicker a loading state. On failure the prior
// state is kept and a display error is stored. If nothing is selected and the
// new list is non-empty, the first record by post-sort order becomes selected.
func (s *Store) FetchInbox(ctx context.Context, page, limit int, force bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = s.pageSize
	}
	showLoading := !s.hasLoaded || force
	if showLoading {
		s.loading = true
	}
	s.mu.Unlock()
	if showLoading {
		s.publish()
	}

	offset := (page - 1) * limit
	resp, err := s.client.GetConversations(ctx, offset, limit)

	s.mu.Lock()
	if s.closed {
		// Resolved after unmount: drop the result instead of touching a
		// discarded state.
		s.mu.Unlock()
		return nil
	}
	s.loading = false
	if err != nil {
		s.lastError = "failed to load inbox"
		s.mu.Unlock()
		s.publish()
		return fmt.Errorf("failed to fetch inbox: %w", err)
	}

	result := Aggregate(resp.Conversations)
	next := &models.InboxState{
		Records:          result.Records,
		Conversations:    resp.Conversations,
		UnmatchedCount:   result.Unmatched,
		SelectedRecordID: s.state.SelectedRecordID,
	}
	// Selection persists across refreshes if the record still exists,
	// otherwise fall back to the first record.
	if next.SelectedRecordID != "" && next.RecordIndex(next.SelectedRecordID) < 0 {
		next.SelectedRecordID = ""
	}
	if next.SelectedRecordID == "" && len(next.Records) > 0 {
		next.SelectedRecordID = next.Records[0].ID
	}

	s.state = next
	s.hasLoaded = true
	s.lastError = ""
	s.refreshAvailabilityLocked()
	selected := next.SelectedRecordID
	s.mu.Unlock()

	s.subs.SetRecord(selected)
	s.publish()
	return nil
}

// RefreshInbox is a forced refetch: the user asked for a reload, so the
// loading indicator is shown. Background syncs call FetchInbox without force
// instead.
func (s *Store) RefreshInbox(ctx context.Context) error {
	return s.FetchInbox(ctx, 0, 0, true)
}

// HasLoaded reports whether at least one fetch has completed successfully.
func (s *Store) HasLoaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasLoaded
}

// SelectRecord sets the selected record and synchronously derives channel
// availability from the record's aggregated channels. No refetch happens.
func (s *Store) SelectRecord(recordID string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	next := s.state.Clone()
	next.SelectedRecordID = recordID
	s.state = next
	s.refreshAvailabilityLocked()
	s.mu.Unlock()

	s.subs.SetRecord(recordID)
	s.publish()
}

// RefreshRecord re-derives channel availability for the given record without
// refetching the conversation list, selecting it if it is not selected yet.
// The channels flag is raised around the rebuild so the UI can show a
// per-panel indicator instead of the whole-inbox spinner. Unknown records are
// a no-op.
func (s *Store) RefreshRecord(recordID string) {
	s.mu.Lock()
	if s.closed || s.state.RecordIndex(recordID) < 0 {
		s.mu.Unlock()
		return
	}
	s.loadingChannels = true
	s.mu.Unlock()
	s.publish()

	s.mu.Lock()
	if s.state.SelectedRecordID != recordID {
		next := s.state.Clone()
		next.SelectedRecordID = recordID
		s.state = next
	}
	s.refreshAvailabilityLocked()
	s.loadingChannels = false
	s.mu.Unlock()

	s.subs.SetRecord(recordID)
	s.publish()
}

// MarkAsRead issues one mark-read call per conversation of the given record
// and channel, then optimistically zeroes that channel's unread count and
// subtracts the amount it held from the record total, clamped at zero. Failed
// RPCs are logged and do not roll back the local state; the next full refresh
// reconciles with the server.
func (s *Store) MarkAsRead(ctx context.Context, recordID, channelType string) {
	s.mu.RLock()
	conversationIDs := make([]string, 0)
	for i := range s.state.Conversations {
		conv := &s.state.Conversations[i]
		if conv.PrimaryContact != nil && conv.PrimaryContact.ID == recordID && conv.ChannelType == channelType {
			conversationIDs = append(conversationIDs, conv.ID)
		}
	}
	s.mu.RUnlock()

	// Sequential, fire-and-forget from the aggregate's perspective.
	for _, id := range conversationIDs {
		if err := s.client.MarkConversationRead(ctx, id); err != nil {
			log.Printf("InboxStore: failed to mark conversation %s as read: %v", id, err)
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if idx := s.state.RecordIndex(recordID); idx >= 0 {
		next := s.state.Clone()
		record := next.Records[idx].Clone()
		next.Records[idx] = record

		if channel, ok := record.Channels[channelType]; ok {
			record.TotalUnread -= channel.UnreadCount
			if record.TotalUnread < 0 {
				record.TotalUnread = 0
			}
			channel.UnreadCount = 0
		}
		// Zero the retained raw conversations too so later delta math against
		// that list stays consistent.
		for i := range next.Conversations {
			conv := &next.Conversations[i]
			if conv.PrimaryContact != nil && conv.PrimaryContact.ID == recordID && conv.ChannelType == channelType {
				conv.UnreadCount = 0
			}
		}
		s.state = next
	}
	s.mu.Unlock()
	s.publish()
}

// HandleEvent feeds one realtime event through the reducer. Events are applied
// strictly in delivery order; the transport invokes this synchronously per
// incoming message. Unmatched events leave the state untouched and publish
// nothing.
func (s *Store) HandleEvent(eventType string, payload []byte) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	next := Reduce(s.state, eventType, payload)
	changed := next != s.state
	if changed {
		s.state = next
		s.refreshAvailabilityLocked()
	}
	s.mu.Unlock()

	if changed {
		s.publish()
	}
}

// SetConnectionStatus applies a connectivity transition. Connected is the only
// state in which subscriptions are live; any transition away tears them down,
// and a transition back re-establishes them from scratch. Reconnecting does
// not force a refetch: events missed while disconnected are accepted.
func (s *Store) SetConnectionStatus(status models.ConnectionStatus) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.status = status
	s.mu.Unlock()

	s.subs.SetConnected(status == models.StatusConnected)
	s.publish()
}

// IsConnected reports whether the upstream realtime channel is connected.
func (s *Store) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status == models.StatusConnected
}

// Close marks the store discarded and tears down all subscriptions. In-flight
// fetch or mark-read results arriving afterwards are dropped, not applied.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.subs.Teardown()
}

// Snapshot returns the current read-model. The contained records are shared
// with the store's state; they are immutable by contract.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Records:          s.state.Records,
		UnmatchedCount:   s.state.UnmatchedCount,
		Loading:          s.loading,
		LoadingChannels:  s.loadingChannels,
		Error:            s.lastError,
		ConnectionStatus: s.status,
		IsConnected:      s.status == models.StatusConnected,
	}
	if idx := s.state.RecordIndex(s.state.SelectedRecordID); idx >= 0 {
		snap.SelectedRecord = s.state.Records[idx]
	}
	snap.ChannelAvailability = append([]models.ChannelAvailability(nil), s.availability...)
	return snap
}

// State returns the current aggregate state value.
func (s *Store) State() *models.InboxState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// refreshAvailabilityLocked re-derives channel availability for the selected
// record. Each aggregated channel is marked available and connected by
// construction; no network round-trip is involved.
func (s *Store) refreshAvailabilityLocked() {
	s.availability = nil
	idx := s.state.RecordIndex(s.state.SelectedRecordID)
	if idx < 0 {
		return
	}
	for _, channelType := range s.state.Records[idx].AvailableChannels {
		s.availability = append(s.availability, models.ChannelAvailability{
			ChannelType: channelType,
			Available:   true,
			Connected:   true,
		})
	}
}

// publish hands the current snapshot to the registered callback, outside of
// the state lock.
func (s *Store) publish() {
	s.mu.RLock()
	fn := s.onChange
	s.mu.RUnlock()
	if fn != nil {
		fn(s.Snapshot())
	}
}
