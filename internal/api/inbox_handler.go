package api

import (
	"log"
	"net/http"

	"github.com/go-chi/render"

	"github.com/relaycrm/unibox/internal/inbox"
)

// InboxHandler serves the unified-inbox read-model and its command surface.
// All state mutation goes through the store; handlers never touch InboxState
// directly.
type InboxHandler struct {
	store *inbox.Store
}

// NewInboxHandler creates a new InboxHandler instance.
func NewInboxHandler(store *inbox.Store) *InboxHandler {
	return &InboxHandler{store: store}
}

// GetInbox returns the current snapshot: records, unmatched count, selection,
// channel availability, loading/error flags and connectivity.
func (h *InboxHandler) GetInbox(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.store.Snapshot())
}

// FetchInbox triggers a background (non-forced) fetch of the given page and
// returns the resulting snapshot. Prior records survive a failed fetch.
func (h *InboxHandler) FetchInbox(w http.ResponseWriter, r *http.Request) {
	page, limit := ParsePaginationParams(r, 0)

	if err := h.store.FetchInbox(r.Context(), page, limit, false); err != nil {
		log.Printf("InboxHandler: fetch failed: %v", err)
	}
	render.JSON(w, r, h.store.Snapshot())
}

// RefreshInbox is a user-requested reload: the fetch is forced and the
// loading indicator shows. The snapshot carries any resulting display error.
func (h *InboxHandler) RefreshInbox(w http.ResponseWriter, r *http.Request) {
	if err := h.store.RefreshInbox(r.Context()); err != nil {
		log.Printf("InboxHandler: refresh failed: %v", err)
	}
	render.JSON(w, r, h.store.Snapshot())
}

type selectRecordRequest struct {
	RecordID string `json:"record_id" validate:"required"`
}

// SelectRecord sets the selected record and returns the snapshot with the
// freshly derived channel availability.
func (h *InboxHandler) SelectRecord(w http.ResponseWriter, r *http.Request) {
	var req selectRecordRequest
	if err := decodeAndValidate(r, &req); err != nil {
		log.Printf("InboxHandler: invalid select request: %v", err)
		writeError(w, r, http.StatusBadRequest, "record_id is required")
		return
	}

	h.store.SelectRecord(req.RecordID)
	render.JSON(w, r, h.store.Snapshot())
}

type refreshRecordRequest struct {
	RecordID string `json:"record_id" validate:"required"`
}

// RefreshRecord re-derives the channel availability of one record without
// refetching the conversation list.
func (h *InboxHandler) RefreshRecord(w http.ResponseWriter, r *http.Request) {
	var req refreshRecordRequest
	if err := decodeAndValidate(r, &req); err != nil {
		log.Printf("InboxHandler: invalid record refresh request: %v", err)
		writeError(w, r, http.StatusBadRequest, "record_id is required")
		return
	}

	h.store.RefreshRecord(req.RecordID)
	render.JSON(w, r, h.store.Snapshot())
}

type markAsReadRequest struct {
	RecordID    string `json:"record_id" validate:"required"`
	ChannelType string `json:"channel_type" validate:"required"`
}

// MarkAsRead zeroes one channel of one record, optimistically. Server-side
// mark-read failures are logged inside the store and never fail the request.
func (h *InboxHandler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	var req markAsReadRequest
	if err := decodeAndValidate(r, &req); err != nil {
		log.Printf("InboxHandler: invalid mark-read request: %v", err)
		writeError(w, r, http.StatusBadRequest, "record_id and channel_type are required")
		return
	}

	h.store.MarkAsRead(r.Context(), req.RecordID, req.ChannelType)
	render.JSON(w, r, h.store.Snapshot())
}
