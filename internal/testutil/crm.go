package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/relaycrm/unibox/internal/models"
)

// FakeCRMServer simulates the CRM backend's conversation endpoints for tests:
// the paginated list and the per-conversation mark-read RPC.
type FakeCRMServer struct {
	Server *httptest.Server

	mu            sync.Mutex
	conversations []models.ConversationSummary
	markReadCalls []string
	listCalls     int
	failList      bool
	failMarkRead  bool
}

// NewFakeCRMServer starts a fake CRM server. It is closed automatically when
// the test finishes.
func NewFakeCRMServer(t *testing.T) *FakeCRMServer {
	t.Helper()

	f := &FakeCRMServer{}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the base URL of the fake server.
func (f *FakeCRMServer) URL() string {
	return f.Server.URL
}

// SetConversations replaces the conversation list served by the fake.
func (f *FakeCRMServer) SetConversations(conversations []models.ConversationSummary) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversations = append([]models.ConversationSummary(nil), conversations...)
}

// FailList makes the list endpoint return 500 until reset.
func (f *FakeCRMServer) FailList(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failList = fail
}

// FailMarkRead makes the mark-read endpoint return 500 until reset.
func (f *FakeCRMServer) FailMarkRead(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failMarkRead = fail
}

// MarkReadCalls returns the conversation ids marked read so far, in call order.
func (f *FakeCRMServer) MarkReadCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.markReadCalls...)
}

// ListCalls returns how many times the list endpoint was hit.
func (f *FakeCRMServer) ListCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

func (f *FakeCRMServer) handle(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/conversations":
		f.handleList(w, r)
	case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/api/conversations/") && strings.HasSuffix(r.URL.Path, "/read"):
		f.handleMarkRead(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (f *FakeCRMServer) handleList(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.listCalls++
	if f.failList {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	conversations := f.conversations
	if offset > len(conversations) {
		offset = len(conversations)
	}
	conversations = conversations[offset:]
	if limit > 0 && limit < len(conversations) {
		conversations = conversations[:limit]
	}

	response := models.ConversationsResponse{
		Conversations: conversations,
		Pagination: models.PaginationInfo{
			TotalCount: len(f.conversations),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

func (f *FakeCRMServer) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failMarkRead {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/conversations/"), "/read")
	f.markReadCalls = append(f.markReadCalls, id)
	w.WriteHeader(http.StatusNoContent)
}
