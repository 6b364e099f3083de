package crm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycrm/unibox/internal/models"
)

func TestGetConversations(t *testing.T) {
	t.Run("decodes the conversation page", func(t *testing.T) {
		updatedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "/api/conversations", r.URL.Path)

			response := models.ConversationsResponse{
				Conversations: []models.ConversationSummary{
					{
						ID:             "conv-1",
						ChannelType:    "whatsapp",
						PrimaryContact: &models.ContactRef{ID: "7", DisplayName: "Ada"},
						UnreadCount:    3,
						UpdatedAt:      updatedAt,
						LastMessage:    &models.LastMessage{Content: "hello"},
					},
				},
				Pagination: models.PaginationInfo{TotalCount: 1},
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(response)
		}))
		defer server.Close()

		client := NewClient(server.URL, "secret")
		resp, err := client.GetConversations(context.Background(), 0, 50)

		require.NoError(t, err)
		require.Len(t, resp.Conversations, 1)
		conv := resp.Conversations[0]
		assert.Equal(t, "conv-1", conv.ID)
		assert.Equal(t, "whatsapp", conv.ChannelType)
		require.NotNil(t, conv.PrimaryContact)
		assert.Equal(t, "7", conv.PrimaryContact.ID)
		assert.Equal(t, 3, conv.UnreadCount)
		assert.True(t, conv.UpdatedAt.Equal(updatedAt))
		assert.Equal(t, 1, resp.Pagination.TotalCount)
	})

	t.Run("sends pagination and bearer token", func(t *testing.T) {
		var gotOffset, gotLimit, gotAuth string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotOffset = r.URL.Query().Get("offset")
			gotLimit = r.URL.Query().Get("limit")
			gotAuth = r.Header.Get("Authorization")
			_ = json.NewEncoder(w).Encode(models.ConversationsResponse{})
		}))
		defer server.Close()

		client := NewClient(server.URL, "secret")
		_, err := client.GetConversations(context.Background(), 100, 25)

		require.NoError(t, err)
		assert.Equal(t, "100", gotOffset)
		assert.Equal(t, "25", gotLimit)
		assert.Equal(t, "Bearer secret", gotAuth)
	})

	t.Run("omits the authorization header when no token is set", func(t *testing.T) {
		var gotAuth string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			_ = json.NewEncoder(w).Encode(models.ConversationsResponse{})
		}))
		defer server.Close()

		client := NewClient(server.URL, "")
		_, err := client.GetConversations(context.Background(), 0, 50)

		require.NoError(t, err)
		assert.Empty(t, gotAuth)
	})

	t.Run("non-200 status is an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}))
		defer server.Close()

		client := NewClient(server.URL, "secret")
		_, err := client.GetConversations(context.Background(), 0, 50)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "500")
	})

	t.Run("malformed body is an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{not json`))
		}))
		defer server.Close()

		client := NewClient(server.URL, "secret")
		_, err := client.GetConversations(context.Background(), 0, 50)

		require.Error(t, err)
	})
}

func TestMarkConversationRead(t *testing.T) {
	t.Run("posts to the read endpoint", func(t *testing.T) {
		var gotMethod, gotPath string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.Method
			gotPath = r.URL.Path
			w.WriteHeader(http.StatusNoContent)
		}))
		defer server.Close()

		client := NewClient(server.URL, "secret")
		err := client.MarkConversationRead(context.Background(), "conv-1")

		require.NoError(t, err)
		assert.Equal(t, http.MethodPost, gotMethod)
		assert.Equal(t, "/api/conversations/conv-1/read", gotPath)
	})

	t.Run("escapes the conversation id", func(t *testing.T) {
		var gotEscapedPath string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotEscapedPath = r.URL.EscapedPath()
			w.WriteHeader(http.StatusNoContent)
		}))
		defer server.Close()

		client := NewClient(server.URL, "secret")
		err := client.MarkConversationRead(context.Background(), "conv/one two")

		require.NoError(t, err)
		assert.Equal(t, "/api/conversations/conv%2Fone%20two/read", gotEscapedPath)
	})

	t.Run("non-2xx status is an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "not found", http.StatusNotFound)
		}))
		defer server.Close()

		client := NewClient(server.URL, "secret")
		err := client.MarkConversationRead(context.Background(), "conv-1")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "404")
	})

	t.Run("any 2xx status is accepted", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := NewClient(server.URL, "secret")
		err := client.MarkConversationRead(context.Background(), "conv-1")

		assert.NoError(t, err)
	})
}
