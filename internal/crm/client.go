package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/relaycrm/unibox/internal/models"
)

// defaultTimeout bounds every request to the CRM backend.
const defaultTimeout = 30 * time.Second

// Client talks to the CRM backend's conversation endpoints. It covers exactly
// the two calls the inbox core consumes: the paginated conversation list and
// the per-conversation mark-read RPC.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a client for the CRM API at baseURL, authenticating with
// the given bearer token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// GetConversations fetches one page of conversation summaries.
func (c *Client) GetConversations(ctx context.Context, offset, limit int) (*models.ConversationsResponse, error) {
	endpoint := fmt.Sprintf("%s/api/conversations?offset=%d&limit=%d", c.baseURL, offset, limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build conversations request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch conversations: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("conversations endpoint returned status %d", resp.StatusCode)
	}

	var out models.ConversationsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode conversations response: %w", err)
	}
	return &out, nil
}

// MarkConversationRead marks a single conversation as read on the server.
// Callers treat failures as non-fatal; the aggregate state is updated
// optimistically regardless.
func (c *Client) MarkConversationRead(ctx context.Context, conversationID string) error {
	endpoint := fmt.Sprintf("%s/api/conversations/%s/read", c.baseURL, url.PathEscape(conversationID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build mark-read request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to mark conversation %s as read: %w", conversationID, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("mark-read endpoint returned status %d for conversation %s", resp.StatusCode, conversationID)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
