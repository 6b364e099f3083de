package websocket

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hubFixture runs an upgrading server that registers every accepted connection
// with the hub and returns a dialer for it.
type hubFixture struct {
	hub    *Hub
	server *httptest.Server
}

func newHubFixture(t *testing.T, maxClients int) *hubFixture {
	t.Helper()

	f := &hubFixture{hub: NewHub(maxClients)}
	upgrader := websocket.Upgrader{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.hub.Register(conn)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *hubFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = resp.Body.Close()
		_ = conn.Close()
	})
	return conn
}

func TestHubRegister(t *testing.T) {
	t.Run("tracks connections up to the limit", func(t *testing.T) {
		f := newHubFixture(t, 2)

		f.dial(t)
		f.dial(t)

		require.Eventually(t, func() bool {
			return f.hub.ActiveConnections() == 2
		}, 3*time.Second, 10*time.Millisecond)
	})

	t.Run("closes connections beyond the limit", func(t *testing.T) {
		f := newHubFixture(t, 1)

		f.dial(t)
		require.Eventually(t, func() bool {
			return f.hub.ActiveConnections() == 1
		}, 3*time.Second, 10*time.Millisecond)

		over := f.dial(t)
		require.NoError(t, over.SetReadDeadline(time.Now().Add(3*time.Second)))
		_, _, err := over.ReadMessage()
		require.Error(t, err)
		assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation))
		assert.Equal(t, 1, f.hub.ActiveConnections())
	})

	t.Run("zero or negative limit falls back to the default", func(t *testing.T) {
		hub := NewHub(0)
		assert.Equal(t, 10, hub.maxClients)

		hub = NewHub(-5)
		assert.Equal(t, 10, hub.maxClients)
	})
}

func TestHubBroadcast(t *testing.T) {
	t.Run("every connected client receives the message", func(t *testing.T) {
		f := newHubFixture(t, 4)

		first := f.dial(t)
		second := f.dial(t)
		require.Eventually(t, func() bool {
			return f.hub.ActiveConnections() == 2
		}, 3*time.Second, 10*time.Millisecond)

		f.hub.Broadcast([]byte(`{"records":[]}`))

		for _, conn := range []*websocket.Conn{first, second} {
			require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
			_, data, err := conn.ReadMessage()
			require.NoError(t, err)
			assert.Equal(t, `{"records":[]}`, string(data))
		}
	})

	t.Run("broadcast with no clients is a no-op", func(t *testing.T) {
		hub := NewHub(2)
		hub.Broadcast([]byte("nobody home"))
	})

	t.Run("concurrent publishers are serialized per connection", func(t *testing.T) {
		f := newHubFixture(t, 2)

		conn := f.dial(t)
		require.Eventually(t, func() bool {
			return f.hub.ActiveConnections() == 1
		}, 3*time.Second, 10*time.Millisecond)

		const publishers = 8
		var wg sync.WaitGroup
		for i := 0; i < publishers; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				f.hub.Broadcast([]byte(strings.Repeat("m", n+1)))
			}(i)
		}
		wg.Wait()

		// Every frame must arrive intact: one of the published payloads,
		// never an interleaving of two.
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		for i := 0; i < publishers; i++ {
			_, data, err := conn.ReadMessage()
			require.NoError(t, err)
			assert.Equal(t, strings.Repeat("m", len(data)), string(data))
			assert.GreaterOrEqual(t, len(data), 1)
			assert.LessOrEqual(t, len(data), publishers)
		}
	})

	t.Run("a tab that stops reading is dropped instead of blocking publishers", func(t *testing.T) {
		f := newHubFixture(t, 2)
		f.hub.writeTimeout = 100 * time.Millisecond

		// Dialed but never read from: its buffers fill and writes stall.
		f.dial(t)
		require.Eventually(t, func() bool {
			return f.hub.ActiveConnections() == 1
		}, 3*time.Second, 10*time.Millisecond)

		payload := bytes.Repeat([]byte("x"), 256*1024)
		done := make(chan struct{}, 2)
		for i := 0; i < 2; i++ {
			go func() {
				for j := 0; j < 16; j++ {
					f.hub.Broadcast(payload)
				}
				done <- struct{}{}
			}()
		}

		for i := 0; i < 2; i++ {
			select {
			case <-done:
			case <-time.After(10 * time.Second):
				t.Fatal("broadcast blocked on a stalled connection")
			}
		}

		require.Eventually(t, func() bool {
			return f.hub.ActiveConnections() == 0
		}, 3*time.Second, 10*time.Millisecond)
	})
}

func TestHubUnregister(t *testing.T) {
	t.Run("removes the client and tolerates nil", func(t *testing.T) {
		f := newHubFixture(t, 2)

		f.dial(t)
		require.Eventually(t, func() bool {
			return f.hub.ActiveConnections() == 1
		}, 3*time.Second, 10*time.Millisecond)

		f.hub.mu.RLock()
		var client *Client
		for c := range f.hub.clients {
			client = c
		}
		f.hub.mu.RUnlock()

		f.hub.Unregister(client)
		assert.Equal(t, 0, f.hub.ActiveConnections())

		f.hub.Unregister(nil)
	})
}
