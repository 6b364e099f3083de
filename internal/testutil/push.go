package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// ControlFrame mirrors the subscribe/unsubscribe frames the realtime client
// sends upstream.
type ControlFrame struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
}

// FakePushServer is a WebSocket server speaking the push-channel protocol:
// it accepts connections, records subscribe/unsubscribe frames and lets tests
// publish envelopes downstream or kill connections to exercise reconnects.
type FakePushServer struct {
	Server *httptest.Server

	mu       sync.Mutex
	upgrader websocket.Upgrader
	conns    []*websocket.Conn
	frames   []ControlFrame
	framesCh chan ControlFrame
	dials    int
}

// NewFakePushServer starts a fake push server, closed with the test.
func NewFakePushServer(t *testing.T) *FakePushServer {
	t.Helper()

	f := &FakePushServer{
		framesCh: make(chan ControlFrame, 64),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(func() {
		f.CloseConnections()
		f.Server.Close()
	})
	return f
}

// URL returns the ws:// URL of the fake server.
func (f *FakePushServer) URL() string {
	return "ws" + strings.TrimPrefix(f.Server.URL, "http")
}

// Dials returns how many WebSocket connections were accepted.
func (f *FakePushServer) Dials() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

// Frames returns all control frames received so far.
func (f *FakePushServer) Frames() []ControlFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ControlFrame(nil), f.frames...)
}

// NextFrame blocks until a control frame arrives, failing the test after a
// bounded wait instead of hanging the whole binary.
func (f *FakePushServer) NextFrame(t *testing.T) ControlFrame {
	t.Helper()

	select {
	case frame := <-f.framesCh:
		return frame
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for a control frame")
		return ControlFrame{}
	}
}

// Publish sends one raw message to every connected client.
func (f *FakePushServer) Publish(t *testing.T, message any) {
	t.Helper()

	data, err := json.Marshal(message)
	if err != nil {
		t.Fatalf("Failed to marshal push message: %v", err)
	}

	f.mu.Lock()
	conns := append([]*websocket.Conn(nil), f.conns...)
	f.mu.Unlock()

	for _, conn := range conns {
		_ = conn.WriteMessage(websocket.TextMessage, data)
	}
}

// CloseConnections drops every live connection, simulating a transport
// failure.
func (f *FakePushServer) CloseConnections() {
	f.mu.Lock()
	conns := f.conns
	f.conns = nil
	f.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}

func (f *FakePushServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	f.mu.Lock()
	f.dials++
	f.conns = append(f.conns, conn)
	f.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame ControlFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		f.mu.Lock()
		f.frames = append(f.frames, frame)
		f.mu.Unlock()
		select {
		case f.framesCh <- frame:
		default:
		}
	}
}
