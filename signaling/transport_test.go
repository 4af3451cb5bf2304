package signaling

import (
	"context"
	"encoding/json"
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

// testRelay is a minimal in-process relay endpoint. It records every inbound
// message and can push messages to, or abnormally drop, the currently
// connected client.
type testRelay struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conn     *websocket.Conn
	received chan Message
	connects chan string
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()
	r := &testRelay{
		received: make(chan Message, 64),
		connects: make(chan string, 8),
	}
	r.server = httptest.NewServer(http.HandlerFunc(r.handle))
	t.Cleanup(r.server.Close)
	return r
}

func (r *testRelay) handle(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}

	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()
	r.connects <- req.URL.Query().Get("userId")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg Message
		if json.Unmarshal(data, &msg) == nil {
			r.received <- msg
		}
	}
}

func (r *testRelay) url() string {
	return "ws" + strings.TrimPrefix(r.server.URL, "http")
}

func (r *testRelay) push(t *testing.T, msg Message) {
	t.Helper()
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	require.NotNil(t, conn)

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

// dropConnection closes the socket without a close frame, which the client
// observes as an abnormal closure.
func (r *testRelay) dropConnection() {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (r *testRelay) waitMessage(t *testing.T, msgType MessageType) Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-r.received:
			if msg.Type == msgType {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s message", msgType)
		}
	}
}

func (r *testRelay) waitConnect(t *testing.T) string {
	t.Helper()
	select {
	case userID := <-r.connects:
		return userID
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for relay connection")
		return ""
	}
}

func testConfig(url string) *Config {
	cfg := DefaultConfig(url)
	cfg.HeartbeatInterval = time.Hour // quiet unless a test wants heartbeats
	cfg.InitialReconnectDelay = 10 * time.Millisecond
	cfg.MaxReconnectDelay = 50 * time.Millisecond
	return cfg
}

func TestConnectAndSend(t *testing.T) {
	relay := newTestRelay(t)
	tr := NewTransport(testConfig(relay.url()))
	defer tr.Disconnect()

	err := tr.Connect(context.Background(), Credentials{UserID: "alice", Token: "tok"})
	require.NoError(t, err)
	assert.Equal(t, "alice", relay.waitConnect(t))
	assert.True(t, tr.IsConnected())
	assert.Equal(t, StatusConnected, tr.Status())

	msg, err := NewMessage(MessageHangup, "alice", "bob", HangupPayload{CallID: "c1"})
	require.NoError(t, err)
	require.NoError(t, tr.Send(msg))

	got := relay.waitMessage(t, MessageHangup)
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, "alice", got.FromUserID)
	assert.Equal(t, "bob", got.ToUserID)
}

func TestConnectWhileConnected(t *testing.T) {
	relay := newTestRelay(t)
	tr := NewTransport(testConfig(relay.url()))
	defer tr.Disconnect()

	require.NoError(t, tr.Connect(context.Background(), Credentials{UserID: "alice", Token: "tok"}))
	err := tr.Connect(context.Background(), Credentials{UserID: "alice", Token: "tok"})
	assert.ErrorIs(t, err, ErrAlreadyConnected)
}

func TestConnectFailureLeavesDisconnected(t *testing.T) {
	cfg := testConfig("ws://127.0.0.1:1/ws")
	cfg.ConnectTimeout = 200 * time.Millisecond
	tr := NewTransport(cfg)

	err := tr.Connect(context.Background(), Credentials{UserID: "alice", Token: "tok"})
	assert.Error(t, err)
	assert.Equal(t, StatusDisconnected, tr.Status())
}

func TestSendWhileDisconnectedQueues(t *testing.T) {
	tr := NewTransport(testConfig("ws://127.0.0.1:1/ws"))

	msg, err := NewMessage(MessageHangup, "alice", "bob", HangupPayload{CallID: "c1"})
	require.NoError(t, err)

	err = tr.Send(msg)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, 1, tr.QueuedMessages())
}

func TestQueuedMessagesReplayInOrderOnConnect(t *testing.T) {
	relay := newTestRelay(t)
	tr := NewTransport(testConfig(relay.url()))
	defer tr.Disconnect()

	callIDs := []string{"c1", "c2", "c3"}
	for _, id := range callIDs {
		msg, err := NewMessage(MessageHangup, "alice", "bob", HangupPayload{CallID: id})
		require.NoError(t, err)
		assert.ErrorIs(t, tr.Send(msg), ErrNotConnected)
	}
	require.Equal(t, len(callIDs), tr.QueuedMessages())

	require.NoError(t, tr.Connect(context.Background(), Credentials{UserID: "alice", Token: "tok"}))

	for _, wantID := range callIDs {
		got := relay.waitMessage(t, MessageHangup)
		var payload HangupPayload
		require.NoError(t, UnmarshalPayload(got, &payload))
		assert.Equal(t, wantID, payload.CallID, "replay must preserve enqueue order")
	}
	assert.Equal(t, 0, tr.QueuedMessages())
}

func TestDispatchToTypedSubscriber(t *testing.T) {
	relay := newTestRelay(t)
	tr := NewTransport(testConfig(relay.url()))
	defer tr.Disconnect()

	received := make(chan Message, 1)
	unsubscribe := tr.OnMessage(MessageOffer, func(msg Message) {
		received <- msg
	})

	require.NoError(t, tr.Connect(context.Background(), Credentials{UserID: "alice", Token: "tok"}))
	relay.waitConnect(t)

	pushed, err := NewMessage(MessageOffer, "bob", "alice", DescriptionPayload{Type: "offer", SDP: "v=0"})
	require.NoError(t, err)
	relay.push(t, pushed)

	select {
	case got := <-received:
		assert.Equal(t, pushed.ID, got.ID)
		assert.Equal(t, "bob", got.FromUserID)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never received the offer")
	}

	unsubscribe()
	relay.push(t, pushed)
	select {
	case <-received:
		t.Fatal("unsubscribed handler still received a message")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestInboundPingIsAnsweredWithPong(t *testing.T) {
	relay := newTestRelay(t)
	tr := NewTransport(testConfig(relay.url()))
	defer tr.Disconnect()

	require.NoError(t, tr.Connect(context.Background(), Credentials{UserID: "alice", Token: "tok"}))
	relay.waitConnect(t)

	ping, err := NewMessage(MessagePing, "relay", "alice", nil)
	require.NoError(t, err)
	relay.push(t, ping)

	pong := relay.waitMessage(t, MessagePong)
	assert.Equal(t, "alice", pong.FromUserID)
}

func TestHeartbeatSendsPing(t *testing.T) {
	relay := newTestRelay(t)
	cfg := testConfig(relay.url())
	cfg.HeartbeatInterval = 20 * time.Millisecond
	tr := NewTransport(cfg)
	defer tr.Disconnect()

	require.NoError(t, tr.Connect(context.Background(), Credentials{UserID: "alice", Token: "tok"}))

	ping := relay.waitMessage(t, MessagePing)
	assert.Equal(t, "alice", ping.FromUserID)
}

func TestBackoffDelay(t *testing.T) {
	cfg := DefaultConfig("ws://example.invalid/ws")
	tr := NewTransport(cfg)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 1 * time.Second},
		{attempt: 1, want: 2 * time.Second},
		{attempt: 2, want: 4 * time.Second},
		{attempt: 3, want: 8 * time.Second},
		{attempt: 4, want: 16 * time.Second},
		{attempt: 5, want: 30 * time.Second},  // capped
		{attempt: 10, want: 30 * time.Second}, // stays capped
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tr.BackoffDelay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestReconnectAfterAbnormalClose(t *testing.T) {
	relay := newTestRelay(t)
	tr := NewTransport(testConfig(relay.url()))
	defer tr.Disconnect()

	transitions := make(chan bool, 8)
	tr.OnConnectionChange(func(connected bool) {
		transitions <- connected
	})

	require.NoError(t, tr.Connect(context.Background(), Credentials{UserID: "alice", Token: "tok"}))
	relay.waitConnect(t)
	require.True(t, <-transitions)

	relay.dropConnection()

	// Disconnect notification, then the automatic reconnect.
	select {
	case connected := <-transitions:
		assert.False(t, connected)
	case <-time.After(2 * time.Second):
		t.Fatal("no disconnect notification")
	}

	assert.Equal(t, "alice", relay.waitConnect(t))
	select {
	case connected := <-transitions:
		assert.True(t, connected)
	case <-time.After(2 * time.Second):
		t.Fatal("no reconnect notification")
	}
	assert.Equal(t, 0, tr.ReconnectAttempt(), "attempt counter resets on success")
}

func TestExhaustedRetriesEmitSingleTerminalError(t *testing.T) {
	relay := newTestRelay(t)
	cfg := testConfig(relay.url())
	cfg.MaxRetries = 2
	cfg.InitialReconnectDelay = time.Millisecond
	cfg.MaxReconnectDelay = 2 * time.Millisecond
	tr := NewTransport(cfg)
	defer tr.Disconnect()

	errs := make(chan error, 8)
	tr.OnError(func(err error) { errs <- err })

	require.NoError(t, tr.Connect(context.Background(), Credentials{UserID: "alice", Token: "tok"}))
	relay.waitConnect(t)

	// Take the relay away entirely so every retry fails. The WebSocket
	// connection is hijacked from the HTTP server, so httptest's Close and
	// CloseClientConnections do not touch it; sever it explicitly.
	relay.server.CloseClientConnections()
	relay.server.Close()
	relay.dropConnection()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
	case <-time.After(5 * time.Second):
		t.Fatal("no terminal error emitted")
	}

	// Exactly one terminal error.
	select {
	case err := <-errs:
		t.Fatalf("unexpected second terminal error: %v", err)
	case <-time.After(200 * time.Millisecond):
	}
	assert.Equal(t, StatusDisconnected, tr.Status())
}

func TestDisconnectClearsQueueAndClosesTransport(t *testing.T) {
	tr := NewTransport(testConfig("ws://127.0.0.1:1/ws"))

	msg, err := NewMessage(MessageHangup, "alice", "bob", HangupPayload{CallID: "c1"})
	require.NoError(t, err)
	assert.ErrorIs(t, tr.Send(msg), ErrNotConnected)
	require.Equal(t, 1, tr.QueuedMessages())

	tr.Disconnect()
	assert.Equal(t, 0, tr.QueuedMessages(), "clean disconnect discards the queue")

	err = tr.Send(msg)
	assert.ErrorIs(t, err, ErrTransportClosed)
	err = tr.Connect(context.Background(), Credentials{UserID: "alice", Token: "tok"})
	assert.ErrorIs(t, err, ErrTransportClosed)
}

func TestAdoptRefusedAfterDisconnect(t *testing.T) {
	relay := newTestRelay(t)
	tr := NewTransport(testConfig(relay.url()))

	require.NoError(t, tr.Connect(context.Background(), Credentials{UserID: "alice", Token: "tok"}))
	relay.waitConnect(t)

	tr.Disconnect()

	// A dial that was in flight when Disconnect ran must not be installed.
	conn, resp, err := websocket.DefaultDialer.Dial(relay.url()+"?userId=alice&token=tok", nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	assert.False(t, tr.adopt(conn))
	assert.Equal(t, StatusDisconnected, tr.Status())
	assert.False(t, tr.IsConnected())
}

func TestDisconnectDuringReconnectBackoff(t *testing.T) {
	relay := newTestRelay(t)
	cfg := testConfig(relay.url())
	cfg.InitialReconnectDelay = 50 * time.Millisecond
	tr := NewTransport(cfg)

	require.NoError(t, tr.Connect(context.Background(), Credentials{UserID: "alice", Token: "tok"}))
	relay.waitConnect(t)

	relay.dropConnection()
	tr.Disconnect()

	// The reconnect goroutine may still dial; give it time to try.
	select {
	case <-relay.connects:
		time.Sleep(50 * time.Millisecond)
	case <-time.After(300 * time.Millisecond):
	}
	assert.Equal(t, StatusDisconnected, tr.Status())
	assert.False(t, tr.IsConnected())
}

func TestCleanDisconnectDoesNotReconnect(t *testing.T) {
	relay := newTestRelay(t)
	tr := NewTransport(testConfig(relay.url()))

	require.NoError(t, tr.Connect(context.Background(), Credentials{UserID: "alice", Token: "tok"}))
	relay.waitConnect(t)

	tr.Disconnect()

	select {
	case <-relay.connects:
		t.Fatal("transport reconnected after clean disconnect")
	case <-time.After(200 * time.Millisecond):
	}
	assert.Equal(t, StatusDisconnected, tr.Status())
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "disconnected", StatusDisconnected.String())
	assert.Equal(t, "connecting", StatusConnecting.String())
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "reconnecting", StatusReconnecting.String())
}
