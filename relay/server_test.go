package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/callcore/signaling"
)

var testSecret = []byte("test-relay-secret")

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := NewServer(DefaultConfig(":0", testSecret))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func dialRelay(t *testing.T, ts *httptest.Server, userID, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?userId=" + userID + "&token=" + token
	return websocket.DefaultDialer.Dial(url, nil)
}

func connectUser(t *testing.T, ts *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	token, err := IssueToken(testSecret, userID, time.Minute)
	require.NoError(t, err)

	conn, resp, err := dialRelay(t, ts, userID, token)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendMessage(t *testing.T, conn *websocket.Conn, msg signaling.Message) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func readMessage(t *testing.T, conn *websocket.Conn) signaling.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg signaling.Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestTokenRoundTrip(t *testing.T) {
	token, err := IssueToken(testSecret, "alice", time.Minute)
	require.NoError(t, err)

	userID, err := ValidateToken(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, "alice", userID)
}

func TestValidateTokenFailures(t *testing.T) {
	tests := []struct {
		name  string
		token func(t *testing.T) string
	}{
		{
			name:  "garbage token",
			token: func(t *testing.T) string { return "not-a-jwt" },
		},
		{
			name: "wrong secret",
			token: func(t *testing.T) string {
				tok, err := IssueToken([]byte("other-secret"), "alice", time.Minute)
				require.NoError(t, err)
				return tok
			},
		},
		{
			name: "expired token",
			token: func(t *testing.T) string {
				tok, err := IssueToken(testSecret, "alice", -time.Minute)
				require.NoError(t, err)
				return tok
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateToken(testSecret, tt.token(t))
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestRejectsInvalidToken(t *testing.T) {
	ts := newTestServer(t)

	_, resp, err := dialRelay(t, ts, "alice", "bogus")
	assert.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRejectsTokenForDifferentUser(t *testing.T) {
	ts := newTestServer(t)

	token, err := IssueToken(testSecret, "mallory", time.Minute)
	require.NoError(t, err)

	_, resp, err := dialRelay(t, ts, "alice", token)
	assert.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRejectsMissingCredentials(t *testing.T) {
	ts := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	assert.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestForwardsMessageToAddressedUser(t *testing.T) {
	ts := newTestServer(t)

	alice := connectUser(t, ts, "alice")
	bob := connectUser(t, ts, "bob")

	msg, err := signaling.NewMessage(signaling.MessageCallRequest, "alice", "bob",
		signaling.CallRequestPayload{CallID: "c1", MediaKind: "audio"})
	require.NoError(t, err)
	sendMessage(t, alice, msg)

	got := readMessage(t, bob)
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, signaling.MessageCallRequest, got.Type)
	assert.Equal(t, "alice", got.FromUserID)
}

func TestOverridesSpoofedSender(t *testing.T) {
	ts := newTestServer(t)

	alice := connectUser(t, ts, "alice")
	bob := connectUser(t, ts, "bob")

	msg, err := signaling.NewMessage(signaling.MessageHangup, "mallory", "bob",
		signaling.HangupPayload{CallID: "c1"})
	require.NoError(t, err)
	sendMessage(t, alice, msg)

	got := readMessage(t, bob)
	assert.Equal(t, "alice", got.FromUserID, "relay must stamp the authenticated sender")
}

func TestDropsMessageForOfflineUser(t *testing.T) {
	ts := newTestServer(t)

	alice := connectUser(t, ts, "alice")

	msg, err := signaling.NewMessage(signaling.MessageOffer, "alice", "nobody",
		signaling.DescriptionPayload{Type: "offer", SDP: "v=0"})
	require.NoError(t, err)
	sendMessage(t, alice, msg)

	// The connection stays healthy after the drop.
	ping, err := signaling.NewMessage(signaling.MessagePing, "alice", "", nil)
	require.NoError(t, err)
	sendMessage(t, alice, ping)
	got := readMessage(t, alice)
	assert.Equal(t, signaling.MessagePong, got.Type)
}

func TestAnswersPingWithPong(t *testing.T) {
	ts := newTestServer(t)

	alice := connectUser(t, ts, "alice")

	ping, err := signaling.NewMessage(signaling.MessagePing, "alice", "", nil)
	require.NoError(t, err)
	sendMessage(t, alice, ping)

	pong := readMessage(t, alice)
	assert.Equal(t, signaling.MessagePong, pong.Type)
	assert.Equal(t, "alice", pong.ToUserID)
}

func TestNewConnectionDisplacesOldOne(t *testing.T) {
	ts := newTestServer(t)

	old := connectUser(t, ts, "alice")
	replacement := connectUser(t, ts, "alice")
	bob := connectUser(t, ts, "bob")

	// The displaced connection is closed by the relay.
	old.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := old.ReadMessage()
	assert.Error(t, err)

	msg, err := signaling.NewMessage(signaling.MessageHangup, "bob", "alice",
		signaling.HangupPayload{CallID: "c1"})
	require.NoError(t, err)
	sendMessage(t, bob, msg)

	got := readMessage(t, replacement)
	assert.Equal(t, msg.ID, got.ID)
}
