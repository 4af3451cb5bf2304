package callcore

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/callcore/call"
	"github.com/opd-ai/callcore/relay"
	"github.com/opd-ai/callcore/signaling"
)

var clientSecret = []byte("client-test-secret")

type staticAuth struct {
	userID string
	err    error
}

func (a *staticAuth) GetCurrentUserID() (string, error) {
	return a.userID, a.err
}

func (a *staticAuth) GetToken(ctx context.Context) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	return relay.IssueToken(clientSecret, a.userID, time.Minute)
}

func startClientRelay(t *testing.T) *httptest.Server {
	t.Helper()
	srv := relay.NewServer(relay.DefaultConfig(":0", clientSecret))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(&Options{RelayURL: "wss://relay.example.com/ws"})
	assert.Error(t, err, "auth provider is required")

	_, err = New(&Options{Auth: &staticAuth{userID: "alice"}})
	assert.Error(t, err, "relay URL is required")
}

func TestClientConnectLifecycle(t *testing.T) {
	ts := startClientRelay(t)

	client, err := New(&Options{
		RelayURL: "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
		Auth:     &staticAuth{userID: "alice"},
	})
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Connect(context.Background()))
	assert.True(t, client.Signaling().IsConnected())
	assert.Equal(t, "alice", client.Signaling().UserID())

	_, err = client.CallStatus("bob")
	assert.ErrorIs(t, err, call.ErrNoActiveCall)
	assert.NoError(t, client.EndCall("bob"), "hanging up an absent call is a no-op")
}

func TestClientConnectAuthFailure(t *testing.T) {
	client, err := New(&Options{
		RelayURL: "ws://127.0.0.1:1/ws",
		Auth:     &staticAuth{userID: "alice", err: errors.New("token service down")},
	})
	require.NoError(t, err)
	defer client.Close()

	err = client.Connect(context.Background())
	assert.Error(t, err)
	assert.False(t, client.Signaling().IsConnected())
}

func TestClientSignalingOverride(t *testing.T) {
	cfg := signaling.DefaultConfig("ws://relay.internal/ws")
	cfg.MaxRetries = 3

	client, err := New(&Options{
		Signaling: cfg,
		Auth:      &staticAuth{userID: "alice"},
	})
	require.NoError(t, err)
	defer client.Close()

	assert.NotNil(t, client.Manager())
}
