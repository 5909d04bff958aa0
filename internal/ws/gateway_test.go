package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"privora/internal/common"
	"privora/internal/models"
	"privora/internal/presence"
)

type fakeVerifier struct {
	identities map[string]*models.Identity // token → identity
}

func (f *fakeVerifier) Verify(_ context.Context, token string) (*models.Identity, error) {
	id, ok := f.identities[token]
	if !ok {
		return nil, common.ErrAuthFailed
	}
	return id, nil
}

func newTestGateway() (*Gateway, *presence.Registry, *httptest.Server) {
	registry := presence.NewRegistry()
	verifier := &fakeVerifier{identities: map[string]*models.Identity{
		"token-alice": {ID: "alice", Username: "alice", Email: "alice@example.com"},
		"token-bob":   {ID: "bob", Username: "bob", Email: "bob@example.com"},
	}}
	gateway := NewGateway(verifier, registry)
	srv := httptest.NewServer(http.HandlerFunc(gateway.HandleWS))
	return gateway, registry, srv
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{"Authorization": []string{"Bearer " + token}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	return conn
}

// readUntil reads messages until one with the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg map[string]interface{}
		require.NoError(t, conn.ReadJSON(&msg))
		if msg["type"] == msgType {
			return msg
		}
	}
}

func rosterUserIDs(t *testing.T, msg map[string]interface{}) []string {
	t.Helper()
	payload, ok := msg["payload"].(map[string]interface{})
	require.True(t, ok)
	users, ok := payload["onlineUsers"].([]interface{})
	require.True(t, ok)
	var ids []string
	for _, u := range users {
		ids = append(ids, u.(map[string]interface{})["userId"].(string))
	}
	return ids
}

func TestHandshakeRejectsBadToken(t *testing.T) {
	_, registry, srv := newTestGateway()
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, registry.Snapshot())
}

func TestConnectRegistersAndSendsRoster(t *testing.T) {
	_, registry, srv := newTestGateway()
	defer srv.Close()

	conn := dial(t, srv, "token-alice")
	defer conn.Close()

	msg := readUntil(t, conn, "online-users")
	assert.Contains(t, rosterUserIDs(t, msg), "alice")

	connID, ok := registry.Lookup("alice")
	assert.True(t, ok)
	assert.NotEmpty(t, connID)
}

func TestConnectBroadcastsRosterToOthers(t *testing.T) {
	_, _, srv := newTestGateway()
	defer srv.Close()

	alice := dial(t, srv, "token-alice")
	defer alice.Close()
	readUntil(t, alice, "online-users")

	bob := dial(t, srv, "token-bob")
	defer bob.Close()

	// Alice's connection learns about bob through the broadcast.
	for {
		msg := readUntil(t, alice, "online-users-updated")
		ids := rosterUserIDs(t, msg)
		if len(ids) == 2 {
			assert.ElementsMatch(t, []string{"alice", "bob"}, ids)
			return
		}
	}
}

func TestDisconnectDeregistersAndBroadcasts(t *testing.T) {
	_, registry, srv := newTestGateway()
	defer srv.Close()

	alice := dial(t, srv, "token-alice")
	defer alice.Close()
	bob := dial(t, srv, "token-bob")
	readUntil(t, bob, "online-users")

	bob.Close()

	require.Eventually(t, func() bool {
		_, ok := registry.Lookup("bob")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	// The surviving connection gets a roster without bob.
	for {
		msg := readUntil(t, alice, "online-users-updated")
		ids := rosterUserIDs(t, msg)
		if len(ids) == 1 {
			assert.Equal(t, []string{"alice"}, ids)
			return
		}
	}
}

func TestSecondLoginReplacesFirstConnection(t *testing.T) {
	_, registry, srv := newTestGateway()
	defer srv.Close()

	first := dial(t, srv, "token-alice")
	defer first.Close()
	readUntil(t, first, "online-users")

	firstConnID, ok := registry.Lookup("alice")
	require.True(t, ok)

	second := dial(t, srv, "token-alice")
	defer second.Close()
	readUntil(t, second, "online-users")

	secondConnID, ok := registry.Lookup("alice")
	require.True(t, ok)
	assert.NotEqual(t, firstConnID, secondConnID)
	assert.Len(t, registry.Snapshot(), 1)

	// The orphaned connection is closed, not leaked.
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}

	// And its teardown must not evict the new login.
	time.Sleep(50 * time.Millisecond)
	gotConnID, ok := registry.Lookup("alice")
	assert.True(t, ok)
	assert.Equal(t, secondConnID, gotConnID)
}

func TestHeartbeatRefreshesLiveness(t *testing.T) {
	_, registry, srv := newTestGateway()
	defer srv.Close()

	conn := dial(t, srv, "token-alice")
	defer conn.Close()
	readUntil(t, conn, "online-users")

	time.Sleep(20 * time.Millisecond)
	cutoff := time.Now()

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "heartbeat"}))

	// Once the heartbeat lands, lastSeen moves past the cutoff.
	require.Eventually(t, func() bool {
		snap := registry.Snapshot()
		return len(snap) == 1 && snap[0].LastSeen.After(cutoff)
	}, 2*time.Second, 10*time.Millisecond)

	// A sweep against that cutoff no longer touches the entry.
	assert.Empty(t, registry.Evict(cutoff))
	_, ok := registry.Lookup("alice")
	assert.True(t, ok)
}

func TestTypingRelayedToReceiver(t *testing.T) {
	_, _, srv := newTestGateway()
	defer srv.Close()

	alice := dial(t, srv, "token-alice")
	defer alice.Close()
	readUntil(t, alice, "online-users")
	bob := dial(t, srv, "token-bob")
	defer bob.Close()
	readUntil(t, bob, "online-users")

	require.NoError(t, alice.WriteJSON(map[string]interface{}{
		"type":    "typing",
		"payload": map[string]string{"receiverId": "bob"},
	}))

	msg := readUntil(t, bob, "user-typing")
	payload := msg["payload"].(map[string]interface{})
	assert.Equal(t, "alice", payload["userId"])
	assert.Equal(t, "alice", payload["username"])
}

func TestTypingToOfflineReceiverIsDropped(t *testing.T) {
	_, registry, srv := newTestGateway()
	defer srv.Close()

	alice := dial(t, srv, "token-alice")
	defer alice.Close()
	readUntil(t, alice, "online-users")

	require.NoError(t, alice.WriteJSON(map[string]interface{}{
		"type":    "typing",
		"payload": map[string]string{"receiverId": "ghost"},
	}))

	// The connection keeps serving: a follow-up heartbeat still lands.
	cutoff := time.Now()
	require.NoError(t, alice.WriteJSON(map[string]string{"type": "heartbeat"}))
	require.Eventually(t, func() bool {
		snap := registry.Snapshot()
		return len(snap) == 1 && snap[0].LastSeen.After(cutoff)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSendToUnknownConnectionFails(t *testing.T) {
	gateway, _, srv := newTestGateway()
	defer srv.Close()

	assert.Error(t, gateway.Send("no-such-conn", "file-received", nil))
}

func TestSendDeliversTaggedPayload(t *testing.T) {
	gateway, registry, srv := newTestGateway()
	defer srv.Close()

	conn := dial(t, srv, "token-alice")
	defer conn.Close()
	readUntil(t, conn, "online-users")

	connID, ok := registry.Lookup("alice")
	require.True(t, ok)

	require.NoError(t, gateway.Send(connID, "file-received", map[string]string{"transferId": "t1"}))

	msg := readUntil(t, conn, "file-received")
	payload := msg["payload"].(map[string]interface{})
	assert.Equal(t, "t1", payload["transferId"])
}
