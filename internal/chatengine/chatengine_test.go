package chatengine_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/conclave/internal/chatengine"
	"github.com/relaymesh/conclave/internal/identity"
	"github.com/relaymesh/conclave/internal/rabbitmq"
	"github.com/relaymesh/conclave/internal/session"
	"github.com/relaymesh/conclave/internal/store"
	"github.com/relaymesh/conclave/internal/store/memory"
	"github.com/relaymesh/conclave/internal/telemetry"
	"github.com/relaymesh/conclave/internal/wsproto"
)

// stubVerifier authenticates any token present in its map, mirroring the
// identity.Verifier contract without a real Token Verifier collaborator.
type stubVerifier struct {
	users map[string]identity.User
}

func (v stubVerifier) Verify(ctx context.Context, token string) (identity.User, error) {
	u, ok := v.users[token]
	if !ok {
		return identity.User{}, identity.ErrAuthFailed
	}
	return u, nil
}

func newTestServer(t *testing.T, users map[string]identity.User) (*httptest.Server, *chatengine.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := store.WithRetry(memory.New(), "chat")
	audit := telemetry.NewAuditEmitter(rabbitmq.NewPublisher("", ""), "chat.audit", "conclave-chat-test", "info")
	engine := chatengine.New(st, audit, 2*time.Second, 30*time.Second)
	authn := session.New(stubVerifier{users: users})
	handler := chatengine.NewHandler(engine, authn, 2*time.Second)

	router := gin.New()
	router.GET("/ws", handler.Handle)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, engine
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) wsproto.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var env wsproto.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

// readUntil keeps reading frames until one matches event, skipping
// broadcast noise (e.g. another session's user:online).
func readUntil(t *testing.T, conn *websocket.Conn, event string) wsproto.Envelope {
	t.Helper()
	for i := 0; i < 10; i++ {
		env := readEnvelope(t, conn)
		if env.Event == event {
			return env
		}
	}
	t.Fatalf("never saw event %q", event)
	return wsproto.Envelope{}
}

func send(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(wsproto.Envelope{Event: event, Payload: raw}))
}

func TestConnectSendsInitialRoomsList(t *testing.T) {
	users := map[string]identity.User{"alice-token": {ID: "alice", DisplayName: "Alice"}}
	srv, _ := newTestServer(t, users)

	conn := dial(t, srv, "alice-token")
	env := readEnvelope(t, conn)
	require.Equal(t, chatengine.EventRoomsList, env.Event)
}

func TestUnauthenticatedUpgradeRejected(t *testing.T) {
	srv, _ := newTestServer(t, map[string]identity.User{})
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreatePublicRoomFansOutToOtherSessions(t *testing.T) {
	users := map[string]identity.User{
		"alice-token": {ID: "alice", DisplayName: "Alice"},
		"bob-token":   {ID: "bob", DisplayName: "Bob"},
	}
	srv, _ := newTestServer(t, users)

	alice := dial(t, srv, "alice-token")
	readEnvelope(t, alice) // rooms:list

	bob := dial(t, srv, "bob-token")
	readUntil(t, bob, chatengine.EventRoomsList)
	readUntil(t, alice, chatengine.EventUserOnline)

	send(t, alice, chatengine.EventRoomCreate, map[string]any{
		"name":       "General",
		"kind":       "group",
		"visibility": "public",
	})

	created := readUntil(t, alice, chatengine.EventRoomCreated)
	var aliceRoom chatengine.RoomView
	require.NoError(t, json.Unmarshal(created.Payload, &aliceRoom))
	require.Equal(t, "General", aliceRoom.Name)

	broadcast := readUntil(t, bob, chatengine.EventRoomCreated)
	var bobView chatengine.RoomView
	require.NoError(t, json.Unmarshal(broadcast.Payload, &bobView))
	require.Equal(t, aliceRoom.ID, bobView.ID)
}

func TestJoinPrivateRoomRequiresCode(t *testing.T) {
	users := map[string]identity.User{
		"alice-token": {ID: "alice", DisplayName: "Alice"},
		"bob-token":   {ID: "bob", DisplayName: "Bob"},
	}
	srv, _ := newTestServer(t, users)

	alice := dial(t, srv, "alice-token")
	readEnvelope(t, alice)
	send(t, alice, chatengine.EventRoomCreate, map[string]any{
		"name":       "Secret",
		"kind":       "group",
		"visibility": "private",
	})
	created := readUntil(t, alice, chatengine.EventRoomCreated)
	var room chatengine.RoomView
	require.NoError(t, json.Unmarshal(created.Payload, &room))
	require.NotEmpty(t, room.Code)

	bob := dial(t, srv, "bob-token")
	readEnvelope(t, bob)

	send(t, bob, chatengine.EventRoomJoin, map[string]any{"roomId": room.ID})
	errEnv := readUntil(t, bob, chatengine.EventError)
	require.Contains(t, string(errEnv.Payload), "CODE_REQUIRED")

	send(t, bob, chatengine.EventRoomJoinByCode, map[string]any{"code": room.Code})
	joined := readUntil(t, bob, chatengine.EventRoomJoined)
	var joinedView chatengine.RoomView
	require.NoError(t, json.Unmarshal(joined.Payload, &joinedView))
	require.Equal(t, room.ID, joinedView.ID)
}

func TestJoinUnknownRoomReturnsNotFound(t *testing.T) {
	users := map[string]identity.User{"alice-token": {ID: "alice", DisplayName: "Alice"}}
	srv, _ := newTestServer(t, users)

	alice := dial(t, srv, "alice-token")
	readEnvelope(t, alice)

	send(t, alice, chatengine.EventRoomJoin, map[string]any{"roomId": "does-not-exist"})
	errEnv := readUntil(t, alice, chatengine.EventError)
	require.Contains(t, string(errEnv.Payload), "ROOM_NOT_FOUND")
}

func TestSendMessageFansOutToRoomParticipants(t *testing.T) {
	users := map[string]identity.User{
		"alice-token": {ID: "alice", DisplayName: "Alice"},
		"bob-token":   {ID: "bob", DisplayName: "Bob"},
	}
	srv, _ := newTestServer(t, users)

	alice := dial(t, srv, "alice-token")
	readEnvelope(t, alice)
	send(t, alice, chatengine.EventRoomCreate, map[string]any{
		"name":         "General",
		"kind":         "group",
		"visibility":   "public",
		"participants": []string{"bob"},
	})
	created := readUntil(t, alice, chatengine.EventRoomCreated)
	var room chatengine.RoomView
	require.NoError(t, json.Unmarshal(created.Payload, &room))

	bob := dial(t, srv, "bob-token")
	readEnvelope(t, bob)
	send(t, bob, chatengine.EventRoomJoin, map[string]any{"roomId": room.ID})
	readUntil(t, bob, chatengine.EventRoomJoined)
	readUntil(t, alice, chatengine.EventRoomUserJoined)

	send(t, alice, chatengine.EventMessageSend, map[string]any{
		"roomId":  room.ID,
		"content": "hello bob",
	})

	msgEnv := readUntil(t, bob, chatengine.EventMessageNew)
	var msg chatengine.MessageView
	require.NoError(t, json.Unmarshal(msgEnv.Payload, &msg))
	require.Equal(t, "hello bob", msg.Content)
	require.Equal(t, "alice", msg.SenderID)
}

func TestPresenceBroadcastsOnlineAndOffline(t *testing.T) {
	users := map[string]identity.User{
		"alice-token": {ID: "alice", DisplayName: "Alice"},
		"bob-token":   {ID: "bob", DisplayName: "Bob"},
	}
	srv, _ := newTestServer(t, users)

	alice := dial(t, srv, "alice-token")
	readEnvelope(t, alice)

	bob := dial(t, srv, "bob-token")
	readEnvelope(t, bob)
	readUntil(t, alice, chatengine.EventUserOnline)

	require.NoError(t, bob.Close())
	readUntil(t, alice, chatengine.EventUserOffline)
}
