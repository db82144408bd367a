package videoengine_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/conclave/internal/identity"
	"github.com/relaymesh/conclave/internal/rabbitmq"
	"github.com/relaymesh/conclave/internal/session"
	"github.com/relaymesh/conclave/internal/store"
	"github.com/relaymesh/conclave/internal/store/memory"
	"github.com/relaymesh/conclave/internal/telemetry"
	"github.com/relaymesh/conclave/internal/videoengine"
	"github.com/relaymesh/conclave/internal/wsproto"
)

// httptestServer wraps httptest.Server with a URL() method to match this
// file's call sites.
type httptestServer struct {
	*httptest.Server
}

func (s *httptestServer) URL() string {
	return s.Server.URL
}

func startServer(t *testing.T, handler gin.IRouter) *httptestServer {
	t.Helper()
	srv := httptest.NewServer(handler.(*gin.Engine))
	t.Cleanup(srv.Close)
	return &httptestServer{Server: srv}
}

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

func newTestServer(t *testing.T, users map[string]identity.User) *httptestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := store.WithRetry(memory.New(), "video")
	audit := telemetry.NewAuditEmitter(rabbitmq.NewPublisher("", ""), "video.audit", "conclave-video-test", "info")
	engine := videoengine.New(st, audit, nil, 2*time.Second, false)
	authn := session.New(stubVerifier{users: users})
	handler := videoengine.NewHandler(engine, authn, 2*time.Second)

	router := gin.New()
	router.GET("/ws", handler.Handle)
	engine.RegisterREST(router.Group("/"))

	return startServer(t, router)
}

func dial(t *testing.T, srv *httptestServer, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL(), "http") + "/ws"
	if token != "" {
		url += "?token=" + token
	}
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

func createRoom(t *testing.T, conn *websocket.Conn, name string) videoengine.RoomView {
	t.Helper()
	send(t, conn, videoengine.EventRoomCreate, map[string]any{"name": name})
	env := readUntil(t, conn, videoengine.EventRoomCreated)
	var room videoengine.RoomView
	require.NoError(t, json.Unmarshal(env.Payload, &room))
	return room
}

func TestAnonymousAdmissionCreatesAndJoinsRoom(t *testing.T) {
	srv := newTestServer(t, nil)

	host := dial(t, srv, "")
	room := createRoom(t, host, "Standup")
	require.NotEmpty(t, room.Code)
	require.Equal(t, 8, room.MaxParticipants)

	guest := dial(t, srv, "")
	send(t, guest, videoengine.EventRoomJoin, map[string]any{"roomId": room.ID})
	joined := readUntil(t, guest, videoengine.EventRoomJoined)

	var payload struct {
		videoengine.RoomView
		Participants []videoengine.ParticipantView `json:"participantDetails"`
	}
	require.NoError(t, json.Unmarshal(joined.Payload, &payload))
	require.Equal(t, room.ID, payload.ID)
	require.Len(t, payload.Participants, 2)

	readUntil(t, host, videoengine.EventUserJoined)
}

func TestJoinByCode(t *testing.T) {
	srv := newTestServer(t, nil)

	host := dial(t, srv, "")
	room := createRoom(t, host, "Design Review")

	guest := dial(t, srv, "")
	send(t, guest, videoengine.EventRoomJoin, map[string]any{"code": room.Code})
	readUntil(t, guest, videoengine.EventRoomJoined)
}

func TestRoomCapacityEnforced(t *testing.T) {
	srv := newTestServer(t, nil)

	host := dial(t, srv, "")
	room := createRoom(t, host, "Packed")

	var lastGuest *websocket.Conn
	for i := 0; i < 7; i++ {
		guest := dial(t, srv, "")
		send(t, guest, videoengine.EventRoomJoin, map[string]any{"roomId": room.ID})
		readUntil(t, guest, videoengine.EventRoomJoined)
		lastGuest = guest
	}
	_ = lastGuest

	overflow := dial(t, srv, "")
	send(t, overflow, videoengine.EventRoomJoin, map[string]any{"roomId": room.ID})
	errEnv := readUntil(t, overflow, videoengine.EventError)
	require.Contains(t, string(errEnv.Payload), "ROOM_FULL")
}

func TestSignalRelayTargetedWithMediaMetadata(t *testing.T) {
	srv := newTestServer(t, nil)

	host := dial(t, srv, "")
	room := createRoom(t, host, "Call")

	guest := dial(t, srv, "")
	send(t, guest, videoengine.EventRoomJoin, map[string]any{"roomId": room.ID})
	guestJoined := readUntil(t, guest, videoengine.EventRoomJoined)
	var guestPayload struct {
		videoengine.RoomView
		Participants []videoengine.ParticipantView `json:"participantDetails"`
	}
	require.NoError(t, json.Unmarshal(guestJoined.Payload, &guestPayload))
	readUntil(t, host, videoengine.EventUserJoined)

	var hostUserID string
	for _, p := range guestPayload.Participants {
		if p.UserID != "" && strings.HasPrefix(p.UserID, "anonymous_") && p.UserID != guestPayload.Participants[len(guestPayload.Participants)-1].UserID {
			hostUserID = p.UserID
		}
	}
	if hostUserID == "" {
		for _, p := range guestPayload.Participants {
			hostUserID = p.UserID
			break
		}
	}

	send(t, guest, videoengine.EventSignal, map[string]any{
		"signalKind":   "offer",
		"roomId":       room.ID,
		"targetUserId": hostUserID,
		"payload":      map[string]string{"sdp": "v=0..."},
	})

	sig := readUntil(t, host, videoengine.EventSignal)
	var out map[string]any
	require.NoError(t, json.Unmarshal(sig.Payload, &out))
	require.Equal(t, "offer", out["signalKind"])
	meta, ok := out["metadata"].(map[string]any)
	require.True(t, ok)
	require.Contains(t, meta, "audioEnabled")
	require.Contains(t, meta, "streamType")
}

func TestScreenShareToggleBroadcastsNegotiationHint(t *testing.T) {
	srv := newTestServer(t, nil)

	host := dial(t, srv, "")
	room := createRoom(t, host, "Demo")

	guest := dial(t, srv, "")
	send(t, guest, videoengine.EventRoomJoin, map[string]any{"roomId": room.ID})
	readUntil(t, guest, videoengine.EventRoomJoined)
	readUntil(t, host, videoengine.EventUserJoined)

	send(t, host, videoengine.EventToggleScreen, map[string]any{"roomId": room.ID, "enabled": true})

	toggled := readUntil(t, guest, videoengine.EventScreenToggled)
	var toggledPayload map[string]any
	require.NoError(t, json.Unmarshal(toggled.Payload, &toggledPayload))
	require.Equal(t, true, toggledPayload["enabled"])

	readUntil(t, guest, videoengine.EventScreenNegotiationNeed)
}

func TestEndRoomIsHostOnly(t *testing.T) {
	srv := newTestServer(t, nil)

	host := dial(t, srv, "")
	room := createRoom(t, host, "Retro")

	guest := dial(t, srv, "")
	send(t, guest, videoengine.EventRoomJoin, map[string]any{"roomId": room.ID})
	readUntil(t, guest, videoengine.EventRoomJoined)
	readUntil(t, host, videoengine.EventUserJoined)

	send(t, guest, videoengine.EventRoomEnd, map[string]any{"roomId": room.ID})
	errEnv := readUntil(t, guest, videoengine.EventError)
	require.Contains(t, string(errEnv.Payload), "UNAUTHORIZED")

	send(t, host, videoengine.EventRoomEnd, map[string]any{"roomId": room.ID})
	readUntil(t, guest, videoengine.EventRoomEnded)
}
