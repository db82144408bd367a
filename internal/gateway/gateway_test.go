package gateway_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/conclave/internal/gateway"
)

func newTestGateway(t *testing.T, authURL, chatURL, videoURL string) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gw, err := gateway.New(gateway.Config{
		AuthURL:  authURL,
		ChatURL:  chatURL,
		VideoURL: videoURL,
	})
	require.NoError(t, err)

	router := gin.New()
	gw.RegisterRoutes(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthReportsBackends(t *testing.T) {
	srv := newTestGateway(t, "http://auth.local", "http://chat.local", "http://video.local")

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "gateway", body["service"])
	require.NotEmpty(t, body["timestamp"])

	backends, ok := body["backends"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "http://auth.local", backends["auth"])
	require.Equal(t, "http://chat.local", backends["chat"])
	require.Equal(t, "http://video.local", backends["video"])
}

func TestAPIDocsIndexAndService(t *testing.T) {
	srv := newTestGateway(t, "http://auth.local", "http://chat.local", "http://video.local")

	resp, err := http.Get(srv.URL + "/api-docs")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api-docs/chat")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api-docs/nonsense")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProxyRewritesAuthPrefix(t *testing.T) {
	var seenPath, seenHost string
	auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenPath = r.URL.Path
		seenHost = r.Host
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"success":true}`))
	}))
	defer auth.Close()

	srv := newTestGateway(t, auth.URL, "http://chat.local", "http://video.local")

	resp, err := http.Get(srv.URL + "/api/auth/login")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "/auth/login", seenPath)
	require.NotEmpty(t, seenHost)
}

func TestProxyStripsChatPrefix(t *testing.T) {
	var seenPath string
	chat := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer chat.Close()

	srv := newTestGateway(t, "http://auth.local", chat.URL, "http://video.local")

	resp, err := http.Get(srv.URL + "/api/chat/rooms")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, "/rooms", seenPath)
}

func TestProxyReturns503WhenBackendUnreachable(t *testing.T) {
	// A closed listener address: nothing is listening on this port.
	srv := newTestGateway(t, "http://auth.local", "http://127.0.0.1:1", "http://video.local")

	resp, err := http.Get(srv.URL + "/api/chat/rooms")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, false, body["success"])
	require.Equal(t, "SERVICE_UNAVAILABLE", body["error"])
	require.Equal(t, "chat", body["backend"])
}

func TestUnmatchedPathReturns404(t *testing.T) {
	srv := newTestGateway(t, "http://auth.local", "http://chat.local", "http://video.local")

	resp, err := http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// TestUpgradeProxiesToDefaultChatBackend exercises the explicit hijack +
// byte-pump duplex path (spec §4.1) end to end: a websocket handshake sent
// to the gateway's /ws fallback route is proxied to the chat backend
// unchanged, and frames flow both directions until the client closes.
func TestUpgradeProxiesToDefaultChatBackend(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	chat := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, append([]byte("echo:"), msg...))
	}))
	defer chat.Close()

	srv := newTestGateway(t, "http://auth.local", chat.URL, "http://video.local")

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hi")))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, "echo:hi", string(msg))
}

func TestUpgradeToVideoPathRoutesToVideoBackend(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	var seenPath string
	video := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenPath = r.URL.Path
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		conn.Close()
	}))
	defer video.Close()

	srv := newTestGateway(t, "http://auth.local", "http://chat.local", video.URL)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/video/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	conn.Close()
	require.Equal(t, "/ws", seenPath)
}
