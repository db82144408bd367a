package chatengine

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/relaymesh/conclave/internal/observability"
	sessionpkg "github.com/relaymesh/conclave/internal/session"
	"github.com/relaymesh/conclave/internal/wsproto"
)

// Handler upgrades incoming requests into chat duplex sessions. Grounded on
// the teacher's ChatWebSocketHandler.Handle: parse the handshake credential,
// authenticate, upgrade, register, read-loop until close.
type Handler struct {
	engine   *Engine
	authn    *sessionpkg.Authenticator
	sendWait time.Duration
}

// NewHandler constructs a chat Handler.
func NewHandler(engine *Engine, authn *sessionpkg.Authenticator, sendWait time.Duration) *Handler {
	return &Handler{engine: engine, authn: authn, sendWait: sendWait}
}

// Handle implements the chat engine's duplex upgrade endpoint. The token is
// read from the Authorization header or, failing that, a token query
// parameter, per spec §6's handshake contract (the duplex handshake path,
// spec §4.2: "auth payload ... falling back to handshake query").
func (h *Handler) Handle(c *gin.Context) {
	authPayloadToken := sessionpkg.BearerToken(c.GetHeader("Authorization"))
	queryToken := c.Query("token")

	user, err := h.authn.FromHandshake(c.Request.Context(), authPayloadToken, queryToken)
	if err != nil {
		if authErr, ok := err.(*sessionpkg.AuthError); ok {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": authErr.Code})
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "AUTH_FAILED"})
		return
	}

	conn, err := wsproto.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := wsproto.ConnInfo{
		ConnID:      wsproto.NewConnID(),
		SessionID:   uuid.NewString(),
		UserID:      user.ID,
		DisplayName: user.DisplayName,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		ConnectedAt: time.Now(),
	}
	ws := wsproto.NewSession(conn, info, h.sendWait)

	ctx := c.Request.Context()
	h.engine.Connect(ctx, ws, user)

	defer func() {
		h.engine.Disconnect(info.SessionID)
		ws.Close()
	}()

	_ = ws.ReadLoop(func(env wsproto.Envelope) {
		h.engine.Dispatch(ctx, info.SessionID, env)
	})
}
