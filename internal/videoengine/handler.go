package videoengine

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/relaymesh/conclave/internal/observability"
	sessionpkg "github.com/relaymesh/conclave/internal/session"
	"github.com/relaymesh/conclave/internal/store"
	"github.com/relaymesh/conclave/internal/wsproto"
)

// Handler upgrades incoming requests into video duplex sessions, admitting
// unauthenticated callers as anonymous participants per spec §4.4.1. It
// otherwise mirrors internal/chatengine.Handler.
type Handler struct {
	engine   *Engine
	authn    *sessionpkg.Authenticator
	sendWait time.Duration
}

// NewHandler constructs a video Handler.
func NewHandler(engine *Engine, authn *sessionpkg.Authenticator, sendWait time.Duration) *Handler {
	return &Handler{engine: engine, authn: authn, sendWait: sendWait}
}

// Handle implements the video engine's duplex upgrade endpoint.
func (h *Handler) Handle(c *gin.Context) {
	authPayloadToken := sessionpkg.BearerToken(c.GetHeader("Authorization"))
	queryToken := c.Query("token")

	sessionID := uuid.NewString()

	var user = h.authn.Anonymous(sessionID)
	if authPayloadToken != "" || queryToken != "" {
		authed, err := h.authn.FromHandshake(c.Request.Context(), authPayloadToken, queryToken)
		if err == nil {
			user = authed
		}
		// An invalid token on the video path does not refuse the
		// connection: the caller falls back to anonymous admission.
	}

	conn, err := wsproto.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := wsproto.ConnInfo{
		ConnID:      wsproto.NewConnID(),
		SessionID:   sessionID,
		UserID:      user.ID,
		DisplayName: user.DisplayName,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		ConnectedAt: time.Now(),
	}
	ws := wsproto.NewSession(conn, info, h.sendWait)

	h.engine.Connect(ws, user)

	defer func() {
		h.engine.Disconnect(info.SessionID)
		ws.Close()
	}()

	ctx := c.Request.Context()
	_ = ws.ReadLoop(func(env wsproto.Envelope) {
		h.engine.Dispatch(ctx, info.SessionID, env)
	})
}

// RegisterREST mounts the video engine's request/response snapshot
// endpoints (spec §6): room lookup, participant listing, and a narrow
// per-user screen-sharing probe.
func (e *Engine) RegisterREST(r gin.IRouter) {
	r.GET("/rooms/:roomId", e.handleGetRoomREST)
	r.GET("/rooms/:roomId/participants", e.handleListParticipantsREST)
	r.GET("/rooms/:roomId/participants/:userId/screen-sharing", e.handleScreenSharingREST)
}

func (e *Engine) handleGetRoomREST(c *gin.Context) {
	room, err := e.store.GetVideoRoom(c.Request.Context(), c.Param("roomId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "ROOM_NOT_FOUND"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": toRoomView(room)})
}

func (e *Engine) handleListParticipantsREST(c *gin.Context) {
	participants, err := e.store.ListVideoParticipants(c.Request.Context(), c.Param("roomId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "ROOM_NOT_FOUND"})
		return
	}
	views := make([]ParticipantView, 0, len(participants))
	for _, p := range participants {
		views = append(views, toParticipantView(p))
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": views})
}

func (e *Engine) handleScreenSharingREST(c *gin.Context) {
	p, err := e.store.GetVideoParticipant(c.Request.Context(), c.Param("roomId"), c.Param("userId"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "TARGET_USER_NOT_FOUND"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "STORE_UNAVAILABLE"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"userId":        p.UserID,
			"screenSharing": p.ScreenSharing,
			"videoEnabled":  p.VideoEnabled,
			"audioEnabled":  p.AudioEnabled,
		},
	})
}
