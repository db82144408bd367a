package videoengine

import (
	"context"
	"encoding/json"

	"github.com/relaymesh/conclave/internal/store"
)

type togglePayload struct {
	RoomID  string `json:"roomId"`
	Enabled bool   `json:"enabled"`
}

// handleToggle implements toggle-audio/toggle-video/toggle-screen (spec
// §4.4.4): update the caller's VideoParticipant record and broadcast the
// matching video:*:toggled event to the room.
func (e *Engine) handleToggle(ctx context.Context, sess *session, raw json.RawMessage, kind string) error {
	var req togglePayload
	if err := json.Unmarshal(raw, &req); err != nil {
		return ErrValidation
	}
	roomID := sess.currentRoom()
	if roomID == "" || roomID != req.RoomID {
		return ErrNotInRoom
	}

	_, err := e.store.UpdateVideoParticipant(ctx, roomID, sess.user.ID, func(p *store.VideoParticipant) {
		switch kind {
		case "audio":
			p.AudioEnabled = req.Enabled
		case "video":
			p.VideoEnabled = req.Enabled
		case "screen":
			p.ScreenSharing = req.Enabled
		}
	})
	if err != nil {
		return storeErr(err)
	}

	event := EventAudioToggled
	switch kind {
	case "video":
		event = EventVideoToggled
	case "screen":
		event = EventScreenToggled
	}
	e.broadcastRoom(roomID, "", event, map[string]any{
		"roomId":  roomID,
		"userId":  sess.user.ID,
		"enabled": req.Enabled,
	})

	if kind == "screen" && req.Enabled {
		e.broadcastRoom(roomID, sess.ws.Info.SessionID, EventScreenNegotiationNeed, map[string]string{
			"roomId": roomID,
			"userId": sess.user.ID,
		})
	}

	return nil
}

type screenStartPayload struct {
	RoomID string `json:"roomId"`
}

// handleScreenStart is the dedicated start-of-share event distinct from
// toggle-screen: spec §4.4.4/4.4.5 names both video:screen:start and
// video:toggle-screen, so screen sharing can be announced either way.
func (e *Engine) handleScreenStart(ctx context.Context, sess *session, raw json.RawMessage) error {
	var req screenStartPayload
	if err := json.Unmarshal(raw, &req); err != nil {
		return ErrValidation
	}
	roomID := sess.currentRoom()
	if roomID == "" || roomID != req.RoomID {
		return ErrNotInRoom
	}

	_, err := e.store.UpdateVideoParticipant(ctx, roomID, sess.user.ID, func(p *store.VideoParticipant) {
		p.ScreenSharing = true
	})
	if err != nil {
		return storeErr(err)
	}

	e.broadcastRoom(roomID, "", EventScreenStarted, map[string]string{
		"roomId": roomID,
		"userId": sess.user.ID,
	})
	e.broadcastRoom(roomID, sess.ws.Info.SessionID, EventScreenNegotiationNeed, map[string]string{
		"roomId": roomID,
		"userId": sess.user.ID,
	})
	return nil
}

func (e *Engine) handleScreenStop(ctx context.Context, sess *session, raw json.RawMessage) error {
	var req screenStartPayload
	if err := json.Unmarshal(raw, &req); err != nil {
		return ErrValidation
	}
	roomID := sess.currentRoom()
	if roomID == "" || roomID != req.RoomID {
		return ErrNotInRoom
	}

	_, err := e.store.UpdateVideoParticipant(ctx, roomID, sess.user.ID, func(p *store.VideoParticipant) {
		p.ScreenSharing = false
	})
	if err != nil {
		return storeErr(err)
	}

	e.broadcastRoom(roomID, "", EventScreenStopped, map[string]string{
		"roomId": roomID,
		"userId": sess.user.ID,
	})
	return nil
}

type streamReadyPayload struct {
	RoomID     string `json:"roomId"`
	StreamID   string `json:"streamId"`
	StreamType string `json:"streamType"`
	ScreenSharing *bool `json:"screenSharing"`
}

// handleStreamReady implements video:stream:ready (spec §4.4.4): announces
// the caller's media as ready for consumption, optionally updating the
// screen-sharing flag, and assigns a streamId if the client did not supply
// one.
func (e *Engine) handleStreamReady(ctx context.Context, sess *session, raw json.RawMessage) error {
	var req streamReadyPayload
	if err := json.Unmarshal(raw, &req); err != nil {
		return ErrValidation
	}
	roomID := sess.currentRoom()
	if roomID == "" || roomID != req.RoomID {
		return ErrNotInRoom
	}

	if req.ScreenSharing != nil {
		if _, err := e.store.UpdateVideoParticipant(ctx, roomID, sess.user.ID, func(p *store.VideoParticipant) {
			p.ScreenSharing = *req.ScreenSharing
		}); err != nil {
			return storeErr(err)
		}
	}

	streamID := req.StreamID
	if streamID == "" {
		streamID = newSocketID()
	}
	streamType := req.StreamType
	if streamType == "" {
		streamType = "camera"
	}

	e.broadcastRoom(roomID, sess.ws.Info.SessionID, EventStreamReady, map[string]string{
		"roomId":     roomID,
		"userId":     sess.user.ID,
		"streamId":   streamID,
		"streamType": streamType,
	})
	return nil
}
