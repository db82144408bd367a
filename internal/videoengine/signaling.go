package videoengine

import (
	"context"
	"encoding/json"
	"fmt"
)

// signalPayload is the wire shape of "video:signal" (spec §4.4.3).
type signalPayload struct {
	SignalKind   string          `json:"signalKind"`
	RoomID       string          `json:"roomId"`
	TargetUserID string          `json:"targetUserId"`
	Payload      json.RawMessage `json:"payload"`
	Metadata     map[string]any  `json:"metadata"`
}

type sdpPayload struct {
	SDP string `json:"sdp"`
}

type iceCandidatePayload struct {
	Candidate     string  `json:"candidate"`
	SDPMLineIndex *int    `json:"sdpMLineIndex"`
	SDPMid        *string `json:"sdpMid"`
}

var signalKinds = map[string]bool{
	"offer":         true,
	"answer":        true,
	"ice-candidate": true,
}

// handleSignal relays a WebRTC offer/answer/ICE-candidate between
// participants of the same room, enriching the outgoing metadata with the
// sender's current media-state snapshot (spec §4.4.3). Dispatch runs each
// envelope to completion before the read loop reads the next one, which is
// what gives signals from one sender their required per-target ordering.
func (e *Engine) handleSignal(ctx context.Context, sess *session, raw json.RawMessage) error {
	var req signalPayload
	if err := json.Unmarshal(raw, &req); err != nil {
		return ErrInvalidSignalStructure
	}
	if req.RoomID == "" || req.SignalKind == "" {
		return ErrInvalidSignalStructure
	}
	if !signalKinds[req.SignalKind] {
		return ErrInvalidSignalType
	}

	roomID := sess.currentRoom()
	if roomID == "" || roomID != req.RoomID {
		return ErrNotInRoom
	}

	dedupeKey := fmt.Sprintf("%s|%s|%s|%s|%s", roomID, sess.user.ID, req.TargetUserID, req.SignalKind, req.Payload)
	if e.isDuplicateSignal(dedupeKey) {
		return nil
	}

	switch req.SignalKind {
	case "offer", "answer":
		if len(req.Payload) == 0 {
			return ErrMissingSignalData
		}
		var data sdpPayload
		if err := json.Unmarshal(req.Payload, &data); err != nil || data.SDP == "" {
			return ErrInvalidSignalStructure
		}
		if req.TargetUserID == "" {
			return ErrMustIncludeTarget
		}
	case "ice-candidate":
		if len(req.Payload) == 0 {
			return ErrMissingSignalData
		}
		var data iceCandidatePayload
		if err := json.Unmarshal(req.Payload, &data); err != nil || data.Candidate == "" {
			return ErrInvalidSignalStructure
		}
	}

	participant, err := e.store.GetVideoParticipant(ctx, roomID, sess.user.ID)
	if err != nil {
		return storeErr(err)
	}

	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["audioEnabled"] = participant.AudioEnabled
	metadata["videoEnabled"] = participant.VideoEnabled
	metadata["screenSharing"] = participant.ScreenSharing
	if participant.ScreenSharing {
		metadata["streamType"] = "screen"
	} else {
		metadata["streamType"] = "camera"
	}

	out := map[string]any{
		"signalKind":   req.SignalKind,
		"roomId":       roomID,
		"fromUserId":   sess.user.ID,
		"payload":      req.Payload,
		"metadata":     metadata,
	}

	if req.TargetUserID != "" {
		target, ok := e.findSession(ctx, roomID, req.TargetUserID)
		if !ok {
			return ErrTargetUserNotFound
		}
		if err := target.ws.Send(EventSignal, out); err != nil {
			return fmt.Errorf("videoengine: failed to deliver signal: %w", err)
		}
		return nil
	}

	// ice-candidate without an explicit target is relayed to the rest of
	// the room (trickle ICE broadcast per spec §4.4.3).
	e.broadcastRoom(roomID, sess.ws.Info.SessionID, EventSignal, out)
	return nil
}
