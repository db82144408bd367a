package videoengine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/relaymesh/conclave/internal/store"
)

type createRoomPayload struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	CreateChatRoom bool   `json:"createChatRoom"`
}

func (e *Engine) handleCreateRoom(ctx context.Context, sess *session, raw json.RawMessage) error {
	var req createRoomPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &req); err != nil {
			return ErrValidation
		}
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return ErrValidation
	}

	code, err := generateRoomCode(ctx, e.store.VideoRoomCodeExists)
	if err != nil {
		return err
	}

	var chatRoomID, chatRoomCode string
	if req.CreateChatRoom {
		chatCode, err := generateRoomCode(ctx, e.store.ChatRoomCodeExists)
		if err != nil {
			return err
		}
		chatRoom, err := e.store.CreateChatRoom(ctx, store.ChatRoom{
			Name:         req.Name,
			Kind:         store.RoomKindGroup,
			Visibility:   store.VisibilityPrivate,
			Code:         chatCode,
			CreatedBy:    sess.user.ID,
			Participants: []string{sess.user.ID},
		})
		if err == nil {
			chatRoomID = chatRoom.ID
			chatRoomCode = chatRoom.Code
		}
		// A failed linked-chat-room creation is non-fatal to video room
		// creation; the video call can still proceed without companion chat.
	}

	room, err := e.store.CreateVideoRoom(ctx, store.VideoRoom{
		Name:            req.Name,
		Description:     req.Description,
		HostID:          sess.user.ID,
		Participants:    []string{},
		MaxParticipants: defaultMaxParticipants,
		Visibility:      store.VisibilityPublic,
		Code:            code,
		ChatRoomID:      chatRoomID,
		ChatRoomCode:    chatRoomCode,
	})
	if err != nil {
		return storeErr(err)
	}

	socketID := newSocketID()
	room, err = e.store.AddVideoParticipant(ctx, room.ID, store.VideoParticipant{
		UserID:        sess.user.ID,
		SocketID:      socketID,
		DisplayName:   sess.user.DisplayName,
		Email:         sess.user.Email,
		AudioEnabled:  true,
		VideoEnabled:  true,
		ScreenSharing: false,
	})
	if err != nil {
		return storeErr(err)
	}

	sess.setSocketID(socketID)
	e.subscribe(sess, room.ID)

	e.publishEvent(ctx, "video_events.room_created", sess.ws.Info.RequestID, map[string]any{
		"roomId": room.ID,
		"hostId": room.HostID,
	})

	return sess.ws.Send(EventRoomCreated, toRoomView(room))
}

type joinRoomPayload struct {
	RoomID string `json:"roomId"`
	Code   string `json:"code"`
}

func (e *Engine) handleJoinRoom(ctx context.Context, sess *session, raw json.RawMessage) error {
	var req joinRoomPayload
	if err := json.Unmarshal(raw, &req); err != nil {
		return ErrValidation
	}

	var (
		room store.VideoRoom
		err  error
	)
	switch {
	case strings.TrimSpace(req.Code) != "":
		normalized, ok := normalizeCode(req.Code)
		if !ok {
			return ErrValidation
		}
		room, err = e.store.GetVideoRoomByCode(ctx, normalized)
	case strings.TrimSpace(req.RoomID) != "":
		room, err = e.store.GetVideoRoom(ctx, req.RoomID)
	default:
		return ErrValidation
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrRoomNotFound
		}
		return storeErr(err)
	}

	if room.HasParticipant(sess.user.ID) {
		// Rejoin: a new session for an already-listed userID (reconnect).
		// Rotate the stored socketId onto this session so a subsequent
		// targeted relay reaches the new connection, not a stale one that
		// may not have disconnected yet.
		socketID := newSocketID()
		if _, err := e.store.UpdateVideoParticipant(ctx, room.ID, sess.user.ID, func(p *store.VideoParticipant) {
			p.SocketID = socketID
		}); err != nil {
			return storeErr(err)
		}
		sess.setSocketID(socketID)
		e.subscribe(sess, room.ID)
		return sess.ws.Send(EventRoomJoined, e.joinedView(ctx, room))
	}

	if len(room.Participants) >= room.MaxParticipants {
		e.publishEvent(ctx, "video_events.capacity_rejected", sess.ws.Info.RequestID, map[string]any{
			"roomId": room.ID,
			"userId": sess.user.ID,
		})
		return ErrRoomFull
	}

	socketID := newSocketID()
	newParticipant := store.VideoParticipant{
		UserID:        sess.user.ID,
		SocketID:      socketID,
		DisplayName:   sess.user.DisplayName,
		Email:         sess.user.Email,
		AudioEnabled:  true,
		VideoEnabled:  true,
		ScreenSharing: false,
	}
	room, err = e.store.AddVideoParticipant(ctx, room.ID, newParticipant)
	if err != nil {
		if errors.Is(err, store.ErrRoomFull) {
			e.publishEvent(ctx, "video_events.capacity_rejected", sess.ws.Info.RequestID, map[string]any{
				"roomId": room.ID,
				"userId": sess.user.ID,
			})
			return ErrRoomFull
		}
		return storeErr(err)
	}
	sess.setSocketID(socketID)

	if room.ChatRoomID != "" {
		// Best effort: a joiner who can't be added to the companion chat
		// room still gets their video call.
		_, _ = e.store.AddChatParticipant(ctx, room.ChatRoomID, sess.user.ID)
	}

	e.subscribe(sess, room.ID)

	e.broadcastRoom(room.ID, sess.ws.Info.SessionID, EventUserJoined, toParticipantView(newParticipant))

	return sess.ws.Send(EventRoomJoined, e.joinedView(ctx, room))
}

// joinedPayload is the wire shape of "video:room:joined" (spec §4.4.2): the
// room plus the full current participant snapshot, which is what lets the
// joiner initiate a peer connection to every existing participant without
// a further round-trip.
type joinedPayload struct {
	RoomView
	Participants []ParticipantView `json:"participantDetails"`
}

func (e *Engine) joinedView(ctx context.Context, room store.VideoRoom) joinedPayload {
	participants, err := e.store.ListVideoParticipants(ctx, room.ID)
	if err != nil {
		return joinedPayload{RoomView: toRoomView(room)}
	}
	views := make([]ParticipantView, 0, len(participants))
	for _, p := range participants {
		views = append(views, toParticipantView(p))
	}
	return joinedPayload{RoomView: toRoomView(room), Participants: views}
}

type leaveRoomPayload struct {
	RoomID string `json:"roomId"`
}

func (e *Engine) handleLeaveRoom(ctx context.Context, sess *session, raw json.RawMessage) error {
	var req leaveRoomPayload
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &req)
	}
	roomID := req.RoomID
	if roomID == "" {
		roomID = sess.currentRoom()
	}
	if roomID == "" {
		return nil
	}
	e.leaveRoom(ctx, sess, roomID)
	return sess.ws.Send(EventRoomLeft, map[string]string{"roomId": roomID})
}

// leaveRoom is idempotent: leaving a room this session is not subscribed
// to is a no-op.
func (e *Engine) leaveRoom(ctx context.Context, sess *session, roomID string) {
	e.mu.RLock()
	_, subscribed := e.roomSubs[roomID][sess.ws.Info.SessionID]
	e.mu.RUnlock()
	if !subscribed {
		return
	}
	e.unsubscribe(sess, roomID)
	if _, err := e.store.RemoveVideoParticipant(ctx, roomID, sess.user.ID); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return
		}
	}
	e.broadcastRoom(roomID, sess.ws.Info.SessionID, EventUserLeft, map[string]string{"userId": sess.user.ID})
}

type endRoomPayload struct {
	RoomID string `json:"roomId"`
}

func (e *Engine) handleEndRoom(ctx context.Context, sess *session, raw json.RawMessage) error {
	var req endRoomPayload
	if err := json.Unmarshal(raw, &req); err != nil {
		return ErrValidation
	}
	if req.RoomID == "" {
		return ErrValidation
	}

	room, err := e.store.GetVideoRoom(ctx, req.RoomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Unknown room: nothing to end, and the call is silent. An
			// ended room keeps its record (only its participants are
			// removed), so a repeated end by the host is handled below.
			return nil
		}
		return storeErr(err)
	}
	if room.HostID != sess.user.ID {
		return ErrUnauthorized
	}

	if err := e.store.DeleteVideoParticipants(ctx, room.ID); err != nil {
		return storeErr(err)
	}

	e.publishEvent(ctx, "video_events.room_ended", sess.ws.Info.RequestID, map[string]any{
		"roomId": room.ID,
		"hostId": room.HostID,
	})

	subs := e.subscribersOf(room.ID)
	for _, s := range subs {
		go e.deliverOne(s, EventRoomEnded, map[string]string{"roomId": room.ID})
	}
	for _, s := range subs {
		e.unsubscribe(s, room.ID)
	}
	return nil
}

func toParticipantView(p store.VideoParticipant) ParticipantView {
	return ParticipantView{
		UserID:        p.UserID,
		SocketID:      p.SocketID,
		DisplayName:   p.DisplayName,
		Email:         p.Email,
		AudioEnabled:  p.AudioEnabled,
		VideoEnabled:  p.VideoEnabled,
		ScreenSharing: p.ScreenSharing,
	}
}

func toRoomView(room store.VideoRoom) RoomView {
	return RoomView{
		ID:              room.ID,
		Name:            room.Name,
		Description:     room.Description,
		HostID:          room.HostID,
		Participants:    room.Participants,
		MaxParticipants: room.MaxParticipants,
		Visibility:      string(room.Visibility),
		Code:            room.Code,
		ChatRoomID:      room.ChatRoomID,
		ChatRoomCode:    room.ChatRoomCode,
	}
}

func storeErr(err error) error {
	if errors.Is(err, store.ErrUnavailable) || errors.Is(err, store.ErrTimeout) {
		return ErrStoreUnavailable
	}
	return newErr("VALIDATION_ERROR", err.Error())
}
