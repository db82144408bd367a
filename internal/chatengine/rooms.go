package chatengine

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/relaymesh/conclave/internal/store"
)

type createRoomPayload struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Kind         string   `json:"kind"`
	Visibility   string   `json:"visibility"`
	Participants []string `json:"participants"`
}

func (e *Engine) handleCreateRoom(ctx context.Context, sess *session, raw json.RawMessage) error {
	var req createRoomPayload
	if err := json.Unmarshal(raw, &req); err != nil {
		return ErrValidation
	}
	if strings.TrimSpace(req.Name) == "" {
		return ErrValidation
	}
	kind := store.RoomKind(req.Kind)
	switch kind {
	case store.RoomKindDirect, store.RoomKindGroup, store.RoomKindChannel:
	default:
		return ErrValidation
	}
	visibility := store.Visibility(req.Visibility)
	switch visibility {
	case store.VisibilityPublic, store.VisibilityPrivate:
	default:
		return ErrValidation
	}

	participants := dedupeWith(req.Participants, sess.user.ID)

	var code string
	if visibility == store.VisibilityPrivate {
		generated, err := generateRoomCode(ctx, e.store.ChatRoomCodeExists)
		if err != nil {
			return err
		}
		code = generated
	}

	room, err := e.store.CreateChatRoom(ctx, store.ChatRoom{
		Name:         req.Name,
		Description:  req.Description,
		Kind:         kind,
		Visibility:   visibility,
		Code:         code,
		Participants: participants,
		CreatedBy:    sess.user.ID,
	})
	if err != nil {
		return storeErr(err)
	}

	e.cache.invalidateRoom(room.ID)
	e.subscribeSessionToRoom(sess, room.ID)

	_ = sess.ws.Send(EventRoomCreated, toRoomView(room, false))
	if visibility == store.VisibilityPublic {
		e.broadcastAll(sess.ws.Info.SessionID, EventRoomCreated, toRoomView(room, true))
	}
	return nil
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
	if strings.TrimSpace(req.RoomID) == "" {
		return ErrValidation
	}
	room, err := e.store.GetChatRoom(ctx, req.RoomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrRoomNotFound
		}
		return storeErr(err)
	}
	return e.joinRoom(ctx, sess, room, req.Code)
}

type joinByCodePayload struct {
	Code string `json:"code"`
}

func (e *Engine) handleJoinByCode(ctx context.Context, sess *session, raw json.RawMessage) error {
	var req joinByCodePayload
	if err := json.Unmarshal(raw, &req); err != nil {
		return ErrValidation
	}
	code, ok := normalizeCode(req.Code)
	if !ok {
		return ErrInvalidCodeFormat
	}
	room, err := e.store.GetChatRoomByCode(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrRoomNotFound
		}
		return storeErr(err)
	}
	if room.Visibility != store.VisibilityPrivate {
		return ErrNotPrivateRoom
	}
	return e.joinRoom(ctx, sess, room, code)
}

func (e *Engine) joinRoom(ctx context.Context, sess *session, room store.ChatRoom, suppliedCode string) error {
	if room.Visibility == store.VisibilityPrivate && !room.HasParticipant(sess.user.ID) {
		if strings.TrimSpace(suppliedCode) == "" {
			return ErrCodeRequired
		}
		if strings.ToUpper(strings.TrimSpace(suppliedCode)) != strings.ToUpper(room.Code) {
			return ErrInvalidCode
		}
	}

	if !room.HasParticipant(sess.user.ID) {
		updated, err := e.store.AddChatParticipant(ctx, room.ID, sess.user.ID)
		if err != nil {
			return storeErr(err)
		}
		room = updated
		e.cache.invalidateRoom(room.ID)
	}

	alreadySubscribed := sess.isSubscribed(room.ID)
	e.subscribeSessionToRoom(sess, room.ID)

	if !alreadySubscribed {
		e.broadcastRoom(room.ID, sess.ws.Info.SessionID, EventRoomUserJoined, map[string]string{
			"roomId": room.ID,
			"userId": sess.user.ID,
		})
	}
	_ = sess.ws.Send(EventRoomJoined, toRoomView(room, false))
	return nil
}

type leaveRoomPayload struct {
	RoomID string `json:"roomId"`
}

func (e *Engine) handleLeaveRoom(ctx context.Context, sess *session, raw json.RawMessage) error {
	var req leaveRoomPayload
	if err := json.Unmarshal(raw, &req); err != nil {
		return ErrValidation
	}
	e.unsubscribeSessionFromRoom(sess, req.RoomID)
	e.broadcastRoom(req.RoomID, sess.ws.Info.SessionID, EventRoomUserLeft, map[string]string{
		"roomId": req.RoomID,
		"userId": sess.user.ID,
	})
	_ = sess.ws.Send(EventRoomLeft, map[string]string{"roomId": req.RoomID})
	return nil
}

type getRoomPayload struct {
	RoomID string `json:"roomId"`
}

func (e *Engine) handleGetRoom(ctx context.Context, sess *session, raw json.RawMessage) error {
	var req getRoomPayload
	if err := json.Unmarshal(raw, &req); err != nil {
		return ErrValidation
	}
	room, err := e.fetchRoom(ctx, req.RoomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrRoomNotFound
		}
		return storeErr(err)
	}
	if room.HasParticipant(sess.user.ID) {
		_ = sess.ws.Send(EventRoomDetails, toRoomView(room, false))
		return nil
	}
	if room.Visibility == store.VisibilityPublic {
		_ = sess.ws.Send(EventRoomDetails, toRoomView(room, true))
		return nil
	}
	return ErrNotParticipant
}

func (e *Engine) fetchRoom(ctx context.Context, roomID string) (store.ChatRoom, error) {
	if room, ok := e.cache.getRoom(roomID); ok {
		return room, nil
	}
	room, err := e.store.GetChatRoom(ctx, roomID)
	if err != nil {
		return store.ChatRoom{}, err
	}
	e.cache.setRoom(room)
	return room, nil
}

// listRoomsFor composes the visible room set for a user (spec §4.3.3):
// every public room, plus every private room the user participates in,
// deduplicated by id and sorted by updatedAt descending.
func (e *Engine) listRoomsFor(ctx context.Context, userID string) ([]RoomView, error) {
	public, ok := e.cache.getPublic()
	if !ok {
		fetched, err := e.store.ListPublicChatRooms(ctx)
		if err != nil {
			return nil, storeErr(err)
		}
		e.cache.setPublic(fetched)
		public = fetched
	}

	private, err := e.store.ListPrivateChatRoomsForUser(ctx, userID)
	if err != nil {
		return nil, storeErr(err)
	}

	merged := make(map[string]store.ChatRoom, len(public)+len(private))
	for _, r := range public {
		merged[r.ID] = r
	}
	for _, r := range private {
		merged[r.ID] = r
	}
	rooms := make([]store.ChatRoom, 0, len(merged))
	for _, r := range merged {
		rooms = append(rooms, r)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].UpdatedAt.After(rooms[j].UpdatedAt) })

	return toRoomViews(rooms, func(r store.ChatRoom) bool {
		return !r.HasParticipant(userID)
	}), nil
}

func dedupeWith(participants []string, extra string) []string {
	seen := map[string]bool{extra: true}
	out := []string{extra}
	for _, p := range participants {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

func storeErr(err error) error {
	if errors.Is(err, store.ErrUnavailable) || errors.Is(err, store.ErrTimeout) {
		return ErrStoreUnavailable
	}
	return newErr("VALIDATION_ERROR", err.Error())
}
