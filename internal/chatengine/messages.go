package chatengine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/relaymesh/conclave/internal/store"
)

type sendMessagePayload struct {
	RoomID   string         `json:"roomId"`
	Content  string         `json:"content"`
	Kind     string         `json:"kind"`
	Metadata map[string]any `json:"metadata"`
}

func (e *Engine) handleSendMessage(ctx context.Context, sess *session, raw json.RawMessage) error {
	var req sendMessagePayload
	if err := json.Unmarshal(raw, &req); err != nil {
		return ErrValidation
	}
	if strings.TrimSpace(req.Content) == "" || strings.TrimSpace(req.RoomID) == "" {
		return ErrValidation
	}

	room, err := e.store.GetChatRoom(ctx, req.RoomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrRoomNotFound
		}
		return storeErr(err)
	}
	if !room.HasParticipant(sess.user.ID) {
		return ErrNotParticipant
	}

	kind := store.MessageKind(req.Kind)
	switch kind {
	case "":
		kind = store.MessageKindText
	case store.MessageKindText, store.MessageKindImage, store.MessageKindFile, store.MessageKindSystem:
	default:
		return ErrValidation
	}

	msg, err := e.store.CreateChatMessage(ctx, store.ChatMessage{
		RoomID:       req.RoomID,
		SenderID:     sess.user.ID,
		SenderName:   sess.user.DisplayName,
		SenderAvatar: sess.user.AvatarURL,
		Content:      req.Content,
		Kind:         kind,
		Metadata:     req.Metadata,
	})
	if err != nil {
		return storeErr(err)
	}
	if err := e.store.TouchChatRoom(ctx, req.RoomID); err != nil {
		// room touch is a freshness hint for listing order, not a
		// correctness requirement for the send itself.
	}
	e.cache.invalidateRoom(req.RoomID)

	view := toMessageView(msg)
	_ = sess.ws.Send(EventMessageNew, view)
	e.broadcastRoom(req.RoomID, sess.ws.Info.SessionID, EventMessageNew, view)
	return nil
}

type getMessagesPayload struct {
	RoomID string `json:"roomId"`
	Limit  *int   `json:"limit"`
	Cursor string `json:"cursor"`
}

func (e *Engine) handleGetMessages(ctx context.Context, sess *session, raw json.RawMessage) error {
	var req getMessagesPayload
	if err := json.Unmarshal(raw, &req); err != nil {
		return ErrValidation
	}
	room, err := e.store.GetChatRoom(ctx, req.RoomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrRoomNotFound
		}
		return storeErr(err)
	}
	if !room.HasParticipant(sess.user.ID) {
		return ErrNotParticipant
	}

	limit := 50
	if req.Limit != nil {
		limit = *req.Limit
	}
	if limit < 0 {
		return ErrValidation
	}

	var cursor *store.Cursor
	if req.Cursor != "" {
		decoded, err := store.DecodeCursor(req.Cursor)
		if err != nil {
			return ErrValidation
		}
		cursor = &decoded
	}

	if limit == 0 {
		_ = sess.ws.Send(EventMessagesList, map[string]any{"roomId": req.RoomID, "messages": []MessageView{}})
		return nil
	}

	msgs, err := e.store.ListChatMessages(ctx, req.RoomID, limit, cursor)
	if err != nil {
		return storeErr(err)
	}

	// msgs arrives newest-first (store contract); return chronological
	// (ascending) order per spec §4.3.4.
	views := toMessageViews(msgs)
	for i, j := 0, len(views)-1; i < j; i, j = i+1, j-1 {
		views[i], views[j] = views[j], views[i]
	}
	_ = sess.ws.Send(EventMessagesList, map[string]any{"roomId": req.RoomID, "messages": views})
	return nil
}
