package chatengine

import (
	"time"

	"github.com/relaymesh/conclave/internal/store"
)

func toRoomView(room store.ChatRoom, redactCode bool) RoomView {
	code := room.Code
	if redactCode {
		code = ""
	}
	return RoomView{
		ID:           room.ID,
		Name:         room.Name,
		Description:  room.Description,
		Kind:         string(room.Kind),
		Visibility:   string(room.Visibility),
		Code:         code,
		Participants: room.Participants,
		CreatedBy:    room.CreatedBy,
		CreatedAt:    room.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:    room.UpdatedAt.Format(time.RFC3339Nano),
		VideoRoomID:  room.VideoRoomID,
	}
}

func toRoomViews(rooms []store.ChatRoom, redactCode func(store.ChatRoom) bool) []RoomView {
	out := make([]RoomView, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, toRoomView(r, redactCode(r)))
	}
	return out
}

func toMessageView(msg store.ChatMessage) MessageView {
	return MessageView{
		ID:           msg.ID,
		RoomID:       msg.RoomID,
		SenderID:     msg.SenderID,
		SenderName:   msg.SenderName,
		SenderAvatar: msg.SenderAvatar,
		Content:      msg.Content,
		Kind:         string(msg.Kind),
		Timestamp:    msg.Timestamp.Format(time.RFC3339Nano),
		Metadata:     msg.Metadata,
	}
}

func toMessageViews(msgs []store.ChatMessage) []MessageView {
	out := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageView(m))
	}
	return out
}
