package chatengine

// Client→server event names (spec §4.3.5).
const (
	EventRoomCreate     = "room:create"
	EventRoomJoin       = "room:join"
	EventRoomJoinByCode = "room:join-by-code"
	EventRoomLeave      = "room:leave"
	EventRoomGet        = "room:get"
	EventMessageSend    = "message:send"
	EventMessagesGet    = "messages:get"
)

// Server→client event names (spec §4.3.5).
const (
	EventRoomsList      = "rooms:list"
	EventRoomCreated    = "room:created"
	EventRoomJoined     = "room:joined"
	EventRoomLeft       = "room:left"
	EventRoomDetails    = "room:details"
	EventRoomUserJoined = "room:user-joined"
	EventRoomUserLeft   = "room:user-left"
	EventMessageNew     = "message:new"
	EventMessagesList   = "messages:list"
	EventUserOnline     = "user:online"
	EventUserOffline    = "user:offline"
	EventError          = "error"
)

// RoomView is the wire representation of a ChatRoom. Code is redacted
// (empty) for non-participants viewing a public room, per §4.3.4 "Get room".
type RoomView struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Kind         string   `json:"kind"`
	Visibility   string   `json:"visibility"`
	Code         string   `json:"code,omitempty"`
	Participants []string `json:"participants"`
	CreatedBy    string   `json:"createdBy"`
	CreatedAt    string   `json:"createdAt"`
	UpdatedAt    string   `json:"updatedAt"`
	VideoRoomID  string   `json:"videoRoomId,omitempty"`
}

// MessageView is the wire representation of a ChatMessage.
type MessageView struct {
	ID           string         `json:"id"`
	RoomID       string         `json:"roomId"`
	SenderID     string         `json:"senderId"`
	SenderName   string         `json:"senderName,omitempty"`
	SenderAvatar string         `json:"senderAvatar,omitempty"`
	Content      string         `json:"content"`
	Kind         string         `json:"kind"`
	Timestamp    string         `json:"timestamp"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}
