package videoengine

// Client→server event names (spec §4.4.5).
const (
	EventRoomCreate   = "video:room:create"
	EventRoomJoin     = "video:room:join"
	EventRoomLeave    = "video:room:leave"
	EventRoomEnd      = "video:room:end"
	EventSignal       = "video:signal"
	EventToggleAudio  = "video:toggle-audio"
	EventToggleVideo  = "video:toggle-video"
	EventToggleScreen = "video:toggle-screen"
	EventScreenStart  = "video:screen:start"
	EventScreenStop   = "video:screen:stop"
	EventStreamReady  = "video:stream:ready"
)

// Server→client event names (spec §4.4.5).
const (
	EventRoomCreated           = "video:room:created"
	EventRoomJoined            = "video:room:joined"
	EventRoomLeft              = "video:room:left"
	EventRoomEnded             = "video:room:ended"
	EventUserJoined            = "video:user:joined"
	EventUserLeft              = "video:user:left"
	EventAudioToggled          = "video:audio:toggled"
	EventVideoToggled          = "video:video:toggled"
	EventScreenToggled         = "video:screen:toggled"
	EventScreenStarted         = "video:screen:started"
	EventScreenStopped         = "video:screen:stopped"
	EventScreenNegotiationNeed = "video:screen:negotiation:needed"
	EventError                 = "error"
)

type errorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ParticipantView is the wire snapshot of a VideoParticipant (spec §4.4.2
// "video:room:joined" payload: userId, socketId, names, flags).
type ParticipantView struct {
	UserID        string `json:"userId"`
	SocketID      string `json:"socketId"`
	DisplayName   string `json:"displayName,omitempty"`
	Email         string `json:"email,omitempty"`
	AudioEnabled  bool   `json:"audioEnabled"`
	VideoEnabled  bool   `json:"videoEnabled"`
	ScreenSharing bool   `json:"screenSharing"`
}

// RoomView is the wire representation of a VideoRoom.
type RoomView struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Description     string   `json:"description,omitempty"`
	HostID          string   `json:"hostId"`
	Participants    []string `json:"participants"`
	MaxParticipants int      `json:"maxParticipants"`
	Visibility      string   `json:"visibility"`
	Code            string   `json:"code"`
	ChatRoomID      string   `json:"chatRoomId,omitempty"`
	ChatRoomCode    string   `json:"chatRoomCode,omitempty"`
}
