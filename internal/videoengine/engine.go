// Package videoengine implements the video signaling engine (spec §4.4):
// WebRTC offer/answer/ICE relay, per-participant media-state tracking,
// screen-share renegotiation hints, capacity enforcement, and host-only
// termination.
//
// Grounded on the same internal/ws/hub.go registry pattern the chat engine
// generalizes (see internal/chatengine), here specialized to one room per
// session instead of many, since a video session only ever occupies one
// call at a time.
package videoengine

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaymesh/conclave/internal/identity"
	"github.com/relaymesh/conclave/internal/observability"
	"github.com/relaymesh/conclave/internal/store"
	"github.com/relaymesh/conclave/internal/telemetry"
	"github.com/relaymesh/conclave/internal/wsproto"
)

const backendName = "video"

const defaultMaxParticipants = 8

// signalDedupWindow is the width of the duplicate-suppression window
// applied to signaling relay when VIDEO_SIGNAL_DEDUP=true.
const signalDedupWindow = 5 * time.Second

type session struct {
	ws   *wsproto.Session
	user identity.User

	mu       sync.Mutex
	roomID   string
	socketID string
}

func (s *session) currentRoom() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

func (s *session) setRoom(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomID = roomID
}

func (s *session) currentSocketID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.socketID
}

func (s *session) setSocketID(socketID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.socketID = socketID
}

// Engine is the video signaling engine.
type Engine struct {
	store         store.Store
	audit         *telemetry.AuditEmitter
	publisher     observability.Publisher
	fanOutTimeout time.Duration
	signalDedup   bool

	mu       sync.RWMutex
	sessions map[string]*session
	roomSubs map[string]map[string]*session

	dedupeMu sync.Mutex
	recent   map[string]time.Time
}

// New constructs a video Engine. publisher may be nil, in which case
// domain-event publication (video_events.*) is a no-op; injecting it as a
// constructor capability (spec §9 DESIGN NOTES, "inject as capabilities ...
// so tests can substitute fakes") rather than a package-level global lets
// tests observe published events without a live AMQP broker.
func New(st store.Store, audit *telemetry.AuditEmitter, publisher observability.Publisher, fanOutTimeout time.Duration, signalDedup bool) *Engine {
	return &Engine{
		store:         st,
		audit:         audit,
		publisher:     publisher,
		fanOutTimeout: fanOutTimeout,
		signalDedup:   signalDedup,
		sessions:      make(map[string]*session),
		roomSubs:      make(map[string]map[string]*session),
		recent:        make(map[string]time.Time),
	}
}

// isDuplicateSignal reports whether key was already seen within
// signalDedupWindow, and records it if not. A no-op returning false when
// dedup is disabled. Grounded on spec.md's "optional profile" duplicate-
// suppression language: a flaky client that retransmits the same signal
// envelope before receiving an ack must not have it relayed twice.
func (e *Engine) isDuplicateSignal(key string) bool {
	if !e.signalDedup {
		return false
	}
	now := time.Now()
	e.dedupeMu.Lock()
	defer e.dedupeMu.Unlock()
	for k, seenAt := range e.recent {
		if now.Sub(seenAt) >= signalDedupWindow {
			delete(e.recent, k)
		}
	}
	if seenAt, ok := e.recent[key]; ok && now.Sub(seenAt) < signalDedupWindow {
		return true
	}
	e.recent[key] = now
	return false
}

// publishEvent forwards a domain event to the injected Publisher, isolating
// its callers from the case where none was configured. The message is
// wrapped in the shared observability.EventEnvelope shape and stamped with
// a request-id/trace-id header pair built via observability.BuildHeaders,
// matching the gateway's own domain-event publication.
func (e *Engine) publishEvent(ctx context.Context, routingKey, requestID string, message any) {
	if e.publisher == nil {
		return
	}
	envelope := observability.EventEnvelope{
		EventType: "domain_event",
		EventName: routingKey,
		Payload:   message,
	}
	headers := observability.BuildHeaders(requestID, observability.TraceIDFromContext(ctx))
	if err := e.publisher.PublishJSON(ctx, routingKey, envelope, headers); err != nil {
		observability.IncAMQPPublishError()
	}
}

// Connect registers a new session. If the connection did not authenticate,
// the caller passes the anonymous descriptor synthesized by
// internal/session.Anonymous (spec §4.4.1).
func (e *Engine) Connect(ws *wsproto.Session, user identity.User) {
	sess := &session{ws: ws, user: user}
	e.mu.Lock()
	e.sessions[ws.Info.SessionID] = sess
	e.mu.Unlock()
	observability.IncWSActive(backendName)
	e.audit.Emit(context.Background(), "info", "video session connected", ws.Info.RequestID, &user.ID)
}

// Disconnect unwinds a session that leaves without an explicit
// video:room:leave: it behaves as an implicit leave of its current room.
func (e *Engine) Disconnect(sessionID string) {
	e.mu.Lock()
	sess, ok := e.sessions[sessionID]
	if ok {
		delete(e.sessions, sessionID)
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	observability.DecWSActive(backendName)
	e.audit.Emit(context.Background(), "info", "video session disconnected", sess.ws.Info.RequestID, &sess.user.ID)

	roomID := sess.currentRoom()
	if roomID != "" {
		e.leaveRoom(context.Background(), sess, roomID)
	}
}

// Dispatch routes one decoded envelope to the matching operation (spec
// §4.4.5), translating any AppError into a client-visible error event.
func (e *Engine) Dispatch(ctx context.Context, sessionID string, env wsproto.Envelope) {
	e.mu.RLock()
	sess, ok := e.sessions[sessionID]
	e.mu.RUnlock()
	if !ok {
		return
	}

	observability.IncWSEvent(backendName, env.Event)

	var err error
	switch env.Event {
	case EventRoomCreate:
		err = e.handleCreateRoom(ctx, sess, env.Payload)
	case EventRoomJoin:
		err = e.handleJoinRoom(ctx, sess, env.Payload)
	case EventRoomLeave:
		err = e.handleLeaveRoom(ctx, sess, env.Payload)
	case EventRoomEnd:
		err = e.handleEndRoom(ctx, sess, env.Payload)
	case EventSignal:
		err = e.handleSignal(ctx, sess, env.Payload)
	case EventToggleAudio:
		err = e.handleToggle(ctx, sess, env.Payload, "audio")
	case EventToggleVideo:
		err = e.handleToggle(ctx, sess, env.Payload, "video")
	case EventToggleScreen:
		err = e.handleToggle(ctx, sess, env.Payload, "screen")
	case EventScreenStart:
		err = e.handleScreenStart(ctx, sess, env.Payload)
	case EventScreenStop:
		err = e.handleScreenStop(ctx, sess, env.Payload)
	case EventStreamReady:
		err = e.handleStreamReady(ctx, sess, env.Payload)
	default:
		return
	}
	if err != nil {
		e.sendErr(sess, err)
	}
}

func (e *Engine) sendErr(sess *session, err error) {
	code := "VALIDATION_ERROR"
	message := err.Error()
	if appErr, ok := err.(*AppError); ok {
		code = appErr.Code
		message = appErr.Message
	}
	if sendErr := sess.ws.Send(EventError, errorPayload{Message: message, Code: code}); sendErr != nil {
		log.Printf("videoengine: failed to deliver error to session=%s: %v", sess.ws.Info.ConnID, sendErr)
	}
}

func (e *Engine) subscribe(sess *session, roomID string) {
	e.mu.Lock()
	subs, ok := e.roomSubs[roomID]
	if !ok {
		subs = make(map[string]*session)
		e.roomSubs[roomID] = subs
	}
	subs[sess.ws.Info.SessionID] = sess
	e.mu.Unlock()
	sess.setRoom(roomID)
}

func (e *Engine) unsubscribe(sess *session, roomID string) {
	e.mu.Lock()
	if subs, ok := e.roomSubs[roomID]; ok {
		delete(subs, sess.ws.Info.SessionID)
		if len(subs) == 0 {
			delete(e.roomSubs, roomID)
		}
	}
	e.mu.Unlock()
	sess.setRoom("")
}

func (e *Engine) subscribersOf(roomID string) []*session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	subs := e.roomSubs[roomID]
	out := make([]*session, 0, len(subs))
	for _, s := range subs {
		out = append(out, s)
	}
	return out
}

// broadcastRoom delivers on the caller's goroutine, so each subscriber
// receives broadcasts in the order the engine emits them; Send only
// enqueues (bounded by sendWait), and a failed send is logged without
// stopping delivery to the others.
func (e *Engine) broadcastRoom(roomID, excludeSessionID, event string, payload any) {
	for _, s := range e.subscribersOf(roomID) {
		if s.ws.Info.SessionID == excludeSessionID {
			continue
		}
		e.deliverOne(s, event, payload)
	}
}

func (e *Engine) deliverOne(s *session, event string, payload any) {
	if err := s.ws.Send(event, payload); err != nil {
		log.Printf("videoengine: fan-out send failed session=%s event=%s: %v", s.ws.Info.ConnID, event, err)
	}
}

// findSession resolves a targeted-relay recipient the way spec §4.4.3
// requires: look up the target's VideoParticipant record to obtain its
// current socketId, then deliver to exactly the live session carrying that
// socketId — never to "whichever session matches this userID", which would
// be ambiguous while an old and a new session for the same reconnecting
// user briefly coexist in the same room.
func (e *Engine) findSession(ctx context.Context, roomID, userID string) (*session, bool) {
	participant, err := e.store.GetVideoParticipant(ctx, roomID, userID)
	if err != nil {
		return nil, false
	}
	for _, s := range e.subscribersOf(roomID) {
		if s.currentSocketID() == participant.SocketID {
			return s, true
		}
	}
	return nil, false
}

func newSocketID() string {
	return uuid.NewString()
}
