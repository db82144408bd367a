// Package chatengine implements the chat realtime engine (spec §4.3):
// authenticated duplex sessions, per-room membership, fan-out message
// delivery, presence tracking across multiple sessions per identity,
// private-room code issuance, and a read-through cache over the Store.
//
// Grounded on the teacher's internal/ws/hub.go (room→connection registry
// guarded by a single RWMutex, per-subscriber broadcast that isolates a
// single failing write) generalized from a flat `map[int]map[*Conn]bool`
// into a presence-aware registry keyed by string user/session ids.
package chatengine

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/relaymesh/conclave/internal/identity"
	"github.com/relaymesh/conclave/internal/observability"
	"github.com/relaymesh/conclave/internal/store"
	"github.com/relaymesh/conclave/internal/telemetry"
	"github.com/relaymesh/conclave/internal/wsproto"
)

const backendName = "chat"

// session is this engine's view of a connected duplex session: the
// transport plus the set of rooms it currently subscribes to.
type session struct {
	ws   *wsproto.Session
	user identity.User

	mu         sync.Mutex
	subscribed map[string]bool
}

func (s *session) isSubscribed(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribed[roomID]
}

func (s *session) subscribe(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed[roomID] = true
}

func (s *session) unsubscribe(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribed, roomID)
}

func (s *session) subscribedRoomIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.subscribed))
	for id := range s.subscribed {
		out = append(out, id)
	}
	return out
}

// Engine is the chat realtime engine. One Engine instance serves every
// connected session of the process.
type Engine struct {
	store         store.Store
	audit         *telemetry.AuditEmitter
	fanOutTimeout time.Duration

	mu       sync.RWMutex
	sessions map[string]*session            // sessionID -> session
	presence map[string]map[string]struct{} // userID -> set of sessionID
	roomSubs map[string]map[string]*session // roomID -> sessionID -> session

	cache *roomCache
}

// New constructs a chat Engine.
func New(st store.Store, audit *telemetry.AuditEmitter, fanOutTimeout, cacheTTL time.Duration) *Engine {
	return &Engine{
		store:         st,
		audit:         audit,
		fanOutTimeout: fanOutTimeout,
		sessions:      make(map[string]*session),
		presence:      make(map[string]map[string]struct{}),
		roomSubs:      make(map[string]map[string]*session),
		cache:         newRoomCache(cacheTTL),
	}
}

// Connect registers a newly authenticated session (spec §4.3.1 steps 1-3):
// adds it to the presence map, broadcasts user:online if it is the first
// session for this user, and sends the initial room list.
func (e *Engine) Connect(ctx context.Context, ws *wsproto.Session, user identity.User) {
	sess := &session{ws: ws, user: user, subscribed: make(map[string]bool)}

	e.mu.Lock()
	e.sessions[ws.Info.SessionID] = sess
	set, ok := e.presence[user.ID]
	firstSession := !ok || len(set) == 0
	if !ok {
		set = make(map[string]struct{})
		e.presence[user.ID] = set
	}
	set[ws.Info.SessionID] = struct{}{}
	e.mu.Unlock()

	observability.IncWSActive(backendName)
	e.audit.Emit(ctx, "info", "chat session connected", ws.Info.RequestID, &user.ID)

	if firstSession {
		e.broadcastAll(ws.Info.SessionID, EventUserOnline, map[string]string{"userId": user.ID})
	}

	rooms, err := e.listRoomsFor(ctx, user.ID)
	if err != nil {
		e.sendErr(sess, err)
		return
	}
	_ = sess.ws.Send(EventRoomsList, rooms)
}

// Disconnect tears down a session's bookkeeping (spec §4.3.1 step 5):
// unsubscribes it from every room, removes it from presence, and
// broadcasts user:offline once the user has no more live sessions.
func (e *Engine) Disconnect(sessionID string) {
	e.mu.Lock()
	sess, ok := e.sessions[sessionID]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.sessions, sessionID)
	for _, subs := range e.roomSubs {
		delete(subs, sessionID)
	}
	var becameEmpty bool
	if set, ok := e.presence[sess.user.ID]; ok {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(e.presence, sess.user.ID)
			becameEmpty = true
		}
	}
	e.mu.Unlock()

	observability.DecWSActive(backendName)
	e.audit.Emit(context.Background(), "info", "chat session disconnected", sess.ws.Info.RequestID, &sess.user.ID)

	if becameEmpty {
		e.broadcastAll(sessionID, EventUserOffline, map[string]string{"userId": sess.user.ID})
	}
}

// Dispatch routes one decoded envelope to the matching operation (spec
// §4.3.5), translating any AppError into a client-visible error event.
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
	case EventRoomJoinByCode:
		err = e.handleJoinByCode(ctx, sess, env.Payload)
	case EventRoomLeave:
		err = e.handleLeaveRoom(ctx, sess, env.Payload)
	case EventRoomGet:
		err = e.handleGetRoom(ctx, sess, env.Payload)
	case EventMessageSend:
		err = e.handleSendMessage(ctx, sess, env.Payload)
	case EventMessagesGet:
		err = e.handleGetMessages(ctx, sess, env.Payload)
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
		log.Printf("chatengine: failed to deliver error to session=%s: %v", sess.ws.Info.ConnID, sendErr)
	}
}

// broadcastRoom sends event/payload to every session subscribed to roomID,
// optionally excluding one sessionID (typically the actor). A failing send
// to one subscriber never aborts the others (spec §5 fan-out isolation).
func (e *Engine) broadcastRoom(roomID, excludeSessionID, event string, payload any) {
	e.mu.RLock()
	subs := e.roomSubs[roomID]
	targets := make([]*session, 0, len(subs))
	for id, s := range subs {
		if id == excludeSessionID {
			continue
		}
		targets = append(targets, s)
	}
	e.mu.RUnlock()

	for _, s := range targets {
		go e.deliverOne(s, event, payload)
	}
}

// broadcastAll sends to every connected session, used for presence events.
func (e *Engine) broadcastAll(excludeSessionID, event string, payload any) {
	e.mu.RLock()
	targets := make([]*session, 0, len(e.sessions))
	for id, s := range e.sessions {
		if id == excludeSessionID {
			continue
		}
		targets = append(targets, s)
	}
	e.mu.RUnlock()

	for _, s := range targets {
		go e.deliverOne(s, event, payload)
	}
}

func (e *Engine) deliverOne(s *session, event string, payload any) {
	if err := s.ws.Send(event, payload); err != nil {
		log.Printf("chatengine: fan-out send failed session=%s event=%s: %v", s.ws.Info.ConnID, event, err)
	}
}

func (e *Engine) subscribeSessionToRoom(sess *session, roomID string) {
	e.mu.Lock()
	subs, ok := e.roomSubs[roomID]
	if !ok {
		subs = make(map[string]*session)
		e.roomSubs[roomID] = subs
	}
	subs[sess.ws.Info.SessionID] = sess
	e.mu.Unlock()
	sess.subscribe(roomID)
}

func (e *Engine) unsubscribeSessionFromRoom(sess *session, roomID string) {
	e.mu.Lock()
	if subs, ok := e.roomSubs[roomID]; ok {
		delete(subs, sess.ws.Info.SessionID)
		if len(subs) == 0 {
			delete(e.roomSubs, roomID)
		}
	}
	e.mu.Unlock()
	sess.unsubscribe(roomID)
}
