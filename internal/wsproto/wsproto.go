// Package wsproto is the duplex transport shared by the chat engine and the
// video engine: a framed JSON envelope over a gorilla/websocket connection,
// with one writer goroutine per connection so concurrent broadcast fan-out
// never races on the same socket.
package wsproto

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Upgrader accepts every origin, matching the teacher's CheckOrigin policy.
// Origin enforcement is expected to live in front of this process (the
// gateway, or a browser-facing load balancer), not in the engine itself.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Envelope is the wire shape of every duplex message: a named event and an
// arbitrary JSON payload, per spec §6's framed-protocol description.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ConnInfo carries the identity and request metadata attached at handshake
// time, generalized from the teacher's ConnInfo to a string UserID (this
// system's ids are not auto-increment integers) and an extra SessionID used
// as the presence-map key.
type ConnInfo struct {
	ConnID      string
	SessionID   string
	UserID      string
	DisplayName string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

// NewConnID mints an opaque per-connection id, same entropy source and
// length as the teacher's newConnID.
func NewConnID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}

var ErrClosed = errors.New("wsproto: session is closed")

// Session owns one websocket connection. All writes go through Send, which
// enqueues onto outbound and returns once queued (or dropped on timeout);
// the single runWriter goroutine is the only goroutine that ever calls
// conn.WriteMessage, so fan-out from multiple rooms can never interleave
// writes on the wire.
type Session struct {
	Info ConnInfo

	conn     *websocket.Conn
	outbound chan []byte
	sendWait time.Duration

	closeOnce sync.Once
	closed    chan struct{}
}

// NewSession wraps conn and starts its writer pump. sendWait bounds how long
// Send blocks trying to enqueue a message before giving up on a slow
// subscriber (spec §5's per-subscriber fan-out isolation).
func NewSession(conn *websocket.Conn, info ConnInfo, sendWait time.Duration) *Session {
	s := &Session{
		Info:     info,
		conn:     conn,
		outbound: make(chan []byte, 64),
		sendWait: sendWait,
		closed:   make(chan struct{}),
	}
	go s.runWriter()
	return s
}

func (s *Session) runWriter() {
	for {
		select {
		case msg, ok := <-s.outbound:
			if !ok {
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Printf("wsproto: write error conn=%s: %v", s.Info.ConnID, err)
				s.Close()
				return
			}
		case <-s.closed:
			return
		}
	}
}

// Send encodes event/payload as an Envelope and enqueues it for delivery.
// A full outbound queue is treated as a slow or dead subscriber: the send
// is dropped rather than blocking the caller (and, transitively, every
// other subscriber in the same broadcast loop) past sendWait.
func (s *Session) Send(event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(Envelope{Event: event, Payload: raw})
	if err != nil {
		return err
	}
	select {
	case s.outbound <- msg:
		return nil
	case <-s.closed:
		return ErrClosed
	case <-time.After(s.sendWait):
		return errors.New("wsproto: send timed out, subscriber too slow")
	}
}

// ReadLoop blocks reading frames from the connection, invoking handle for
// each decoded Envelope, until reading from the connection fails (for
// example because it closed). Frames that do not decode are skipped. Close
// reasons matching normal browser navigation are not reported as errors,
// mirroring the teacher's IsCloseError check.
func (s *Session) ReadLoop(handle func(Envelope)) error {
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}
		handle(env)
	}
}

// Close closes the underlying connection and stops the writer pump. Safe to
// call multiple times and from multiple goroutines.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.conn.Close()
	})
}
