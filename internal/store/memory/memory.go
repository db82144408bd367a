// Package memory implements store.Store with mutex-protected maps, for
// tests and zero-config local runs (STORE_BACKEND=memory).
package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"github.com/relaymesh/conclave/internal/store"
)

type Store struct {
	mu sync.RWMutex

	chatRooms    map[string]store.ChatRoom
	chatMessages map[string][]store.ChatMessage // roomID -> messages, append order

	videoRooms        map[string]store.VideoRoom
	videoParticipants map[string]map[string]store.VideoParticipant // roomID -> userID -> participant
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		chatRooms:         make(map[string]store.ChatRoom),
		chatMessages:      make(map[string][]store.ChatMessage),
		videoRooms:        make(map[string]store.VideoRoom),
		videoParticipants: make(map[string]map[string]store.VideoParticipant),
	}
}

func newID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func (s *Store) CreateChatRoom(ctx context.Context, room store.ChatRoom) (store.ChatRoom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room.ID == "" {
		room.ID = newID()
	}
	now := time.Now().UTC()
	room.CreatedAt = now
	room.UpdatedAt = now
	room.Participants = cloneStrings(room.Participants)
	s.chatRooms[room.ID] = room
	return room, nil
}

func (s *Store) GetChatRoom(ctx context.Context, id string) (store.ChatRoom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.chatRooms[id]
	if !ok {
		return store.ChatRoom{}, store.ErrNotFound
	}
	return room, nil
}

func (s *Store) GetChatRoomByCode(ctx context.Context, code string) (store.ChatRoom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, room := range s.chatRooms {
		if room.Code == code {
			return room, nil
		}
	}
	return store.ChatRoom{}, store.ErrNotFound
}

func (s *Store) ChatRoomCodeExists(ctx context.Context, code string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, room := range s.chatRooms {
		if room.Code == code {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ListPublicChatRooms(ctx context.Context) ([]store.ChatRoom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.ChatRoom
	for _, room := range s.chatRooms {
		if room.Visibility == store.VisibilityPublic {
			out = append(out, room)
		}
	}
	sortRoomsByUpdated(out)
	return out, nil
}

func (s *Store) ListPrivateChatRoomsForUser(ctx context.Context, userID string) ([]store.ChatRoom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.ChatRoom
	for _, room := range s.chatRooms {
		if room.Visibility == store.VisibilityPrivate && room.HasParticipant(userID) {
			out = append(out, room)
		}
	}
	sortRoomsByUpdated(out)
	return out, nil
}

func sortRoomsByUpdated(rooms []store.ChatRoom) {
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].UpdatedAt.After(rooms[j].UpdatedAt)
	})
}

func (s *Store) AddChatParticipant(ctx context.Context, roomID, userID string) (store.ChatRoom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.chatRooms[roomID]
	if !ok {
		return store.ChatRoom{}, store.ErrNotFound
	}
	if !room.HasParticipant(userID) {
		room.Participants = append(cloneStrings(room.Participants), userID)
		room.UpdatedAt = time.Now().UTC()
		s.chatRooms[roomID] = room
	}
	return room, nil
}

func (s *Store) TouchChatRoom(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.chatRooms[roomID]
	if !ok {
		return store.ErrNotFound
	}
	room.UpdatedAt = time.Now().UTC()
	s.chatRooms[roomID] = room
	return nil
}

func (s *Store) CreateChatMessage(ctx context.Context, msg store.ChatMessage) (store.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chatRooms[msg.RoomID]; !ok {
		return store.ChatMessage{}, store.ErrNotFound
	}
	if msg.ID == "" {
		msg.ID = newID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	s.chatMessages[msg.RoomID] = append(s.chatMessages[msg.RoomID], msg)
	return msg, nil
}

func (s *Store) ListChatMessages(ctx context.Context, roomID string, limit int, cursor *store.Cursor) ([]store.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.chatMessages[roomID]
	sorted := make([]store.ChatMessage, len(all))
	copy(sorted, all)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].ID > sorted[j].ID
		}
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})
	if cursor != nil && !cursor.Timestamp.IsZero() {
		var cut int
		for cut = 0; cut < len(sorted); cut++ {
			m := sorted[cut]
			if m.Timestamp.Before(cursor.Timestamp) ||
				(m.Timestamp.Equal(cursor.Timestamp) && m.ID < cursor.ID) {
				break
			}
		}
		sorted = sorted[cut:]
	}
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted, nil
}

func (s *Store) CreateVideoRoom(ctx context.Context, room store.VideoRoom) (store.VideoRoom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room.ID == "" {
		room.ID = newID()
	}
	now := time.Now().UTC()
	room.CreatedAt = now
	room.UpdatedAt = now
	room.Participants = cloneStrings(room.Participants)
	s.videoRooms[room.ID] = room
	if _, ok := s.videoParticipants[room.ID]; !ok {
		s.videoParticipants[room.ID] = make(map[string]store.VideoParticipant)
	}
	return room, nil
}

func (s *Store) GetVideoRoom(ctx context.Context, id string) (store.VideoRoom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.videoRooms[id]
	if !ok {
		return store.VideoRoom{}, store.ErrNotFound
	}
	return room, nil
}

func (s *Store) GetVideoRoomByCode(ctx context.Context, code string) (store.VideoRoom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, room := range s.videoRooms {
		if room.Code == code {
			return room, nil
		}
	}
	return store.VideoRoom{}, store.ErrNotFound
}

func (s *Store) VideoRoomCodeExists(ctx context.Context, code string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, room := range s.videoRooms {
		if room.Code == code {
			return true, nil
		}
	}
	return false, nil
}

// AddVideoParticipant is the compare-and-set join referenced by spec §5:
// the capacity check and the mutation happen under the same lock, so two
// concurrent joiners can never both observe free capacity and both commit.
func (s *Store) AddVideoParticipant(ctx context.Context, roomID string, participant store.VideoParticipant) (store.VideoRoom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.videoRooms[roomID]
	if !ok {
		return store.VideoRoom{}, store.ErrNotFound
	}
	if room.HasParticipant(participant.UserID) {
		return room, nil
	}
	if room.MaxParticipants > 0 && len(room.Participants) >= room.MaxParticipants {
		return store.VideoRoom{}, store.ErrRoomFull
	}
	if participant.JoinedAt.IsZero() {
		participant.JoinedAt = time.Now().UTC()
	}
	room.Participants = append(cloneStrings(room.Participants), participant.UserID)
	room.UpdatedAt = time.Now().UTC()
	s.videoRooms[roomID] = room
	if _, ok := s.videoParticipants[roomID]; !ok {
		s.videoParticipants[roomID] = make(map[string]store.VideoParticipant)
	}
	s.videoParticipants[roomID][participant.UserID] = participant
	return room, nil
}

func (s *Store) RemoveVideoParticipant(ctx context.Context, roomID, userID string) (store.VideoRoom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.videoRooms[roomID]
	if !ok {
		return store.VideoRoom{}, store.ErrNotFound
	}
	kept := make([]string, 0, len(room.Participants))
	for _, p := range room.Participants {
		if p != userID {
			kept = append(kept, p)
		}
	}
	room.Participants = kept
	room.UpdatedAt = time.Now().UTC()
	s.videoRooms[roomID] = room
	delete(s.videoParticipants[roomID], userID)
	return room, nil
}

func (s *Store) DeleteVideoParticipants(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.videoRooms[roomID]
	if !ok {
		return store.ErrNotFound
	}
	room.Participants = nil
	room.UpdatedAt = time.Now().UTC()
	s.videoRooms[roomID] = room
	s.videoParticipants[roomID] = make(map[string]store.VideoParticipant)
	return nil
}

func (s *Store) GetVideoParticipant(ctx context.Context, roomID, userID string) (store.VideoParticipant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket, ok := s.videoParticipants[roomID]
	if !ok {
		return store.VideoParticipant{}, store.ErrNotFound
	}
	p, ok := bucket[userID]
	if !ok {
		return store.VideoParticipant{}, store.ErrNotFound
	}
	return p, nil
}

func (s *Store) ListVideoParticipants(ctx context.Context, roomID string) ([]store.VideoParticipant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket := s.videoParticipants[roomID]
	out := make([]store.VideoParticipant, 0, len(bucket))
	for _, p := range bucket {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (s *Store) UpdateVideoParticipant(ctx context.Context, roomID, userID string, mutate func(*store.VideoParticipant)) (store.VideoParticipant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.videoParticipants[roomID]
	if !ok {
		return store.VideoParticipant{}, store.ErrNotFound
	}
	p, ok := bucket[userID]
	if !ok {
		return store.VideoParticipant{}, store.ErrNotFound
	}
	mutate(&p)
	bucket[userID] = p
	return p, nil
}

var _ store.Store = (*Store)(nil)
