package chatengine

import (
	"sync"
	"time"

	"github.com/relaymesh/conclave/internal/store"
)

// roomCache implements the two caches spec §4.3.3 describes: a shared
// public-room list with a 30s TTL, and a single-room lookup cache. Both are
// invalidated by any mutation touching a room's participants or messages.
type roomCache struct {
	ttl time.Duration

	mu         sync.RWMutex
	public     []store.ChatRoom
	publicAt   time.Time
	publicSet  bool
	byID       map[string]cachedRoom
}

type cachedRoom struct {
	room     store.ChatRoom
	expireAt time.Time
}

func newRoomCache(ttl time.Duration) *roomCache {
	return &roomCache{ttl: ttl, byID: make(map[string]cachedRoom)}
}

func (c *roomCache) getPublic() ([]store.ChatRoom, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.publicSet || time.Now().After(c.publicAt.Add(c.ttl)) {
		return nil, false
	}
	out := make([]store.ChatRoom, len(c.public))
	copy(out, c.public)
	return out, true
}

func (c *roomCache) setPublic(rooms []store.ChatRoom) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.public = rooms
	c.publicAt = time.Now()
	c.publicSet = true
}

func (c *roomCache) getRoom(id string) (store.ChatRoom, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.byID[id]
	if !ok || time.Now().After(entry.expireAt) {
		return store.ChatRoom{}, false
	}
	return entry.room, true
}

func (c *roomCache) setRoom(room store.ChatRoom) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID[room.ID] = cachedRoom{room: room, expireAt: time.Now().Add(c.ttl)}
}

// invalidateRoom drops the single-room cache entry for roomID and clears
// the shared public-list cache, per spec §4.3.3's invalidation rule.
func (c *roomCache) invalidateRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byID, roomID)
	c.publicSet = false
	c.public = nil
}
