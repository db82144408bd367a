package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/relaymesh/conclave/internal/observability"
)

// backoffSchedule is the delay inserted before each retry attempt. Spec §7
// caps retries at 2 attempts total (1 retry); the second entry documents
// the delay a 3rd attempt would use if the cap were ever raised.
var backoffSchedule = []time.Duration{50 * time.Millisecond, 200 * time.Millisecond}

const maxAttempts = 2

func isTransient(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnavailable)
}

// retry runs op up to maxAttempts times, backing off between attempts, and
// wraps a final transient failure as ErrUnavailable (spec §7: "Store
// transient errors are retried internally once ... before surfacing as
// STORE_UNAVAILABLE"). Non-transient errors (ErrNotFound, ErrRoomFull, ...)
// are returned immediately without retry. Every attempt beyond the first is
// counted against conclave_store_retries_total, labeled by the calling
// engine's backend name.
func retry[T any](ctx context.Context, backend string, op func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		v, err := op()
		if err == nil {
			return v, nil
		}
		if !isTransient(err) {
			return zero, err
		}
		lastErr = err
		if attempt == maxAttempts-1 {
			break
		}
		observability.IncStoreRetry(backend)
		select {
		case <-time.After(backoffSchedule[attempt]):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
	return zero, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

// WithRetry wraps a Store so every operation is retried per spec §7. backend
// labels the conclave_store_retries_total metric ("chat" or "video").
func WithRetry(inner Store, backend string) Store {
	return &retryingStore{inner: inner, backend: backend}
}

type retryingStore struct {
	inner   Store
	backend string
}

func (s *retryingStore) CreateChatRoom(ctx context.Context, room ChatRoom) (ChatRoom, error) {
	return retry(ctx, s.backend, func() (ChatRoom, error) { return s.inner.CreateChatRoom(ctx, room) })
}

func (s *retryingStore) GetChatRoom(ctx context.Context, id string) (ChatRoom, error) {
	return retry(ctx, s.backend, func() (ChatRoom, error) { return s.inner.GetChatRoom(ctx, id) })
}

func (s *retryingStore) GetChatRoomByCode(ctx context.Context, code string) (ChatRoom, error) {
	return retry(ctx, s.backend, func() (ChatRoom, error) { return s.inner.GetChatRoomByCode(ctx, code) })
}

func (s *retryingStore) ChatRoomCodeExists(ctx context.Context, code string) (bool, error) {
	return retry(ctx, s.backend, func() (bool, error) { return s.inner.ChatRoomCodeExists(ctx, code) })
}

func (s *retryingStore) ListPublicChatRooms(ctx context.Context) ([]ChatRoom, error) {
	return retry(ctx, s.backend, func() ([]ChatRoom, error) { return s.inner.ListPublicChatRooms(ctx) })
}

func (s *retryingStore) ListPrivateChatRoomsForUser(ctx context.Context, userID string) ([]ChatRoom, error) {
	return retry(ctx, s.backend, func() ([]ChatRoom, error) { return s.inner.ListPrivateChatRoomsForUser(ctx, userID) })
}

func (s *retryingStore) AddChatParticipant(ctx context.Context, roomID, userID string) (ChatRoom, error) {
	return retry(ctx, s.backend, func() (ChatRoom, error) { return s.inner.AddChatParticipant(ctx, roomID, userID) })
}

func (s *retryingStore) TouchChatRoom(ctx context.Context, roomID string) error {
	_, err := retry(ctx, s.backend, func() (struct{}, error) { return struct{}{}, s.inner.TouchChatRoom(ctx, roomID) })
	return err
}

func (s *retryingStore) CreateChatMessage(ctx context.Context, msg ChatMessage) (ChatMessage, error) {
	return retry(ctx, s.backend, func() (ChatMessage, error) { return s.inner.CreateChatMessage(ctx, msg) })
}

func (s *retryingStore) ListChatMessages(ctx context.Context, roomID string, limit int, cursor *Cursor) ([]ChatMessage, error) {
	return retry(ctx, s.backend, func() ([]ChatMessage, error) { return s.inner.ListChatMessages(ctx, roomID, limit, cursor) })
}

func (s *retryingStore) CreateVideoRoom(ctx context.Context, room VideoRoom) (VideoRoom, error) {
	return retry(ctx, s.backend, func() (VideoRoom, error) { return s.inner.CreateVideoRoom(ctx, room) })
}

func (s *retryingStore) GetVideoRoom(ctx context.Context, id string) (VideoRoom, error) {
	return retry(ctx, s.backend, func() (VideoRoom, error) { return s.inner.GetVideoRoom(ctx, id) })
}

func (s *retryingStore) GetVideoRoomByCode(ctx context.Context, code string) (VideoRoom, error) {
	return retry(ctx, s.backend, func() (VideoRoom, error) { return s.inner.GetVideoRoomByCode(ctx, code) })
}

func (s *retryingStore) VideoRoomCodeExists(ctx context.Context, code string) (bool, error) {
	return retry(ctx, s.backend, func() (bool, error) { return s.inner.VideoRoomCodeExists(ctx, code) })
}

func (s *retryingStore) AddVideoParticipant(ctx context.Context, roomID string, participant VideoParticipant) (VideoRoom, error) {
	return retry(ctx, s.backend, func() (VideoRoom, error) { return s.inner.AddVideoParticipant(ctx, roomID, participant) })
}

func (s *retryingStore) RemoveVideoParticipant(ctx context.Context, roomID, userID string) (VideoRoom, error) {
	return retry(ctx, s.backend, func() (VideoRoom, error) { return s.inner.RemoveVideoParticipant(ctx, roomID, userID) })
}

func (s *retryingStore) DeleteVideoParticipants(ctx context.Context, roomID string) error {
	_, err := retry(ctx, s.backend, func() (struct{}, error) { return struct{}{}, s.inner.DeleteVideoParticipants(ctx, roomID) })
	return err
}

func (s *retryingStore) GetVideoParticipant(ctx context.Context, roomID, userID string) (VideoParticipant, error) {
	return retry(ctx, s.backend, func() (VideoParticipant, error) { return s.inner.GetVideoParticipant(ctx, roomID, userID) })
}

func (s *retryingStore) ListVideoParticipants(ctx context.Context, roomID string) ([]VideoParticipant, error) {
	return retry(ctx, s.backend, func() ([]VideoParticipant, error) { return s.inner.ListVideoParticipants(ctx, roomID) })
}

func (s *retryingStore) UpdateVideoParticipant(ctx context.Context, roomID, userID string, mutate func(*VideoParticipant)) (VideoParticipant, error) {
	return retry(ctx, s.backend, func() (VideoParticipant, error) { return s.inner.UpdateVideoParticipant(ctx, roomID, userID, mutate) })
}

var _ Store = (*retryingStore)(nil)
