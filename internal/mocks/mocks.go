package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/relaymesh/conclave/internal/identity"
	"github.com/relaymesh/conclave/internal/store"
)

// StoreMock mocks store.Store for tests that need to force specific
// persistence-layer outcomes (not-found, room-full, transient errors)
// without standing up a real backend.
type StoreMock struct {
	mock.Mock
}

func (m *StoreMock) CreateChatRoom(ctx context.Context, room store.ChatRoom) (store.ChatRoom, error) {
	args := m.Called(ctx, room)
	return roomOrZero[store.ChatRoom](args.Get(0)), args.Error(1)
}

func (m *StoreMock) GetChatRoom(ctx context.Context, id string) (store.ChatRoom, error) {
	args := m.Called(ctx, id)
	return roomOrZero[store.ChatRoom](args.Get(0)), args.Error(1)
}

func (m *StoreMock) GetChatRoomByCode(ctx context.Context, code string) (store.ChatRoom, error) {
	args := m.Called(ctx, code)
	return roomOrZero[store.ChatRoom](args.Get(0)), args.Error(1)
}

func (m *StoreMock) ChatRoomCodeExists(ctx context.Context, code string) (bool, error) {
	args := m.Called(ctx, code)
	return args.Bool(0), args.Error(1)
}

func (m *StoreMock) ListPublicChatRooms(ctx context.Context) ([]store.ChatRoom, error) {
	args := m.Called(ctx)
	return sliceOrNil[store.ChatRoom](args.Get(0)), args.Error(1)
}

func (m *StoreMock) ListPrivateChatRoomsForUser(ctx context.Context, userID string) ([]store.ChatRoom, error) {
	args := m.Called(ctx, userID)
	return sliceOrNil[store.ChatRoom](args.Get(0)), args.Error(1)
}

func (m *StoreMock) AddChatParticipant(ctx context.Context, roomID, userID string) (store.ChatRoom, error) {
	args := m.Called(ctx, roomID, userID)
	return roomOrZero[store.ChatRoom](args.Get(0)), args.Error(1)
}

func (m *StoreMock) TouchChatRoom(ctx context.Context, roomID string) error {
	args := m.Called(ctx, roomID)
	return args.Error(0)
}

func (m *StoreMock) CreateChatMessage(ctx context.Context, msg store.ChatMessage) (store.ChatMessage, error) {
	args := m.Called(ctx, msg)
	return roomOrZero[store.ChatMessage](args.Get(0)), args.Error(1)
}

func (m *StoreMock) ListChatMessages(ctx context.Context, roomID string, limit int, cursor *store.Cursor) ([]store.ChatMessage, error) {
	args := m.Called(ctx, roomID, limit, cursor)
	return sliceOrNil[store.ChatMessage](args.Get(0)), args.Error(1)
}

func (m *StoreMock) CreateVideoRoom(ctx context.Context, room store.VideoRoom) (store.VideoRoom, error) {
	args := m.Called(ctx, room)
	return roomOrZero[store.VideoRoom](args.Get(0)), args.Error(1)
}

func (m *StoreMock) GetVideoRoom(ctx context.Context, id string) (store.VideoRoom, error) {
	args := m.Called(ctx, id)
	return roomOrZero[store.VideoRoom](args.Get(0)), args.Error(1)
}

func (m *StoreMock) GetVideoRoomByCode(ctx context.Context, code string) (store.VideoRoom, error) {
	args := m.Called(ctx, code)
	return roomOrZero[store.VideoRoom](args.Get(0)), args.Error(1)
}

func (m *StoreMock) VideoRoomCodeExists(ctx context.Context, code string) (bool, error) {
	args := m.Called(ctx, code)
	return args.Bool(0), args.Error(1)
}

func (m *StoreMock) AddVideoParticipant(ctx context.Context, roomID string, participant store.VideoParticipant) (store.VideoRoom, error) {
	args := m.Called(ctx, roomID, participant)
	return roomOrZero[store.VideoRoom](args.Get(0)), args.Error(1)
}

func (m *StoreMock) RemoveVideoParticipant(ctx context.Context, roomID, userID string) (store.VideoRoom, error) {
	args := m.Called(ctx, roomID, userID)
	return roomOrZero[store.VideoRoom](args.Get(0)), args.Error(1)
}

func (m *StoreMock) DeleteVideoParticipants(ctx context.Context, roomID string) error {
	args := m.Called(ctx, roomID)
	return args.Error(0)
}

func (m *StoreMock) GetVideoParticipant(ctx context.Context, roomID, userID string) (store.VideoParticipant, error) {
	args := m.Called(ctx, roomID, userID)
	return roomOrZero[store.VideoParticipant](args.Get(0)), args.Error(1)
}

func (m *StoreMock) ListVideoParticipants(ctx context.Context, roomID string) ([]store.VideoParticipant, error) {
	args := m.Called(ctx, roomID)
	return sliceOrNil[store.VideoParticipant](args.Get(0)), args.Error(1)
}

func (m *StoreMock) UpdateVideoParticipant(ctx context.Context, roomID, userID string, mutate func(*store.VideoParticipant)) (store.VideoParticipant, error) {
	args := m.Called(ctx, roomID, userID, mutate)
	return roomOrZero[store.VideoParticipant](args.Get(0)), args.Error(1)
}

func roomOrZero[T any](v any) T {
	var zero T
	if v == nil {
		return zero
	}
	return v.(T)
}

func sliceOrNil[T any](v any) []T {
	if v == nil {
		return nil
	}
	return v.([]T)
}

// VerifierMock mocks identity.Verifier.
type VerifierMock struct {
	mock.Mock
}

func (m *VerifierMock) Verify(ctx context.Context, token string) (identity.User, error) {
	args := m.Called(ctx, token)
	return roomOrZero[identity.User](args.Get(0)), args.Error(1)
}

var _ store.Store = (*StoreMock)(nil)
var _ identity.Verifier = (*VerifierMock)(nil)
