package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaymesh/conclave/internal/store"
)

func TestCreateAndGetChatRoom(t *testing.T) {
	s := New()
	ctx := context.Background()

	room, err := s.CreateChatRoom(ctx, store.ChatRoom{Name: "general", Visibility: store.VisibilityPublic})
	require.NoError(t, err)
	require.NotEmpty(t, room.ID)
	require.False(t, room.CreatedAt.IsZero())

	got, err := s.GetChatRoom(ctx, room.ID)
	require.NoError(t, err)
	require.Equal(t, room.ID, got.ID)

	_, err = s.GetChatRoom(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestAddChatParticipantIsIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()

	room, err := s.CreateChatRoom(ctx, store.ChatRoom{Name: "room"})
	require.NoError(t, err)

	room, err = s.AddChatParticipant(ctx, room.ID, "u1")
	require.NoError(t, err)
	require.Len(t, room.Participants, 1)

	room, err = s.AddChatParticipant(ctx, room.ID, "u1")
	require.NoError(t, err)
	require.Len(t, room.Participants, 1, "adding the same participant twice must not duplicate")
}

func TestListChatMessagesOrderingAndCursor(t *testing.T) {
	s := New()
	ctx := context.Background()

	room, err := s.CreateChatRoom(ctx, store.ChatRoom{Name: "room"})
	require.NoError(t, err)

	var last store.ChatMessage
	for i := 0; i < 3; i++ {
		msg, err := s.CreateChatMessage(ctx, store.ChatMessage{RoomID: room.ID, Content: "m"})
		require.NoError(t, err)
		last = msg
	}

	msgs, err := s.ListChatMessages(ctx, room.ID, 10, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.True(t, msgs[0].Timestamp.After(msgs[len(msgs)-1].Timestamp) || msgs[0].Timestamp.Equal(msgs[len(msgs)-1].Timestamp),
		"ListChatMessages must return newest-first")

	cursor := store.Cursor{Timestamp: last.Timestamp, ID: last.ID}
	msgs, err = s.ListChatMessages(ctx, room.ID, 10, &cursor)
	require.NoError(t, err)
	for _, m := range msgs {
		require.NotEqual(t, last.ID, m.ID)
	}
}

func TestAddVideoParticipantEnforcesCapacity(t *testing.T) {
	s := New()
	ctx := context.Background()

	room, err := s.CreateVideoRoom(ctx, store.VideoRoom{Name: "call", HostID: "host", MaxParticipants: 1})
	require.NoError(t, err)

	room, err = s.AddVideoParticipant(ctx, room.ID, store.VideoParticipant{UserID: "host"})
	require.NoError(t, err)
	require.Len(t, room.Participants, 1)

	_, err = s.AddVideoParticipant(ctx, room.ID, store.VideoParticipant{UserID: "guest"})
	require.True(t, errors.Is(err, store.ErrRoomFull))
}

func TestAddVideoParticipantRejoinIsNoop(t *testing.T) {
	s := New()
	ctx := context.Background()

	room, err := s.CreateVideoRoom(ctx, store.VideoRoom{Name: "call", HostID: "host", MaxParticipants: 1})
	require.NoError(t, err)

	room, err = s.AddVideoParticipant(ctx, room.ID, store.VideoParticipant{UserID: "host"})
	require.NoError(t, err)

	room, err = s.AddVideoParticipant(ctx, room.ID, store.VideoParticipant{UserID: "host"})
	require.NoError(t, err)
	require.Len(t, room.Participants, 1, "rejoining an existing participant must not be rejected as full")
}

func TestRemoveVideoParticipantIsIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()

	room, err := s.CreateVideoRoom(ctx, store.VideoRoom{Name: "call", HostID: "host", MaxParticipants: 8})
	require.NoError(t, err)
	_, err = s.AddVideoParticipant(ctx, room.ID, store.VideoParticipant{UserID: "host"})
	require.NoError(t, err)

	_, err = s.RemoveVideoParticipant(ctx, room.ID, "host")
	require.NoError(t, err)
	_, err = s.RemoveVideoParticipant(ctx, room.ID, "host")
	require.NoError(t, err, "removing a participant twice must not error")

	_, err = s.GetVideoParticipant(ctx, room.ID, "host")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateVideoParticipantMutatesInPlace(t *testing.T) {
	s := New()
	ctx := context.Background()

	room, err := s.CreateVideoRoom(ctx, store.VideoRoom{Name: "call", HostID: "host", MaxParticipants: 8})
	require.NoError(t, err)
	_, err = s.AddVideoParticipant(ctx, room.ID, store.VideoParticipant{UserID: "host", AudioEnabled: true})
	require.NoError(t, err)

	updated, err := s.UpdateVideoParticipant(ctx, room.ID, "host", func(p *store.VideoParticipant) {
		p.AudioEnabled = false
	})
	require.NoError(t, err)
	require.False(t, updated.AudioEnabled)

	got, err := s.GetVideoParticipant(ctx, room.ID, "host")
	require.NoError(t, err)
	require.False(t, got.AudioEnabled)
}
