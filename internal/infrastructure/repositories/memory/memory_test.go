package memory

import (
	"context"
	"testing"
	"time"

	"huddle/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomRepositoryCRUD(t *testing.T) {
	repo := NewRoomRepository()
	ctx := context.Background()

	room := &domain.Room{ID: "r1", Name: "standup", CreatedBy: "alice", CreatedAt: time.Now()}
	require.NoError(t, repo.Create(ctx, room))
	assert.ErrorIs(t, repo.Create(ctx, room), domain.ErrRoomExists)

	got, err := repo.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "standup", got.Name)

	// Stored rooms are isolated from caller mutation.
	got.Name = "mutated"
	again, err := repo.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "standup", again.Name)

	rooms, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, rooms, 1)

	require.NoError(t, repo.Delete(ctx, "r1"))
	assert.ErrorIs(t, repo.Delete(ctx, "r1"), domain.ErrRoomNotFound)
	_, err = repo.GetByID(ctx, "r1")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestHistoryRepositoryCap(t *testing.T) {
	repo := NewHistoryRepository(3)
	ctx := context.Background()

	for _, body := range []string{"one", "two", "three", "four", "five"} {
		require.NoError(t, repo.Append(ctx, &domain.ChatMessage{
			RoomID: "r1",
			From:   "alice",
			Kind:   domain.ChatKindMessage,
			Body:   body,
			SentAt: time.Now(),
		}))
	}

	msgs, err := repo.Recent(ctx, "r1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "three", msgs[0].Body)
	assert.Equal(t, "five", msgs[2].Body)

	limited, err := repo.Recent(ctx, "r1", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "four", limited[0].Body)
}

func TestRosterRepositoryExpiry(t *testing.T) {
	repo := NewRosterRepository(20 * time.Millisecond)
	ctx := context.Background()

	require.NoError(t, repo.Add(ctx, "r1", "alice"))
	require.NoError(t, repo.Add(ctx, "r1", "bob"))
	require.NoError(t, repo.Remove(ctx, "r1", "bob"))

	members, err := repo.Members(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []domain.ParticipantID{"alice"}, members)

	// The roster ages out without traffic.
	time.Sleep(30 * time.Millisecond)
	members, err = repo.Members(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, members)
}
