package repositories

import (
	"context"
	"testing"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/infrastructure/repositories/memory"

	"github.com/stretchr/testify/require"
)

func TestCachedRoomRepositoryServesReadsFromCache(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewRoomRepository()
	repo := NewCachedRoomRepository(inner, time.Minute)

	room := &domain.Room{ID: "r1", Name: "standup", CreatedBy: "alice"}
	require.NoError(t, repo.Create(ctx, room))

	got, err := repo.GetByID(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, "standup", got.Name)

	// Remove behind the cache's back; the cached copy still answers.
	require.NoError(t, inner.Delete(ctx, "r1"))
	got, err = repo.GetByID(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, "standup", got.Name)
}

func TestCachedRoomRepositoryDeleteInvalidates(t *testing.T) {
	ctx := context.Background()
	repo := NewCachedRoomRepository(memory.NewRoomRepository(), time.Minute)

	require.NoError(t, repo.Create(ctx, &domain.Room{ID: "r1", Name: "standup"}))
	_, err := repo.GetByID(ctx, "r1")
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, "r1"))
	_, err = repo.GetByID(ctx, "r1")
	require.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestCachedRoomRepositoryListInvalidatedByCreate(t *testing.T) {
	ctx := context.Background()
	repo := NewCachedRoomRepository(memory.NewRoomRepository(), time.Minute)

	require.NoError(t, repo.Create(ctx, &domain.Room{ID: "r1", Name: "one"}))
	rooms, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 1)

	require.NoError(t, repo.Create(ctx, &domain.Room{ID: "r2", Name: "two"}))
	rooms, err = repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 2)
}
