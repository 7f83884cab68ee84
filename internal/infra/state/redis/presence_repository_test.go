package redisstate_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SnehitPandey/studyflow-backend/internal/domain"
	redisstate "github.com/SnehitPandey/studyflow-backend/internal/infra/state/redis"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestPresence_SetAndList(t *testing.T) {
	_, client := newTestClient(t)
	repo := redisstate.NewRedisPresenceRepository(client, "test:")
	ctx := context.Background()

	require.NoError(t, repo.SetPresence(ctx, 1, 10, domain.PresenceEntry{Username: "alice", Online: true}))
	require.NoError(t, repo.SetPresence(ctx, 1, 11, domain.PresenceEntry{Username: "bob", Online: true, Ready: true}))
	require.NoError(t, repo.SetPresence(ctx, 2, 10, domain.PresenceEntry{Username: "alice", Online: true}))

	entries, err := repo.ListPresence(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	byUser := map[uint]domain.PresenceEntry{}
	for _, e := range entries {
		byUser[e.UserID] = e
	}
	assert.Equal(t, "alice", byUser[10].Username)
	assert.True(t, byUser[11].Ready)
	assert.False(t, byUser[11].UpdatedAt.IsZero(), "写入时应补齐 UpdatedAt")
}

func TestPresence_SetOverwrites(t *testing.T) {
	_, client := newTestClient(t)
	repo := redisstate.NewRedisPresenceRepository(client, "test:")
	ctx := context.Background()

	require.NoError(t, repo.SetPresence(ctx, 1, 10, domain.PresenceEntry{Username: "alice", Online: true}))
	require.NoError(t, repo.SetPresence(ctx, 1, 10, domain.PresenceEntry{Username: "alice", Online: true, Ready: true}))

	entries, err := repo.ListPresence(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Ready)
}

func TestPresence_ListEmptyRoom(t *testing.T) {
	_, client := newTestClient(t)
	repo := redisstate.NewRedisPresenceRepository(client, "test:")

	entries, err := repo.ListPresence(context.Background(), 42)
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestPresence_RemoveIsIdempotent(t *testing.T) {
	_, client := newTestClient(t)
	repo := redisstate.NewRedisPresenceRepository(client, "test:")
	ctx := context.Background()

	require.NoError(t, repo.SetPresence(ctx, 1, 10, domain.PresenceEntry{Username: "alice", Online: true}))
	require.NoError(t, repo.RemovePresence(ctx, 1, 10))
	require.NoError(t, repo.RemovePresence(ctx, 1, 10))
	require.NoError(t, repo.RemovePresence(ctx, 99, 99))

	entries, err := repo.ListPresence(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPresence_SetOnlineUpdatesOnlyOnlineFlag(t *testing.T) {
	_, client := newTestClient(t)
	repo := redisstate.NewRedisPresenceRepository(client, "test:")
	ctx := context.Background()

	require.NoError(t, repo.SetPresence(ctx, 1, 10, domain.PresenceEntry{Username: "alice", Online: true, Ready: true}))
	require.NoError(t, repo.SetOnline(ctx, 1, 10, false))

	entries, err := repo.ListPresence(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Online)
	assert.True(t, entries[0].Ready, "ready 不应被 SetOnline 修改")
	assert.Equal(t, "alice", entries[0].Username)
}

func TestPresence_SetOnlineMissingEntryIsNoop(t *testing.T) {
	mr, client := newTestClient(t)
	repo := redisstate.NewRedisPresenceRepository(client, "test:")
	ctx := context.Background()

	require.NoError(t, repo.SetOnline(ctx, 1, 10, true))

	entries, err := repo.ListPresence(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, entries, "不存在的记录不能被 SetOnline 创建")
	assert.False(t, mr.Exists("test:room:1:presence"))
}

func TestPresence_OfflineNotResurrectedAfterRemove(t *testing.T) {
	_, client := newTestClient(t)
	repo := redisstate.NewRedisPresenceRepository(client, "test:")
	ctx := context.Background()

	require.NoError(t, repo.SetPresence(ctx, 1, 10, domain.PresenceEntry{Username: "alice", Online: true}))
	require.NoError(t, repo.SetOnline(ctx, 1, 10, false))
	require.NoError(t, repo.RemovePresence(ctx, 1, 10))
	require.NoError(t, repo.SetOnline(ctx, 1, 10, true))

	entries, err := repo.ListPresence(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPresence_ConcurrentWritersOnDifferentUsers(t *testing.T) {
	_, client := newTestClient(t)
	repo := redisstate.NewRedisPresenceRepository(client, "test:")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := uint(1); i <= 20; i++ {
		wg.Add(1)
		go func(userID uint) {
			defer wg.Done()
			assert.NoError(t, repo.SetPresence(ctx, 7, userID, domain.PresenceEntry{Username: "u", Online: true}))
			assert.NoError(t, repo.SetOnline(ctx, 7, userID, false))
		}(i)
	}
	wg.Wait()

	entries, err := repo.ListPresence(ctx, 7)
	require.NoError(t, err)
	require.Len(t, entries, 20)
	for _, e := range entries {
		assert.False(t, e.Online)
		assert.Equal(t, "u", e.Username)
	}
}

func TestPresence_KeyExpires(t *testing.T) {
	mr, client := newTestClient(t)
	repo := redisstate.NewRedisPresenceRepository(client, "test:")
	ctx := context.Background()

	require.NoError(t, repo.SetPresence(ctx, 3, 10, domain.PresenceEntry{Username: "alice", Online: true}))
	assert.True(t, mr.TTL("test:room:3:presence") > 0)

	mr.FastForward(25 * time.Hour)
	entries, err := repo.ListPresence(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPresence_ConnectionCounter(t *testing.T) {
	mr, client := newTestClient(t)
	repo := redisstate.NewRedisPresenceRepository(client, "test:")
	ctx := context.Background()

	n, err := repo.AddConnection(ctx, 4, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = repo.AddConnection(ctx, 4, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.True(t, mr.TTL("test:room:4:connections") > 0)

	n, err = repo.AddConnection(ctx, 4, 2, -1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = repo.AddConnection(ctx, 4, 2, -1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	assert.False(t, mr.Exists("test:room:4:connections"), "归零后删除计数")

	n, err = repo.AddConnection(ctx, 4, 2, -1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "计数不会变为负数")
}

func TestPresence_ClearConnections(t *testing.T) {
	_, client := newTestClient(t)
	repo := redisstate.NewRedisPresenceRepository(client, "test:")
	ctx := context.Background()

	_, err := repo.AddConnection(ctx, 4, 2, 3)
	require.NoError(t, err)
	_, err = repo.AddConnection(ctx, 4, 3, 1)
	require.NoError(t, err)

	require.NoError(t, repo.ClearConnections(ctx, 4, 2))
	require.NoError(t, repo.ClearConnections(ctx, 4, 2))

	n, err := repo.AddConnection(ctx, 4, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = repo.AddConnection(ctx, 4, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "其他用户的计数不受影响")
}
