package persist

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.arena/internal/model"
)

// 需要本地 Redis，连接不上时跳过

func getTestRedisClient(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("跳过测试：无法连接 Redis: %v", err)
	}
	client.FlushDB(ctx)
	return client
}

func TestRedisBackend(t *testing.T) {
	client := getTestRedisClient(t)
	defer client.Close()

	b := NewRedisBackend(client)
	ctx := context.Background()

	require.NoError(t, b.Save(ctx, []*model.Room{snapshot("r1", 1), snapshot("r2", 3)}))
	require.NoError(t, b.Delete(ctx, []string{"r1"}))

	rooms, err := b.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "r2", rooms[0].ID)
	assert.Equal(t, int64(3), rooms[0].Version)

	exists, err := client.Exists(ctx, BuildRoomKey("r1")).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)

	got, err := b.Get(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Version)

	_, err = b.Get(ctx, "r1")
	assert.ErrorIs(t, err, ErrNotFound)
}
