package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"sudooom.arena/internal/model"
)

const (
	redisRoomKeyPrefix = "arena:room:"
	redisRoomIndexKey  = "arena:rooms"
)

// BuildRoomKey 房间快照键
func BuildRoomKey(roomId string) string {
	return redisRoomKeyPrefix + roomId
}

// RedisBackend 快照存为字符串键，另用集合记录全部房间 ID
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend 创建 Redis 后端
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (b *RedisBackend) Name() string { return "redis" }

func (b *RedisBackend) Save(ctx context.Context, rooms []*model.Room) error {
	pipe := b.client.TxPipeline()
	for _, r := range rooms {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode room %s: %w", r.ID, err)
		}
		pipe.Set(ctx, BuildRoomKey(r.ID), data, 0)
		pipe.SAdd(ctx, redisRoomIndexKey, r.ID)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (b *RedisBackend) Delete(ctx context.Context, ids []string) error {
	pipe := b.client.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, BuildRoomKey(id))
		pipe.SRem(ctx, redisRoomIndexKey, id)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (b *RedisBackend) Get(ctx context.Context, id string) (*model.Room, error) {
	data, err := b.client.Get(ctx, BuildRoomKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var r model.Room
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode room %s: %w", id, err)
	}
	return &r, nil
}

func (b *RedisBackend) LoadAll(ctx context.Context) ([]*model.Room, error) {
	ids, err := b.client.SMembers(ctx, redisRoomIndexKey).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*model.Room{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = BuildRoomKey(id)
	}
	vals, err := b.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	rooms := make([]*model.Room, 0, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			// 索引残留，快照已不存在
			continue
		}
		var r model.Room
		if err := json.Unmarshal([]byte(s), &r); err != nil {
			return nil, fmt.Errorf("decode room %s: %w", ids[i], err)
		}
		rooms = append(rooms, &r)
	}
	return rooms, nil
}
