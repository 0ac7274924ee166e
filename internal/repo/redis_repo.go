package repo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const roomKeyPrefix = "rooms:"

type RedisRoomRepo struct{ rdb *redis.Client }

func NewRedisRoomRepo(rdb *redis.Client) *RedisRoomRepo {
	return &RedisRoomRepo{rdb: rdb}
}

func roomKey(name string) string {
	return roomKeyPrefix + name
}

// SaveRoom はルームのサブツリーをJSONで保存します
// ttl は掃除処理が動かなかった場合の保険で、保存のたびに延長されます
func (rr *RedisRoomRepo) SaveRoom(ctx context.Context, name string, subtree []byte, ttl time.Duration) error {
	return rr.rdb.Set(ctx, roomKey(name), subtree, ttl).Err()
}

func (rr *RedisRoomRepo) DeleteRoom(ctx context.Context, name string) error {
	return rr.rdb.Del(ctx, roomKey(name)).Err()
}

// SaveBatch は複数ルームの保存と削除を1回のトランザクションで行います
// 値が nil のルームは削除します
func (rr *RedisRoomRepo) SaveBatch(ctx context.Context, rooms map[string][]byte, ttl time.Duration) error {
	pipe := rr.rdb.TxPipeline()
	for name, b := range rooms {
		if b == nil {
			pipe.Del(ctx, roomKey(name))
			continue
		}
		pipe.Set(ctx, roomKey(name), b, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// LoadRooms は保存済みのルームをすべて読み込みます
func (rr *RedisRoomRepo) LoadRooms(ctx context.Context) (map[string][]byte, error) {
	var keys []string
	iter := rr.rdb.Scan(ctx, 0, roomKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan rooms: %w", err)
	}
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	// 一括取得
	vals, err := rr.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget rooms: %w", err)
	}
	for i, val := range vals {
		s, ok := val.(string)
		if !ok {
			continue
		}
		out[strings.TrimPrefix(keys[i], roomKeyPrefix)] = []byte(s)
	}
	return out, nil
}
