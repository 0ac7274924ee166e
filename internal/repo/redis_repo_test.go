package repo

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) (*RedisRoomRepo, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisRoomRepo(rdb), mr
}

func TestRedisRoomRepo_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	rr, mr := newTestRepo(t)

	require.NoError(t, rr.SaveRoom(ctx, "lab", []byte(`{"owner":{"token":"t"}}`), time.Hour))
	require.NoError(t, rr.SaveRoom(ctx, "Alpha", []byte(`{"responses":{"s1":{"status":"good"}}}`), 0))
	require.NoError(t, mr.Set("unrelated", "x"))

	assert.Equal(t, time.Hour, mr.TTL("rooms:lab"))
	assert.Zero(t, mr.TTL("rooms:Alpha"))

	rooms, err := rr.LoadRooms(ctx)
	require.NoError(t, err)
	assert.Len(t, rooms, 2)
	assert.JSONEq(t, `{"owner":{"token":"t"}}`, string(rooms["lab"]))
	assert.Contains(t, rooms, "Alpha")

	require.NoError(t, rr.DeleteRoom(ctx, "lab"))
	rooms, err = rr.LoadRooms(ctx)
	require.NoError(t, err)
	assert.NotContains(t, rooms, "lab")
}

func TestRedisRoomRepo_LoadRoomsEmpty(t *testing.T) {
	rr, _ := newTestRepo(t)
	rooms, err := rr.LoadRooms(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

func TestRedisRoomRepo_SaveBatch(t *testing.T) {
	ctx := context.Background()
	rr, mr := newTestRepo(t)
	require.NoError(t, rr.SaveRoom(ctx, "old", []byte(`{}`), 0))

	err := rr.SaveBatch(ctx, map[string][]byte{
		"old": nil,
		"new": []byte(`{"owner":{"token":"t"}}`),
	}, time.Minute)
	require.NoError(t, err)

	assert.False(t, mr.Exists("rooms:old"))
	got, err := mr.Get("rooms:new")
	require.NoError(t, err)
	assert.JSONEq(t, `{"owner":{"token":"t"}}`, got)
	assert.Equal(t, time.Minute, mr.TTL("rooms:new"))
}
