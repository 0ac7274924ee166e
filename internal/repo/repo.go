// Package repo はルームのサブツリーを永続化します
package repo

import (
	"context"
	"time"
)

// RoomRepo はルーム単位のスナップショットを保存・取得するインターフェース
type RoomRepo interface {
	SaveRoom(ctx context.Context, name string, subtree []byte, ttl time.Duration) error
	DeleteRoom(ctx context.Context, name string) error
	LoadRooms(ctx context.Context) (map[string][]byte, error)
}
