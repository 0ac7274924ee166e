// Package store はルームのデータを保持するリアルタイムなツリー型ストアです
// パス単位の読み書き、購読、複数パスの一括更新、サーバー時刻、切断時の削除予約を提供します
package store

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrUnavailable = errors.New("store: unavailable")
	ErrClosed      = errors.New("store: connection closed")
	ErrInvalidPath = errors.New("store: invalid path")
)

// Client はストアへの1接続を表します
// コアのロジックはこのインターフェースだけに依存し、テストではインメモリの Tree を使います
type Client interface {
	// Read はパスの現在値を1回だけ読み込みます
	Read(ctx context.Context, path string) (Snapshot, error)
	// Subscribe はパスを購読します
	// 登録直後に現在値が1回届き、以後パスに影響する変更のたびに届きます
	// 戻り値の関数で購読を解除します
	Subscribe(ctx context.Context, path string, fn func(Snapshot)) (func(), error)
	// Set はパスの値を置き換えます（nil は削除）
	Set(ctx context.Context, path string, value any) error
	// Update は複数パスをアトミックに更新します（nil の値は削除）
	Update(ctx context.Context, values map[string]any) error
	// Remove はパス以下をすべて削除します
	Remove(ctx context.Context, path string) error
	// OnDisconnectRemove は接続が失われた時にパスを削除するようサーバー側に予約します
	OnDisconnectRemove(ctx context.Context, path string) error
}

type serverTimestamp struct{}

func (serverTimestamp) MarshalJSON() ([]byte, error) {
	return []byte(`{".sv":"timestamp"}`), nil
}

// ServerTimestamp を値として書き込むと、コミット時にサーバー時刻（ミリ秒）へ置き換えられます
var ServerTimestamp any = serverTimestamp{}

func isServerTimestamp(v any) bool {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return false
	}
	return m[".sv"] == "timestamp"
}

// normalize は任意の値をJSONの汎用表現（map[string]any, []any, float64, string, bool）に変換します
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return decodeRaw(raw)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return decodeRaw(b)
}

func decodeRaw(raw []byte) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return prune(out), nil
}

// prune は空のマップを nil として扱います（空のノードは存在しない）
func prune(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	for k, c := range m {
		if c = prune(c); c == nil {
			delete(m, k)
		} else {
			m[k] = c
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

func resolveTimestamps(v any, nowMs float64) any {
	if isServerTimestamp(v) {
		return nowMs
	}
	switch t := v.(type) {
	case map[string]any:
		for k, c := range t {
			t[k] = resolveTimestamps(c, nowMs)
		}
	case []any:
		for i, c := range t {
			t[i] = resolveTimestamps(c, nowMs)
		}
	}
	return v
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, c := range t {
			out[k] = deepCopy(c)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, c := range t {
			out[i] = deepCopy(c)
		}
		return out
	}
	return v
}
