package store

import (
	"encoding/json"
	"sort"
	"strings"
)

// Snapshot はあるパスのある時点の値です
type Snapshot struct {
	path  string
	value any
}

// NewSnapshot は値からスナップショットを作ります（テストやリモート受信用）
func NewSnapshot(path string, value any) Snapshot {
	return Snapshot{path: strings.Trim(path, "/"), value: value}
}

func (s Snapshot) Path() string { return s.path }

// Key はパスの最後のセグメントを返します
func (s Snapshot) Key() string {
	if i := strings.LastIndex(s.path, "/"); i >= 0 {
		return s.path[i+1:]
	}
	return s.path
}

func (s Snapshot) Exists() bool { return s.value != nil }

func (s Snapshot) Value() any { return s.value }

// Decode は値を dst にデコードします
func (s Snapshot) Decode(dst any) error {
	b, err := json.Marshal(s.value)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

// Child は子ノードのスナップショットを返します
func (s Snapshot) Child(key string) Snapshot {
	m, _ := s.value.(map[string]any)
	return Snapshot{path: childPath(s.path, key), value: m[key]}
}

// Children はキー順に並べた子ノードを返します
func (s Snapshot) Children() []Snapshot {
	m, ok := s.value.(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Snapshot, 0, len(keys))
	for _, k := range keys {
		out = append(out, Snapshot{path: childPath(s.path, k), value: m[k]})
	}
	return out
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.value)
}

func childPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "/" + key
}
