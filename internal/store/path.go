package store

import (
	"fmt"
	"strings"
)

const (
	Rooms       = "rooms"
	PresenceKey = "presence" // rooms/{room} 直下のプレゼンスのキー
)

// RoomPath は rooms/{room} を返します
func RoomPath(room string) string { return Rooms + "/" + room }

func OwnerPath(room string) string { return RoomPath(room) + "/owner" }

func PresencePath(room string) string { return RoomPath(room) + "/" + PresenceKey }

func PresenceEntryPath(room, id string) string { return PresencePath(room) + "/" + id }

func ResponsesPath(room string) string { return RoomPath(room) + "/responses" }

func ResponsePath(room, id string) string { return ResponsesPath(room) + "/" + id }

func FeedbackPath(room string) string { return RoomPath(room) + "/feedback" }

func FeedbackEntryPath(room, id string) string { return FeedbackPath(room) + "/" + id }

// split はパスをセグメントに分割します
// 空文字列と "/" はルートを表します
func split(path string) ([]string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, nil
	}
	segs := strings.Split(path, "/")
	for _, s := range segs {
		if s == "" || strings.ContainsAny(s, ".#$[]") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return segs, nil
}

func join(segs []string) string {
	return strings.Join(segs, "/")
}

// overlaps は一方のパスがもう一方の祖先または同一であるかを返します
func overlaps(a, b []string) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
