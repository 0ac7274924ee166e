package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sooly64/Confusion-Heatmap/internal/store"
)

func TestReaper_ReapDeletesInactiveRooms(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	tree := newTree(clock)
	conn := tree.Connect("reaper")

	// t0 の活動のみ
	require.NoError(t, conn.Set(ctx, store.PresenceEntryPath("old", "s1"), map[string]any{"type": "student", "lastSeen": store.ServerTimestamp}))
	require.NoError(t, conn.Set(ctx, store.OwnerPath("owned"), map[string]any{"token": "tok", "timestamp": store.ServerTimestamp}))
	// 判定の境界ちょうど（t0 + 1m）
	clock.Advance(time.Minute)
	require.NoError(t, conn.Set(ctx, store.ResponsePath("edge", "s1"), map[string]any{"status": "good", "timestamp": store.ServerTimestamp}))
	// 最近の活動
	clock.Advance(19 * time.Minute)
	require.NoError(t, conn.Set(ctx, store.ResponsePath("recent", "s1"), map[string]any{"status": "good", "timestamp": store.ServerTimestamp}))
	require.NoError(t, conn.Set(ctx, store.FeedbackEntryPath("chatty", "feedback_1"), map[string]any{"text": "hi", "timestamp": store.ServerTimestamp}))
	require.NoError(t, conn.Set(ctx, store.OwnerPath("recent"), map[string]any{"token": "tok"}))

	var reaped []string
	r := NewReaper(conn, discardLogger(), ReaperOptions{OnReaped: func(names []string) { reaped = names }})
	deleted, err := r.Reap(ctx, t0.Add(31*time.Minute))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"old", "owned", "edge"}, deleted)
	assert.Equal(t, deleted, reaped)

	rooms := read(t, conn, store.Rooms)
	var left []string
	for _, c := range rooms.Children() {
		left = append(left, c.Key())
	}
	assert.Equal(t, []string{"chatty", "recent"}, left)
}

func TestReaper_NothingToReap(t *testing.T) {
	ctx := context.Background()
	conn := newTree(newFakeClock()).Connect("reaper")
	require.NoError(t, conn.Set(ctx, store.PresenceEntryPath("lab", "s1"), map[string]any{"lastSeen": store.ServerTimestamp}))

	called := false
	r := NewReaper(conn, discardLogger(), ReaperOptions{OnReaped: func([]string) { called = true }})
	deleted, err := r.Reap(ctx, t0.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, deleted)
	assert.False(t, called)
}

func TestReaper_RunReapsAfterInitialDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn := newTree(newFakeClock()).Connect("reaper")
	require.NoError(t, conn.Set(ctx, store.ResponsePath("stale", "s1"), map[string]any{"status": "good", "timestamp": store.ServerTimestamp}))

	var mu sync.Mutex
	var reaped []string
	r := NewReaper(conn, discardLogger(), ReaperOptions{
		InitialDelay: time.Millisecond,
		Interval:     time.Hour,
		Now:          func() time.Time { return t0.Add(time.Hour) },
		OnReaped: func(names []string) {
			mu.Lock()
			defer mu.Unlock()
			reaped = append(reaped, names...)
		},
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reaped) == 1
	}, time.Second, 5*time.Millisecond)
	assert.False(t, read(t, conn, store.RoomPath("stale")).Exists())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
