package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sooly64/Confusion-Heatmap/internal/models"
	"github.com/Sooly64/Confusion-Heatmap/internal/store"
)

func TestSummarize(t *testing.T) {
	rooms := store.NewSnapshot(store.Rooms, map[string]any{
		"beta": map[string]any{
			"presence": map[string]any{
				"s1":        map[string]any{"type": "student"},
				"s2":        map[string]any{"type": "student"},
				"teacher_b": map[string]any{"type": "teacher"},
			},
		},
		"Alpha": map[string]any{
			"responses": map[string]any{"s1": map[string]any{"status": "good"}},
		},
		"charlie": map[string]any{
			"owner": map[string]any{"token": "tok"},
		},
	})

	got := Summarize(rooms)
	assert.Equal(t, []models.RoomSummary{
		{Name: "Alpha", StudentCount: 0},
		{Name: "beta", StudentCount: 2},
	}, got)

	empty := Summarize(store.NewSnapshot(store.Rooms, nil))
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestDirectory_PollRefreshes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn := newTree(newFakeClock()).Connect("lobby")
	dir := NewDirectory(conn, discardLogger())

	var mu sync.Mutex
	var lists [][]models.RoomSummary
	refresh := make(chan struct{}, 1)
	go dir.Poll(ctx, time.Hour, refresh, func(rs []models.RoomSummary) {
		mu.Lock()
		defer mu.Unlock()
		lists = append(lists, rs)
	})

	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(lists)
	}
	require.Eventually(t, func() bool { return count() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Set(ctx, store.PresenceEntryPath("lab", "s1"), map[string]any{"type": "student"}))
	refresh <- struct{}{}
	require.Eventually(t, func() bool { return count() == 2 }, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, lists[0])
	assert.Equal(t, []models.RoomSummary{{Name: "lab", StudentCount: 1}}, lists[1])
}
