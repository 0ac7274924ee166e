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

func TestChannel_JoinCreatesNoneRecord(t *testing.T) {
	ctx := context.Background()
	conn := newTree(newFakeClock()).Connect("s")
	ch := NewChannel(conn)

	status, err := ch.Join(ctx, "lab", "s1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusNone, status)

	var r models.Response
	require.NoError(t, read(t, conn, store.ResponsePath("lab", "s1")).Decode(&r))
	assert.Equal(t, models.Response{Status: models.StatusNone, Timestamp: t0.UnixMilli(), Name: "Student"}, r)

	require.NoError(t, ch.SetStatus(ctx, "lab", "s1", models.StatusConfused))
	status, err = ch.Join(ctx, "lab", "s1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfused, status, "existing record is kept")
}

func TestChannel_SetStatusOverwritesRecord(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	conn := newTree(clock).Connect("s")
	ch := NewChannel(conn)

	require.NoError(t, ch.SetStatus(ctx, "lab", "s1", models.StatusGood))
	_, err := ch.SubmitFeedback(ctx, "lab", "s1", "slow down")
	require.NoError(t, err)
	assert.Equal(t, true, field(read(t, conn, store.ResponsePath("lab", "s1")), "hasFeedback"))

	clock.Advance(time.Second)
	require.NoError(t, ch.SetStatus(ctx, "lab", "s1", models.StatusConfused))

	var r models.Response
	require.NoError(t, read(t, conn, store.ResponsePath("lab", "s1")).Decode(&r))
	assert.Equal(t, models.StatusConfused, r.Status)
	assert.False(t, r.HasFeedback)
	assert.Equal(t, t0.Add(time.Second).UnixMilli(), r.Timestamp)
	assert.Len(t, read(t, conn, store.ResponsesPath("lab")).Children(), 1, "one record per student")
}

func TestChannel_SetStatusRejectsUnknown(t *testing.T) {
	ch := NewChannel(newTree(newFakeClock()).Connect("s"))
	assert.ErrorIs(t, ch.SetStatus(context.Background(), "lab", "s1", models.Status("maybe")), ErrInvalidStatus)
}

func TestChannel_SubmitFeedback(t *testing.T) {
	ctx := context.Background()
	conn := newTree(newFakeClock()).Connect("s")
	ch := NewChannel(conn)
	require.NoError(t, ch.SetStatus(ctx, "lab", "s1", models.StatusConfused))

	id, err := ch.SubmitFeedback(ctx, "lab", "s1", "  what is a monad?  ")
	require.NoError(t, err)

	var f models.Feedback
	require.NoError(t, read(t, conn, store.FeedbackEntryPath("lab", id)).Decode(&f))
	assert.Equal(t, "what is a monad?", f.Text)
	assert.Equal(t, models.StatusConfused, f.Status)
	assert.Equal(t, "s1", f.StudentID)
	assert.Equal(t, t0.UnixMilli(), f.Timestamp)
	assert.Equal(t, true, field(read(t, conn, store.ResponsePath("lab", "s1")), "hasFeedback"))
}

func TestChannel_SubmitFeedbackWithoutResponse(t *testing.T) {
	ctx := context.Background()
	conn := newTree(newFakeClock()).Connect("s")
	ch := NewChannel(conn)

	id, err := ch.SubmitFeedback(ctx, "lab", "s1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "none", field(read(t, conn, store.FeedbackEntryPath("lab", id)), "status"))
	assert.False(t, read(t, conn, store.ResponsePath("lab", "s1")).Exists(), "no response record is created")
}

func TestChannel_SubmitFeedbackRejectsBlank(t *testing.T) {
	ctx := context.Background()
	conn := newTree(newFakeClock()).Connect("s")
	ch := NewChannel(conn)

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := ch.SubmitFeedback(ctx, "lab", "s1", text)
		assert.ErrorIs(t, err, ErrEmptyFeedback)
	}
	assert.False(t, read(t, conn, store.FeedbackPath("lab")).Exists())
}

func TestChannel_Reset(t *testing.T) {
	ctx := context.Background()
	conn := newTree(newFakeClock()).Connect("s")
	ch := NewChannel(conn)
	require.NoError(t, conn.Set(ctx, store.OwnerPath("lab"), map[string]any{"token": "tok"}))
	require.NoError(t, ch.SetStatus(ctx, "lab", "s1", models.StatusGood))
	_, err := ch.SubmitFeedback(ctx, "lab", "s1", "ok")
	require.NoError(t, err)

	require.NoError(t, ch.Reset(ctx, "lab"))

	assert.False(t, read(t, conn, store.ResponsesPath("lab")).Exists())
	assert.False(t, read(t, conn, store.FeedbackPath("lab")).Exists())
	assert.True(t, read(t, conn, store.OwnerPath("lab")).Exists())
}

func TestLatestFeedback(t *testing.T) {
	value := map[string]any{}
	for i := 0; i < 25; i++ {
		id := "feedback_" + string(rune('a'+i))
		value[id] = map[string]any{"text": id, "timestamp": float64(1000 + i), "status": "good", "studentId": "s"}
	}
	// 同じ時刻ならIDの大きい方が新しい
	value["feedback_zz"] = map[string]any{"text": "tie", "timestamp": float64(1024)}

	got := LatestFeedback(store.NewSnapshot("rooms/lab/feedback", value), FeedbackLimit)
	require.Len(t, got, FeedbackLimit)
	assert.Equal(t, "feedback_zz", got[0].ID)
	assert.Equal(t, "feedback_y", got[1].ID)
	assert.Equal(t, int64(1024), got[1].Timestamp)
	assert.Equal(t, "feedback_g", got[FeedbackLimit-1].ID)

	assert.Empty(t, LatestFeedback(store.NewSnapshot("rooms/lab/feedback", nil), 0))
}

func TestChannel_WatchFeedbackNewestFirst(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	conn := newTree(clock).Connect("s")
	ch := NewChannel(conn)

	var mu sync.Mutex
	var latest []models.Feedback
	stop, err := ch.WatchFeedback(ctx, "lab", 2, func(fs []models.Feedback) {
		mu.Lock()
		defer mu.Unlock()
		latest = fs
	})
	require.NoError(t, err)
	defer stop()

	for _, text := range []string{"one", "two", "three"} {
		_, err := ch.SubmitFeedback(ctx, "lab", "s1", text)
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(latest) == 2 && latest[0].Text == "three" && latest[1].Text == "two"
	}, time.Second, 5*time.Millisecond)
}

func TestChannel_WatchOwnStatus(t *testing.T) {
	ctx := context.Background()
	tree := newTree(newFakeClock())
	tab1 := NewChannel(tree.Connect("tab1"))
	tab2 := NewChannel(tree.Connect("tab2"))

	var mu sync.Mutex
	var seen []models.Status
	stop, err := tab1.WatchOwnStatus(ctx, "lab", "s1", func(r models.Response) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, r.Status)
	})
	require.NoError(t, err)
	defer stop()

	require.NoError(t, tab2.SetStatus(ctx, "lab", "s1", models.StatusGood))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1 && seen[0] == models.StatusGood
	}, time.Second, 5*time.Millisecond)
}

func TestResponseStatus_LegacyString(t *testing.T) {
	assert.Equal(t, models.StatusConfused, responseStatus(store.NewSnapshot("r", "confused")))
	assert.Equal(t, models.StatusGood, decodeResponse(store.NewSnapshot("r", "good")).Status)
	assert.Equal(t, models.StatusNone, responseStatus(store.NewSnapshot("r", map[string]any{"name": "x"})))
}
