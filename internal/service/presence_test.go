package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sooly64/Confusion-Heatmap/internal/models"
	"github.com/Sooly64/Confusion-Heatmap/internal/store"
)

func TestPresenceTracker_TrackWritesRecord(t *testing.T) {
	ctx := context.Background()
	tree := newTree(newFakeClock())
	conn := tree.Connect("student")
	tracker := NewPresenceTracker(conn, time.Hour, discardLogger())

	p, err := tracker.Track(ctx, "lab", "student_abc", models.TypeStudent)
	require.NoError(t, err)
	defer p.Stop()

	var rec models.Presence
	require.NoError(t, read(t, conn, store.PresenceEntryPath("lab", "student_abc")).Decode(&rec))
	assert.Equal(t, "online", rec.Status)
	assert.Equal(t, models.TypeStudent, rec.Type)
	assert.Equal(t, t0.UnixMilli(), rec.Timestamp)
	assert.Equal(t, t0.UnixMilli(), rec.LastSeen)
}

func TestPresenceTracker_RemovedOnDisconnect(t *testing.T) {
	ctx := context.Background()
	tree := newTree(newFakeClock())
	conn := tree.Connect("student")
	observer := tree.Connect("teacher")

	p, err := NewPresenceTracker(conn, time.Hour, discardLogger()).Track(ctx, "lab", "student_abc", models.TypeStudent)
	require.NoError(t, err)
	p.Stop()

	assert.True(t, read(t, observer, store.PresenceEntryPath("lab", "student_abc")).Exists())
	require.NoError(t, conn.Close())
	assert.False(t, read(t, observer, store.PresenceEntryPath("lab", "student_abc")).Exists())
}

func TestPresenceTracker_HeartbeatRefreshesLastSeen(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	tree := newTree(clock)
	conn := tree.Connect("student")

	p, err := NewPresenceTracker(conn, 10*time.Millisecond, discardLogger()).Track(ctx, "lab", "s1", models.TypeStudent)
	require.NoError(t, err)
	defer p.Stop()

	clock.Advance(time.Minute)
	want := float64(t0.Add(time.Minute).UnixMilli())
	path := store.PresenceEntryPath("lab", "s1")
	require.Eventually(t, func() bool {
		return field(read(t, conn, path), "lastSeen") == want
	}, time.Second, 5*time.Millisecond)

	snap := read(t, conn, path)
	assert.Equal(t, float64(t0.UnixMilli()), field(snap, "timestamp"), "timestamp is the join time")
}

func TestPresence_Leave(t *testing.T) {
	ctx := context.Background()
	tree := newTree(newFakeClock())
	conn := tree.Connect("teacher")

	p, err := NewPresenceTracker(conn, time.Hour, discardLogger()).Track(ctx, "lab", "teacher_lab", models.TypeTeacher)
	require.NoError(t, err)
	require.NoError(t, p.Leave(ctx))
	p.Stop()

	assert.False(t, read(t, conn, store.PresenceEntryPath("lab", "teacher_lab")).Exists())
}
