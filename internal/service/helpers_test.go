package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Sooly64/Confusion-Heatmap/internal/store"
)

var t0 = time.UnixMilli(1_700_000_000_000)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: t0} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTree(clock *fakeClock) *store.Tree {
	return store.NewTree(store.WithClock(clock.Now))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixedTokens struct {
	mu   sync.Mutex
	next []string
}

func (f *fixedTokens) New(string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tok := f.next[0]
	f.next = f.next[1:]
	return tok, nil
}

func read(t *testing.T, c store.Client, path string) store.Snapshot {
	t.Helper()
	snap, err := c.Read(context.Background(), path)
	require.NoError(t, err)
	return snap
}

func field(s store.Snapshot, name string) any {
	return s.Child(name).Value()
}
