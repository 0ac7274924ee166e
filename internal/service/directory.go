package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Sooly64/Confusion-Heatmap/internal/models"
	"github.com/Sooly64/Confusion-Heatmap/internal/store"
)

// DefaultDirectoryRefresh はロビーのルーム一覧を再取得する間隔
const DefaultDirectoryRefresh = 30 * time.Second

// Directory はロビーに表示するアクティブなルームの一覧を提供します
type Directory struct {
	store  store.Client
	logger *slog.Logger
}

func NewDirectory(st store.Client, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{store: st, logger: logger}
}

// List はプレゼンスまたは回答が1件以上あるルームを、名前の大文字小文字を無視した順で返します
// 人数には学生だけを数えます
func (d *Directory) List(ctx context.Context) ([]models.RoomSummary, error) {
	snap, err := d.store.Read(ctx, store.Rooms)
	if err != nil {
		return nil, fmt.Errorf("read rooms: %w", err)
	}
	return Summarize(snap), nil
}

// Summarize は rooms のスナップショットからロビー用の一覧を作ります
func Summarize(rooms store.Snapshot) []models.RoomSummary {
	out := []models.RoomSummary{}
	for _, room := range rooms.Children() {
		presence := room.Child("presence").Children()
		responses := room.Child("responses").Children()
		if len(presence) == 0 && len(responses) == 0 {
			continue
		}
		n := 0
		for _, p := range presence {
			if m, ok := p.Value().(map[string]any); ok && m["type"] == string(models.TypeStudent) {
				n++
			}
		}
		out = append(out, models.RoomSummary{Name: room.Key(), StudentCount: n})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}

// Poll は interval ごとに一覧を取得して fn に渡します
// refresh に値が届いた時も即座に取得します（掃除後の再表示用）
func (d *Directory) Poll(ctx context.Context, interval time.Duration, refresh <-chan struct{}, fn func([]models.RoomSummary)) {
	if interval <= 0 {
		interval = DefaultDirectoryRefresh
	}
	load := func() {
		rooms, err := d.List(ctx)
		if err != nil {
			if ctx.Err() == nil {
				d.logger.Error("error fetching rooms", "error", err)
			}
			return
		}
		fn(rooms)
	}
	load()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			load()
		case <-refresh:
			load()
		}
	}
}
