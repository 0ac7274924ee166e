package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Sooly64/Confusion-Heatmap/internal/store"
)

// ReaperOptions は掃除処理の設定です
type ReaperOptions struct {
	Window       time.Duration    // この期間内に活動がなければ削除（既定30分）
	Interval     time.Duration    // 実行間隔（既定5分）
	InitialDelay time.Duration    // 起動後の初回実行までの待ち時間（既定5秒）
	OnReaped     func([]string)   // 1件以上削除した後に呼ばれる（ルーム一覧の再取得など）
	Now          func() time.Time // 現在時刻
}

// Reaper は活動のないルームをサブツリーごと削除します
type Reaper struct {
	store  store.Client
	opts   ReaperOptions
	logger *slog.Logger
}

// NewReaper は新しいReaperを作成します
func NewReaper(st store.Client, logger *slog.Logger, opts ReaperOptions) *Reaper {
	if opts.Window <= 0 {
		opts.Window = 30 * time.Minute
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{store: st, opts: opts, logger: logger}
}

// Reap はすべてのルームを調べ、直近 Window 内の活動がないルームを削除します
// 活動とは presence の lastSeen、responses と feedback の timestamp です
// 所有者の有無は問いません
// 戻り値: 削除したルーム名
func (r *Reaper) Reap(ctx context.Context, now time.Time) ([]string, error) {
	snap, err := r.store.Read(ctx, store.Rooms)
	if err != nil {
		return nil, fmt.Errorf("read rooms: %w", err)
	}
	cutoff := now.Add(-r.opts.Window).UnixMilli()

	var deleted []string
	for _, room := range snap.Children() {
		if active(room, cutoff) {
			continue
		}
		name := room.Key()
		if err := r.store.Remove(ctx, store.RoomPath(name)); err != nil {
			r.logger.Error("failed to delete inactive room", "room", name, "error", err)
			continue
		}
		r.logger.Info("deleted inactive room", "room", name)
		deleted = append(deleted, name)
	}
	if len(deleted) > 0 {
		r.logger.Info("cleaned up inactive rooms", "count", len(deleted))
		if r.opts.OnReaped != nil {
			r.opts.OnReaped(deleted)
		}
	}
	return deleted, nil
}

// Run は InitialDelay 後に1回、以後 Interval ごとに Reap を実行します
// ctx が終了するまで戻りません
func (r *Reaper) Run(ctx context.Context) {
	timer := time.NewTimer(r.opts.InitialDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	r.runOnce(ctx)

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Reaper) runOnce(ctx context.Context) {
	r.logger.Debug("running room cleanup")
	if _, err := r.Reap(ctx, r.opts.Now()); err != nil && ctx.Err() == nil {
		r.logger.Error("error during room cleanup", "error", err)
	}
}

func active(room store.Snapshot, cutoff int64) bool {
	return newest(room.Child("presence"), "lastSeen") > cutoff ||
		newest(room.Child("responses"), "timestamp") > cutoff ||
		newest(room.Child("feedback"), "timestamp") > cutoff
}

// newest は子ノードの field の最大値を返します（ミリ秒）
func newest(s store.Snapshot, field string) int64 {
	var latest int64
	for _, c := range s.Children() {
		m, ok := c.Value().(map[string]any)
		if !ok {
			continue
		}
		if v, ok := m[field].(float64); ok && int64(v) > latest {
			latest = int64(v)
		}
	}
	return latest
}
