package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Sooly64/Confusion-Heatmap/internal/models"
	"github.com/Sooly64/Confusion-Heatmap/internal/store"
)

// DefaultHeartbeat はプレゼンスの lastSeen を更新する間隔
const DefaultHeartbeat = 60 * time.Second

// PresenceTracker は参加者の接続状態をストアに書き込みます
type PresenceTracker struct {
	store    store.Client
	interval time.Duration
	logger   *slog.Logger
}

// NewPresenceTracker は新しいPresenceTrackerを作成します
// interval が0以下の場合は DefaultHeartbeat を使います
func NewPresenceTracker(st store.Client, interval time.Duration, logger *slog.Logger) *PresenceTracker {
	if interval <= 0 {
		interval = DefaultHeartbeat
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PresenceTracker{store: st, interval: interval, logger: logger}
}

// Presence は Track で開始した1参加者のハートビートです
type Presence struct {
	store  store.Client
	path   string
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Track はプレゼンスを書き込み、切断時の削除を予約し、ハートビートを開始します
// 処理の流れ:
// 1. {status: online, type, timestamp, lastSeen} を書き込む
// 2. 同じキーの削除を切断時に実行するようサーバー側に登録する
// 3. interval ごとに lastSeen を更新する（Stop / Leave / ctx の終了まで）
func (t *PresenceTracker) Track(ctx context.Context, room, participantID string, kind models.ParticipantType) (*Presence, error) {
	path := store.PresenceEntryPath(room, participantID)
	err := t.store.Set(ctx, path, map[string]any{
		"status":    "online",
		"type":      kind,
		"timestamp": store.ServerTimestamp,
		"lastSeen":  store.ServerTimestamp,
	})
	if err != nil {
		return nil, writeFailed("presence "+participantID, err)
	}
	if err := t.store.OnDisconnectRemove(ctx, path); err != nil {
		return nil, writeFailed("register disconnect cleanup", err)
	}

	hbCtx, cancel := context.WithCancel(ctx)
	p := &Presence{store: t.store, path: path, cancel: cancel, done: make(chan struct{})}
	go t.heartbeat(hbCtx, p)

	t.logger.Info("presence tracked", "room", room, "id", participantID, "type", kind)
	return p, nil
}

func (t *PresenceTracker) heartbeat(ctx context.Context, p *Presence) {
	defer close(p.done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := t.store.Update(ctx, map[string]any{p.path + "/lastSeen": store.ServerTimestamp})
			if err != nil && ctx.Err() == nil {
				t.logger.Warn("failed to refresh presence", "path", p.path, "error", err)
			}
		}
	}
}

// Stop はハートビートを止めます（レコードは残ります）
func (p *Presence) Stop() {
	p.once.Do(p.cancel)
	<-p.done
}

// Leave はハートビートを止めてプレゼンスを削除します（画面遷移時の明示的な退出）
func (p *Presence) Leave(ctx context.Context) error {
	p.Stop()
	if err := p.store.Remove(ctx, p.path); err != nil {
		return writeFailed("leave", err)
	}
	return nil
}
