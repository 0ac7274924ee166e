package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Sooly64/Confusion-Heatmap/internal/store"
)

// BatchSaver は複数ルームをまとめて保存できる RoomRepo です
type BatchSaver interface {
	SaveBatch(ctx context.Context, rooms map[string][]byte, ttl time.Duration) error
}

// Persister はツリーの変更を受け取り、別のgoroutineで RoomRepo に書き込みます
// store.Persister を実装します
type Persister struct {
	repo   RoomRepo
	ttl    time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string][]byte // ルーム名 -> JSON（nil は削除）
	wake    chan struct{}
	done    chan struct{}
}

var _ store.Persister = (*Persister)(nil)

func NewPersister(r RoomRepo, ttl time.Duration, logger *slog.Logger) *Persister {
	if logger == nil {
		logger = slog.Default()
	}
	return &Persister{
		repo:    r,
		ttl:     ttl,
		logger:  logger,
		pending: make(map[string][]byte),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Persist は変更を保留に積みます（ブロックしません）
// 同じルームの変更は最新のものだけが書き込まれます
func (p *Persister) Persist(changes map[string]any) {
	p.mu.Lock()
	for path, v := range changes {
		name := strings.TrimPrefix(path, store.Rooms+"/")
		if v == nil {
			p.pending[name] = nil
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			p.logger.Error("failed to encode room", "room", name, "error", err)
			continue
		}
		p.pending[name] = b
	}
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run は保留中の変更を書き込み続けます
// ctx が終了すると残りを書き込んでから戻ります
// 書き込み自体は ctx のキャンセルで中断しません
func (p *Persister) Run(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			p.flush(context.WithoutCancel(ctx))
			return
		case <-p.wake:
			p.flush(context.WithoutCancel(ctx))
		}
	}
}

// Wait は Run の終了を待ちます
func (p *Persister) Wait() { <-p.done }

func (p *Persister) flush(ctx context.Context) {
	p.mu.Lock()
	batch := p.pending
	p.pending = make(map[string][]byte)
	p.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	if bs, ok := p.repo.(BatchSaver); ok {
		if err := bs.SaveBatch(ctx, batch, p.ttl); err != nil {
			p.logger.Error("failed to persist rooms", "count", len(batch), "error", err)
		}
		return
	}
	for name, b := range batch {
		var err error
		if b == nil {
			err = p.repo.DeleteRoom(ctx, name)
		} else {
			err = p.repo.SaveRoom(ctx, name, b, p.ttl)
		}
		if err != nil {
			p.logger.Error("failed to persist room", "room", name, "error", err)
		}
	}
}

// Restore は保存済みのルームをツリーに読み込みます
// presence は読み込みません（参加者は再接続時に書き直します）
// 戻り値: 読み込んだルーム数
func Restore(ctx context.Context, r RoomRepo, tree *store.Tree) (int, error) {
	rooms, err := r.LoadRooms(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for name, b := range rooms {
		var room map[string]json.RawMessage
		if err := json.Unmarshal(b, &room); err != nil {
			return n, fmt.Errorf("decode room %s: %w", name, err)
		}
		// プレゼンスを予約した接続は再起動で失われているため、切断時の削除が二度と実行されない
		delete(room, store.PresenceKey)
		if len(room) == 0 {
			continue
		}
		if err := tree.Load(store.RoomPath(name), room); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
