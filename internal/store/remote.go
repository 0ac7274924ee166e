package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Sooly64/Confusion-Heatmap/internal/idgen"
	"github.com/gorilla/websocket"
)

// Remote はゲートウェイにWebSocketで接続する Client です
// 切断時の削除予約はゲートウェイ側で保持され、ソケットが切れると実行されます
type Remote struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan Message
	subs    map[string]*mailbox
	closed  bool
	done    chan struct{}
}

var _ Client = (*Remote)(nil)

// Dial はゲートウェイに接続します
// 接続できない場合は ErrUnavailable を返します
func Dial(ctx context.Context, url string, logger *slog.Logger) (*Remote, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Remote{
		conn:    conn,
		logger:  logger,
		pending: make(map[string]chan Message),
		subs:    make(map[string]*mailbox),
		done:    make(chan struct{}),
	}
	go r.readLoop()
	return r, nil
}

// Done は接続が閉じると閉じられるチャネルを返します
func (r *Remote) Done() <-chan struct{} { return r.done }

func (r *Remote) readLoop() {
	defer r.shutdown()
	for {
		var msg Message
		if err := r.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.logger.Warn("store connection lost", "error", err)
			}
			return
		}
		switch msg.Type {
		case MsgReply:
			r.mu.Lock()
			ch, ok := r.pending[msg.ID]
			delete(r.pending, msg.ID)
			r.mu.Unlock()
			if ok {
				ch <- msg
			}
		case MsgEvent:
			v, err := decodeRaw(msg.Value)
			if err != nil {
				r.logger.Warn("invalid event payload", "sub", msg.Sub, "error", err)
				continue
			}
			r.mu.Lock()
			box, ok := r.subs[msg.Sub]
			r.mu.Unlock()
			if ok {
				box.push(Snapshot{path: msg.Path, value: v})
			}
		default:
			r.logger.Warn("unknown message type", "type", msg.Type)
		}
	}
}

func (r *Remote) shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for id, box := range r.subs {
		box.close()
		delete(r.subs, id)
	}
	for id, ch := range r.pending {
		close(ch)
		delete(r.pending, id)
	}
	close(r.done)
}

// Close は接続を閉じます
func (r *Remote) Close() error {
	r.writeMu.Lock()
	_ = r.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	r.writeMu.Unlock()
	err := r.conn.Close()
	r.shutdown()
	return err
}

func (r *Remote) call(ctx context.Context, req Request) (Message, error) {
	req.ID = idgen.NewRequestID()
	ch := make(chan Message, 1)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Message{}, ErrClosed
	}
	r.pending[req.ID] = ch
	r.mu.Unlock()

	r.writeMu.Lock()
	err := r.conn.WriteJSON(req)
	r.writeMu.Unlock()
	if err != nil {
		r.mu.Lock()
		delete(r.pending, req.ID)
		r.mu.Unlock()
		return Message{}, fmt.Errorf("store: write %s: %w", req.Op, err)
	}

	select {
	case <-ctx.Done():
		r.mu.Lock()
		delete(r.pending, req.ID)
		r.mu.Unlock()
		return Message{}, ctx.Err()
	case msg, ok := <-ch:
		if !ok {
			return Message{}, ErrClosed
		}
		if msg.Error != "" {
			return msg, errors.New(msg.Error)
		}
		return msg, nil
	}
}

func (r *Remote) Read(ctx context.Context, path string) (Snapshot, error) {
	msg, err := r.call(ctx, Request{Op: OpRead, Path: path})
	if err != nil {
		return Snapshot{}, err
	}
	v, err := decodeRaw(msg.Value)
	if err != nil {
		return Snapshot{}, err
	}
	return NewSnapshot(path, v), nil
}

func (r *Remote) Subscribe(ctx context.Context, path string, fn func(Snapshot)) (func(), error) {
	sub := idgen.NewULID()
	box := newMailbox(fn)
	r.mu.Lock()
	r.subs[sub] = box
	r.mu.Unlock()

	drop := func() {
		r.mu.Lock()
		delete(r.subs, sub)
		r.mu.Unlock()
		box.close()
	}
	if _, err := r.call(ctx, Request{Op: OpSubscribe, Path: path, Sub: sub}); err != nil {
		drop()
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			drop()
			if _, err := r.call(context.Background(), Request{Op: OpUnsubscribe, Sub: sub}); err != nil && !errors.Is(err, ErrClosed) {
				r.logger.Warn("unsubscribe failed", "path", path, "error", err)
			}
		})
	}, nil
}

func (r *Remote) Set(ctx context.Context, path string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = r.call(ctx, Request{Op: OpSet, Path: path, Value: raw})
	return err
}

func (r *Remote) Update(ctx context.Context, values map[string]any) error {
	raws := make(map[string]json.RawMessage, len(values))
	for p, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		raws[p] = raw
	}
	_, err := r.call(ctx, Request{Op: OpUpdate, Values: raws})
	return err
}

func (r *Remote) Remove(ctx context.Context, path string) error {
	_, err := r.call(ctx, Request{Op: OpRemove, Path: path})
	return err
}

func (r *Remote) OnDisconnectRemove(ctx context.Context, path string) error {
	_, err := r.call(ctx, Request{Op: OpOnDisconnectRemove, Path: path})
	return err
}
