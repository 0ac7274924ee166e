package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/Sooly64/Confusion-Heatmap/internal/idgen"
	"github.com/Sooly64/Confusion-Heatmap/internal/store"
	"github.com/gorilla/websocket"
)

const (
	// 1メッセージの書き込みタイムアウト
	writeWait = 10 * time.Second

	// 次の pong を待つ時間。過ぎたら切断扱い
	pongWait = 60 * time.Second

	// ping の送信間隔（pongWait より短くする）
	pingPeriod = (pongWait * 9) / 10

	// 受信メッセージの最大サイズ
	maxMessageSize = 64 * 1024

	// 送信キューの長さ。溢れたら遅いクライアントとして切断します
	sendBufferSize = 256
)

// GatewayHandler はストアへのWebSocket接続を処理するハンドラー
// 1ソケットが1つのストア接続になり、ソケットが切れると予約された削除が実行されます
type GatewayHandler struct {
	tree     *store.Tree
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewGatewayHandler は新しいGatewayHandlerを作成します
// allowedOrigins が空の場合はすべてのオリジンを許可します
func NewGatewayHandler(tree *store.Tree, allowedOrigins []string, logger *slog.Logger) *GatewayHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GatewayHandler{
		tree:   tree,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, origin)
			},
		},
	}
}

// gatewayClient は1つのWebSocket接続を表します
type gatewayClient struct {
	id     string
	conn   *websocket.Conn
	store  *store.Conn
	send   chan store.Message
	quit   chan struct{}
	once   sync.Once
	subs   map[string]func() // readPumpからのみ触る
	logger *slog.Logger
}

// HandleWebSocket はWebSocket接続を処理します
// 接続後、以下の処理を行います:
// 1. HTTPからWebSocketへのアップグレード
// 2. ストア接続の作成と書き込みgoroutineの開始
// 3. 要求の受信ループ
// 4. 切断時（正常・異常とも）に購読を解除し、予約された削除を実行
func (h *GatewayHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade error", "error", err)
		return
	}

	id := idgen.NewConnID()
	c := &gatewayClient{
		id:     id,
		conn:   conn,
		store:  h.tree.Connect(id),
		send:   make(chan store.Message, sendBufferSize),
		quit:   make(chan struct{}),
		subs:   make(map[string]func()),
		logger: h.logger.With("conn", id),
	}
	c.logger.Info("websocket connected", "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		for _, unsub := range c.subs {
			unsub()
		}
		if err := c.store.Close(); err != nil {
			c.logger.Error("failed to run disconnect cleanup", "error", err)
		}
		c.stop()
		conn.Close()
		c.logger.Info("websocket disconnected")
	}()

	go c.writePump()
	c.readPump(ctx)
}

func (c *gatewayClient) stop() {
	c.once.Do(func() { close(c.quit) })
}

func (c *gatewayClient) readPump(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var req store.Request
		if err := c.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket error", "error", err)
			}
			return
		}
		c.enqueue(c.handle(ctx, req))
	}
}

func (c *gatewayClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.quit:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Warn("failed to send message", "error", err)
				c.conn.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.conn.Close()
				return
			}
		}
	}
}

// enqueue は送信キューに積みます
// キューが溢れたクライアントは切断します（切断時の削除が実行されます）
func (c *gatewayClient) enqueue(msg store.Message) {
	select {
	case <-c.quit:
		return
	default:
	}
	select {
	case c.send <- msg:
	case <-c.quit:
	default:
		c.logger.Warn("send buffer full, closing connection")
		c.conn.Close()
	}
}

func (c *gatewayClient) handle(ctx context.Context, req store.Request) store.Message {
	reply := store.Message{Type: store.MsgReply, ID: req.ID}
	fail := func(err error) store.Message {
		reply.Error = err.Error()
		return reply
	}

	switch req.Op {
	case store.OpRead:
		snap, err := c.store.Read(ctx, req.Path)
		if err != nil {
			return fail(err)
		}
		b, err := json.Marshal(snap.Value())
		if err != nil {
			return fail(err)
		}
		reply.Path = snap.Path()
		reply.Value = b
	case store.OpSubscribe:
		if req.Sub == "" {
			return fail(errSubRequired)
		}
		if _, dup := c.subs[req.Sub]; dup {
			return fail(errSubExists)
		}
		sub := req.Sub
		unsub, err := c.store.Subscribe(ctx, req.Path, func(s store.Snapshot) {
			b, err := json.Marshal(s.Value())
			if err != nil {
				c.logger.Error("failed to encode event", "path", s.Path(), "error", err)
				return
			}
			c.enqueue(store.Message{Type: store.MsgEvent, Sub: sub, Path: s.Path(), Value: b})
		})
		if err != nil {
			return fail(err)
		}
		c.subs[sub] = unsub
	case store.OpUnsubscribe:
		if unsub, ok := c.subs[req.Sub]; ok {
			unsub()
			delete(c.subs, req.Sub)
		}
	case store.OpSet:
		v, err := store.DecodeValue(req.Value)
		if err != nil {
			return fail(err)
		}
		if err := c.store.Set(ctx, req.Path, v); err != nil {
			return fail(err)
		}
	case store.OpUpdate:
		values := make(map[string]any, len(req.Values))
		for p, raw := range req.Values {
			v, err := store.DecodeValue(raw)
			if err != nil {
				return fail(err)
			}
			values[p] = v
		}
		if err := c.store.Update(ctx, values); err != nil {
			return fail(err)
		}
	case store.OpRemove:
		if err := c.store.Remove(ctx, req.Path); err != nil {
			return fail(err)
		}
	case store.OpOnDisconnectRemove:
		if err := c.store.OnDisconnectRemove(ctx, req.Path); err != nil {
			return fail(err)
		}
	default:
		c.logger.Warn("unknown op", "op", req.Op)
		return fail(errUnknownOp)
	}
	return reply
}
