package store

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"
)

// Persister はルーム単位の変更を受け取ります
// changes のキーは rooms/{room}、値はサブツリーのコピー（削除時は nil）です
// ツリーのロック中に呼ばれるため、ブロックしてはいけません
type Persister interface {
	Persist(changes map[string]any)
}

// Tree はインメモリのツリーストアです
// Connect で得られる接続ごとに購読と切断時の削除予約を管理します
type Tree struct {
	mu        sync.Mutex
	root      map[string]any
	now       func() time.Time
	subs      map[uint64]*subscription
	nextSub   uint64
	persister Persister
}

type subscription struct {
	segs    []string
	box     *mailbox
	last    any
	hasLast bool
}

type op struct {
	segs  []string
	value any
}

// Option は Tree の設定を変更します
type Option func(*Tree)

// WithClock はサーバー時刻の取得元を差し替えます
func WithClock(now func() time.Time) Option {
	return func(t *Tree) { t.now = now }
}

// WithPersister はルームの変更を永続化先に流します
func WithPersister(p Persister) Option {
	return func(t *Tree) { t.persister = p }
}

// NewTree は空のツリーを作成します
func NewTree(opts ...Option) *Tree {
	t := &Tree{
		root: make(map[string]any),
		now:  time.Now,
		subs: make(map[uint64]*subscription),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Load は永続化済みの値をツリーに戻します
// 購読者への通知と永続化は行いません
func (t *Tree) Load(path string, value any) error {
	segs, err := split(path)
	if err != nil {
		return err
	}
	v, err := normalize(value)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.apply(segs, v)
	return nil
}

// Connect は新しい接続を作成します
func (t *Tree) Connect(id string) *Conn {
	return &Conn{
		tree:         t,
		id:           id,
		subs:         make(map[uint64]struct{}),
		onDisconnect: make(map[string][]string),
	}
}

func (t *Tree) read(segs []string) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{path: join(segs), value: deepCopy(t.get(segs))}
}

func (t *Tree) get(segs []string) any {
	var cur any = t.root
	for _, s := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[s]
	}
	if m, ok := cur.(map[string]any); ok && len(m) == 0 {
		return nil
	}
	return cur
}

// apply は1つのパスに値を書き込みます（nil は削除し、空になった親も取り除きます）
func (t *Tree) apply(segs []string, v any) {
	if len(segs) == 0 {
		if m, ok := v.(map[string]any); ok {
			t.root = m
		} else {
			t.root = make(map[string]any)
		}
		return
	}
	if v == nil {
		t.remove(t.root, segs)
		return
	}
	cur := t.root
	for _, s := range segs[:len(segs)-1] {
		next, ok := cur[s].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[s] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = v
}

func (t *Tree) remove(m map[string]any, segs []string) bool {
	if len(segs) == 1 {
		delete(m, segs[0])
		return len(m) == 0
	}
	child, ok := m[segs[0]].(map[string]any)
	if !ok {
		return len(m) == 0
	}
	if t.remove(child, segs[1:]) {
		delete(m, segs[0])
	}
	return len(m) == 0
}

func (t *Tree) subscribe(segs []string, fn func(Snapshot)) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextSub++
	id := t.nextSub
	sub := &subscription{segs: segs, box: newMailbox(fn)}
	t.subs[id] = sub
	t.deliver(sub)
	return id
}

func (t *Tree) unsubscribe(id uint64) {
	t.mu.Lock()
	sub, ok := t.subs[id]
	delete(t.subs, id)
	t.mu.Unlock()
	if ok {
		sub.box.close()
	}
}

// deliver は値が変わっていれば購読者のキューに積みます（ロック中に呼ぶこと）
func (t *Tree) deliver(sub *subscription) {
	v := t.get(sub.segs)
	if sub.hasLast && reflect.DeepEqual(sub.last, v) {
		return
	}
	cp := deepCopy(v)
	sub.last, sub.hasLast = deepCopy(v), true
	sub.box.push(Snapshot{path: join(sub.segs), value: cp})
}

// commit は複数の書き込みをアトミックに適用し、影響する購読者へ通知します
func (t *Tree) commit(ops []op) {
	t.mu.Lock()
	defer t.mu.Unlock()

	nowMs := float64(t.now().UnixMilli())
	var before map[string]bool
	if t.persister != nil {
		before = t.roomNames()
	}
	for _, o := range ops {
		t.apply(o.segs, resolveTimestamps(o.value, nowMs))
	}

	for _, sub := range t.subs {
		for _, o := range ops {
			if overlaps(sub.segs, o.segs) {
				t.deliver(sub)
				break
			}
		}
	}

	if t.persister != nil {
		if changes := t.roomChanges(ops, before); len(changes) > 0 {
			t.persister.Persist(changes)
		}
	}
}

func (t *Tree) roomNames() map[string]bool {
	out := make(map[string]bool)
	rooms, _ := t.root[Rooms].(map[string]any)
	for name := range rooms {
		out[name] = true
	}
	return out
}

func (t *Tree) roomChanges(ops []op, before map[string]bool) map[string]any {
	touched := make(map[string]bool)
	for _, o := range ops {
		switch {
		case len(o.segs) >= 2 && o.segs[0] == Rooms:
			touched[o.segs[1]] = true
		case len(o.segs) == 0 || (len(o.segs) == 1 && o.segs[0] == Rooms):
			for name := range before {
				touched[name] = true
			}
			for name := range t.roomNames() {
				touched[name] = true
			}
		}
	}
	changes := make(map[string]any, len(touched))
	for name := range touched {
		changes[RoomPath(name)] = deepCopy(t.get([]string{Rooms, name}))
	}
	return changes
}

// Conn は Tree への1接続で、Client を実装します
type Conn struct {
	tree *Tree
	id   string

	mu           sync.Mutex
	closed       bool
	subs         map[uint64]struct{}
	onDisconnect map[string][]string
}

var _ Client = (*Conn)(nil)

// ID は接続の識別子を返します
func (c *Conn) ID() string { return c.id }

func (c *Conn) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

func (c *Conn) Read(ctx context.Context, path string) (Snapshot, error) {
	if err := c.check(ctx); err != nil {
		return Snapshot{}, err
	}
	segs, err := split(path)
	if err != nil {
		return Snapshot{}, err
	}
	return c.tree.read(segs), nil
}

func (c *Conn) Subscribe(ctx context.Context, path string, fn func(Snapshot)) (func(), error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	segs, err := split(path)
	if err != nil {
		return nil, err
	}
	id := c.tree.subscribe(segs, fn)
	c.mu.Lock()
	c.subs[id] = struct{}{}
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
			c.tree.unsubscribe(id)
		})
	}, nil
}

func (c *Conn) Set(ctx context.Context, path string, value any) error {
	return c.Update(ctx, map[string]any{path: value})
}

func (c *Conn) Update(ctx context.Context, values map[string]any) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	paths := make([]string, 0, len(values))
	for p := range values {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	ops := make([]op, 0, len(paths))
	for _, p := range paths {
		segs, err := split(p)
		if err != nil {
			return err
		}
		v, err := normalize(values[p])
		if err != nil {
			return err
		}
		ops = append(ops, op{segs: segs, value: v})
	}
	// 祖先と子孫を同時に書くと適用順で結果が変わるため拒否します
	for i := range ops {
		for j := i + 1; j < len(ops); j++ {
			if overlaps(ops[i].segs, ops[j].segs) {
				return fmt.Errorf("%w: overlapping paths %q and %q", ErrInvalidPath, paths[i], paths[j])
			}
		}
	}
	c.tree.commit(ops)
	return nil
}

func (c *Conn) Remove(ctx context.Context, path string) error {
	return c.Set(ctx, path, nil)
}

func (c *Conn) OnDisconnectRemove(ctx context.Context, path string) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	segs, err := split(path)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.onDisconnect[join(segs)] = segs
	c.mu.Unlock()
	return nil
}

// Close は接続を閉じます
// 購読をすべて解除し、予約された削除を1回のコミットで実行します
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := c.subs
	pending := c.onDisconnect
	c.subs = nil
	c.onDisconnect = nil
	c.mu.Unlock()

	for id := range subs {
		c.tree.unsubscribe(id)
	}
	if len(pending) == 0 {
		return nil
	}
	paths := make([]string, 0, len(pending))
	for p := range pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	ops := make([]op, 0, len(paths))
	for _, p := range paths {
		ops = append(ops, op{segs: pending[p]})
	}
	c.tree.commit(ops)
	return nil
}
