package service

import (
	"context"
	"math"
	"sync"

	"github.com/Sooly64/Confusion-Heatmap/internal/models"
	"github.com/Sooly64/Confusion-Heatmap/internal/store"
)

// Aggregate はプレゼンスと回答の2つのスナップショットから集計を計算します
// 純粋関数で、同じ入力には常に同じ結果を返します
//   - Good / Confused: 回答レコードのステータス数
//   - TotalPresent: type が student のプレゼンス数（教師は除く）
//   - NoVote: max(TotalPresent - Good - Confused, 0)
//   - 割合: max(TotalPresent, 1) を分母に小数第2位で丸める
func Aggregate(presence, responses store.Snapshot) models.Tally {
	var t models.Tally
	for _, r := range responses.Children() {
		switch responseStatus(r) {
		case models.StatusGood:
			t.Good++
		case models.StatusConfused:
			t.Confused++
		}
	}
	for _, p := range presence.Children() {
		m, ok := p.Value().(map[string]any)
		if ok && m["type"] == string(models.TypeStudent) {
			t.TotalPresent++
		}
	}

	t.NoVote = max(t.TotalPresent-t.Good-t.Confused, 0)
	denom := float64(max(t.TotalPresent, 1))
	t.GoodPct = percent(t.Good, denom)
	t.ConfusedPct = percent(t.Confused, denom)
	t.NoVotePct = percent(t.NoVote, denom)
	return t
}

func percent(n int, denom float64) float64 {
	return math.Round(float64(n)/denom*100*100) / 100
}

// Aggregator は2つの購読から届いた最新のスナップショットを保持し、どちらかが届くたびに全体を再計算します
// 差分は扱わないため、到着順は結果に影響しません
type Aggregator struct {
	mu            sync.Mutex
	lastPresence  store.Snapshot
	lastResponses store.Snapshot
	tally         models.Tally
	onChange      func(models.Tally)
}

// NewAggregator は新しいAggregatorを作成します
// onChange はロック中に呼ばれるため、Aggregator のメソッドを呼んではいけません
func NewAggregator(onChange func(models.Tally)) *Aggregator {
	return &Aggregator{onChange: onChange}
}

// SetPresence はプレゼンスのスナップショットを置き換えて再計算します
func (a *Aggregator) SetPresence(s store.Snapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastPresence = s
	a.recompute()
}

// SetResponses は回答のスナップショットを置き換えて再計算します
func (a *Aggregator) SetResponses(s store.Snapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastResponses = s
	a.recompute()
}

// Tally は最後に計算した集計を返します
func (a *Aggregator) Tally() models.Tally {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tally
}

func (a *Aggregator) recompute() {
	a.tally = Aggregate(a.lastPresence, a.lastResponses)
	if a.onChange != nil {
		a.onChange(a.tally)
	}
}

// Watch はルームのプレゼンスと回答を購読し、更新のたびに再計算します
// 戻り値の関数で両方の購読を解除します
func (a *Aggregator) Watch(ctx context.Context, st store.Client, room string) (func(), error) {
	stopPresence, err := st.Subscribe(ctx, store.PresencePath(room), a.SetPresence)
	if err != nil {
		return nil, err
	}
	stopResponses, err := st.Subscribe(ctx, store.ResponsesPath(room), a.SetResponses)
	if err != nil {
		stopPresence()
		return nil, err
	}
	return func() {
		stopPresence()
		stopResponses()
	}, nil
}
