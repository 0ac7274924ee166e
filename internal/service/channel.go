package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Sooly64/Confusion-Heatmap/internal/idgen"
	"github.com/Sooly64/Confusion-Heatmap/internal/models"
	"github.com/Sooly64/Confusion-Heatmap/internal/store"
)

// FeedbackLimit は教師画面に表示するフィードバックの件数
const FeedbackLimit = 20

// Channel は学生の回答とフィードバックを読み書きします
type Channel struct {
	store store.Client
}

func NewChannel(st store.Client) *Channel {
	return &Channel{store: st}
}

// Join は入室時の回答レコードを用意します
// レコードがなければ status=none で作成し、あれば保存済みのステータスを返します
func (c *Channel) Join(ctx context.Context, room, studentID string) (models.Status, error) {
	snap, err := c.store.Read(ctx, store.ResponsePath(room, studentID))
	if err != nil {
		return models.StatusNone, fmt.Errorf("read response: %w", err)
	}
	if snap.Exists() {
		return responseStatus(snap), nil
	}
	if err := c.writeStatus(ctx, room, studentID, models.StatusNone); err != nil {
		return models.StatusNone, err
	}
	return models.StatusNone, nil
}

// SetStatus は学生の回答レコードを丸ごと上書きします（hasFeedback は false に戻ります）
func (c *Channel) SetStatus(ctx context.Context, room, studentID string, status models.Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return c.writeStatus(ctx, room, studentID, status)
}

func (c *Channel) writeStatus(ctx context.Context, room, studentID string, status models.Status) error {
	err := c.store.Set(ctx, store.ResponsePath(room, studentID), map[string]any{
		"status":      status,
		"timestamp":   store.ServerTimestamp,
		"name":        models.DefaultStudentName,
		"hasFeedback": false,
	})
	return writeFailed("set status", err)
}

// SubmitFeedback はフィードバックを追記します
// 空白のみの本文は ErrEmptyFeedback です
// 学生に回答レコードがあれば、同じ一括更新で hasFeedback を true にします
// 重複排除や流量制限は行いません
func (c *Channel) SubmitFeedback(ctx context.Context, room, studentID, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyFeedback
	}
	resp, err := c.store.Read(ctx, store.ResponsePath(room, studentID))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	status := models.StatusNone
	if resp.Exists() {
		status = responseStatus(resp)
	}

	id := idgen.NewFeedbackID()
	updates := map[string]any{
		store.FeedbackEntryPath(room, id): map[string]any{
			"text":      text,
			"timestamp": store.ServerTimestamp,
			"status":    status,
			"studentId": studentID,
		},
	}
	if resp.Exists() {
		updates[store.ResponsePath(room, studentID)+"/hasFeedback"] = true
	}
	if err := c.store.Update(ctx, updates); err != nil {
		return "", writeFailed("submit feedback", err)
	}
	return id, nil
}

// Reset はルームの回答とフィードバックを一括で削除します
func (c *Channel) Reset(ctx context.Context, room string) error {
	err := c.store.Update(ctx, map[string]any{
		store.ResponsesPath(room): nil,
		store.FeedbackPath(room):  nil,
	})
	return writeFailed("reset", err)
}

// WatchOwnStatus は自分の回答レコードを購読します
// 別タブや別端末で同じ学生IDが変更したステータスを反映するために使います
func (c *Channel) WatchOwnStatus(ctx context.Context, room, studentID string, fn func(models.Response)) (func(), error) {
	return c.store.Subscribe(ctx, store.ResponsePath(room, studentID), func(s store.Snapshot) {
		if !s.Exists() {
			return
		}
		fn(decodeResponse(s))
	})
}

// WatchFeedback は最新 limit 件のフィードバックを新しい順で購読します
func (c *Channel) WatchFeedback(ctx context.Context, room string, limit int, fn func([]models.Feedback)) (func(), error) {
	return c.store.Subscribe(ctx, store.FeedbackPath(room), func(s store.Snapshot) {
		fn(LatestFeedback(s, limit))
	})
}

// LatestFeedback はフィードバックのスナップショットから、timestamp 順で最新 limit 件を新しい順に返します
func LatestFeedback(s store.Snapshot, limit int) []models.Feedback {
	if limit <= 0 {
		limit = FeedbackLimit
	}
	children := s.Children()
	out := make([]models.Feedback, 0, len(children))
	for _, child := range children {
		var f models.Feedback
		if err := child.Decode(&f); err != nil {
			continue
		}
		f.ID = child.Key()
		out = append(out, f)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp > out[j].Timestamp
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// responseStatus は回答レコードのステータスを返します
// 古い形式（ステータス文字列のみ）も受け付けます
func responseStatus(s store.Snapshot) models.Status {
	switch v := s.Value().(type) {
	case string:
		return models.Status(v)
	case map[string]any:
		if st, ok := v["status"].(string); ok && st != "" {
			return models.Status(st)
		}
	}
	return models.StatusNone
}

func decodeResponse(s store.Snapshot) models.Response {
	if v, ok := s.Value().(string); ok {
		return models.Response{Status: models.Status(v)}
	}
	var r models.Response
	if err := s.Decode(&r); err != nil || r.Status == "" {
		r.Status = responseStatus(s)
	}
	return r
}
