// Package models はアプリケーションで使用するデータ構造を定義します
// ストア上のパス rooms/{room}/... に保存されるレコードの形をそのまま表します
package models

// ParticipantType は参加者の種別です
type ParticipantType string

const (
	TypeStudent ParticipantType = "student"
	TypeTeacher ParticipantType = "teacher"
)

// Status は学生の理解度ステータスです
type Status string

const (
	StatusGood     Status = "good"
	StatusConfused Status = "confused"
	StatusNone     Status = "none"
)

// Valid は既知のステータスかどうかを返します
func (s Status) Valid() bool {
	switch s {
	case StatusGood, StatusConfused, StatusNone:
		return true
	}
	return false
}

// DefaultStudentName は学生レコードに書き込む表示名
const DefaultStudentName = "Student"

// Owner はルームの所有者レコード（rooms/{room}/owner）を表します
// トークンは身元ではなく権限そのもので、一致するトークンを持つ端末が教師として扱われます
type Owner struct {
	Token     string `json:"token"`     // 所有トークン（端末ローカルに保存）
	Timestamp int64  `json:"timestamp"` // サーバー時刻（ミリ秒）
}

// Presence は参加者の接続レコード（rooms/{room}/presence/{id}）を表します
type Presence struct {
	Status    string          `json:"status"`    // 常に "online"
	Type      ParticipantType `json:"type"`      // student / teacher
	Timestamp int64           `json:"timestamp"` // 接続時刻（ミリ秒）
	LastSeen  int64           `json:"lastSeen"`  // 最終ハートビート時刻（ミリ秒）
}

// Response は学生ごとの回答レコード（rooms/{room}/responses/{id}）を表します
// 1学生1件で、ステータス変更のたびに上書きされます
type Response struct {
	Status      Status `json:"status"`
	Timestamp   int64  `json:"timestamp"`
	Name        string `json:"name"`
	HasFeedback bool   `json:"hasFeedback"`
}

// Feedback は自由記述フィードバック（rooms/{room}/feedback/{id}）を表します
// 追記のみで、更新・削除はリセット時の一括削除だけです
type Feedback struct {
	ID        string `json:"-"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	Status    Status `json:"status"`
	StudentID string `json:"studentId"`
}

// Tally は教師画面に表示する集計結果です
type Tally struct {
	Good         int     `json:"good"`
	Confused     int     `json:"confused"`
	NoVote       int     `json:"noVote"`
	TotalPresent int     `json:"totalPresent"`
	GoodPct      float64 `json:"goodPct"`
	ConfusedPct  float64 `json:"confusedPct"`
	NoVotePct    float64 `json:"noVotePct"`
}

// RoomSummary はロビーに表示するアクティブなルームの情報です
type RoomSummary struct {
	Name         string `json:"name"`
	StudentCount int    `json:"studentCount"`
}
