// Package idgen はルームで使う各種IDとトークンを生成します
package idgen

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewULID は時刻順に並ぶULIDを返します
func NewULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), entropy).String()
}

// NewFeedbackID はフィードバックのキーを返します
// ULIDなので同一ミリ秒内でも生成順に並びます
func NewFeedbackID() string {
	return "feedback_" + NewULID()
}

// NewStudentID はセッションごとの学生IDを返します（student_ + base36 8文字）
func NewStudentID() (string, error) {
	s, err := randomBase36(8)
	if err != nil {
		return "", err
	}
	return "student_" + s, nil
}

// NewConnID はゲートウェイ接続の識別子を返します
func NewConnID() string {
	return "conn_" + NewULID()
}

// NewRequestID はリモートクライアントのリクエスト相関IDを返します
func NewRequestID() string {
	return uuid.NewString()
}

// NewToken はルームの所有トークンを生成します
// ルーム名・現在時刻・乱数を結合した不透明な文字列で、一意性のみを保証します
func NewToken(room string) (string, error) {
	r, err := randomBase36(11)
	if err != nil {
		return "", err
	}
	raw := fmt.Sprintf("%s:%d:%s", room, time.Now().UnixMilli(), r)
	enc := base64.StdEncoding.EncodeToString([]byte(raw))
	return strings.NewReplacer("+", "", "/", "", "=", "").Replace(enc), nil
}

func randomBase36(n int) (string, error) {
	limit := big.NewInt(int64(len(base36)))
	b := make([]byte, n)
	for i := range b {
		v, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b[i] = base36[v.Int64()]
	}
	return string(b), nil
}
