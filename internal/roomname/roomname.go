// Package roomname はルーム名の正規化と派生名の生成を行います
package roomname

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

const (
	MaxLen   = 40      // ルーム名の最大長
	Fallback = "room1" // 正規化後に空になった場合の既定名
)

var trailingDigits = regexp.MustCompile(`^(.*?)(\d+)$`)

// Sanitize は入力からルーム名を作ります
// 空白と [A-Za-z0-9_-] 以外の文字を取り除き、40文字に切り詰めます
// 結果が空の場合は Fallback を返します
func Sanitize(input string) string {
	var b strings.Builder
	for _, r := range input {
		if unicode.IsSpace(r) || !allowed(r) {
			continue
		}
		b.WriteRune(r)
		if b.Len() == MaxLen {
			break
		}
	}
	if b.Len() == 0 {
		return Fallback
	}
	return b.String()
}

func allowed(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_' || r == '-':
		return true
	}
	return false
}

// Key は大文字小文字を区別しない比較・保存に使うキーを返します
func Key(name string) string {
	return strings.ToLower(name)
}

// EqualFold はルーム名が大文字小文字を無視して一致するかを返します
func EqualFold(a, b string) bool {
	return strings.EqualFold(a, b)
}

// TeacherID は教師のプレゼンスIDです
// 同じルームに再接続した教師が同じ枠を使えるよう、ルーム名から決定的に導出します
func TeacherID(room string) string {
	return "teacher_" + Key(room)
}

// Next は末尾の数字を1つ進めた名前を返します（桁数は維持）
// room1 -> room2, lab09 -> lab10, x -> x2
func Next(name string) string {
	if name == "" {
		name = Fallback
	}
	m := trailingDigits.FindStringSubmatch(name)
	if m == nil {
		return name + "2"
	}
	n, err := strconv.ParseUint(m[2], 10, 64)
	if err != nil {
		return name + "2"
	}
	next := strconv.FormatUint(n+1, 10)
	if pad := len(m[2]) - len(next); pad > 0 {
		next = strings.Repeat("0", pad) + next
	}
	return m[1] + next
}

// JoinURL は学生用の参加URLを返します
// new=1 を付けて、共有端末でも新しい学生IDが発行されるようにします
func JoinURL(base, room string) string {
	q := url.Values{}
	q.Set("room", room)
	q.Set("new", "1")
	return strings.TrimRight(base, "/") + "/html/student.html?" + q.Encode()
}
