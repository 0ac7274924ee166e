package handlers

import (
	"errors"
	"strings"
	"unicode"

	"github.com/Sooly64/Confusion-Heatmap/internal/roomname"
)

var (
	errSubRequired = errors.New("sub required")
	errSubExists   = errors.New("sub already exists")
	errUnknownOp   = errors.New("unknown op")

	errRoomRequired      = errors.New("room required")
	errInvalidRoom       = errors.New("invalid room name")
	errStudentIDRequired = errors.New("studentId required")
	errInvalidStudentID  = errors.New("studentId must not contain / . # $ [ ] or control characters")
)

// ストアのキーに使えない文字
const forbiddenKeyChars = "/.#$[]"

// validateRoom はルーム名のバリデーションを行います
// 空、または正規化すると変わってしまう名前はエラーです
func validateRoom(room string) error {
	if normalizeID(room) == "" {
		return errRoomRequired
	}
	if roomname.Sanitize(room) != room {
		return errInvalidRoom
	}
	return nil
}

// validateStudentId は学生IDのバリデーションを行います
// ID はそのまま rooms/{room}/responses/{id} のキーになるため、1セグメントに収まる必要があります
func validateStudentId(id string) error {
	if normalizeID(id) == "" {
		return errStudentIDRequired
	}
	if strings.ContainsAny(id, forbiddenKeyChars) || strings.IndexFunc(id, unicode.IsControl) >= 0 {
		return errInvalidStudentID
	}
	return nil
}
