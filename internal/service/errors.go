package service

import (
	"errors"
	"fmt"
)

// カスタムエラー定義
var (
	ErrCaseConflict     = errors.New("room already exists under different casing")
	ErrAlreadyOwned     = errors.New("room is already owned by another teacher")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrTransientWrite   = errors.New("write rejected")
	ErrEmptyFeedback    = errors.New("feedback text required")
	ErrInvalidStatus    = errors.New("invalid status")
)

// CaseConflictError は大文字小文字だけが異なる既存ルームを保持します
type CaseConflictError struct {
	Existing string // ストアに保存されている既存のルーム名
}

func (e *CaseConflictError) Error() string {
	return fmt.Sprintf("room %q already exists. Room names are case-insensitive", e.Existing)
}

func (e *CaseConflictError) Unwrap() error { return ErrCaseConflict }

// writeFailed はストアへの書き込み失敗を ErrTransientWrite で包みます
// 自動リトライはせず、利用者が操作をやり直します
func writeFailed(what string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrTransientWrite, what, err)
}
