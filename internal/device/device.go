// Package device は端末ローカルの設定を保存します
// 所有トークン（ルーム名の小文字をキー）、テーマ、セッションの学生IDを扱います
// 他の端末からは見えません
package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Theme は表示テーマです
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

var ErrInvalidTheme = errors.New("device: invalid theme")

// Store は端末ローカルのキーバリューストアです
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

const (
	themeKey     = "theme"
	studentIDKey = "studentID"
	tokenPrefix  = "teacherTokens:"
)

func tokenKey(room string) string {
	return tokenPrefix + strings.ToLower(room)
}

// StoreToken はルームの所有トークンを保存します
func StoreToken(ctx context.Context, s Store, room, token string) error {
	if err := s.Put(ctx, tokenKey(room), token); err != nil {
		return fmt.Errorf("store token for %s: %w", room, err)
	}
	return nil
}

// LookupToken はルームの所有トークンを返します（大文字小文字は区別しません）
func LookupToken(ctx context.Context, s Store, room string) (string, bool, error) {
	tok, ok, err := s.Get(ctx, tokenKey(room))
	if err != nil {
		return "", false, fmt.Errorf("lookup token for %s: %w", room, err)
	}
	return tok, ok && tok != "", nil
}

// LoadTheme は保存されたテーマを返します（未設定なら light）
func LoadTheme(ctx context.Context, s Store) (Theme, error) {
	v, ok, err := s.Get(ctx, themeKey)
	if err != nil {
		return ThemeLight, err
	}
	if !ok || Theme(v) != ThemeDark {
		return ThemeLight, nil
	}
	return ThemeDark, nil
}

// SaveTheme はテーマを保存します
func SaveTheme(ctx context.Context, s Store, t Theme) error {
	if t != ThemeLight && t != ThemeDark {
		return fmt.Errorf("%w: %q", ErrInvalidTheme, t)
	}
	return s.Put(ctx, themeKey, string(t))
}

// StudentID はセッションの学生IDを返します
func StudentID(ctx context.Context, s Store) (string, bool, error) {
	return s.Get(ctx, studentIDKey)
}

// SaveStudentID はセッションの学生IDを保存します
func SaveStudentID(ctx context.Context, s Store, id string) error {
	return s.Put(ctx, studentIDKey, id)
}

// Memory はプロセス内だけで保持する Store です
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) Put(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}
