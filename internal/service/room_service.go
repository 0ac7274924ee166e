// Package service はルームの所有・参加・回答・集計・掃除のロジックを提供します
// ストアは store.Client として注入され、信頼はすべてクライアント側の取り決めに依存します
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Sooly64/Confusion-Heatmap/internal/device"
	"github.com/Sooly64/Confusion-Heatmap/internal/idgen"
	"github.com/Sooly64/Confusion-Heatmap/internal/models"
	"github.com/Sooly64/Confusion-Heatmap/internal/roomname"
	"github.com/Sooly64/Confusion-Heatmap/internal/store"
)

// RoomService はルームの所有権を管理します
type RoomService struct {
	store  store.Client   // 共有ストア
	device device.Store   // 端末ローカルのトークン保存先
	tokens TokenGenerator // 所有トークン生成器
	logger *slog.Logger
}

// TokenGenerator は所有トークンを生成するインターフェース
type TokenGenerator interface {
	New(room string) (string, error)
}

// tokenGen はTokenGeneratorの実装
type tokenGen struct{}

func (tokenGen) New(room string) (string, error) { return idgen.NewToken(room) }

// NewTokenGenerator は新しいTokenGeneratorを作成します
func NewTokenGenerator() TokenGenerator {
	return tokenGen{}
}

// NewRoomService は新しいRoomServiceを作成します
func NewRoomService(st store.Client, dev device.Store, tokens TokenGenerator, logger *slog.Logger) *RoomService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RoomService{store: st, device: dev, tokens: tokens, logger: logger}
}

// Claim はルームの所有権をこの端末に割り当てます
// 処理の流れ:
// 1. 既存のルーム名を取得し、大文字小文字だけが異なる名前があれば ErrCaseConflict
// 2. 所有者がいれば端末のトークンと比較し、一致なら成功（書き込みなし）、不一致なら ErrAlreadyOwned
// 3. 所有者がいなければトークンを生成して端末に保存し、owner をサーバー時刻付きで書き込む
// 同時に同じルームを取得した場合は後勝ちになります（アトミックではありません）
func (s *RoomService) Claim(ctx context.Context, room string) error {
	snap, err := s.store.Read(ctx, store.Rooms)
	if err != nil {
		return fmt.Errorf("read rooms: %w", err)
	}
	for _, child := range snap.Children() {
		name := child.Key()
		if name != room && roomname.EqualFold(name, room) {
			return &CaseConflictError{Existing: name}
		}
	}

	var owner models.Owner
	if err := snap.Child(room).Child("owner").Decode(&owner); err != nil {
		return fmt.Errorf("decode owner of %s: %w", room, err)
	}
	if owner.Token != "" {
		ok, err := s.ownsToken(ctx, room, owner)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAlreadyOwned
		}
		s.logger.Debug("room already owned by this device", "room", room)
		return nil
	}
	return s.writeOwner(ctx, room)
}

// CheckAccess は教師画面へURLで直接入った時の確認です
// 所有者がいて端末のトークンと一致しなければ ErrAlreadyOwned、所有者がいなければこの端末で取得します
func (s *RoomService) CheckAccess(ctx context.Context, room string) error {
	owner, ok, err := s.Owner(ctx, room)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.Info("room has no owner, claiming it", "room", room)
		return s.Claim(ctx, room)
	}
	mine, err := s.ownsToken(ctx, room, owner)
	if err != nil {
		return err
	}
	if !mine {
		return ErrAlreadyOwned
	}
	return nil
}

// Owner はルームの所有者レコードを返します
func (s *RoomService) Owner(ctx context.Context, room string) (models.Owner, bool, error) {
	snap, err := s.store.Read(ctx, store.OwnerPath(room))
	if err != nil {
		return models.Owner{}, false, fmt.Errorf("read owner of %s: %w", room, err)
	}
	var owner models.Owner
	if !snap.Exists() {
		return owner, false, nil
	}
	if err := snap.Decode(&owner); err != nil {
		return owner, false, fmt.Errorf("decode owner of %s: %w", room, err)
	}
	return owner, owner.Token != "", nil
}

func (s *RoomService) ownsToken(ctx context.Context, room string, owner models.Owner) (bool, error) {
	local, ok, err := device.LookupToken(ctx, s.device, room)
	if err != nil {
		return false, err
	}
	return ok && local == owner.Token, nil
}

func (s *RoomService) writeOwner(ctx context.Context, room string) error {
	token, err := s.tokens.New(room)
	if err != nil {
		return fmt.Errorf("generate token: %w", err)
	}
	if err := device.StoreToken(ctx, s.device, room, token); err != nil {
		return err
	}
	err = s.store.Set(ctx, store.OwnerPath(room), map[string]any{
		"token":     token,
		"timestamp": store.ServerTimestamp,
	})
	if err != nil {
		return writeFailed("claim "+room, err)
	}
	s.logger.Info("room claimed", "room", room)
	return nil
}
