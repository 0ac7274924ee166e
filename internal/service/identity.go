package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/Sooly64/Confusion-Heatmap/internal/device"
	"github.com/Sooly64/Confusion-Heatmap/internal/idgen"
)

// ResolveStudentID はこのセッションの学生IDを決めます
// sid が指定されていればそれを保存して使い、保存済みのIDがあり forceNew でなければ再利用し、
// それ以外は新しく生成して保存します
func ResolveStudentID(ctx context.Context, dev device.Store, sid string, forceNew bool) (string, error) {
	if sid = strings.TrimSpace(sid); sid != "" {
		if err := device.SaveStudentID(ctx, dev, sid); err != nil {
			return "", err
		}
		return sid, nil
	}
	if !forceNew {
		saved, ok, err := device.StudentID(ctx, dev)
		if err != nil {
			return "", err
		}
		if ok && saved != "" {
			return saved, nil
		}
	}
	id, err := idgen.NewStudentID()
	if err != nil {
		return "", fmt.Errorf("generate student id: %w", err)
	}
	if err := device.SaveStudentID(ctx, dev, id); err != nil {
		return "", err
	}
	return id, nil
}
