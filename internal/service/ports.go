package service

import (
	"context"

	"github.com/d60-Lab/postcard-capsule/internal/model"
)

// SocialGraph 关注关系查询
type SocialGraph interface {
	IsFollowing(ctx context.Context, followerID, followeeID string) (bool, error)
}

// UserDirectory 用户存在性与展示信息
type UserDirectory interface {
	Exists(ctx context.Context, userID string) (bool, error)
	DisplayInfo(ctx context.Context, userID string) (model.UserInfo, error)
	DisplayInfos(ctx context.Context, userIDs []string) (map[string]model.UserInfo, error)
}

// Notifier 尽力而为的事件通知，不得阻塞调用方
type Notifier interface {
	Notify(userID string, event model.NotificationEvent, payload map[string]any)
}

type noopNotifier struct{}

func (noopNotifier) Notify(string, model.NotificationEvent, map[string]any) {}
