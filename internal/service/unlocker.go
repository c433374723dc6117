package service

import (
	"context"
	"time"

	"github.com/d60-Lab/postcard-capsule/internal/model"
	"github.com/d60-Lab/postcard-capsule/internal/repository"
)

// unlocker LOCKED -> UNLOCKED 状态迁移，扫描器与地理检查共用
type unlocker struct {
	repo     repository.PostcardRepository
	notifier Notifier
}

// unlock 返回本次条件写入是否生效；记录已不是 LOCKED 时返回 (false, nil)
func (u unlocker) unlock(ctx context.Context, p *model.Postcard, at time.Time, trigger string) (bool, error) {
	at = at.UTC()
	ok, err := u.repo.UpdateStatus(ctx, p.ID, model.PostcardStatusLocked, model.PostcardStatusUnlocked, map[string]any{
		"unlock_notification_sent": true,
		"unlocked_at":              at,
	})
	if err != nil || !ok {
		return false, err
	}

	p.Status = model.PostcardStatusUnlocked
	p.UnlockNotificationSent = true
	p.UnlockedAt = &at

	u.notifier.Notify(p.RecipientID, model.EventPostcardUnlocked, map[string]any{
		"postcard_id": p.ID,
		"sender_id":   p.SenderID,
		"trigger":     trigger,
	})
	return true, nil
}
