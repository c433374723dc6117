package model

import "time"

// NotificationEvent 通知事件类型
type NotificationEvent string

const (
	EventPostcardLocked   NotificationEvent = "postcard.locked"
	EventPostcardUnlocked NotificationEvent = "postcard.unlocked"
)

// Notification 已投递通知的落库记录
type Notification struct {
	ID        string            `gorm:"primaryKey;type:varchar(36)"`
	UserID    string            `gorm:"type:varchar(36);index:idx_notification_user;not null"`
	Event     NotificationEvent `gorm:"type:varchar(32);not null"`
	Payload   string            `gorm:"type:text"`
	CreatedAt time.Time         `gorm:"index:idx_notification_user"`
}

func (Notification) TableName() string { return "notifications" }
