package model

import "time"

// PostcardStatus 明信片生命周期状态，只能 DRAFT -> LOCKED -> UNLOCKED
type PostcardStatus string

const (
	PostcardStatusDraft    PostcardStatus = "DRAFT"
	PostcardStatusLocked   PostcardStatus = "LOCKED"
	PostcardStatusUnlocked PostcardStatus = "UNLOCKED"
)

// DefaultUnlockRadius 地理解锁默认半径（米）
const DefaultUnlockRadius = 50.0

// Postcard 时间胶囊明信片；Message/MediaURL 始终明文存储，可见性在读取时判定
type Postcard struct {
	ID                     string         `gorm:"primaryKey;type:varchar(36)"`
	SenderID               string         `gorm:"type:varchar(36);index:idx_postcard_sender;not null"`
	RecipientID            string         `gorm:"type:varchar(36);index:idx_postcard_recipient_status;not null"`
	Message                *string        `gorm:"type:text"`
	MediaURL               *string        `gorm:"type:varchar(1024)"`
	UnlockDate             *time.Time     `gorm:"index:idx_postcard_status_unlock"`
	UnlockLatitude         *float64
	UnlockLongitude        *float64
	UnlockRadius           float64        `gorm:"not null;default:50"`
	Status                 PostcardStatus `gorm:"type:varchar(16);not null;index:idx_postcard_recipient_status;index:idx_postcard_status_unlock"`
	UnlockNotificationSent bool           `gorm:"not null;default:false"`
	ViewedAt               *time.Time
	UnlockedAt             *time.Time
	CreatedAt              time.Time `gorm:"index"`
	UpdatedAt              time.Time
}

func (Postcard) TableName() string { return "postcards" }

func (p *Postcard) IsSelfAddressed() bool { return p.SenderID == p.RecipientID }

func (p *Postcard) HasGeoLock() bool {
	return p.UnlockLatitude != nil && p.UnlockLongitude != nil
}

func (p *Postcard) HasTimeLock() bool { return p.UnlockDate != nil }
